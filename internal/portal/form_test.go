package portal

import (
	"net/url"
	"portal-notifier/pkg/htmlutil"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func mustParse(t testing.TB, markup string) htmlutil.Document {
	doc, err := htmlutil.ParseString(markup)
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestExtractForm(t *testing.T) {
	doc := mustParse(t, `<html><body>
<form id="other" action="/elsewhere"><input name="ignored" value="x"></form>
<form id="target" action="submit/here">
	<input type="text" name="title" value="hello world">
	<textarea name="comment"></textarea>
	<input type="hidden" value="no name">
	<input type="checkbox" name="unchecked" value="1">
	<input type="checkbox" name="checked" checked>
	<select name="choice">
		<option value="a">A</option>
		<option value="b" selected>B</option>
	</select>
</form>
</body></html>`)

	form, err := ExtractForm(doc, "form#target")
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "submit/here", form.Target)

	diff := cmp.Diff(map[string]string{
		"title":   "hello world",
		"comment": "",
		"checked": "on",
		"choice":  "b",
	}, form.Fields)
	if diff != "" {
		t.Fatal(diff)
	}
}

func TestExtractFormFirstMatch(t *testing.T) {
	doc := mustParse(t, `<form class="f" action="/one"><input name="a" value="1"></form>
<form class="f" action="/two"><input name="b" value="2"></form>`)

	form, err := ExtractForm(doc, "form.f")
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "/one", form.Target)
	require.Equal(t, []string{"a"}, form.Names())
}

func TestExtractFormNotFound(t *testing.T) {
	doc := mustParse(t, `<form id="a" action="/x"></form><form id="b"></form>`)

	_, err := ExtractForm(doc, "form#missing")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = ExtractForm(doc, "form#b")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestExtractFormDeterministic(t *testing.T) {
	markup := `<form action="/x"><input name="dup" value="1"><input name="dup" value="2"><input value="3"></form>`
	for i := 0; i < 5; i++ {
		form, err := ExtractForm(mustParse(t, markup), "form")
		if err != nil {
			t.Fatal(err)
		}
		require.Equal(t, map[string]string{"dup": "2"}, form.Fields)
	}
}

func TestFormSetAndResolve(t *testing.T) {
	form := Form{Target: "confirm", Fields: map[string]string{"username": ""}}
	form.Set("username", "parent")
	form.Set("password", "secret")

	values := form.Values()
	require.Equal(t, "parent", values.Get("username"))
	require.Equal(t, "secret", values.Get("password"))

	page, err := url.Parse("https://portal.test/login/submit?step=1")
	if err != nil {
		t.Fatal(err)
	}
	target, err := form.Resolve(page)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "https://portal.test/login/confirm", target.String())

	target, err = Form{Target: "https://sso.test/finish"}.Resolve(page)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "https://sso.test/finish", target.String())

	target, err = Form{Target: ""}.Resolve(page)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, page.String(), target.String())
}
