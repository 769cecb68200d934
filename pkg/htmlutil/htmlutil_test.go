package htmlutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const fixture = `<html><body>
<div class="card">
	<h2 class="title">  Alice
		Smith </h2>
	<a class="link" href="/a">first</a>
	<a class="link" href="/b">second</a>
</div>
</body></html>`

func TestSelection(t *testing.T) {
	doc, err := ParseString(fixture)
	if err != nil {
		t.Fatal(err)
	}

	titles := doc.Query("h2.title")
	require.Equal(t, 1, titles.Len())
	require.Equal(t, "h2", titles.Tag())
	require.Equal(t, "Alice Smith", NormalizeText(titles.Text()))

	links := titles.Parent().Find("a.link")
	require.Equal(t, 2, links.Len())

	href, ok := links.First().Attr("href")
	require.True(t, ok)
	require.Equal(t, "/a", href)

	href, ok = links.At(1).Attr("href")
	require.True(t, ok)
	require.Equal(t, "/b", href)

	_, ok = links.First().Attr("missing")
	require.False(t, ok)

	var texts []string
	links.Each(func(_ int, s Selection) {
		texts = append(texts, s.Text())
	})
	require.Equal(t, []string{"first", "second"}, texts)

	require.Equal(t, 0, doc.Query("table").Len())
}

func TestNormalizeText(t *testing.T) {
	testCases := []struct {
		text     string
		expected string
	}{
		{text: "", expected: ""},
		{text: "  hello  ", expected: "hello"},
		{text: "hello \n\t world", expected: "hello world"},
		{text: "a b", expected: "a b"},
	}

	for _, test := range testCases {
		require.Equal(t, test.expected, NormalizeText(test.text))
	}
}
