package portal

import (
	"fmt"
	"net/url"
	"portal-notifier/pkg/htmlutil"
	"sort"
)

// Form is a form element's submission target with the current value of each of its named fields.
type Form struct {
	// Target is the form's action attribute, it may be relative.
	Target string
	Fields map[string]string
}

// ExtractForm reads the first element matching `selector` as a form.
//
// Fields are collected from every input, textarea and select descendant in document order, a later
// field with the same name overwrites an earlier one. Descendants without a name are dropped. An
// unchecked checkbox or radio is not part of the submission so it is skipped, like a browser would.
func ExtractForm(doc htmlutil.Document, selector string) (Form, error) {
	form := doc.Query(selector).First()
	if form.Len() == 0 {
		return Form{}, fmt.Errorf("%w: form %q", ErrNotFound, selector)
	}

	target, ok := form.Attr("action")
	if !ok {
		return Form{}, fmt.Errorf("%w: action of form %q", ErrNotFound, selector)
	}

	fields := map[string]string{}
	form.Find("input, textarea, select").Each(func(_ int, field htmlutil.Selection) {
		name, ok := field.Attr("name")
		if !ok || name == "" {
			return
		}

		switch field.Tag() {
		case "textarea":
			fields[name] = field.Text()
		case "select":
			option := field.Find("option[selected]").First()
			if option.Len() == 0 {
				option = field.Find("option").First()
			}
			if option.Len() == 0 {
				fields[name] = ""
				return
			}
			value, ok := option.Attr("value")
			if !ok {
				value = htmlutil.NormalizeText(option.Text())
			}
			fields[name] = value
		default:
			inputType, _ := field.Attr("type")
			if inputType == "checkbox" || inputType == "radio" {
				if _, checked := field.Attr("checked"); !checked {
					return
				}
				value, ok := field.Attr("value")
				if !ok {
					value = "on"
				}
				fields[name] = value
				return
			}
			value, _ := field.Attr("value")
			fields[name] = value
		}
	})

	return Form{Target: target, Fields: fields}, nil
}

// Set overwrites (or adds) a field.
func (f Form) Set(name, value string) {
	f.Fields[name] = value
}

// Values encodes the fields for submission.
func (f Form) Values() url.Values {
	values := url.Values{}
	for k, v := range f.Fields {
		values.Set(k, v)
	}
	return values
}

// Names returns the field names in sorted order.
func (f Form) Names() []string {
	names := make([]string, 0, len(f.Fields))
	for k := range f.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Resolve resolves the form's target against the url of the page the form was served on. An empty
// action submits back to the page itself.
func (f Form) Resolve(page *url.URL) (*url.URL, error) {
	target, err := url.Parse(f.Target)
	if err != nil {
		return nil, fmt.Errorf("%w: form action %q: %s", ErrNotFound, f.Target, err.Error())
	}
	return page.ResolveReference(target), nil
}
