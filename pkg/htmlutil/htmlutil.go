// Package htmlutil contains the markup abstraction that record extraction is written against, along
// with a goquery-backed implementation of it.
package htmlutil

import (
	"bytes"
	"io"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Document is a parsed markup tree that can be queried with css selectors.
type Document interface {
	Query(selector string) Selection
	// Html renders the document back into markup.
	Html() (string, error)
}

// Selection is an ordered set of elements.
type Selection interface {
	Len() int
	At(i int) Selection
	Each(fn func(i int, s Selection))
	First() Selection
	Parent() Selection
	Find(selector string) Selection
	// Text is the combined text content of every element in the selection.
	Text() string
	// Attr returns the attribute of the first element in the selection.
	Attr(name string) (string, bool)
	// Tag is the element name of the first element in the selection.
	Tag() string
}

// ParseDocument parses markup from `r`.
func ParseDocument(r io.Reader) (Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}
	return gqDocument{doc: doc}, nil
}

// ParseString is ParseDocument for in-memory markup.
func ParseString(markup string) (Document, error) {
	return ParseDocument(strings.NewReader(markup))
}

type gqDocument struct {
	doc *goquery.Document
}

func (d gqDocument) Query(selector string) Selection {
	return gqSelection{sel: d.doc.Find(selector)}
}

func (d gqDocument) Html() (string, error) {
	return d.doc.Html()
}

type gqSelection struct {
	sel *goquery.Selection
}

func (s gqSelection) Len() int {
	return s.sel.Length()
}

func (s gqSelection) At(i int) Selection {
	return gqSelection{sel: s.sel.Eq(i)}
}

func (s gqSelection) Each(fn func(i int, s Selection)) {
	s.sel.Each(func(i int, child *goquery.Selection) {
		fn(i, gqSelection{sel: child})
	})
}

func (s gqSelection) First() Selection {
	return gqSelection{sel: s.sel.First()}
}

func (s gqSelection) Parent() Selection {
	return gqSelection{sel: s.sel.Parent()}
}

func (s gqSelection) Find(selector string) Selection {
	return gqSelection{sel: s.sel.Find(selector)}
}

func (s gqSelection) Text() string {
	var buffer bytes.Buffer
	for _, n := range s.sel.Nodes {
		buffer.WriteString(GetText(n))
	}
	return buffer.String()
}

func (s gqSelection) Attr(name string) (string, bool) {
	return s.sel.Attr(name)
}

func (s gqSelection) Tag() string {
	return goquery.NodeName(s.sel)
}

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

var innerWhitespace = regexp.MustCompile(`\s\s+`)

func removeNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) || unicode.IsSpace(c) {
			newStr.WriteRune(c)
		}
	}
	return newStr.String()
}

// NormalizeText trims text and collapses runs of whitespace into a single space.
func NormalizeText(text string) string {
	text = removeNonPrintable(text)
	text = strings.TrimSpace(text)
	return innerWhitespace.ReplaceAllString(text, " ")
}
