package parser

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// StaticDocument is the FieldQuery adapter over an already-fetched HTML
// string. No scripts run, so lazily loaded content is only visible if it was
// present in the markup.
type StaticDocument struct {
	doc  *goquery.Document
	raw  string
	base *url.URL
	text string
}

// NewStaticDocument parses rawHTML. Relative attribute URLs are resolved
// against sourceURL.
func NewStaticDocument(rawHTML, sourceURL string) (*StaticDocument, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	// an unparsable source URL leaves attribute URLs as written
	base, _ := url.Parse(sourceURL)

	return &StaticDocument{
		doc:  doc,
		raw:  rawHTML,
		base: base,
	}, nil
}

func (d *StaticDocument) QuerySelectorText(selectors []string) (string, bool) {
	return FirstText(selectors, func(selector string) string {
		return d.doc.Find(selector).First().Text()
	})
}

func (d *StaticDocument) Exists(selectors []string) bool {
	for _, selector := range selectors {
		if d.doc.Find(selector).Length() > 0 {
			return true
		}
	}
	return false
}

func (d *StaticDocument) QueryAttrs(selector string, attrs ...string) []string {
	var values []string
	d.doc.Find(selector).Each(func(i int, s *goquery.Selection) {
		for _, attr := range attrs {
			if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
				values = append(values, d.resolve(strings.TrimSpace(v)))
				return
			}
		}
	})
	return values
}

// FullText approximates the rendered innerText: script and style content is
// skipped and block elements are separated by newlines.
func (d *StaticDocument) FullText() string {
	if d.text == "" {
		body := d.doc.Find("body")
		if body.Length() == 0 {
			body = d.doc.Selection
		}

		var b strings.Builder
		for _, n := range body.Nodes {
			writeVisibleText(&b, n)
		}
		d.text = collapseText(b.String())
	}
	return d.text
}

func (d *StaticDocument) HTML() string {
	return d.raw
}

// Title is the document <title>.
func (d *StaticDocument) Title() string {
	return strings.TrimSpace(d.doc.Find("title").First().Text())
}

func (d *StaticDocument) resolve(ref string) string {
	if d.base == nil {
		return ref
	}
	u, err := d.base.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}

var blockElements = map[atom.Atom]bool{
	atom.Address: true, atom.Article: true, atom.Aside: true, atom.Blockquote: true,
	atom.Br: true, atom.Dd: true, atom.Div: true, atom.Dl: true, atom.Dt: true,
	atom.Figcaption: true, atom.Figure: true, atom.Footer: true, atom.Form: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Header: true, atom.Hr: true, atom.Li: true, atom.Main: true, atom.Nav: true,
	atom.Ol: true, atom.P: true, atom.Section: true, atom.Table: true, atom.Td: true,
	atom.Th: true, atom.Tr: true, atom.Ul: true,
}

var hiddenElements = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Noscript: true, atom.Template: true, atom.Head: true,
}

func writeVisibleText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		if hiddenElements[n.DataAtom] {
			return
		}
	}

	block := n.Type == html.ElementNode && blockElements[n.DataAtom]
	if block {
		b.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeVisibleText(b, c)
	}
	if block {
		b.WriteByte('\n')
	}
}

var horizontalSpace = regexp.MustCompile(`[ \t\r\f\v]+`)

func collapseText(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(horizontalSpace.ReplaceAllString(line, " "))
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
