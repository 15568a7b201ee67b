// Package render converts message bodies into safe, display-ready HTML.
//
// Plain text bodies are escaped, split into paragraphs, and bare URLs are
// turned into anchors. HTML bodies are parsed permissively, relative URLs are
// resolved against a configured base, and the result is filtered through a
// bluemonday allow-list policy.
package render

import (
	"bytes"
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	nethtml "golang.org/x/net/html"
)

// Kind identifies the declared content type of a message body.
type Kind int

const (
	PlainText Kind = iota
	HTML
)

// Converter renders message bodies. Safe for concurrent use.
type Converter struct {
	base   *url.URL
	policy *bluemonday.Policy
}

// NewConverter returns a Converter that resolves relative URLs against base.
// A nil base leaves relative URLs alone; the sanitization policy then drops
// them along with other non-standard URLs.
func NewConverter(base *url.URL) *Converter {
	policy := bluemonday.UGCPolicy()
	policy.AllowImages()
	policy.AllowLists()
	policy.AllowTables()
	policy.SkipElementsContent("script", "style")

	return &Converter{base: base, policy: policy}
}

// Body renders a message body of the given kind to sanitized HTML.
// An absent or blank body renders to the empty string.
func (c *Converter) Body(body string, kind Kind) string {
	if strings.TrimSpace(body) == "" {
		return ""
	}
	if kind == HTML {
		return c.renderHTML(body)
	}
	return renderPlainText(body)
}

// urlPattern matches bare http(s) URLs in plain text.
var urlPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

// paragraphBreak matches one or more blank lines.
var paragraphBreak = regexp.MustCompile(`\n[ \t]*\n+`)

func renderPlainText(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")

	var b strings.Builder
	for _, para := range paragraphBreak.Split(body, -1) {
		para = strings.TrimRight(para, " \t\n")
		if strings.TrimSpace(para) == "" {
			continue
		}
		b.WriteString("<p>")
		b.WriteString(strings.ReplaceAll(linkify(para), "\n", "<br>"))
		b.WriteString("</p>\n")
	}
	return b.String()
}

// linkify escapes text while wrapping bare URLs in anchors whose visible text
// is the URL itself. Trailing sentence punctuation stays outside the anchor.
func linkify(text string) string {
	var b strings.Builder
	last := 0
	for _, loc := range urlPattern.FindAllStringIndex(text, -1) {
		b.WriteString(html.EscapeString(text[last:loc[0]]))

		match := text[loc[0]:loc[1]]
		trimmed := strings.TrimRight(match, ".,;:!?)")
		rest := match[len(trimmed):]

		escaped := html.EscapeString(trimmed)
		b.WriteString(`<a href="`)
		b.WriteString(escaped)
		b.WriteString(`">`)
		b.WriteString(escaped)
		b.WriteString(`</a>`)
		b.WriteString(html.EscapeString(rest))

		last = loc[1]
	}
	b.WriteString(html.EscapeString(text[last:]))
	return b.String()
}

func (c *Converter) renderHTML(body string) string {
	// nethtml.Parse recovers from malformed input instead of failing, so the
	// error branch only fires on reader errors, which strings.Reader never
	// produces. Keep the raw body as a fallback anyway; the policy still runs.
	doc, err := nethtml.Parse(strings.NewReader(body))
	if err == nil {
		if c.base != nil {
			resolveURLs(doc, c.base)
		}
		var buf bytes.Buffer
		if renderErr := nethtml.Render(&buf, doc); renderErr == nil {
			body = buf.String()
		}
	}
	return c.policy.Sanitize(body)
}

// resolveURLs rewrites relative href and src attributes against base.
func resolveURLs(n *nethtml.Node, base *url.URL) {
	if n.Type == nethtml.ElementNode {
		for i, attr := range n.Attr {
			if attr.Key != "href" && attr.Key != "src" {
				continue
			}
			ref, err := url.Parse(strings.TrimSpace(attr.Val))
			if err != nil || ref.IsAbs() {
				continue
			}
			n.Attr[i].Val = base.ResolveReference(ref).String()
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		resolveURLs(child, base)
	}
}
