// Package atom renders feed snapshots into Atom documents and standalone
// entry pages. Rendering is pure: the same snapshot always yields the same
// bytes.
package atom

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"

	"github.com/k3a/html2text"

	"github.com/letterfeed/letterfeed/storage"
)

// summaryLimit caps the plain text summary derived from an entry's content.
const summaryLimit = 320

// Renderer produces documents with links rooted at a public base URL.
type Renderer struct {
	base *url.URL
}

// NewRenderer returns a Renderer for the given public base URL.
func NewRenderer(base *url.URL) *Renderer {
	return &Renderer{base: base}
}

// FeedURL returns the public URL of a feed document.
func (r *Renderer) FeedURL(reference string) string {
	return r.base.JoinPath("feeds", reference).String()
}

// EntryURL returns the public URL of an entry's standalone page.
func (r *Renderer) EntryURL(reference, identifier string) string {
	return r.base.JoinPath("feeds", reference, "entries", identifier).String()
}

type feedXML struct {
	XMLName xml.Name   `xml:"feed"`
	Xmlns   string     `xml:"xmlns,attr"`
	ID      string     `xml:"id"`
	Title   string     `xml:"title"`
	Updated string     `xml:"updated"`
	Links   []linkXML  `xml:"link"`
	Entries []entryXML `xml:"entry"`
}

type linkXML struct {
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr,omitempty"`
	Href string `xml:"href,attr"`
}

type entryXML struct {
	ID      string     `xml:"id"`
	Title   string     `xml:"title"`
	Author  authorXML  `xml:"author"`
	Updated string     `xml:"updated"`
	Links   []linkXML  `xml:"link"`
	Summary *textXML   `xml:"summary"`
	Content contentXML `xml:"content"`
}

type authorXML struct {
	Name string `xml:"name"`
}

type textXML struct {
	Type string `xml:"type,attr"`
	Body string `xml:",chardata"`
}

type contentXML struct {
	Type string `xml:"type,attr"`
	Body string `xml:",chardata"`
}

// Feed renders a feed snapshot as an Atom document.
func (r *Renderer) Feed(feed *storage.Feed) ([]byte, error) {
	doc := feedXML{
		Xmlns:   "http://www.w3.org/2005/Atom",
		ID:      feedID(feed.Reference),
		Title:   feed.Title,
		Updated: feed.UpdatedAt.UTC().Format(time.RFC3339),
		Links: []linkXML{
			{Rel: "self", Type: "application/atom+xml", Href: r.FeedURL(feed.Reference)},
		},
		Entries: make([]entryXML, 0, len(feed.Entries)),
	}

	for i := range feed.Entries {
		entry := &feed.Entries[i]
		e := entryXML{
			ID:      entryID(feed.Reference, entry.Identifier),
			Title:   entry.Title,
			Author:  authorXML{Name: entry.Author},
			Updated: entry.ReceivedAt.UTC().Format(time.RFC3339),
			Links: []linkXML{
				{Rel: "alternate", Type: "text/html", Href: r.EntryURL(feed.Reference, entry.Identifier)},
			},
			Content: contentXML{Type: "html", Body: entry.ContentHTML},
		}
		if summary := summarize(entry.ContentHTML); summary != "" {
			e.Summary = &textXML{Type: "text", Body: summary}
		}
		doc.Entries = append(doc.Entries, e)
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling feed %s: %w", feed.Reference, err)
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.Write(body)
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func feedID(reference string) string {
	return "urn:letterfeed:" + reference
}

func entryID(reference, identifier string) string {
	return "urn:letterfeed:" + reference + ":" + identifier
}

// summarize derives a short plain text summary from sanitized entry HTML.
func summarize(contentHTML string) string {
	text := strings.TrimSpace(html2text.HTML2Text(contentHTML))
	if text == "" {
		return ""
	}
	runes := []rune(text)
	if len(runes) > summaryLimit {
		text = string(runes[:summaryLimit]) + "…"
	}
	return text
}

var entryPageTemplate = template.Must(template.New("entry").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
</head>
<body>
<article>
<header>
<h1>{{.Title}}</h1>
<p>{{.Author}} · <time datetime="{{.ReceivedAt}}">{{.ReceivedAt}}</time></p>
</header>
{{.Content}}
<footer>
<p><a href="{{.FeedURL}}">{{.FeedTitle}}</a></p>
</footer>
</article>
</body>
</html>
`))

type entryPageData struct {
	Title      string
	Author     string
	ReceivedAt string
	Content    template.HTML
	FeedTitle  string
	FeedURL    string
}

// EntryPage renders the standalone HTML page for a single entry. The entry's
// content is already sanitized by the delivery pipeline and is embedded as-is;
// title and author are escaped by the template.
func (r *Renderer) EntryPage(feed *storage.Feed, entry *storage.Entry) ([]byte, error) {
	var buf bytes.Buffer
	err := entryPageTemplate.Execute(&buf, entryPageData{
		Title:      entry.Title,
		Author:     entry.Author,
		ReceivedAt: entry.ReceivedAt.UTC().Format(time.RFC3339),
		Content:    template.HTML(entry.ContentHTML),
		FeedTitle:  feed.Title,
		FeedURL:    r.FeedURL(feed.Reference),
	})
	if err != nil {
		return nil, fmt.Errorf("rendering entry page %s: %w", entry.Identifier, err)
	}
	return buf.Bytes(), nil
}
