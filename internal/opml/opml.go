// Package opml handles importing and exporting subscription lists as OPML.
package opml

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bryan-buckman/storyline/internal/logger"
	"github.com/bryan-buckman/storyline/internal/model"
)

// OPML represents the root of an OPML document.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline is a feed when XMLURL is set, otherwise a group of outlines.
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// Entry is one subscription from an OPML document.
type Entry struct {
	Title string
	URL   string
}

// Parse reads an OPML document and returns its feeds in document order.
// Grouping outlines are flattened.
func Parse(r io.Reader) ([]Entry, error) {
	var doc OPML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}

	var entries []Entry
	var walk func(outlines []Outline)
	walk = func(outlines []Outline) {
		for _, o := range outlines {
			if o.XMLURL != "" {
				title := o.Title
				if title == "" {
					title = o.Text
				}
				entries = append(entries, Entry{Title: title, URL: o.XMLURL})
				continue
			}
			walk(o.Outlines)
		}
	}
	walk(doc.Body.Outlines)
	return entries, nil
}

// Export generates an OPML document listing feeds.
func Export(title string, feeds []model.Feed) ([]byte, error) {
	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:       title,
			DateCreated: time.Now().Format(time.RFC1123Z),
		},
	}

	for _, f := range feeds {
		text := f.Title
		if text == "" {
			text = f.RSSLink
		}
		doc.Body.Outlines = append(doc.Body.Outlines, Outline{
			Text:    text,
			Title:   text,
			Type:    "rss",
			XMLURL:  f.RSSLink,
			HTMLURL: f.Link,
		})
	}

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), output...), nil
}

// Subscriber adds a feed by location.
type Subscriber interface {
	Subscribe(ctx context.Context, location string) (*model.Feed, bool, error)
}

// ImportResult summarises an import.
type ImportResult struct {
	Added    int
	Existing int
	Failed   int
}

// Import subscribes to every feed in the OPML document read from r, one at a
// time. A feed that fails is logged and counted; the others still import.
func Import(ctx context.Context, r io.Reader, sub Subscriber) (ImportResult, error) {
	var res ImportResult
	entries, err := Parse(r)
	if err != nil {
		return res, err
	}

	var errs []error
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		_, created, err := sub.Subscribe(ctx, e.URL)
		switch {
		case err != nil:
			logger.Warnf("import %s: %v", e.URL, err)
			res.Failed++
			errs = append(errs, err)
		case created:
			res.Added++
		default:
			res.Existing++
		}
	}
	return res, errors.Join(errs...)
}
