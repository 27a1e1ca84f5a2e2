package rss

import (
	"strings"

	"github.com/bryan-buckman/storyline/internal/model"
	"github.com/bryan-buckman/storyline/internal/xmlcursor"
)

// Mode selects which channel fields BuildChannel extracts.
type Mode int

const (
	// Required extracts title, link and description only.
	Required Mode = iota
	// Full additionally extracts every optional channel field.
	Full
)

// composite elements are not part of the model and are skipped whole.
var composite = map[string]bool{
	"item":      true,
	"image":     true,
	"rating":    true,
	"textInput": true,
	"skipHours": true,
	"skipDays":  true,
}

// BuildChannel consumes the document under c and returns its channel as a
// Feed with no stories. A namespace prefixed element ends the scan early,
// leaving the remaining fields unset.
func BuildChannel(c *xmlcursor.Cursor, mode Mode) (*model.Feed, error) {
	feed := model.NewFeed()

	for {
		ev, err := c.Next()
		if err != nil {
			return nil, err
		}

		switch ev.Kind {
		case xmlcursor.EndDocument:
			return feed, nil
		case xmlcursor.StartElement:
		default:
			continue
		}

		if ev.Prefix != "" {
			return feed, nil
		}
		if composite[ev.Name] {
			if err := c.SkipCurrent(ev.Name); err != nil {
				return nil, err
			}
			continue
		}

		if dst := requiredField(feed, ev.Name); dst != nil {
			text, ok, err := c.ReadText()
			if err != nil {
				return nil, err
			}
			if ok {
				*dst = strings.TrimSpace(text)
			}
			continue
		}

		if mode != Full {
			continue
		}
		if dst := optionalField(feed, ev.Name); dst != nil {
			text, ok, err := c.ReadText()
			if err != nil {
				return nil, err
			}
			if ok {
				*dst = model.Optional(strings.TrimSpace(text))
			} else if ev.Name == "cloud" {
				*dst = model.Optional(joinAttrs(ev))
			}
		}
	}
}

func requiredField(f *model.Feed, name string) *string {
	switch name {
	case "title":
		return &f.Title
	case "link":
		return &f.Link
	case "description":
		return &f.Description
	}
	return nil
}

func optionalField(f *model.Feed, name string) **string {
	switch name {
	case "language":
		return &f.Language
	case "copyright":
		return &f.Copyright
	case "managingEditor":
		return &f.ManagingEditor
	case "webMaster":
		return &f.WebMaster
	case "pubDate":
		return &f.PubDate
	case "lastBuildDate":
		return &f.LastBuildDate
	case "category":
		return &f.Category
	case "generator":
		return &f.Generator
	case "docs":
		return &f.Docs
	case "cloud":
		return &f.Cloud
	case "ttl":
		return &f.TTL
	}
	return nil
}

// joinAttrs renders an attribute-only element such as <cloud> as
// "key=value" pairs.
func joinAttrs(ev xmlcursor.Event) string {
	parts := make([]string, 0, len(ev.Attrs))
	for _, a := range ev.Attrs {
		parts = append(parts, a.Name.Local+"="+a.Value)
	}
	return strings.Join(parts, " ")
}
