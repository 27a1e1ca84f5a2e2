package rss

import (
	"strings"

	"github.com/bryan-buckman/storyline/internal/feederr"
	"github.com/bryan-buckman/storyline/internal/htmltext"
	"github.com/bryan-buckman/storyline/internal/model"
	"github.com/bryan-buckman/storyline/internal/xmlcursor"
)

// Extractor turns <item> elements into stories. The zero value wraps story
// content at htmltext.DefaultWidth.
type Extractor struct {
	WrapWidth int
}

// ReadSingle reads one story. The cursor must be positioned just past an
// <item> start tag; it is left just past the matching end tag. Unknown
// children are ignored.
func (e Extractor) ReadSingle(c *xmlcursor.Cursor) (*model.Story, error) {
	story := model.NewStory()
	depth := c.Depth()
	var encoded string

	for {
		ev, err := c.Next()
		if err != nil {
			return nil, err
		}

		switch ev.Kind {
		case xmlcursor.EndDocument:
			return nil, feederr.Newf(feederr.MalformedXML, "read item", "document ended inside <item>")
		case xmlcursor.EndElement:
			if c.Depth() < depth {
				if err := e.finish(story, encoded); err != nil {
					return nil, err
				}
				return story, nil
			}
			continue
		case xmlcursor.StartElement:
		default:
			continue
		}

		// only direct children carry story fields
		if c.Depth() != depth+1 {
			continue
		}

		if ev.Prefix == "content" && ev.Name == "encoded" {
			text, ok, err := c.ReadText()
			if err != nil {
				return nil, err
			}
			if ok {
				encoded = strings.TrimSpace(text)
			}
			continue
		}

		dst := storyField(story, ev)
		if dst == nil {
			continue
		}
		text, ok, err := c.ReadText()
		if err != nil {
			return nil, err
		}
		if ok {
			*dst = model.Optional(strings.TrimSpace(text))
		}
	}
}

func storyField(s *model.Story, ev xmlcursor.Event) **string {
	if ev.Name == "creator" {
		return &s.Creator
	}
	if ev.Prefix != "" {
		return nil
	}

	switch ev.Name {
	case "title":
		return &s.Title
	case "link":
		return &s.Link
	case "description":
		return &s.Description
	case "author":
		return &s.Author
	case "pubDate":
		return &s.PubDate
	}
	return nil
}

// finish renders the story body from the encoded content, falling back to
// the description.
func (e Extractor) finish(s *model.Story, encoded string) error {
	source := encoded
	if source == "" {
		source = model.Value(s.Description)
	}
	if source == "" {
		return nil
	}

	body, err := htmltext.Transform(source, e.WrapWidth)
	if err != nil {
		return feederr.New(feederr.MalformedXML, "render content", err)
	}
	s.Content = model.Optional(body)
	return nil
}

// Stories iterates over the items of a document. It is not restartable.
//
//	it := e.ReadAll(c)
//	for it.Next() {
//		s := it.Story()
//	}
//	if err := it.Err(); err != nil {
type Stories struct {
	e     Extractor
	c     *xmlcursor.Cursor
	story *model.Story
	err   error
	done  bool
}

// ReadAll returns an iterator over every item from the cursor position to
// the end of the document.
func (e Extractor) ReadAll(c *xmlcursor.Cursor) *Stories {
	return &Stories{e: e, c: c}
}

// Next advances to the next story.
func (it *Stories) Next() bool {
	if it.done {
		return false
	}

	found, err := it.c.SkipTo("item")
	if err != nil || !found {
		it.err = err
		it.done = true
		it.story = nil
		return false
	}

	story, err := it.e.ReadSingle(it.c)
	if err != nil {
		it.err = err
		it.done = true
		it.story = nil
		return false
	}
	it.story = story
	return true
}

// Story returns the story read by the last call to Next.
func (it *Stories) Story() *model.Story {
	return it.story
}

// Err returns the error that stopped the iteration, if any.
func (it *Stories) Err() error {
	return it.err
}

// Collect drains the iterator.
func (it *Stories) Collect() ([]model.Story, error) {
	var stories []model.Story
	for it.Next() {
		stories = append(stories, *it.Story())
	}
	return stories, it.Err()
}

// ReadIndexed returns the item at the zero based index.
func (e Extractor) ReadIndexed(c *xmlcursor.Cursor, index int) (*model.Story, error) {
	if index < 0 {
		return nil, feederr.Newf(feederr.NotFound, "read indexed", "negative index %d", index)
	}

	for i := 0; i <= index; i++ {
		found, err := c.SkipTo("item")
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, feederr.Newf(feederr.NotFound, "read indexed", "index %d out of range, document has %d items", index, i)
		}
	}
	return e.ReadSingle(c)
}

// ReadCounted returns the first count items. A document with fewer items is
// a NotFound error; no partial result is returned.
func (e Extractor) ReadCounted(c *xmlcursor.Cursor, count int) ([]model.Story, error) {
	stories := make([]model.Story, 0, max(count, 0))

	for len(stories) < count {
		found, err := c.SkipTo("item")
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, feederr.Newf(feederr.NotFound, "read counted", "requested %d items, document has %d", count, len(stories))
		}

		story, err := e.ReadSingle(c)
		if err != nil {
			return nil, err
		}
		stories = append(stories, *story)
	}
	return stories, nil
}

// FindByTitle returns the first story whose title equals title exactly.
// The comparison is case sensitive and runs against the extracted title,
// which has had surrounding whitespace trimmed like every other field.
// A miss is reported with ok false and a nil error.
func (e Extractor) FindByTitle(c *xmlcursor.Cursor, title string) (story *model.Story, ok bool, err error) {
	it := e.ReadAll(c)
	for it.Next() {
		if s := it.Story(); s.Title != nil && *s.Title == title {
			return s, true, nil
		}
	}
	return nil, false, it.Err()
}
