package xmlcursor

import (
	"io"
	"strings"

	"github.com/bryan-buckman/storyline/internal/feederr"
)

// Cursor is the read position within one document. It is owned by a single
// caller and passed explicitly to every primitive.
type Cursor struct {
	tok     *Tokenizer
	peeked  *Event
	peekErr error
	depth   int
}

// New creates a cursor positioned before the first event of r.
func New(r io.Reader) *Cursor {
	return &Cursor{tok: NewTokenizer(r)}
}

// Depth is the number of elements currently open.
func (c *Cursor) Depth() int {
	return c.depth
}

// Next consumes and returns the next event.
func (c *Cursor) Next() (Event, error) {
	var ev Event
	var err error
	if c.peeked != nil || c.peekErr != nil {
		ev, err = c.takePeeked()
	} else {
		ev, err = c.tok.Next()
	}
	if err != nil {
		return Event{}, err
	}

	switch ev.Kind {
	case StartElement:
		c.depth++
	case EndElement:
		c.depth--
	}
	return ev, nil
}

// Peek returns the next event without consuming it.
func (c *Cursor) Peek() (Event, error) {
	if c.peeked == nil && c.peekErr == nil {
		ev, err := c.tok.Next()
		if err != nil {
			c.peekErr = err
		} else {
			c.peeked = &ev
		}
	}
	if c.peekErr != nil {
		return Event{}, c.peekErr
	}
	return *c.peeked, nil
}

func (c *Cursor) takePeeked() (Event, error) {
	if c.peekErr != nil {
		err := c.peekErr
		c.peekErr = nil
		return Event{}, err
	}
	ev := *c.peeked
	c.peeked = nil
	return ev, nil
}

// ReadText skips whitespace and returns the first run of character data.
// Adjacent character events (text split by CDATA sections or comments) are
// joined. If the next significant event is not textual it is consumed and
// ok is false.
func (c *Cursor) ReadText() (text string, ok bool, err error) {
	for {
		ev, err := c.Next()
		if err != nil {
			return "", false, err
		}

		switch ev.Kind {
		case Whitespace:
			continue
		case Characters:
			var b strings.Builder
			b.WriteString(ev.Text)
			for {
				next, err := c.Peek()
				if err != nil {
					return "", false, err
				}
				if next.Kind != Characters && next.Kind != Whitespace {
					break
				}
				if _, err := c.Next(); err != nil {
					return "", false, err
				}
				b.WriteString(next.Text)
			}
			return b.String(), true, nil
		default:
			return "", false, nil
		}
	}
}

// SkipTo discards events until a start tag with the given local name. It
// reports false, without error, when the document ends first.
func (c *Cursor) SkipTo(tag string) (bool, error) {
	for {
		ev, err := c.Next()
		if err != nil {
			return false, err
		}

		switch ev.Kind {
		case StartElement:
			if ev.Name == tag {
				return true, nil
			}
		case EndDocument:
			return false, nil
		}
	}
}

// SkipCurrent discards the rest of the element named tag, which the cursor
// must already be inside. Nested elements with the same local name are
// balanced so the cursor stops after the matching end tag.
func (c *Cursor) SkipCurrent(tag string) error {
	open := 1
	for open > 0 {
		ev, err := c.Next()
		if err != nil {
			return err
		}

		switch ev.Kind {
		case StartElement:
			if ev.Name == tag {
				open++
			}
		case EndElement:
			if ev.Name == tag {
				open--
			}
		case EndDocument:
			return feederr.Newf(feederr.MalformedXML, "skip current", "document ended inside <%s>", tag)
		}
	}
	return nil
}
