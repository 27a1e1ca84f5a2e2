// Package xmlcursor provides a forward-only XML event stream and the cursor
// primitives the feed extractors are composed from.
package xmlcursor

import (
	"bufio"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	xpp "github.com/mmcdole/goxpp"
	"golang.org/x/net/html/charset"

	"github.com/bryan-buckman/storyline/internal/feederr"
)

// EventKind identifies an XML event.
type EventKind int

const (
	StartElement EventKind = iota + 1
	EndElement
	Characters
	Whitespace
	EndDocument
)

func (k EventKind) String() string {
	switch k {
	case StartElement:
		return "StartElement"
	case EndElement:
		return "EndElement"
	case Characters:
		return "Characters"
	case Whitespace:
		return "Whitespace"
	case EndDocument:
		return "EndDocument"
	default:
		return "Invalid"
	}
}

// Event is one step of the stream. Name and Prefix are set for element
// events, Text for character events. CDATA sections arrive as Characters.
type Event struct {
	Kind   EventKind
	Name   string
	Prefix string
	Attrs  []xml.Attr
	Text   string
}

// Tokenizer wraps a pull parser over a buffered byte source. It is not
// restartable: once EndDocument has been returned it keeps returning it.
// A document must have a root element and no character data outside it.
type Tokenizer struct {
	p     *xpp.XMLPullParser
	depth int
	root  bool
	done  bool
	err   error
}

// NewTokenizer builds a strict tokenizer over r. Non UTF-8 documents are
// decoded according to their XML declaration.
func NewTokenizer(r io.Reader) *Tokenizer {
	return &Tokenizer{
		p: xpp.NewXMLPullParser(bufio.NewReader(r), true, charset.NewReaderLabel),
	}
}

// Next returns the next event. Comments, processing instructions and
// directives are not surfaced. Decoder failures are MalformedXML errors and
// are sticky.
func (t *Tokenizer) Next() (Event, error) {
	if t.err != nil {
		return Event{}, t.err
	}
	if t.done {
		return Event{Kind: EndDocument}, nil
	}

	for {
		ev, err := t.p.NextToken()
		if err != nil {
			// source failures are already classified
			var fe *feederr.Error
			if !errors.As(err, &fe) {
				err = feederr.New(feederr.MalformedXML, "tokenize", err)
			}
			return t.fail(err)
		}

		switch ev {
		case xpp.StartTag:
			t.depth++
			t.root = true
			return Event{
				Kind:   StartElement,
				Name:   t.p.Name,
				Prefix: t.prefix(),
				Attrs:  t.p.Attrs,
			}, nil
		case xpp.EndTag:
			t.depth--
			return Event{Kind: EndElement, Name: t.p.Name}, nil
		case xpp.Text:
			if strings.TrimSpace(t.p.Text) == "" {
				return Event{Kind: Whitespace, Text: t.p.Text}, nil
			}
			if t.depth == 0 {
				return t.fail(feederr.Newf(feederr.MalformedXML, "tokenize", "character data outside the root element"))
			}
			return Event{Kind: Characters, Text: t.p.Text}, nil
		case xpp.EndDocument:
			if !t.root {
				return t.fail(feederr.Newf(feederr.MalformedXML, "tokenize", "document has no root element"))
			}
			t.done = true
			return Event{Kind: EndDocument}, nil
		}
	}
}

func (t *Tokenizer) fail(err error) (Event, error) {
	t.err = err
	return Event{}, err
}

// prefix maps the current element's namespace back to the prefix used in
// the document. Undeclared prefixes are reported as written.
func (t *Tokenizer) prefix() string {
	space := t.p.Space
	if space == "" {
		return ""
	}
	if p, ok := t.p.Spaces[space]; ok {
		return p
	}
	if p, ok := t.p.Spaces[strings.ToLower(space)]; ok {
		return p
	}
	return space
}
