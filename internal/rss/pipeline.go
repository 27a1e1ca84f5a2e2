package rss

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"github.com/bryan-buckman/storyline/internal/feederr"
	"github.com/bryan-buckman/storyline/internal/logger"
	"github.com/bryan-buckman/storyline/internal/model"
	"github.com/bryan-buckman/storyline/internal/xmlcursor"
)

// Pipeline fetches feed documents and turns them into feeds and stories.
// Each call owns its source and closes it before returning.
type Pipeline struct {
	source    *Source
	extractor Extractor
}

// NewPipeline creates a pipeline reading from src. Story content is wrapped
// at wrapWidth columns, or the default width when wrapWidth is zero.
func NewPipeline(src *Source, wrapWidth int) *Pipeline {
	if src == nil {
		src = NewSource(0, 0, "")
	}
	return &Pipeline{source: src, extractor: Extractor{WrapWidth: wrapWidth}}
}

// FetchAndParse fetches the document at location and builds the complete
// feed, stories included. Nothing is returned unless the whole document was
// read successfully.
func (p *Pipeline) FetchAndParse(ctx context.Context, location string) (*model.Feed, error) {
	body, err := p.source.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, classify(feederr.FetchFailed, "read body", err)
	}

	feed, err := p.Parse(data)
	if err != nil {
		return nil, err
	}
	feed.RSSLink = location
	logger.Debugf("parsed %s: %q with %d stories", location, feed.Title, len(feed.Stories))
	return feed, nil
}

// Parse builds a feed from a complete document. The channel and the items
// are read in two passes because the channel scan stops at the first
// namespaced element.
func (p *Pipeline) Parse(data []byte) (*model.Feed, error) {
	var feed *model.Feed
	if isForeign(head(data)) {
		f, err := p.parseForeign(data)
		if err != nil {
			return nil, err
		}
		feed = f
	} else {
		f, err := BuildChannel(xmlcursor.New(bytes.NewReader(data)), Full)
		if err != nil {
			return nil, err
		}
		stories, err := p.extractor.ReadAll(xmlcursor.New(bytes.NewReader(data))).Collect()
		if err != nil {
			return nil, err
		}
		f.Stories = stories
		feed = f
	}

	for i := range feed.Stories {
		feed.Stories[i].FeedID = feed.ID
	}
	feed.FetchedAt = time.Now().UTC().Truncate(time.Second)
	return feed, nil
}

// FetchStoryByTitle streams the document at location and returns the first
// story titled exactly title, compared after trimming the document's
// surrounding whitespace. A miss is ok false with a nil error.
func (p *Pipeline) FetchStoryByTitle(ctx context.Context, location, title string) (*model.Story, bool, error) {
	body, err := p.source.Open(ctx, location)
	if err != nil {
		return nil, false, err
	}
	defer body.Close()

	br := bufio.NewReaderSize(body, sniffLen)
	foreign, err := p.sniff(br)
	if err != nil {
		return nil, false, err
	}

	if foreign {
		stories, err := p.readForeign(br)
		if err != nil {
			return nil, false, err
		}
		for i := range stories {
			if s := &stories[i]; s.Title != nil && *s.Title == title {
				return s, true, nil
			}
		}
		return nil, false, nil
	}
	return p.extractor.FindByTitle(xmlcursor.New(br), title)
}

// FetchAllStories streams every story of the document at location.
func (p *Pipeline) FetchAllStories(ctx context.Context, location string) ([]model.Story, error) {
	body, err := p.source.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	br := bufio.NewReaderSize(body, sniffLen)
	foreign, err := p.sniff(br)
	if err != nil {
		return nil, err
	}
	if foreign {
		return p.readForeign(br)
	}
	return p.extractor.ReadAll(xmlcursor.New(br)).Collect()
}

func (p *Pipeline) sniff(br *bufio.Reader) (bool, error) {
	h, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return false, classify(feederr.FetchFailed, "read body", err)
	}
	return isForeign(h), nil
}

func (p *Pipeline) readForeign(r io.Reader) ([]model.Story, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, classify(feederr.FetchFailed, "read body", err)
	}
	feed, err := p.parseForeign(data)
	if err != nil {
		return nil, err
	}
	return feed.Stories, nil
}

func head(data []byte) []byte {
	if len(data) > sniffLen {
		return data[:sniffLen]
	}
	return data
}

// classify wraps err with kind unless it already carries one.
func classify(kind feederr.Kind, op string, err error) error {
	if feederr.KindOf(err) != feederr.Unknown {
		return err
	}
	return feederr.New(kind, op, err)
}
