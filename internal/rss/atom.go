package rss

import (
	"bytes"

	"github.com/mmcdole/gofeed"

	"github.com/bryan-buckman/storyline/internal/feederr"
	"github.com/bryan-buckman/storyline/internal/model"
)

// sniffLen is how much of a document is inspected to detect its format.
const sniffLen = 4096

// isForeign reports whether head starts an Atom or JSON Feed document.
// Those formats are parsed by gofeed instead of the streaming reader.
func isForeign(head []byte) bool {
	switch gofeed.DetectFeedType(bytes.NewReader(head)) {
	case gofeed.FeedTypeAtom, gofeed.FeedTypeJSON:
		return true
	}
	return false
}

// parseForeign converts an Atom or JSON Feed document to the feed model.
func (p *Pipeline) parseForeign(data []byte) (*model.Feed, error) {
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(data))
	if err != nil {
		return nil, feederr.New(feederr.MalformedXML, "parse feed", err)
	}

	feed := model.NewFeed()
	feed.Title = parsed.Title
	feed.Link = parsed.Link
	feed.Description = parsed.Description
	feed.Language = model.Optional(parsed.Language)
	feed.Copyright = model.Optional(parsed.Copyright)
	feed.Generator = model.Optional(parsed.Generator)
	feed.PubDate = model.Optional(parsed.Published)
	feed.LastBuildDate = model.Optional(parsed.Updated)
	if len(parsed.Categories) > 0 {
		feed.Category = model.Optional(parsed.Categories[0])
	}
	if len(parsed.Authors) > 0 && parsed.Authors[0] != nil {
		feed.ManagingEditor = model.Optional(parsed.Authors[0].Name)
	}

	for _, item := range parsed.Items {
		story, err := p.storyFromItem(item)
		if err != nil {
			return nil, err
		}
		feed.Stories = append(feed.Stories, *story)
	}
	return feed, nil
}

func (p *Pipeline) storyFromItem(item *gofeed.Item) (*model.Story, error) {
	story := model.NewStory()
	story.Title = model.Optional(item.Title)
	story.Link = model.Optional(item.Link)
	story.Description = model.Optional(item.Description)

	pub := item.Published
	if pub == "" {
		pub = item.Updated
	}
	story.PubDate = model.Optional(pub)

	if len(item.Authors) > 0 && item.Authors[0] != nil {
		story.Author = model.Optional(item.Authors[0].Name)
	}
	if item.DublinCoreExt != nil && len(item.DublinCoreExt.Creator) > 0 {
		story.Creator = model.Optional(item.DublinCoreExt.Creator[0])
	}

	if err := p.extractor.finish(story, item.Content); err != nil {
		return nil, err
	}
	return story, nil
}
