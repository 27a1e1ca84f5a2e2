// Package model defines shared data structures.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Feed represents an RSS channel and the stories parsed from it.
// Optional channel fields are nil when the document does not carry them.
type Feed struct {
	ID          string
	Title       string
	Link        string
	Description string

	Language       *string
	Copyright      *string
	ManagingEditor *string
	WebMaster      *string
	PubDate        *string
	LastBuildDate  *string
	Category       *string
	Generator      *string
	Docs           *string
	Cloud          *string
	TTL            *string

	RSSLink   string // origin URL or path, used when refreshing
	FetchedAt time.Time
	Stories   []Story
}

// Story represents a single item of a feed.
type Story struct {
	ID          string
	FeedID      string
	Title       *string
	Link        *string
	Description *string
	Author      *string
	Creator     *string
	PubDate     *string
	Content     *string // plain text, never HTML

	Read   bool
	Scroll int
}

// NewFeed returns an empty feed with a fresh identity.
func NewFeed() *Feed {
	return &Feed{ID: uuid.New().String()}
}

// NewStory returns an empty, unread story with a fresh identity.
func NewStory() *Story {
	return &Story{ID: uuid.New().String()}
}

// Body returns the text to display for a story: the plain text content when
// there is any, otherwise the raw description.
func (s *Story) Body() string {
	if s.Content != nil && *s.Content != "" {
		return *s.Content
	}
	return Value(s.Description)
}

// TitleOr returns the story title or fallback when the story has none.
func (s *Story) TitleOr(fallback string) string {
	if s.Title == nil {
		return fallback
	}
	return *s.Title
}

// Unread counts stories not yet opened.
func (f *Feed) Unread() int {
	n := 0
	for i := range f.Stories {
		if !f.Stories[i].Read {
			n++
		}
	}
	return n
}

// Value dereferences an optional field, returning "" when it is absent.
func Value(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// Optional returns nil for an empty string, and a pointer to s otherwise.
func Optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
