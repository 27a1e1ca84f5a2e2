// Package database provides storage backends for feeds and stories.
package database

import (
	"github.com/bryan-buckman/storyline/internal/model"
)

// Store defines the interface for database operations.
// Both SQLite and PostgreSQL implementations satisfy this interface.
// Failures are reported as feederr PersistenceFailed errors and lookups of a
// single record that match nothing as NotFound.
type Store interface {
	Close() error

	// DatabaseType returns the name of the database backend ("SQLite" or "PostgreSQL").
	DatabaseType() string

	// Feed operations
	InsertFeed(feed *model.Feed) error
	FindFeed(id string) (*model.Feed, error)
	FindFeeds(filter FeedFilter) ([]model.Feed, error)
	DeleteFeeds(filter FeedFilter) (int64, error)
	// ReplaceFeed overwrites a stored feed and all of its stories in one
	// transaction.
	ReplaceFeed(feed *model.Feed) error

	// Story operations
	FindStory(id string) (*model.Story, error)
	FindStories(filter StoryFilter) ([]model.Story, error)
	UpdateStories(filter StoryFilter, update StoryUpdate) (int64, error)
}

// FeedFilter selects feeds. Empty fields match everything.
type FeedFilter struct {
	ID      string
	Title   string
	RSSLink string
}

func (f FeedFilter) where() (string, []interface{}) {
	var w whereClause
	w.eq("id", f.ID)
	w.eq("title", f.Title)
	w.eq("rss_link", f.RSSLink)
	return w.String(), w.args
}

func (f FeedFilter) empty() bool {
	return f == FeedFilter{}
}

// StoryFilter selects stories. Empty fields match everything.
type StoryFilter struct {
	ID     string
	FeedID string
	Title  string
	Unread bool
}

func (f StoryFilter) where() (string, []interface{}) {
	var w whereClause
	w.eq("id", f.ID)
	w.eq("feed_id", f.FeedID)
	w.eq("title", f.Title)
	if f.Unread {
		w.add("is_read = ?", false)
	}
	return w.String(), w.args
}

// StoryUpdate lists the presentation state to change. Nil fields are left
// untouched.
type StoryUpdate struct {
	Read   *bool
	Scroll *int
}
