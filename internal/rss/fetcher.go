// Package rss fetches feed documents and extracts channels and stories from
// them.
package rss

import (
	"context"
	"errors"
	"fmt"

	"github.com/bryan-buckman/storyline/internal/database"
	"github.com/bryan-buckman/storyline/internal/feederr"
	"github.com/bryan-buckman/storyline/internal/logger"
	"github.com/bryan-buckman/storyline/internal/model"
)

// DefaultFeeds are subscribed by Seed.
var DefaultFeeds = []string{
	"https://feeds.megaphone.fm/darknetdiaries",
	"https://itsfoss.com/rss/",
	"https://www.wired.com/feed/category/security/latest/rss",
	"https://news.ycombinator.com/rss",
}

// Fetcher keeps stored feeds in step with their sources.
type Fetcher struct {
	db       database.Store
	pipeline *Pipeline
}

// NewFetcher creates a new fetcher.
func NewFetcher(db database.Store, pipeline *Pipeline) *Fetcher {
	return &Fetcher{db: db, pipeline: pipeline}
}

// Pipeline returns the pipeline used for fetching.
func (f *Fetcher) Pipeline() *Pipeline {
	return f.pipeline
}

// Subscribe fetches the feed at location and stores it. When a feed with the
// same rss link already exists it is returned unchanged and created is false.
func (f *Fetcher) Subscribe(ctx context.Context, location string) (feed *model.Feed, created bool, err error) {
	existing, err := f.db.FindFeeds(database.FeedFilter{RSSLink: location})
	if err != nil {
		return nil, false, err
	}
	if len(existing) > 0 {
		feed, err := f.db.FindFeed(existing[0].ID)
		return feed, false, err
	}

	feed, err = f.pipeline.FetchAndParse(ctx, location)
	if err != nil {
		return nil, false, err
	}
	if err := f.db.InsertFeed(feed); err != nil {
		return nil, false, err
	}
	logger.Infof("subscribed to %s (%q, %d stories)", location, feed.Title, len(feed.Stories))
	return feed, true, nil
}

// RefreshResult describes one refreshed feed.
type RefreshResult struct {
	FeedID     string
	NewStories int
	Error      error
}

// RefreshFeed re-fetches a stored feed from its rss link and replaces the
// stored copy. Stories that were already known keep their identity, read
// state and scroll position. The stored feed is untouched if the fetch or
// the parse fails.
func (f *Fetcher) RefreshFeed(ctx context.Context, feedID string) (int, error) {
	old, err := f.db.FindFeed(feedID)
	if err != nil {
		return 0, err
	}

	fresh, err := f.pipeline.FetchAndParse(ctx, old.RSSLink)
	if err != nil {
		return 0, fmt.Errorf("refresh %s: %w", old.RSSLink, err)
	}

	fresh.ID = old.ID
	newCount := carryOver(old.Stories, fresh.Stories)
	if err := f.db.ReplaceFeed(fresh); err != nil {
		return 0, err
	}
	logger.Debugf("refreshed %s: %d new stories", old.RSSLink, newCount)
	return newCount, nil
}

// carryOver copies identity and presentation state from known stories onto
// their fresh counterparts and returns how many fresh stories are new.
func carryOver(old, fresh []model.Story) int {
	known := make(map[string]*model.Story, len(old))
	for i := range old {
		if k := storyKey(&old[i]); k != "" {
			if _, dup := known[k]; !dup {
				known[k] = &old[i]
			}
		}
	}

	newCount := 0
	for i := range fresh {
		prev, ok := known[storyKey(&fresh[i])]
		if !ok {
			newCount++
			continue
		}
		delete(known, storyKey(&fresh[i]))
		fresh[i].ID = prev.ID
		fresh[i].Read = prev.Read
		fresh[i].Scroll = prev.Scroll
	}
	return newCount
}

// storyKey identifies a story across fetches: its link, else its title.
func storyKey(s *model.Story) string {
	if l := model.Value(s.Link); l != "" {
		return "link:" + l
	}
	if t := model.Value(s.Title); t != "" {
		return "title:" + t
	}
	return ""
}

// RefreshAll refreshes every stored feed, one at a time. Failures are
// logged and reported per feed; they do not stop the run.
func (f *Fetcher) RefreshAll(ctx context.Context) ([]RefreshResult, error) {
	feeds, err := f.db.FindFeeds(database.FeedFilter{})
	if err != nil {
		return nil, err
	}

	logger.Infof("refreshing %d feeds", len(feeds))
	results := make([]RefreshResult, 0, len(feeds))
	for i, feed := range feeds {
		select {
		case <-ctx.Done():
			logger.Warnf("refresh cancelled after %d/%d feeds", i, len(feeds))
			return results, ctx.Err()
		default:
		}

		count, err := f.RefreshFeed(ctx, feed.ID)
		if err != nil {
			logger.Errorf("failed to refresh %s: %v", feed.RSSLink, err)
		}
		results = append(results, RefreshResult{FeedID: feed.ID, NewStories: count, Error: err})
	}
	return results, nil
}

// Seed subscribes to DefaultFeeds, skipping those already stored. It
// returns the number of feeds added.
func (f *Fetcher) Seed(ctx context.Context) (int, error) {
	added := 0
	var errs []error
	for _, location := range DefaultFeeds {
		_, created, err := f.Subscribe(ctx, location)
		if err != nil {
			logger.Warnf("seed %s: %v", location, err)
			errs = append(errs, err)
			continue
		}
		if created {
			added++
		}
	}
	return added, errors.Join(errs...)
}

// OpenStory returns a stored story and marks it read.
func (f *Fetcher) OpenStory(storyID string) (*model.Story, error) {
	story, err := f.db.FindStory(storyID)
	if err != nil {
		return nil, err
	}
	if story.Read {
		return story, nil
	}

	read := true
	n, err := f.db.UpdateStories(database.StoryFilter{ID: storyID}, database.StoryUpdate{Read: &read})
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, feederr.Newf(feederr.NotFound, "open story", "no story with id %s", storyID)
	}
	story.Read = true
	return story, nil
}
