package database

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/bryan-buckman/storyline/internal/feederr"
	"github.com/bryan-buckman/storyline/internal/model"
)

// stores returns every backend available to the test: SQLite always, and
// PostgreSQL when STORYLINE_TEST_POSTGRES_DSN is set.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	out := map[string]Store{}

	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	out["sqlite"] = db

	if dsn := os.Getenv("STORYLINE_TEST_POSTGRES_DSN"); dsn != "" {
		pg, err := NewPostgres(dsn)
		if err != nil {
			t.Fatalf("open postgres: %v", err)
		}
		t.Cleanup(func() {
			pg.conn.Exec("DELETE FROM stories")
			pg.conn.Exec("DELETE FROM feeds")
			pg.Close()
		})
		out["postgres"] = pg
	}
	return out
}

func sampleFeed(link string) *model.Feed {
	f := model.NewFeed()
	f.Title = "Example"
	f.Link = "https://example.com/"
	f.Description = "An example feed"
	f.Language = model.Optional("en")
	f.TTL = model.Optional("60")
	f.RSSLink = link
	f.FetchedAt = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	s1 := model.NewStory()
	s1.Title = model.Optional("First")
	s1.Link = model.Optional("https://example.com/1")
	s1.Content = model.Optional("plain text")
	s2 := model.NewStory()
	s2.Title = model.Optional("Second")
	s2.Creator = model.Optional("Ann")
	f.Stories = []model.Story{*s1, *s2}
	return f
}

func TestRoundTrip(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			feed := sampleFeed("https://example.com/feed-" + name)
			if err := store.InsertFeed(feed); err != nil {
				t.Fatalf("insert: %v", err)
			}

			got, err := store.FindFeed(feed.ID)
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			if !got.FetchedAt.Equal(feed.FetchedAt) {
				t.Errorf("fetched at: expected %v, got %v", feed.FetchedAt, got.FetchedAt)
			}
			got.FetchedAt = feed.FetchedAt
			if !reflect.DeepEqual(got, feed) {
				t.Errorf("round trip mismatch:\nwant %+v\ngot  %+v", feed, got)
			}
		})
	}
}

func TestFindMissing(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.FindFeed("missing"); !errors.Is(err, feederr.ErrNotFound) {
				t.Errorf("expected NotFound for a feed, got %v", err)
			}
			if _, err := store.FindStory("missing"); !errors.Is(err, feederr.ErrNotFound) {
				t.Errorf("expected NotFound for a story, got %v", err)
			}
		})
	}
}

func TestDuplicateRSSLinkFails(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			link := "https://example.com/dup-" + name
			if err := store.InsertFeed(sampleFeed(link)); err != nil {
				t.Fatalf("insert: %v", err)
			}
			err := store.InsertFeed(sampleFeed(link))
			if !errors.Is(err, feederr.ErrPersistenceFailed) {
				t.Errorf("expected PersistenceFailed, got %v", err)
			}
		})
	}
}

func TestFindFeedsFilter(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			a := sampleFeed("https://a.example.com/" + name)
			a.Title = "Alpha"
			b := sampleFeed("https://b.example.com/" + name)
			b.Title = "Beta"
			store.InsertFeed(a)
			store.InsertFeed(b)

			all, err := store.FindFeeds(FeedFilter{})
			if err != nil {
				t.Fatalf("find all: %v", err)
			}
			if len(all) != 2 || all[0].Title != "Alpha" || all[1].Title != "Beta" {
				t.Errorf("expected Alpha and Beta ordered by title, got %+v", all)
			}
			if all[0].Stories != nil {
				t.Error("feed listings should not load stories")
			}

			byLink, err := store.FindFeeds(FeedFilter{RSSLink: b.RSSLink})
			if err != nil || len(byLink) != 1 || byLink[0].ID != b.ID {
				t.Errorf("expected Beta by rss link, got %+v err %v", byLink, err)
			}
		})
	}
}

func TestUpdateStories(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			feed := sampleFeed("https://example.com/update-" + name)
			store.InsertFeed(feed)
			read := true
			scroll := 7

			n, err := store.UpdateStories(StoryFilter{ID: feed.Stories[0].ID}, StoryUpdate{Read: &read, Scroll: &scroll})
			if err != nil || n != 1 {
				t.Fatalf("expected one story updated, got %d err %v", n, err)
			}

			s, err := store.FindStory(feed.Stories[0].ID)
			if err != nil {
				t.Fatalf("find story: %v", err)
			}
			if !s.Read || s.Scroll != 7 {
				t.Errorf("expected read with scroll 7, got read=%v scroll=%d", s.Read, s.Scroll)
			}

			unread, err := store.FindStories(StoryFilter{FeedID: feed.ID, Unread: true})
			if err != nil || len(unread) != 1 || unread[0].ID != feed.Stories[1].ID {
				t.Errorf("expected only the second story unread, got %d err %v", len(unread), err)
			}

			n, err = store.UpdateStories(StoryFilter{FeedID: feed.ID}, StoryUpdate{Read: &read})
			if err != nil || n != 2 {
				t.Errorf("expected both stories updated, got %d err %v", n, err)
			}

			n, err = store.UpdateStories(StoryFilter{FeedID: feed.ID}, StoryUpdate{})
			if err != nil || n != 0 {
				t.Errorf("expected an empty update to change nothing, got %d err %v", n, err)
			}
		})
	}
}

func TestDeleteFeeds(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			feed := sampleFeed("https://example.com/delete-" + name)
			store.InsertFeed(feed)

			if _, err := store.DeleteFeeds(FeedFilter{}); err == nil {
				t.Error("expected an empty filter to be rejected")
			}

			n, err := store.DeleteFeeds(FeedFilter{ID: feed.ID})
			if err != nil || n != 1 {
				t.Fatalf("expected one feed deleted, got %d err %v", n, err)
			}
			if _, err := store.FindFeed(feed.ID); !errors.Is(err, feederr.ErrNotFound) {
				t.Errorf("expected the feed to be gone, got %v", err)
			}
			stories, err := store.FindStories(StoryFilter{FeedID: feed.ID})
			if err != nil || len(stories) != 0 {
				t.Errorf("expected the stories to be gone, got %d err %v", len(stories), err)
			}
		})
	}
}

func TestReplaceFeed(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			feed := sampleFeed("https://example.com/replace-" + name)
			store.InsertFeed(feed)

			s3 := model.NewStory()
			s3.Title = model.Optional("Third")
			feed.Title = "Renamed"
			feed.Stories = []model.Story{*s3, feed.Stories[0]}
			if err := store.ReplaceFeed(feed); err != nil {
				t.Fatalf("replace: %v", err)
			}

			got, err := store.FindFeed(feed.ID)
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			if got.Title != "Renamed" || len(got.Stories) != 2 {
				t.Fatalf("unexpected feed %q with %d stories", got.Title, len(got.Stories))
			}
			if model.Value(got.Stories[0].Title) != "Third" || model.Value(got.Stories[1].Title) != "First" {
				t.Errorf("stories not in the new order")
			}

			missing := sampleFeed("https://example.com/missing-" + name)
			if err := store.ReplaceFeed(missing); !errors.Is(err, feederr.ErrNotFound) {
				t.Errorf("expected NotFound for an unknown feed, got %v", err)
			}
		})
	}
}

func TestDollarPlaceholders(t *testing.T) {
	got := dollarPlaceholders("UPDATE stories SET is_read = ? WHERE id = ? AND feed_id = ?")
	want := "UPDATE stories SET is_read = $1 WHERE id = $2 AND feed_id = $3"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open("mysql", "", ""); err == nil {
		t.Error("expected an error for an unknown driver")
	}
}
