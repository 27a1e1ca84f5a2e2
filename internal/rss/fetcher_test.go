package rss

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bryan-buckman/storyline/internal/database"
	"github.com/bryan-buckman/storyline/internal/feederr"
	"github.com/bryan-buckman/storyline/internal/model"
)

// feedServer serves whatever document is current and can be switched to
// failing.
type feedServer struct {
	mu   sync.Mutex
	doc  string
	fail bool
}

func (s *feedServer) set(doc string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc
}

func (s *feedServer) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *feedServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Write([]byte(s.doc))
}

func newTestFetcher(t *testing.T) (*Fetcher, database.Store) {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewFetcher(db, NewPipeline(nil, 0)), db
}

const twoItems = `<rss><channel><title>T</title>
	<item><title>A</title><link>https://example.com/a</link></item>
	<item><title>B</title><link>https://example.com/b</link></item>
</channel></rss>`

const threeItems = `<rss><channel><title>T2</title>
	<item><title>C</title><link>https://example.com/c</link></item>
	<item><title>A (edited)</title><link>https://example.com/a</link></item>
	<item><title>B</title><link>https://example.com/b</link></item>
</channel></rss>`

func TestSubscribeStoresFeed(t *testing.T) {
	fs := &feedServer{doc: twoItems}
	srv := httptest.NewServer(fs)
	defer srv.Close()
	f, db := newTestFetcher(t)

	feed, created, err := f.Subscribe(context.Background(), srv.URL)
	if err != nil || !created {
		t.Fatalf("subscribe: created=%v err=%v", created, err)
	}

	stored, err := db.FindFeed(feed.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.Title != "T" || len(stored.Stories) != 2 || stored.RSSLink != srv.URL {
		t.Errorf("unexpected stored feed %q with %d stories from %q", stored.Title, len(stored.Stories), stored.RSSLink)
	}

	again, created, err := f.Subscribe(context.Background(), srv.URL)
	if err != nil || created {
		t.Fatalf("second subscribe: created=%v err=%v", created, err)
	}
	if again.ID != feed.ID {
		t.Errorf("expected the existing feed back, got %s", again.ID)
	}
}

func TestSubscribeFailureStoresNothing(t *testing.T) {
	fs := &feedServer{doc: "<rss><channel><title>broken</rss>"}
	srv := httptest.NewServer(fs)
	defer srv.Close()
	f, db := newTestFetcher(t)

	if _, _, err := f.Subscribe(context.Background(), srv.URL); !errors.Is(err, feederr.ErrMalformedXML) {
		t.Fatalf("expected MalformedXML, got %v", err)
	}
	feeds, _ := db.FindFeeds(database.FeedFilter{})
	if len(feeds) != 0 {
		t.Errorf("expected nothing stored, got %d feeds", len(feeds))
	}
}

func TestSubscribeEmptyBodyStoresNothing(t *testing.T) {
	srv := httptest.NewServer(&feedServer{})
	defer srv.Close()
	f, db := newTestFetcher(t)

	if _, _, err := f.Subscribe(context.Background(), srv.URL); !errors.Is(err, feederr.ErrMalformedXML) {
		t.Fatalf("expected MalformedXML, got %v", err)
	}
	feeds, _ := db.FindFeeds(database.FeedFilter{})
	if len(feeds) != 0 {
		t.Errorf("expected nothing stored, got %d feeds", len(feeds))
	}
}

func TestRefreshKeepsIdentityAndReadState(t *testing.T) {
	fs := &feedServer{doc: twoItems}
	srv := httptest.NewServer(fs)
	defer srv.Close()
	f, db := newTestFetcher(t)

	feed, _, err := f.Subscribe(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	storyA := feed.Stories[0]
	if _, err := f.OpenStory(storyA.ID); err != nil {
		t.Fatalf("open story: %v", err)
	}

	fs.set(threeItems)
	n, err := f.RefreshFeed(context.Background(), feed.ID)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 new story, got %d", n)
	}

	got, err := db.FindFeed(feed.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Title != "T2" || len(got.Stories) != 3 {
		t.Fatalf("unexpected refreshed feed %q with %d stories", got.Title, len(got.Stories))
	}
	a := got.Stories[1]
	if a.ID != storyA.ID || !a.Read || model.Value(a.Title) != "A (edited)" {
		t.Errorf("expected story A to keep id and read state, got id=%s read=%v title=%q", a.ID, a.Read, model.Value(a.Title))
	}
	if got.Stories[0].Read {
		t.Error("new story should be unread")
	}
}

func TestRefreshFailureLeavesStoredFeed(t *testing.T) {
	fs := &feedServer{doc: twoItems}
	srv := httptest.NewServer(fs)
	defer srv.Close()
	f, db := newTestFetcher(t)

	feed, _, _ := f.Subscribe(context.Background(), srv.URL)

	fs.setFail(true)
	if _, err := f.RefreshFeed(context.Background(), feed.ID); !errors.Is(err, feederr.ErrFetchFailed) {
		t.Fatalf("expected FetchFailed, got %v", err)
	}

	fs.setFail(false)
	fs.set("<rss><channel><title>half")
	if _, err := f.RefreshFeed(context.Background(), feed.ID); !errors.Is(err, feederr.ErrMalformedXML) {
		t.Fatalf("expected MalformedXML, got %v", err)
	}

	got, err := db.FindFeed(feed.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Title != "T" || len(got.Stories) != 2 {
		t.Errorf("stored feed changed after failed refreshes: %q with %d stories", got.Title, len(got.Stories))
	}
}

func TestRefreshAllReportsPerFeed(t *testing.T) {
	good := &feedServer{doc: twoItems}
	bad := &feedServer{doc: twoItems}
	goodSrv := httptest.NewServer(good)
	defer goodSrv.Close()
	badSrv := httptest.NewServer(bad)
	defer badSrv.Close()
	f, _ := newTestFetcher(t)

	f.Subscribe(context.Background(), goodSrv.URL)
	f.Subscribe(context.Background(), badSrv.URL)
	bad.setFail(true)

	results, err := f.RefreshAll(context.Background())
	if err != nil {
		t.Fatalf("refresh all: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	failed := 0
	for _, r := range results {
		if r.Error != nil {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("expected exactly one failure, got %d", failed)
	}
}

func TestRefreshAllCancelled(t *testing.T) {
	fs := &feedServer{doc: twoItems}
	srv := httptest.NewServer(fs)
	defer srv.Close()
	f, _ := newTestFetcher(t)
	f.Subscribe(context.Background(), srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.RefreshAll(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestOpenStoryMissing(t *testing.T) {
	f, _ := newTestFetcher(t)
	if _, err := f.OpenStory("nope"); !errors.Is(err, feederr.ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestCarryOverMatchesByTitleWithoutLink(t *testing.T) {
	old := []model.Story{{ID: "old", Title: model.Optional("Same"), Read: true, Scroll: 3}}
	fresh := []model.Story{{ID: "new", Title: model.Optional("Same")}, {ID: "other", Title: model.Optional("Other")}}

	if n := carryOver(old, fresh); n != 1 {
		t.Errorf("expected 1 new story, got %d", n)
	}
	if fresh[0].ID != "old" || !fresh[0].Read || fresh[0].Scroll != 3 {
		t.Errorf("expected state carried over, got %+v", fresh[0])
	}
}
