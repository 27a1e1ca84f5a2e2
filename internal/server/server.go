// Package server provides the JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bryan-buckman/storyline/internal/database"
	"github.com/bryan-buckman/storyline/internal/feederr"
	"github.com/bryan-buckman/storyline/internal/logger"
	"github.com/bryan-buckman/storyline/internal/model"
	"github.com/bryan-buckman/storyline/internal/opml"
	"github.com/bryan-buckman/storyline/internal/rss"
)

// Server is the main HTTP server.
type Server struct {
	db      database.Store
	fetcher *rss.Fetcher
	router  chi.Router
}

// New creates a new server.
func New(db database.Store, fetcher *rss.Fetcher) *Server {
	s := &Server{db: db, fetcher: fetcher}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Route("/api", func(r chi.Router) {
		r.Get("/feeds", s.handleListFeeds)
		r.Post("/feeds", s.handleSubscribe)
		r.Get("/feeds/{feedID}", s.handleGetFeed)
		r.Delete("/feeds/{feedID}", s.handleDeleteFeed)
		r.Post("/feeds/{feedID}/refresh", s.handleRefreshFeed)
		r.Post("/refresh", s.handleRefresh)

		r.Get("/preview", s.handlePreview)
		r.Get("/lookup", s.handleLookup)
		r.Get("/stories", s.handleFetchStories)

		r.Get("/stories/{storyID}", s.handleGetStory)
		r.Post("/stories/{storyID}/open", s.handleOpenStory)
		r.Post("/stories/{storyID}/scroll", s.handleScroll)
		r.Post("/mark-read", s.handleMarkRead)

		r.Post("/import-opml", s.handleImportOPML)
		r.Get("/export-opml", s.handleExportOPML)
	})

	s.router = r
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("server starting on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// --- Feed Handlers ---

func (s *Server) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.db.FindFeeds(database.FeedFilter{})
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]feedView, 0, len(feeds))
	for i := range feeds {
		unread, err := s.db.FindStories(database.StoryFilter{FeedID: feeds[i].ID, Unread: true})
		if err != nil {
			writeError(w, err)
			return
		}
		v := newFeedView(&feeds[i], false)
		v.Unread = len(unread)
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"feeds": out})
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if !requireRemote(w, req.URL) {
		return
	}

	feed, created, err := s.fetcher.Subscribe(r.Context(), req.URL)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]interface{}{"created": created, "feed": newFeedView(feed, true)})
}

func (s *Server) handleGetFeed(w http.ResponseWriter, r *http.Request) {
	feed, err := s.db.FindFeed(chi.URLParam(r, "feedID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newFeedView(feed, true))
}

func (s *Server) handleDeleteFeed(w http.ResponseWriter, r *http.Request) {
	feedID := chi.URLParam(r, "feedID")
	n, err := s.db.DeleteFeeds(database.FeedFilter{ID: feedID})
	if err != nil {
		writeError(w, err)
		return
	}
	if n == 0 {
		writeError(w, feederr.Newf(feederr.NotFound, "delete feed", "no feed with id %s", feedID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "deleted": n})
}

func (s *Server) handleRefreshFeed(w http.ResponseWriter, r *http.Request) {
	n, err := s.fetcher.RefreshFeed(r.Context(), chi.URLParam(r, "feedID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "new_stories": n})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	results, err := s.fetcher.RefreshAll(ctx)
	if err != nil {
		http.Error(w, fmt.Sprintf("Refresh error: %v", err), http.StatusInternalServerError)
		return
	}

	total, failed := 0, 0
	for _, res := range results {
		total += res.NewStories
		if res.Error != nil {
			failed++
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"new_stories": total,
		"feeds":       len(results),
		"failed":      failed,
	})
}

// --- Pipeline Handlers ---

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	location := r.URL.Query().Get("url")
	if !requireRemote(w, location) {
		return
	}

	feed, err := s.fetcher.Pipeline().FetchAndParse(r.Context(), location)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newFeedView(feed, true))
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	location, title := r.URL.Query().Get("url"), r.URL.Query().Get("title")
	if title == "" {
		http.Error(w, "Missing title", http.StatusBadRequest)
		return
	}
	if !requireRemote(w, location) {
		return
	}

	story, ok, err := s.fetcher.Pipeline().FetchStoryByTitle(r.Context(), location, title)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, feederr.Newf(feederr.NotFound, "lookup", "no story titled %q", title))
		return
	}
	writeJSON(w, http.StatusOK, newStoryView(story))
}

func (s *Server) handleFetchStories(w http.ResponseWriter, r *http.Request) {
	location := r.URL.Query().Get("url")
	if !requireRemote(w, location) {
		return
	}

	stories, err := s.fetcher.Pipeline().FetchAllStories(r.Context(), location)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"stories": newStoryViews(stories)})
}

// --- Story Handlers ---

func (s *Server) handleGetStory(w http.ResponseWriter, r *http.Request) {
	story, err := s.db.FindStory(chi.URLParam(r, "storyID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newStoryView(story))
}

func (s *Server) handleOpenStory(w http.ResponseWriter, r *http.Request) {
	story, err := s.fetcher.OpenStory(chi.URLParam(r, "storyID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newStoryView(story))
}

func (s *Server) handleScroll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Scroll *int `json:"scroll"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Scroll == nil || *req.Scroll < 0 {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	storyID := chi.URLParam(r, "storyID")
	n, err := s.db.UpdateStories(database.StoryFilter{ID: storyID}, database.StoryUpdate{Scroll: req.Scroll})
	if err != nil {
		writeError(w, err)
		return
	}
	if n == 0 {
		writeError(w, feederr.Newf(feederr.NotFound, "scroll", "no story with id %s", storyID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StoryIDs []string `json:"story_ids"`
		FeedID   string   `json:"feed_id"`
		Read     *bool    `json:"read"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if len(req.StoryIDs) == 0 && req.FeedID == "" {
		http.Error(w, "Missing story_ids or feed_id", http.StatusBadRequest)
		return
	}
	read := true
	if req.Read != nil {
		read = *req.Read
	}
	update := database.StoryUpdate{Read: &read}

	var updated int64
	if req.FeedID != "" {
		n, err := s.db.UpdateStories(database.StoryFilter{FeedID: req.FeedID}, update)
		if err != nil {
			writeError(w, err)
			return
		}
		updated += n
	}
	for _, id := range req.StoryIDs {
		n, err := s.db.UpdateStories(database.StoryFilter{ID: id}, update)
		if err != nil {
			writeError(w, err)
			return
		}
		updated += n
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "updated": updated})
}

// --- OPML Handlers ---

func (s *Server) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("opml")
	if err != nil {
		http.Error(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer file.Close()

	res, err := opml.Import(r.Context(), file, remoteSubscriber{s.fetcher})
	if err != nil && res.Added+res.Existing+res.Failed == 0 {
		http.Error(w, fmt.Sprintf("Failed to import OPML: %v", err), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"imported": res.Added,
		"existing": res.Existing,
		"failed":   res.Failed,
	})
}

func (s *Server) handleExportOPML(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.db.FindFeeds(database.FeedFilter{})
	if err != nil {
		writeError(w, err)
		return
	}

	data, err := opml.Export("Storyline Feeds", feeds)
	if err != nil {
		http.Error(w, "Failed to export", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", "attachment; filename=storyline-feeds.opml")
	w.Write(data)
}

// --- Helpers ---

// requireRemote writes a 400 and returns false unless location is an http
// or https URL. API clients never get local files read on their behalf.
func requireRemote(w http.ResponseWriter, location string) bool {
	if location == "" {
		http.Error(w, "Missing url", http.StatusBadRequest)
		return false
	}
	if !rss.IsRemote(location) {
		http.Error(w, "Only http and https URLs are accepted", http.StatusBadRequest)
		return false
	}
	return true
}

// remoteSubscriber refuses OPML entries that are not http or https URLs.
type remoteSubscriber struct {
	sub opml.Subscriber
}

func (r remoteSubscriber) Subscribe(ctx context.Context, location string) (*model.Feed, bool, error) {
	if !rss.IsRemote(location) {
		return nil, false, feederr.Newf(feederr.FetchFailed, "subscribe", "not an http or https URL: %s", location)
	}
	return r.sub.Subscribe(ctx, location)
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch feederr.KindOf(err) {
	case feederr.NotFound, feederr.FileNotFound:
		return http.StatusNotFound
	case feederr.MalformedXML:
		return http.StatusUnprocessableEntity
	case feederr.FetchFailed:
		return http.StatusBadGateway
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Errorf("request failed: %v", err)
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  feederr.KindOf(err).String(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// feedView and storyView are the JSON shapes of the model.
type feedView struct {
	ID             string      `json:"id"`
	Title          string      `json:"title"`
	Link           string      `json:"link"`
	Description    string      `json:"description"`
	Language       *string     `json:"language,omitempty"`
	Copyright      *string     `json:"copyright,omitempty"`
	ManagingEditor *string     `json:"managing_editor,omitempty"`
	WebMaster      *string     `json:"web_master,omitempty"`
	PubDate        *string     `json:"pub_date,omitempty"`
	LastBuildDate  *string     `json:"last_build_date,omitempty"`
	Category       *string     `json:"category,omitempty"`
	Generator      *string     `json:"generator,omitempty"`
	Docs           *string     `json:"docs,omitempty"`
	Cloud          *string     `json:"cloud,omitempty"`
	TTL            *string     `json:"ttl,omitempty"`
	RSSLink        string      `json:"rss_link"`
	FetchedAt      *time.Time  `json:"fetched_at,omitempty"`
	Unread         int         `json:"unread"`
	Stories        []storyView `json:"stories,omitempty"`
}

type storyView struct {
	ID          string  `json:"id"`
	FeedID      string  `json:"feed_id,omitempty"`
	Title       *string `json:"title,omitempty"`
	Link        *string `json:"link,omitempty"`
	Description *string `json:"description,omitempty"`
	Author      *string `json:"author,omitempty"`
	Creator     *string `json:"creator,omitempty"`
	PubDate     *string `json:"pub_date,omitempty"`
	Content     *string `json:"content,omitempty"`
	Body        string  `json:"body"`
	Read        bool    `json:"read"`
	Scroll      int     `json:"scroll"`
}

func newFeedView(f *model.Feed, withStories bool) feedView {
	v := feedView{
		ID:             f.ID,
		Title:          f.Title,
		Link:           f.Link,
		Description:    f.Description,
		Language:       f.Language,
		Copyright:      f.Copyright,
		ManagingEditor: f.ManagingEditor,
		WebMaster:      f.WebMaster,
		PubDate:        f.PubDate,
		LastBuildDate:  f.LastBuildDate,
		Category:       f.Category,
		Generator:      f.Generator,
		Docs:           f.Docs,
		Cloud:          f.Cloud,
		TTL:            f.TTL,
		RSSLink:        f.RSSLink,
	}
	if !f.FetchedAt.IsZero() {
		t := f.FetchedAt
		v.FetchedAt = &t
	}
	if withStories {
		v.Stories = newStoryViews(f.Stories)
		v.Unread = f.Unread()
	}
	return v
}

func newStoryViews(stories []model.Story) []storyView {
	out := make([]storyView, 0, len(stories))
	for i := range stories {
		out = append(out, newStoryView(&stories[i]))
	}
	return out
}

func newStoryView(s *model.Story) storyView {
	return storyView{
		ID:          s.ID,
		FeedID:      s.FeedID,
		Title:       s.Title,
		Link:        s.Link,
		Description: s.Description,
		Author:      s.Author,
		Creator:     s.Creator,
		PubDate:     s.PubDate,
		Content:     s.Content,
		Body:        s.Body(),
		Read:        s.Read,
		Scroll:      s.Scroll,
	}
}
