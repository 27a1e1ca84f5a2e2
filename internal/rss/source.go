package rss

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/bryan-buckman/storyline/internal/feederr"
)

// Source defaults.
const (
	DefaultTimeout   = 30 * time.Second
	DefaultMaxBytes  = 10 << 20
	DefaultUserAgent = "storyline/1.0 (+https://github.com/bryan-buckman/storyline)"
)

// Source opens feed documents from URLs or local paths.
type Source struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
}

// NewSource creates a source. Zero values select the defaults.
func NewSource(timeout time.Duration, maxBytes int64, userAgent string) *Source {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Source{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		maxBytes:  maxBytes,
	}
}

// Open returns the document at location. http and https URLs are fetched
// with a GET that follows redirects; file URLs and anything that is not a
// URL are opened from disk. The caller must close the returned reader.
// Reading past the size limit fails with FetchFailed.
func (s *Source) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	u, err := url.Parse(location)
	if err == nil {
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
			return s.get(ctx, u.String())
		case "file":
			return s.open(u.Path)
		}
	}
	return s.open(location)
}

// IsRemote reports whether location is an http or https URL with a host.
func IsRemote(location string) bool {
	u, err := url.Parse(location)
	if err != nil || u.Host == "" {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return true
	}
	return false
}

func (s *Source) get(ctx context.Context, target string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, feederr.New(feederr.FetchFailed, "build request", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, */*;q=0.8")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, feederr.New(feederr.FetchFailed, "get "+target, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, feederr.Newf(feederr.FetchFailed, "get "+target, "unexpected status %s", resp.Status)
	}
	return s.limit(resp.Body), nil
}

func (s *Source) open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, feederr.New(feederr.FileNotFound, "open file", err)
		}
		return nil, feederr.New(feederr.FetchFailed, "open file", err)
	}
	return s.limit(f), nil
}

func (s *Source) limit(rc io.ReadCloser) io.ReadCloser {
	return &limitedBody{rc: rc, limit: s.maxBytes, remaining: s.maxBytes}
}

// limitedBody fails, instead of truncating, once more than limit bytes
// have been read.
type limitedBody struct {
	rc        io.ReadCloser
	limit     int64
	remaining int64
}

func (l *limitedBody) Read(p []byte) (int, error) {
	if l.remaining <= 0 {
		var probe [1]byte
		n, err := l.rc.Read(probe[:])
		if n > 0 {
			return 0, feederr.New(feederr.FetchFailed, "read body", fmt.Errorf("body exceeds %d bytes", l.limit))
		}
		return 0, l.wrap(err)
	}

	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.rc.Read(p)
	l.remaining -= int64(n)
	return n, l.wrap(err)
}

func (l *limitedBody) wrap(err error) error {
	if err == nil || err == io.EOF {
		return err
	}
	return feederr.New(feederr.FetchFailed, "read body", err)
}

func (l *limitedBody) Close() error {
	return l.rc.Close()
}
