// Package fetcher downloads and parses RSS/Atom feeds and turns their items
// into deliverable entries.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Entry is a feed item with a stable identity, ready for filtering and delivery.
type Entry struct {
	GUID      string
	Title     string
	Link      string
	Summary   string // raw HTML from the feed
	Published *time.Time
	ImageURL  string
}

// Fetcher downloads and parses feeds.
type Fetcher struct {
	client  HTTPClient
	timeout time.Duration
}

// New creates a Fetcher with the given HTTP client and the default 30s bound.
func New(client HTTPClient) *Fetcher {
	return NewWithTimeout(client, 30*time.Second)
}

// NewWithTimeout creates a Fetcher whose fetches give up after timeout.
func NewWithTimeout(client HTTPClient, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		client:  client,
		timeout: timeout,
	}
}

// Fetch downloads and parses the feed at url.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*gofeed.Feed, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "PostBot/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	parser := gofeed.NewParser()
	feed, err := parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

// Identity returns the item's provider ID, falling back to its link. An empty
// result means the item cannot be tracked.
func Identity(item *gofeed.Item) string {
	if id := strings.TrimSpace(item.GUID); id != "" {
		return id
	}
	return strings.TrimSpace(item.Link)
}

// Entries converts feed items to entries in delivery order: dated items
// oldest first, then undated items in feed order. Items without an identity
// are dropped.
func Entries(feed *gofeed.Feed) []Entry {
	var dated, undated []Entry
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		id := Identity(item)
		if id == "" {
			continue
		}

		e := Entry{
			GUID:     id,
			Title:    strings.TrimSpace(item.Title),
			Link:     strings.TrimSpace(item.Link),
			Summary:  summary(item),
			ImageURL: ImageURL(item),
		}
		switch {
		case item.PublishedParsed != nil:
			t := item.PublishedParsed.UTC()
			e.Published = &t
		case item.UpdatedParsed != nil:
			t := item.UpdatedParsed.UTC()
			e.Published = &t
		}

		if e.Published != nil {
			dated = append(dated, e)
		} else {
			undated = append(undated, e)
		}
	}

	sort.SliceStable(dated, func(i, j int) bool {
		return dated[i].Published.Before(*dated[j].Published)
	})
	return append(dated, undated...)
}

func summary(item *gofeed.Item) string {
	if item.Description != "" {
		return item.Description
	}
	return item.Content
}
