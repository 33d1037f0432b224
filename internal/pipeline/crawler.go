package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/quorumlabs/marketforge/internal/domain"
)

// NewsItem is one item a news source yielded.
type NewsItem struct {
	Ref          string
	Text         string
	CategoryHint string
}

// NewsSource feeds the crawler. Implementations track their own cursor and
// return only items not yielded before.
type NewsSource interface {
	Fetch(ctx context.Context) ([]NewsItem, error)
}

// FeedSource pulls a JSON array of news items from an HTTP endpoint and
// remembers yielded refs so a feed that returns a sliding window does not
// re-enter old items. The seen set is in-memory, so a process restart may
// replay items still in the feed's window.
type FeedSource struct {
	url    string
	client *http.Client
	seen   map[string]struct{}
}

func NewFeedSource(url string) *FeedSource {
	return &FeedSource{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
		seen:   make(map[string]struct{}),
	}
}

func (s *FeedSource) Fetch(ctx context.Context) ([]NewsItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("feed: build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed: fetch %s: %w", s.url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed: %s returned %d", s.url, resp.StatusCode)
	}

	var feed []struct {
		Ref          string `json:"ref"`
		Text         string `json:"text"`
		CategoryHint string `json:"category_hint"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("feed: decode %s: %w", s.url, err)
	}

	var fresh []NewsItem
	for _, f := range feed {
		if f.Ref == "" || f.Text == "" {
			continue
		}
		if _, ok := s.seen[f.Ref]; ok {
			continue
		}
		s.seen[f.Ref] = struct{}{}
		fresh = append(fresh, NewsItem{Ref: f.Ref, Text: f.Text, CategoryHint: f.CategoryHint})
	}
	return fresh, nil
}

// Crawler polls a news source and feeds items into news.raw, where they join
// the same extraction path as direct submissions. Crawled items have no
// proposal, so nothing downstream touches the proposal store for them.
type Crawler struct {
	source   NewsSource
	bus      domain.Publisher
	interval time.Duration
	logger   *slog.Logger
}

func NewCrawler(source NewsSource, bus domain.Publisher, interval time.Duration, logger *slog.Logger) *Crawler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Crawler{source: source, bus: bus, interval: interval, logger: logger}
}

// Run polls until ctx is cancelled. Fetch failures are logged and retried on
// the next tick.
func (c *Crawler) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if err := c.crawlOnce(ctx); err != nil {
			c.logger.Error("crawler: poll failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Crawler) crawlOnce(ctx context.Context) error {
	items, err := c.source.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("crawler: fetch: %w", err)
	}

	published := 0
	for _, item := range items {
		payload, err := json.Marshal(domain.NewsRawMessage{
			NewsRef:       item.Ref,
			Text:          item.Text,
			CategoryHint:  item.CategoryHint,
			CorrelationID: uuid.NewString(),
		})
		if err != nil {
			return fmt.Errorf("crawler: marshal %s: %w", item.Ref, err)
		}
		if err := c.bus.Publish(ctx, domain.QueueNewsRaw, payload); err != nil {
			return fmt.Errorf("crawler: publish %s: %w", item.Ref, err)
		}
		published++
	}

	if published > 0 {
		c.logger.Info("crawler: published news items", slog.Int("count", published))
	}
	return nil
}
