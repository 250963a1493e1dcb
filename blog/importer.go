package blog

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/gvirila/portal/observability"
	"github.com/gvirila/portal/safe"
	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"
)

const (
	// maxItemsPerFeed caps how many entries of one feed are looked at.
	maxItemsPerFeed = 50
	// feedConcurrency bounds parallel feed fetches in ImportAll.
	feedConcurrency = 4
	excerptLen      = 200
)

// ImportResult summarises one feed import.
type ImportResult struct {
	Feed    string `json:"feed"`
	Fetched int    `json:"fetched"`
	Stored  int    `json:"stored"`
	Skipped int    `json:"skipped"`
	Failed  int    `json:"failed"`
}

// Importer pulls RSS/Atom feeds into draft posts.
type Importer struct {
	store    *Store
	parser   *gofeed.Parser
	conv     *converter.Converter
	strip    *bluemonday.Policy
	events   observability.Recorder
	metrics  observability.Metrics
	validate func(string) error
}

// NewImporter returns an importer writing into store. events and metrics
// may be nil.
func NewImporter(store *Store, events observability.Recorder, metrics observability.Metrics) *Importer {
	if events == nil {
		events = observability.Discard
	}
	if metrics == nil {
		metrics = observability.NopMetrics
	}
	p := gofeed.NewParser()
	p.UserAgent = "portal-feed-importer/1.0"
	p.Client = &http.Client{Timeout: 30 * time.Second}
	return &Importer{
		store:  store,
		parser: p,
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		strip:    bluemonday.StrictPolicy(),
		events:   events,
		metrics:  metrics,
		validate: safe.ValidateURL,
	}
}

// Import fetches feedURL and stores every item not seen before as a draft
// post. Items already imported (same link) are skipped.
func (im *Importer) Import(ctx context.Context, feedURL string) (*ImportResult, error) {
	if err := im.validate(feedURL); err != nil {
		return nil, fmt.Errorf("blog: feed url: %w", err)
	}
	feed, err := im.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("blog: fetch feed: %w", err)
	}

	res := &ImportResult{Feed: feedURL}
	items := feed.Items
	if len(items) > maxItemsPerFeed {
		items = items[:maxItemsPerFeed]
	}
	for _, item := range items {
		res.Fetched++
		if item.Link == "" {
			res.Skipped++
			continue
		}
		exists, err := im.store.HasSource(ctx, item.Link)
		if err != nil {
			return res, fmt.Errorf("blog: dup check: %w", err)
		}
		if exists {
			res.Skipped++
			continue
		}
		post, err := im.toPost(item)
		if err != nil {
			slog.Warn("blog: convert feed item", "error", err, "link", item.Link)
			res.Failed++
			continue
		}
		if err := im.store.Insert(ctx, post); err != nil {
			slog.Warn("blog: store feed item", "error", err, "link", item.Link)
			res.Failed++
			continue
		}
		res.Stored++
	}

	im.metrics.Observe(observability.MetricFeedItemsStored, float64(res.Stored), "count", map[string]string{"feed": feedURL})
	im.events.Record(ctx, observability.Event{
		Type:       observability.EventFeedImported,
		EntityType: "feed",
		EntityID:   feedURL,
		Details:    map[string]any{"fetched": res.Fetched, "stored": res.Stored, "skipped": res.Skipped, "failed": res.Failed},
		Success:    res.Failed == 0,
	})
	return res, nil
}

// ImportAll imports every feed, a few at a time. A failing feed is logged
// and does not stop the others.
func (im *Importer) ImportAll(ctx context.Context, feeds []string) []*ImportResult {
	results := make([]*ImportResult, len(feeds))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(feedConcurrency)
	for i, f := range feeds {
		g.Go(func() error {
			res, err := im.Import(gctx, f)
			if err != nil {
				slog.Warn("blog: import feed", "error", err, "feed", f)
				res = &ImportResult{Feed: f, Failed: 1}
			}
			results[i] = res
			return nil
		})
	}
	g.Wait()
	return results
}

func (im *Importer) toPost(item *gofeed.Item) (*Post, error) {
	raw := item.Content
	if strings.TrimSpace(raw) == "" {
		raw = item.Description
	}
	body, err := im.conv.ConvertString(raw, converter.WithDomain(item.Link))
	if err != nil {
		return nil, err
	}

	excerpt := strings.Join(strings.Fields(im.strip.Sanitize(item.Description)), " ")
	if excerpt == "" {
		excerpt = Excerpt(body, excerptLen)
	} else {
		excerpt = safe.Truncate(excerpt, excerptLen)
	}

	p := &Post{
		Title:     strings.TrimSpace(im.strip.Sanitize(item.Title)),
		Body:      strings.TrimSpace(body),
		Excerpt:   excerpt,
		Tags:      item.Categories,
		Status:    StatusDraft,
		SourceURL: item.Link,
	}
	if p.Title == "" {
		p.Title = item.Link
	}
	if item.Image != nil && safe.ValidateURL(item.Image.URL) == nil {
		p.CoverURL = item.Image.URL
	}
	if item.PublishedParsed != nil {
		ms := item.PublishedParsed.UnixMilli()
		p.CreatedAt = ms
	}
	return p, nil
}
