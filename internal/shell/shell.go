package shell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/webscout/internal/cache"
	"github.com/maltedev/webscout/internal/export"
	"github.com/maltedev/webscout/internal/messaging"
	"github.com/maltedev/webscout/internal/models"
	"github.com/maltedev/webscout/internal/settings"
	"github.com/maltedev/webscout/internal/site"
	"github.com/maltedev/webscout/internal/storage"
)

var ErrNothingToExport = errors.New("no products to export")

const (
	DefaultDetectAttempts = 5
	DefaultDetectInterval = time.Second
)

type StatusKind string

const (
	StatusInfo    StatusKind = "info"
	StatusSuccess StatusKind = "success"
	StatusError   StatusKind = "error"
)

// Status is the user-facing outcome of a shell action. Failures never
// propagate further than this.
type Status struct {
	Kind     StatusKind `json:"kind"`
	Message  string     `json:"message"`
	Products int        `json:"products,omitempty"`
	Location string     `json:"location,omitempty"`
}

func info(format string, args ...any) Status {
	return Status{Kind: StatusInfo, Message: fmt.Sprintf(format, args...)}
}

func failure(format string, args ...any) Status {
	return Status{Kind: StatusError, Message: fmt.Sprintf(format, args...)}
}

type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, FormatCSV:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

// Document is rendered export content ready to be handed to a sink or served.
type Document struct {
	Content  string
	Filename string
	MimeType string
	Count    int
}

type Options struct {
	DetectAttempts int
	DetectInterval time.Duration
}

// Controller drives extraction through a messaging channel and owns display
// and export of the cached records.
type Controller struct {
	channel  messaging.Channel
	settings settings.Store
	cache    cache.ProductCache
	sink     storage.Sink
	logger   *slog.Logger
	opts     Options
	now      func() time.Time
}

func NewController(channel messaging.Channel, store settings.Store, products cache.ProductCache, sink storage.Sink, logger *slog.Logger, opts Options) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DetectAttempts <= 0 {
		opts.DetectAttempts = DefaultDetectAttempts
	}
	if opts.DetectInterval <= 0 {
		opts.DetectInterval = DefaultDetectInterval
	}
	return &Controller{
		channel:  channel,
		settings: store,
		cache:    products,
		sink:     sink,
		logger:   logger.With("component", "shell"),
		opts:     opts,
		now:      time.Now,
	}
}

// WithChannel returns a controller sharing settings, cache and sink that
// talks to another page context.
func (c *Controller) WithChannel(channel messaging.Channel) *Controller {
	cp := *c
	cp.channel = channel
	return &cp
}

func (c *Controller) Settings(ctx context.Context) models.Settings {
	s, err := settings.Load(ctx, c.settings)
	if err != nil {
		c.logger.Warn("using default settings", "error", err)
	}
	return s
}

func (c *Controller) ToggleSetting(ctx context.Context, key string, value bool) (models.Settings, error) {
	if !models.IsSettingKey(key) {
		return models.Settings{}, fmt.Errorf("%w: %q", settings.ErrUnknownKey, key)
	}
	if err := c.settings.Set(ctx, map[string]bool{key: value}); err != nil {
		return models.Settings{}, fmt.Errorf("failed to save setting %s: %w", key, err)
	}
	c.logger.Info("setting changed", "key", key, "value", value)
	return c.Settings(ctx), nil
}

// OnNavigation runs automatic extraction for a freshly loaded page. The page
// check is polled because content may render after the first paint; every
// attempt is independent and a missing reply only means the page context was
// not ready.
func (c *Controller) OnNavigation(ctx context.Context, url string) (models.ExtractionResult, Status) {
	s := site.FromURL(url)
	if !s.Known() {
		return models.FailedExtraction("unsupported site"), info("Open a Shopee or TikTok page to extract products")
	}

	if !c.Settings(ctx).AutoExtract {
		return models.NewExtractionResult(nil), info("Detected %s page, start the extraction manually", s)
	}

	for attempt := 1; attempt <= c.opts.DetectAttempts; attempt++ {
		if attempt > 1 {
			if err := wait(ctx, c.opts.DetectInterval); err != nil {
				return models.FailedExtraction(err.Error()), failure("Detection cancelled")
			}
		}

		resp, err := c.channel.Send(ctx, messaging.CheckProductPage{Site: s})
		if err != nil {
			c.logger.Debug("page check unanswered", "attempt", attempt, "error", err)
			continue
		}
		if r, ok := resp.(messaging.CheckProductPageResponse); ok && r.IsProductPage {
			c.logger.Info("product page detected", "site", s.String(), "attempt", attempt)
			return c.Scrape(ctx, s)
		}
	}

	c.logger.Info("no product page detected", "site", s.String(), "attempts", c.opts.DetectAttempts)
	return models.NewExtractionResult(nil), info("Open a product page to use the extractor")
}

// Scrape asks the page context to extract products and caches a successful
// result for display and export.
func (c *Controller) Scrape(ctx context.Context, s site.Site) (models.ExtractionResult, Status) {
	return c.ScrapeMode(ctx, s, site.ModeNone)
}

// ScrapeMode is Scrape with an explicit extraction mode.
func (c *Controller) ScrapeMode(ctx context.Context, s site.Site, mode site.Mode) (models.ExtractionResult, Status) {
	result, err := messaging.Result(c.channel.Send(ctx, messaging.Extract{Site: s, Mode: mode}))
	if err != nil {
		c.logger.Warn("extraction request failed", "site", s.String(), "error", err)
		if errors.Is(err, messaging.ErrNoResponse) {
			return result, failure("Could not reach the page, reload it and try again")
		}
		return result, failure("Extraction failed: %v", err)
	}

	if !result.Success {
		if result.Error != "" {
			return result, failure("No products found: %s", result.Error)
		}
		return result, failure("No products found")
	}

	if err := c.cache.Put(ctx, s, result.Products); err != nil {
		c.logger.Error("failed to cache products", "site", s.String(), "error", err)
	}

	return result, Status{
		Kind:     StatusSuccess,
		Message:  fmt.Sprintf("Extracted %d products", len(result.Products)),
		Products: len(result.Products),
	}
}

// Display returns the records as they should be shown. Hiding images yields
// new records; the input is left untouched.
func (c *Controller) Display(ctx context.Context, products []models.Product) []models.Product {
	if c.Settings(ctx).ShowImages {
		return models.CloneAll(products)
	}
	out := make([]models.Product, len(products))
	for i, p := range products {
		out[i] = p.WithoutImage()
	}
	return out
}

// Products returns the cached records of s prepared for display.
func (c *Controller) Products(ctx context.Context, s site.Site) ([]models.Product, error) {
	products, err := c.cache.Get(ctx, s)
	if err != nil {
		return nil, err
	}
	return c.Display(ctx, products), nil
}

// ClearProducts forgets the cached records of s. Exports fail afterwards
// until the next successful extraction.
func (c *Controller) ClearProducts(ctx context.Context, s site.Site) Status {
	if err := c.cache.Clear(ctx, s); err != nil {
		c.logger.Error("failed to clear cached products", "site", s.String(), "error", err)
		return failure("Could not clear products: %v", err)
	}
	c.logger.Info("cached products cleared", "site", s.String())
	return info("Products cleared")
}

// Render serializes the cached records of s.
func (c *Controller) Render(ctx context.Context, s site.Site, format Format) (Document, error) {
	products, err := c.cache.Get(ctx, s)
	if errors.Is(err, cache.ErrCacheMiss) || (err == nil && len(products) == 0) {
		return Document{}, ErrNothingToExport
	}
	if err != nil {
		return Document{}, err
	}

	switch format {
	case FormatJSON:
		content, err := export.ToJSON(products)
		if err != nil {
			return Document{}, err
		}
		return Document{
			Content:  content,
			Filename: export.JSONFilename(export.JSONPrefix(s), c.now()),
			MimeType: export.MimeJSON,
			Count:    len(products),
		}, nil

	case FormatCSV:
		table, err := export.ToFlatTable(products)
		if err != nil {
			return Document{}, err
		}
		return Document{
			Content:  table.CSVWithBOM(),
			Filename: export.CSVFilename(s),
			MimeType: export.MimeCSV,
			Count:    len(products),
		}, nil

	default:
		return Document{}, fmt.Errorf("unsupported export format %q", format)
	}
}

func (c *Controller) ExportJSON(ctx context.Context, s site.Site) Status {
	return c.export(ctx, s, FormatJSON)
}

func (c *Controller) ExportCSV(ctx context.Context, s site.Site) Status {
	return c.export(ctx, s, FormatCSV)
}

// export hands the rendered records to the sink. The cache is not touched,
// so a failed save can be retried.
func (c *Controller) export(ctx context.Context, s site.Site, format Format) Status {
	doc, err := c.Render(ctx, s, format)
	if errors.Is(err, ErrNothingToExport) {
		return failure("No products to export, extract products first")
	}
	if err != nil {
		c.logger.Error("failed to render export", "site", s.String(), "format", format, "error", err)
		return failure("Export failed: %v", err)
	}

	location, err := c.sink.Save(ctx, doc.Content, doc.Filename, doc.MimeType)
	if err != nil {
		c.logger.Error("failed to save export", "site", s.String(), "filename", doc.Filename, "error", err)
		return failure("Export failed: %v", err)
	}

	c.logger.Info("products exported", "site", s.String(), "format", format, "location", location, "count", doc.Count)
	return Status{
		Kind:     StatusSuccess,
		Message:  fmt.Sprintf("%s file exported", formatLabel(format)),
		Products: doc.Count,
		Location: location,
	}
}

func formatLabel(f Format) string {
	if f == FormatCSV {
		return "CSV"
	}
	return "JSON"
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
