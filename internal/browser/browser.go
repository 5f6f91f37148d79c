package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Renderer returns the HTML of a page after its scripts have run.
type Renderer interface {
	Render(ctx context.Context, url, waitSelector string) (string, error)
}

type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	opts    Options
	logger  *slog.Logger
}

type Options struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	Locale         string
	MaxRetries     int
	// SettleDelay is waited after the ready selector appeared, for content
	// that keeps rendering after the first paint.
	SettleDelay time.Duration
}

func DefaultOptions() Options {
	return Options{
		Headless:       true,
		Timeout:        30 * time.Second,
		ViewportWidth:  1366,
		ViewportHeight: 900,
		Locale:         "en-US",
		MaxRetries:     3,
		SettleDelay:    time.Second,
	}
}

func New(opts Options, logger *slog.Logger) (*Browser, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     []string{"--disable-dev-shm-usage"},
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	contextOpts := playwright.BrowserNewContextOptions{
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
	}
	if opts.UserAgent != "" {
		contextOpts.UserAgent = playwright.String(opts.UserAgent)
	}
	if opts.Locale != "" {
		contextOpts.Locale = playwright.String(opts.Locale)
	}

	bctx, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	return &Browser{
		pw:      pw,
		browser: browser,
		context: bctx,
		opts:    opts,
		logger:  logger.With("component", "browser"),
	}, nil
}

func (b *Browser) NewPage() (playwright.Page, error) {
	page, err := b.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}
	page.SetDefaultTimeout(float64(b.opts.Timeout.Milliseconds()))
	return page, nil
}

// Render loads url in a fresh page, waits for waitSelector when given and
// returns the rendered document. A ready selector that never shows up is
// logged but not fatal; the page may still be extractable.
func (b *Browser) Render(ctx context.Context, url, waitSelector string) (string, error) {
	page, err := b.NewPage()
	if err != nil {
		return "", err
	}
	defer page.Close()

	if err := b.NavigateWithRetry(ctx, page, url); err != nil {
		return "", err
	}

	if waitSelector != "" {
		err := page.Locator(waitSelector).First().WaitFor(playwright.LocatorWaitForOptions{
			Timeout: playwright.Float(float64(b.opts.Timeout.Milliseconds())),
		})
		if err != nil {
			b.logger.Warn("ready selector did not appear", "selector", waitSelector, "url", url, "error", err)
		}
	}

	if err := sleep(ctx, b.opts.SettleDelay); err != nil {
		return "", err
	}

	html, err := page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to read page content: %w", err)
	}
	return html, nil
}

func (b *Browser) NavigateWithRetry(ctx context.Context, page playwright.Page, url string) error {
	return retry(ctx, b.opts.MaxRetries, linearBackoff, func(attempt int) error {
		if attempt > 1 {
			b.logger.Info("retrying navigation", "attempt", attempt, "url", url)
		}
		_, err := page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   playwright.Float(float64(b.opts.Timeout.Milliseconds())),
		})
		if err != nil {
			b.logger.Error("navigation failed", "error", err, "attempt", attempt)
		}
		return err
	})
}

func (b *Browser) Close() error {
	var errs []error

	if b.context != nil {
		if err := b.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}
	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}
	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	return errors.Join(errs...)
}

func linearBackoff(attempt int) time.Duration {
	return time.Duration(attempt) * time.Second
}

// retry calls fn up to attempts times, waiting delay(n) before attempt n+1.
func retry(ctx context.Context, attempts int, delay func(int) time.Duration, fn func(attempt int) error) error {
	var lastErr error
	for i := 1; i <= attempts; i++ {
		if i > 1 {
			if err := sleep(ctx, delay(i-1)); err != nil {
				return fmt.Errorf("navigation cancelled: %w", err)
			}
		}
		if lastErr = fn(i); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
