package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/webscout/internal/debuglog"
	"github.com/maltedev/webscout/internal/extractor"
	"github.com/maltedev/webscout/internal/models"
	"github.com/maltedev/webscout/internal/site"
)

// Page is a rendered document together with the URL it was loaded from.
type Page struct {
	Doc *goquery.Document
	URL string
}

func LoadPage(html, url string) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Page{}, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return Page{Doc: doc, URL: url}, nil
}

// PageContext owns the currently attached page and answers requests about it.
// Without an attached page every request fails with ErrNoResponse.
type PageContext struct {
	extractor *extractor.Extractor
	debug     *debuglog.Handler
	logger    *slog.Logger

	mu   sync.RWMutex
	page *Page
}

func NewPageContext(ext *extractor.Extractor, debug *debuglog.Handler, logger *slog.Logger) *PageContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &PageContext{
		extractor: ext,
		debug:     debug,
		logger:    logger.With("component", "page-context"),
	}
}

func (p *PageContext) Attach(page Page) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.page = &page
	p.logger.Debug("page attached", "url", page.URL)
}

// Detach drops the page, as when the user navigates away.
func (p *PageContext) Detach() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.page = nil
}

func (p *PageContext) Page() (Page, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.page == nil {
		return Page{}, false
	}
	return *p.page, true
}

func (p *PageContext) Handle(req Request) (Response, error) {
	p.logger.Debug("received request", "action", actionOf(req))

	if _, ok := req.(GetDebugInfo); ok {
		return DebugInfoResponse{DebugInfo: p.debugEntries()}, nil
	}

	page, ok := p.Page()
	if !ok {
		return nil, fmt.Errorf("%w: no page attached", ErrNoResponse)
	}

	switch r := req.(type) {
	case CheckProductPage:
		s := resolveSite(r.Site, page.URL)
		isProductPage := p.extractor.Detector().IsProductPage(s, page.Doc, page.URL)
		p.logger.Debug("product page check", "site", s.String(), "is_product_page", isProductPage)
		return CheckProductPageResponse{IsProductPage: isProductPage}, nil

	case Extract:
		s := resolveSite(r.Site, page.URL)
		result := p.extractor.ExtractMode(s, r.Mode, page.Doc, page.URL)
		p.logger.Debug("extraction finished", "site", s.String(), "mode", string(r.Mode), "products", len(result.Products))
		return ExtractResponse{ExtractionResult: result}, nil

	case AnalyzePage:
		return AnalyzeResponse{PageAnalysis: p.extractor.Analyze(page.Doc)}, nil

	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownRequest, req)
	}
}

func (p *PageContext) debugEntries() []debuglog.Entry {
	if p.debug == nil {
		return []debuglog.Entry{}
	}
	return p.debug.Entries()
}

func resolveSite(s site.Site, url string) site.Site {
	if s.Known() {
		return s
	}
	return site.FromURL(url)
}

func actionOf(req Request) string {
	if req == nil {
		return "<nil>"
	}
	return req.Action()
}

// Channel delivers requests to a page context. A nil response with
// ErrNoResponse means the context was gone or did not answer in time.
type Channel interface {
	Send(ctx context.Context, req Request) (Response, error)
}

const DefaultResponseTimeout = 10 * time.Second

// LocalChannel talks to an in-process PageContext.
type LocalChannel struct {
	page    *PageContext
	timeout time.Duration
}

func NewLocalChannel(page *PageContext, timeout time.Duration) *LocalChannel {
	if timeout <= 0 {
		timeout = DefaultResponseTimeout
	}
	return &LocalChannel{page: page, timeout: timeout}
}

type reply struct {
	resp Response
	err  error
}

func (c *LocalChannel) Send(ctx context.Context, req Request) (Response, error) {
	if c.page == nil {
		return nil, fmt.Errorf("%w: page context unavailable", ErrNoResponse)
	}
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", ErrUnknownRequest)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan reply, 1)
	go func() {
		resp, err := c.page.Handle(req)
		done <- reply{resp: resp, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrNoResponse, ctx.Err())
	case r := <-done:
		return r.resp, r.err
	}
}

// Result unwraps an extraction reply, mapping anything else to a failed
// result.
func Result(resp Response, err error) (models.ExtractionResult, error) {
	if err != nil {
		return models.FailedExtraction(err.Error()), err
	}
	r, ok := resp.(ExtractResponse)
	if !ok {
		return models.FailedExtraction("unexpected response"), fmt.Errorf("%w: unexpected response %T", ErrUnknownRequest, resp)
	}
	return r.ExtractionResult, nil
}
