// Package extractor turns a rendered marketplace page into product records.
// It reads only the DOM handed to it and never fetches anything.
package extractor

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/webscout/internal/models"
	"github.com/maltedev/webscout/internal/site"
)

var ErrProductNotFound = errors.New("product title not found")

type Extractor struct {
	logger   *slog.Logger
	detector *site.Detector
}

// New creates an extractor that reports its trail to logger. Passing the
// logger of a debuglog.Handler makes the trail queryable afterwards.
func New(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		logger:   logger.With("component", "extractor"),
		detector: site.NewDetector(logger),
	}
}

func (e *Extractor) Detector() *site.Detector {
	return e.detector
}

// Extract runs the extraction mode of the given site and wraps the outcome.
// TikTok pages are read as a single product detail page and Shopee pages as a
// list of cards. Success means at least one product was produced.
func (e *Extractor) Extract(s site.Site, doc *goquery.Document) models.ExtractionResult {
	if doc == nil {
		return models.FailedExtraction("no document")
	}

	switch s {
	case site.TikTok:
		product, err := e.ExtractDetail(doc)
		if err != nil {
			e.logger.Info("detail extraction failed", "error", err)
			return models.NewExtractionResult(nil)
		}
		return models.NewExtractionResult([]models.Product{product})

	case site.Shopee:
		return models.NewExtractionResult(e.ExtractList(doc))

	default:
		return models.FailedExtraction(fmt.Sprintf("unsupported site %q", s.String()))
	}
}

// ExtractMode is Extract with an explicit mode. TikTok pages read in list mode
// go through ExtractCards, which falls back to the detail reading when the page
// has no card grid. Shopee only has a list mode. ModeNone means the site's
// default mode.
func (e *Extractor) ExtractMode(s site.Site, mode site.Mode, doc *goquery.Document, url string) models.ExtractionResult {
	if doc == nil {
		return models.FailedExtraction("no document")
	}
	if s == site.TikTok && mode == site.ModeList {
		return models.NewExtractionResult(e.ExtractCards(doc, url))
	}
	return e.Extract(s, doc)
}

func trimmed(s *goquery.Selection) string {
	return strings.TrimSpace(s.Text())
}
