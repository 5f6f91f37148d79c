package site

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/webscout/internal/selector"
)

type Site string

const (
	None   Site = ""
	Shopee Site = "shopee"
	TikTok Site = "tiktok"
)

type Mode string

const (
	ModeNone   Mode = ""
	ModeList   Mode = "list"
	ModeDetail Mode = "detail"
)

var ErrUnknownSite = errors.New("unknown site")

var (
	shopeeHost    = regexp.MustCompile(`(?i)shopee\.[a-z]+`)
	tiktokHost    = regexp.MustCompile(`(?i)tiktok\.com`)
	shopeeProduct = regexp.MustCompile(`shopee\..+/product/`)
)

// ShopeeCard is the container of one card on Shopee listing pages. It is also
// the signal that a Shopee page is worth extracting.
const ShopeeCard = "div.flex.flex-col.bg-white.cursor-pointer"

var (
	shopeeCards = selector.MustChain(ShopeeCard)

	tiktokIndicators = selector.MustChain(
		".tiktok-shop-card",
		`[data-e2e="product-card"]`,
		`[data-e2e="tiktok-shop"]`,
		".product-card",
		".product-item",
	)
)

func Parse(s string) (Site, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(Shopee):
		return Shopee, nil
	case string(TikTok):
		return TikTok, nil
	}
	return None, fmt.Errorf("%w: %q", ErrUnknownSite, s)
}

// FromURL classifies a page URL by host pattern.
func FromURL(url string) Site {
	switch {
	case shopeeHost.MatchString(url):
		return Shopee
	case tiktokHost.MatchString(url):
		return TikTok
	default:
		return None
	}
}

// DefaultMode is the extraction mode each site's pages are read with.
func (s Site) DefaultMode() Mode {
	switch s {
	case Shopee:
		return ModeList
	case TikTok:
		return ModeDetail
	default:
		return ModeNone
	}
}

// ReadySelector is the element a renderer waits for before handing the page
// over for extraction.
func (s Site) ReadySelector() string {
	switch s {
	case Shopee:
		return ShopeeCard
	case TikTok:
		return "h1"
	default:
		return ""
	}
}

func (s Site) Known() bool {
	return s == Shopee || s == TikTok
}

func (s Site) String() string {
	if s == None {
		return "none"
	}
	return string(s)
}

type Detection struct {
	Site          Site `json:"site"`
	Mode          Mode `json:"mode"`
	IsProductPage bool `json:"isProductPage"`
}

// Detector decides whether a rendered page carries extractable products. It
// only reads the document and never mutates it.
type Detector struct {
	logger *slog.Logger
}

func NewDetector(logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{logger: logger.With("component", "site-detector")}
}

// DetectSiteAndMode classifies the page by URL and then checks the site's
// product page signals.
func (d *Detector) DetectSiteAndMode(doc *goquery.Document, url string) Detection {
	s := FromURL(url)
	det := Detection{Site: s}
	if !s.Known() {
		d.logger.Debug("url does not belong to a supported site", "url", url)
		return det
	}

	det.IsProductPage = d.IsProductPage(s, doc, url)
	if det.IsProductPage {
		det.Mode = s.DefaultMode()
	}
	return det
}

// IsProductPage checks the product page signals of an explicitly chosen site.
// The Shopee check accepts any page that shows product cards, listing and
// category pages included.
func (d *Detector) IsProductPage(s Site, doc *goquery.Document, url string) bool {
	var scope *goquery.Selection
	if doc != nil {
		scope = doc.Selection
	}

	switch s {
	case Shopee:
		cards := shopeeCards.Hits(scope)[ShopeeCard]
		detail := shopeeProduct.MatchString(url)
		d.logger.Debug("shopee page signals", "cards", cards, "detail_url", detail)
		return cards > 0 || detail

	case TikTok:
		hits := tiktokIndicators.Hits(scope)
		for sel, n := range hits {
			d.logger.Debug("found product indicator", "selector", sel, "count", n)
		}
		containsShop := strings.Contains(url, "/shop")
		containsProduct := strings.Contains(url, "product")
		result := len(hits) > 0 || containsShop || containsProduct
		d.logger.Debug("tiktok page signals",
			"url", url,
			"contains_shop", containsShop,
			"contains_product", containsProduct,
			"is_product_page", result,
		)
		return result

	default:
		return false
	}
}
