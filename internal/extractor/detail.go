package extractor

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/webscout/internal/models"
	"github.com/maltedev/webscout/internal/selector"
)

const galleryTrack = ".slick-list .slick-track"

var (
	titleSelectors = selector.MustChain(
		"h1",
		".product-title",
		`[data-e2e="product-title"]`,
		".product-name",
	)

	priceSelectors = selector.MustChain(
		".price-w1xvrw span",
		".price",
		".product-price",
		`[data-e2e="product-price"]`,
	)

	sellerSelectors = selector.MustChain(
		".seller-c27aRQ",
		".seller-name",
		".shop-name",
		`[data-e2e="seller-name"]`,
	)

	ratingSelectors      = selector.MustChain(".infoRatingScore-jSs6kd")
	ratingCountSelectors = selector.MustChain(".infoRatingCount-lKBiTI")
	detailSoldSelectors  = selector.MustChain(".info__sold-ZdTfzQ")
)

// ExtractDetail reads a single product detail page. The title is the only
// required field; without it ErrProductNotFound is returned and nothing else
// is read.
func (e *Extractor) ExtractDetail(doc *goquery.Document) (models.Product, error) {
	title, ok := titleSelectors.ResolveText(doc.Selection)
	if !ok {
		e.logger.Debug("no title selector matched", "selectors", titleSelectors.String())
		return models.Product{}, ErrProductNotFound
	}

	product := models.Product{
		Name:   title,
		Price:  priceSelectors.TextOr(doc.Selection, models.PriceUnavailable),
		Seller: sellerSelectors.TextOr(doc.Selection, models.UnknownSeller),
	}

	product.Images = Gallery(doc)
	if len(product.Images) > 0 {
		product.Image = models.StringPtr(product.Images[0])
	}

	product.Rating, _ = ratingSelectors.ResolveText(doc.Selection)
	product.RatingCount, _ = ratingCountSelectors.ResolveText(doc.Selection)
	product.Sold, _ = detailSoldSelectors.ResolveText(doc.Selection)

	e.logger.Debug("extracted product detail",
		"name", product.Name,
		"price", product.Price,
		"images", len(product.Images),
		"seller", product.Seller,
	)

	return product, nil
}

// Gallery collects the carousel images of a detail page in DOM order. Only
// the first carousel track is read and images elsewhere on the page are
// ignored. URLs must be absolute and each is kept once, first occurrence
// first. A page without a carousel has no gallery.
func Gallery(doc *goquery.Document) []string {
	track := doc.Find(galleryTrack).First()
	if track.Length() == 0 {
		return nil
	}

	var images []string
	seen := make(map[string]bool)

	track.Find("img").Each(func(_ int, img *goquery.Selection) {
		url, ok := selector.FirstAttr(img, "src", "data-src")
		if !ok || !strings.HasPrefix(url, "http") || seen[url] {
			return
		}
		seen[url] = true
		images = append(images, url)
	})

	return images
}
