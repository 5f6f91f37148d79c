package extractor

import (
	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/webscout/internal/models"
	"github.com/maltedev/webscout/internal/selector"
	"github.com/maltedev/webscout/internal/site"
)

var (
	gridContainers = selector.MustChain(
		".tiktok-shop-card",
		`[data-e2e="product-card"]`,
		".product-card",
		".product-item",
		".product-detail",
	)

	gridTitleSelectors  = selector.MustChain(".product-title", `[data-e2e="product-title"]`)
	gridPriceSelectors  = selector.MustChain(".price", `[data-e2e="product-price"]`)
	gridImageSelectors  = selector.MustChain("img", `[data-e2e="product-image"]`)
	gridSellerSelectors = selector.MustChain(".seller-name", `[data-e2e="seller-name"]`)
)

// ExtractCards reads TikTok pages that show a grid of product cards. The
// first container selector with matches decides the card set. Without any
// card the page is read as a detail page, provided it qualifies as a product
// page at all.
func (e *Extractor) ExtractCards(doc *goquery.Document, url string) []models.Product {
	cards, matched := gridContainers.Find(doc.Selection)
	e.logger.Debug("product container lookup", "selector", matched, "count", cards.Length())

	if cards.Length() == 0 {
		if !e.detector.IsProductPage(site.TikTok, doc, url) {
			e.logger.Debug("page does not look like a product page")
			return []models.Product{}
		}
		product, err := e.ExtractDetail(doc)
		if err != nil {
			e.logger.Debug("single product extraction failed", "error", err)
			return []models.Product{}
		}
		return []models.Product{product}
	}

	products := make([]models.Product, 0, cards.Length())
	cards.Each(func(_ int, card *goquery.Selection) {
		name, _ := gridTitleSelectors.ResolveText(card)
		price, _ := gridPriceSelectors.ResolveText(card)
		image, _ := gridImageSelectors.ResolveAttr(card, "src")
		seller, _ := gridSellerSelectors.ResolveText(card)

		products = append(products, models.Product{
			Name:   name,
			Price:  price,
			Image:  models.StringPtr(image),
			Seller: seller,
		})
	})

	return products
}
