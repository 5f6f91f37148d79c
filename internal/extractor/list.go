package extractor

import (
	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/webscout/internal/models"
	"github.com/maltedev/webscout/internal/selector"
	"github.com/maltedev/webscout/internal/site"
)

var (
	cardNameSelectors = selector.MustChain(".line-clamp-2", ".break-words")

	cardAmountSelectors = selector.MustChain(
		".text-shopee-primary .text-base",
		`.text-shopee-primary .font-medium.text-base\/5`,
	)

	cardCurrencySelectors = selector.MustChain(
		".text-shopee-primary .text-xs",
		`.text-shopee-primary .text-xs\/sp14`,
	)

	cardImageSelectors = selector.MustChain(`img[loading="lazy"]`, "img.object-contain")
	cardSoldSelectors  = selector.MustChain(".text-shopee-black87")
)

// ExtractList reads every Shopee product card on the page. Each card yields a
// record even when none of its fields could be found; missing fields stay
// empty.
func (e *Extractor) ExtractList(doc *goquery.Document) []models.Product {
	cards := doc.Find(site.ShopeeCard)
	e.logger.Debug("found product cards", "selector", site.ShopeeCard, "count", cards.Length())

	products := make([]models.Product, 0, cards.Length())
	cards.Each(func(i int, card *goquery.Selection) {
		products = append(products, e.extractCard(card))
	})

	return products
}

func (e *Extractor) extractCard(card *goquery.Selection) models.Product {
	name, _ := cardNameSelectors.ResolveText(card)
	image, _ := cardImageSelectors.ResolveAttr(card, "src")
	sold, _ := cardSoldSelectors.ResolveText(card)

	return models.Product{
		Name:  name,
		Price: composePrice(card),
		Image: models.StringPtr(image),
		Sold:  sold,
	}
}

// composePrice prefixes the currency fragment onto the amount fragment. The
// result is a display string; separators and decimal marks are left as shown.
func composePrice(card *goquery.Selection) string {
	amount, hasAmount := cardAmountSelectors.ResolveText(card)
	currency, hasCurrency := cardCurrencySelectors.ResolveText(card)

	switch {
	case hasAmount && hasCurrency:
		return currency + amount
	case hasAmount:
		return amount
	default:
		return currency
	}
}
