package extractor

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/webscout/internal/selector"
)

type Candidate struct {
	Text      string `json:"text"`
	TagName   string `json:"tagName"`
	ClassName string `json:"className"`
	ID        string `json:"id"`
}

type ImageCandidate struct {
	Src       string `json:"src"`
	Alt       string `json:"alt"`
	ClassName string `json:"className"`
	ID        string `json:"id"`
}

// PageAnalysis lists elements that could hold product fields. It is used to
// find new selectors after a marketplace changes its markup.
type PageAnalysis struct {
	PossibleTitles []Candidate      `json:"possibleTitles"`
	PossiblePrices []Candidate      `json:"possiblePrices"`
	PossibleImages []ImageCandidate `json:"possibleImages"`
}

var (
	titleCandidates = []string{"h1", "h2", ".product-title", `[class*="title"]`, `[class*="name"]`}
	priceCandidates = []string{`[class*="price"]`, `[class*="cost"]`, `[class*="amount"]`}
)

// Analyze collects candidate titles, prices and images. An element matched by
// several candidate selectors is listed once per selector.
func (e *Extractor) Analyze(doc *goquery.Document) PageAnalysis {
	analysis := PageAnalysis{
		PossibleTitles: collectCandidates(doc, titleCandidates),
		PossiblePrices: collectCandidates(doc, priceCandidates),
		PossibleImages: []ImageCandidate{},
	}

	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		src, ok := selector.FirstAttr(img, "src")
		if !ok {
			return
		}
		analysis.PossibleImages = append(analysis.PossibleImages, ImageCandidate{
			Src:       src,
			Alt:       img.AttrOr("alt", ""),
			ClassName: img.AttrOr("class", ""),
			ID:        img.AttrOr("id", ""),
		})
	})

	e.logger.Debug("page analysis",
		"titles", len(analysis.PossibleTitles),
		"prices", len(analysis.PossiblePrices),
		"images", len(analysis.PossibleImages),
	)

	return analysis
}

func collectCandidates(doc *goquery.Document, selectors []string) []Candidate {
	candidates := []Candidate{}
	for _, sel := range selectors {
		doc.Find(sel).Each(func(_ int, el *goquery.Selection) {
			text := trimmed(el)
			if text == "" {
				return
			}
			candidates = append(candidates, Candidate{
				Text:      text,
				TagName:   strings.ToUpper(goquery.NodeName(el)),
				ClassName: el.AttrOr("class", ""),
				ID:        el.AttrOr("id", ""),
			})
		})
	}
	return candidates
}
