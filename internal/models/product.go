package models

import "strings"

const (
	PriceUnavailable = "Price not available"
	UnknownSeller    = "Unknown Seller"
)

// Product is a snapshot of one product as it appeared in the page at extraction
// time. Values are never changed after extraction; transforms return copies.
type Product struct {
	Name        string   `json:"name"`
	Price       string   `json:"price"`
	Image       *string  `json:"image"`
	Images      []string `json:"images,omitempty"`
	Seller      string   `json:"seller,omitempty"`
	Sold        string   `json:"sold,omitempty"`
	Rating      string   `json:"rating,omitempty"`
	RatingCount string   `json:"ratingCount,omitempty"`
}

type ExtractionResult struct {
	Success  bool      `json:"success"`
	Products []Product `json:"products"`
	Error    string    `json:"error,omitempty"`
}

func NewExtractionResult(products []Product) ExtractionResult {
	if products == nil {
		products = []Product{}
	}
	return ExtractionResult{
		Success:  len(products) > 0,
		Products: products,
	}
}

func FailedExtraction(msg string) ExtractionResult {
	return ExtractionResult{
		Success:  false,
		Products: []Product{},
		Error:    msg,
	}
}

// StringPtr is a helper for the optional image field.
func StringPtr(s string) *string {
	return &s
}

// ImageURL returns the primary image URL or an empty string.
func (p Product) ImageURL() string {
	if p.Image == nil {
		return ""
	}
	return *p.Image
}

// WithoutImage returns a copy of the product with the image field dropped.
func (p Product) WithoutImage() Product {
	out := p.Clone()
	out.Image = nil
	return out
}

// Clone returns a deep copy so that callers can hand products across owners
// without sharing backing arrays. An empty gallery is copied as nil, the form
// it has after a JSON round trip.
func (p Product) Clone() Product {
	out := p
	if p.Image != nil {
		out.Image = StringPtr(*p.Image)
	}
	out.Images = nil
	if len(p.Images) > 0 {
		out.Images = append([]string(nil), p.Images...)
	}
	return out
}

func CloneAll(products []Product) []Product {
	if products == nil {
		return nil
	}
	out := make([]Product, len(products))
	for i, p := range products {
		out[i] = p.Clone()
	}
	return out
}

func (p Product) Validate() []string {
	var errors []string

	if p.Name == "" {
		errors = append(errors, "Name is required")
	}

	seen := make(map[string]bool, len(p.Images))
	for _, u := range p.Images {
		if !strings.HasPrefix(u, "http") {
			errors = append(errors, "Image URL must be absolute: "+u)
		}
		if seen[u] {
			errors = append(errors, "Duplicate image URL: "+u)
		}
		seen[u] = true
	}

	return errors
}
