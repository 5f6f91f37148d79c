// Package selector resolves ordered CSS selector fallback lists against a DOM
// scope. Marketplaces rename their generated class names between releases, so
// every field is located through a chain of historical and generic selectors
// tried from the most specific to the most generic.
package selector

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// Chain is an ordered list of compiled CSS selectors.
type Chain struct {
	selectors []string
	matchers  []cascadia.Selector
}

// NewChain compiles the selectors in order. An empty chain is allowed and
// never matches.
func NewChain(selectors ...string) (Chain, error) {
	c := Chain{
		selectors: make([]string, 0, len(selectors)),
		matchers:  make([]cascadia.Selector, 0, len(selectors)),
	}
	for _, s := range selectors {
		m, err := cascadia.Compile(s)
		if err != nil {
			return Chain{}, fmt.Errorf("invalid selector %q: %w", s, err)
		}
		c.selectors = append(c.selectors, s)
		c.matchers = append(c.matchers, m)
	}
	return c, nil
}

// MustChain is NewChain for package-level selector tables.
func MustChain(selectors ...string) Chain {
	c, err := NewChain(selectors...)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Chain) String() string {
	return strings.Join(c.selectors, " | ")
}

// ResolveText returns the trimmed text of the first element matched by the
// earliest selector whose match is not blank. A whitespace-only match does not
// stop the walk.
func (c Chain) ResolveText(scope *goquery.Selection) (string, bool) {
	if scope == nil {
		return "", false
	}
	for _, m := range c.matchers {
		el := scope.FindMatcher(m).First()
		if el.Length() == 0 {
			continue
		}
		if text := strings.TrimSpace(el.Text()); text != "" {
			return text, true
		}
	}
	return "", false
}

// ResolveAttr walks the chain like ResolveText but reads attributes from the
// first matched element. attrs are tried in order on that element, so
// ResolveAttr(scope, "src", "data-src") covers lazy-loaded images.
func (c Chain) ResolveAttr(scope *goquery.Selection, attrs ...string) (string, bool) {
	if scope == nil {
		return "", false
	}
	for _, m := range c.matchers {
		el := scope.FindMatcher(m).First()
		if el.Length() == 0 {
			continue
		}
		if v, ok := FirstAttr(el, attrs...); ok {
			return v, true
		}
	}
	return "", false
}

// TextOr resolves text and substitutes fallback when nothing usable matched.
func (c Chain) TextOr(scope *goquery.Selection, fallback string) string {
	if text, ok := c.ResolveText(scope); ok {
		return text
	}
	return fallback
}

// Find returns every element matched by the first selector that matches at
// all, together with that selector.
func (c Chain) Find(scope *goquery.Selection) (*goquery.Selection, string) {
	if scope == nil {
		return nil, ""
	}
	for i, m := range c.matchers {
		found := scope.FindMatcher(m)
		if found.Length() > 0 {
			return found, c.selectors[i]
		}
	}
	return scope.FindMatcher(noMatch), ""
}

// Hits reports, per selector, how many elements it matches under scope.
// Selectors without matches are left out.
func (c Chain) Hits(scope *goquery.Selection) map[string]int {
	hits := make(map[string]int)
	if scope == nil {
		return hits
	}
	for i, m := range c.matchers {
		if n := scope.FindMatcher(m).Length(); n > 0 {
			hits[c.selectors[i]] = n
		}
	}
	return hits
}

// Matches reports whether any selector matches at least one element.
func (c Chain) Matches(scope *goquery.Selection) bool {
	if scope == nil {
		return false
	}
	for _, m := range c.matchers {
		if scope.FindMatcher(m).Length() > 0 {
			return true
		}
	}
	return false
}

// FirstAttr returns the first non-blank attribute of s among attrs. The value
// comes back exactly as written in the document.
func FirstAttr(s *goquery.Selection, attrs ...string) (string, bool) {
	for _, a := range attrs {
		if v, ok := s.Attr(a); ok && strings.TrimSpace(v) != "" {
			return v, true
		}
	}
	return "", false
}

var noMatch = cascadia.MustCompile(":not(*)")
