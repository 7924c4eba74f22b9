package parser

import (
	"strings"

	"github.com/maltedev/listing-scraper/internal/models"
)

// FieldQuery is the DOM capability the extraction rules run against. The
// live browser page and the static HTML document both implement it so that
// one rules table serves both.
type FieldQuery interface {
	// QuerySelectorText returns the trimmed text of the first selector that
	// matches an element with non-empty text.
	QuerySelectorText(selectors []string) (string, bool)
	// Exists reports whether any selector matches an element.
	Exists(selectors []string) bool
	// QueryAttrs returns, for every element matching selector, the first
	// non-empty value among attrs.
	QueryAttrs(selector string, attrs ...string) []string
	// FullText is the visible text of the page body.
	FullText() string
	// HTML is the serialized document.
	HTML() string
}

// Parser turns a queried page into a listing.
type Parser interface {
	Extract(q FieldQuery, sourceURL string) *models.ParsedListing
}

// FirstText walks selectors in order and returns the first non-empty text.
// Adapters share it so the cascade order is identical everywhere.
func FirstText(selectors []string, textOf func(selector string) string) (string, bool) {
	for _, selector := range selectors {
		if text := strings.TrimSpace(textOf(selector)); text != "" {
			return text, true
		}
	}
	return "", false
}
