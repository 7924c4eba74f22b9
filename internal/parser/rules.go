package parser

import (
	"regexp"
	"strings"

	"github.com/maltedev/listing-scraper/internal/models"
)

// FieldRule is an ordered selector cascade with regex fallbacks applied to
// the full page text when every selector comes back empty.
type FieldRule struct {
	Selectors []string
	Patterns  []*regexp.Regexp
	// SkipLines drops matching lines from the page text before the
	// patterns run.
	SkipLines *regexp.Regexp
}

// IndicatorRule marks a boolean feature as present when a selector matches
// or the pattern is found anywhere in the raw HTML.
type IndicatorRule struct {
	Selectors []string
	Pattern   *regexp.Regexp
}

// PhotoSource reads the first non-empty attribute of each matching element.
type PhotoSource struct {
	Selector string
	Attrs    []string
}

// Rules holds everything needed to extract a listing from one source site.
type Rules struct {
	Site models.Site

	// ContentSelectors signal that the listing body has rendered.
	ContentSelectors []string

	Title       FieldRule
	Price       FieldRule
	Charges     FieldRule
	Surface     FieldRule
	Rooms       FieldRule
	Bedrooms    FieldRule
	Address     FieldRule
	Description FieldRule
	Floor       FieldRule

	Elevator  IndicatorRule
	Furnished IndicatorRule

	Photos []PhotoSource
	// PhotoExclusions are case-insensitive substrings of non-photo assets.
	PhotoExclusions []string
}

// Match runs the cascade. The returned text is trimmed; when a pattern has a
// capture group only the group is returned.
func (r FieldRule) Match(q FieldQuery, fullText func() string) string {
	if text, ok := q.QuerySelectorText(r.Selectors); ok {
		return text
	}

	if len(r.Patterns) == 0 {
		return ""
	}

	text := fullText()
	if r.SkipLines != nil {
		text = dropLines(text, r.SkipLines)
	}
	for _, pattern := range r.Patterns {
		matches := pattern.FindStringSubmatch(text)
		if matches == nil {
			continue
		}
		if len(matches) > 1 {
			return strings.TrimSpace(matches[1])
		}
		return strings.TrimSpace(matches[0])
	}

	return ""
}

func dropLines(text string, skip *regexp.Regexp) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if !skip.MatchString(line) {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// Detect reports whether the indicator is present.
func (r IndicatorRule) Detect(q FieldQuery, html func() string) bool {
	if len(r.Selectors) > 0 && q.Exists(r.Selectors) {
		return true
	}
	return r.Pattern != nil && r.Pattern.MatchString(html())
}

// ExcludedPhoto reports whether rawURL looks like a placeholder, logo or icon.
func (r *Rules) ExcludedPhoto(rawURL string) bool {
	lower := strings.ToLower(strings.TrimSpace(rawURL))
	if lower == "" || strings.HasPrefix(lower, "data:") || strings.HasPrefix(lower, "blob:") {
		return true
	}
	for _, token := range r.PhotoExclusions {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

const (
	spacing = `[ \t\x{00a0}\x{202f}]`
	// amount is a number not glued to a preceding letter or digit ("T3 850").
	amount = `(?:^|[^\p{L}\d])(\d[\d \x{00a0}\x{202f}.]*)`
)

// LeboncoinRules is the ruleset for leboncoin.fr ad pages.
func LeboncoinRules() *Rules {
	return &Rules{
		Site: models.SiteLeboncoin,
		ContentSelectors: []string{
			"h1",
			`[data-qa-id="adview_price"]`,
			`[data-test-id="price"]`,
		},
		Title: FieldRule{
			Selectors: []string{
				`[data-qa-id="adview_title"] h1`,
				`[data-qa-id="adview_title"]`,
				`h1[data-test-id]`,
				"h1",
			},
		},
		Price: FieldRule{
			Selectors: []string{
				`[data-qa-id="adview_price"]`,
				`[data-test-id="price"]`,
				`[data-qa-id="adview_price_container"]`,
				`p[class*="Price"]`,
			},
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)(?:loyer|prix)[^\d]{0,30}?(\d[\d \x{00a0}\x{202f}.]*)` + spacing + `*(?:€|EUR|euros?\b)`),
				regexp.MustCompile(`(?m)` + amount + spacing + `*€`),
				regexp.MustCompile(`(?m)` + amount + spacing + `*(?:EUR|[Ee]uros?)\b`),
				regexp.MustCompile(`(?i)(?:loyer|prix)` + spacing + `*:?` + spacing + `*(\d[\d \x{00a0}\x{202f}.]*)`),
			},
			// lines led by a secondary amount: "Charges : 60 €", "Dépôt de garantie 850 €"
			SkipLines: regexp.MustCompile(`(?i)^[^\p{L}\d]*(?:charges|honoraires|frais|caution|dépôt)[^\d]{0,30}\d`),
		},
		Charges: FieldRule{
			Selectors: []string{
				`[data-qa-id="criteria_item_monthly_charges"]`,
				`[data-qa-id="criteria_item_charges"]`,
			},
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)charges[^\d\n]{0,30}(\d[\d \x{00a0}\x{202f}.]*)` + spacing + `*€`),
			},
		},
		Surface: FieldRule{
			Selectors: []string{
				`[data-qa-id="criteria_item_square"]`,
				`[data-test-id="criteria_item_square"]`,
			},
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(\d+(?:[.,]\d+)?)` + spacing + `*m(?:²|2)`),
			},
		},
		Rooms: FieldRule{
			Selectors: []string{
				`[data-qa-id="criteria_item_rooms"]`,
				`[data-test-id="criteria_item_rooms"]`,
			},
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(\d+)` + spacing + `*pièces?`),
				regexp.MustCompile(`(?i)(\d+)` + spacing + `*pieces?\b`),
			},
		},
		Bedrooms: FieldRule{
			Selectors: []string{
				`[data-qa-id="criteria_item_bedrooms"]`,
				`[data-test-id="criteria_item_bedrooms"]`,
			},
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)(\d+)` + spacing + `*chambres?`),
			},
		},
		Address: FieldRule{
			Selectors: []string{
				`[data-qa-id="adview_location_informations"]`,
				`[data-qa-id="adview_location_container"] p`,
				`[data-qa-id="adview_location_container"]`,
				`a[href="#map"]`,
			},
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?m)^[^\n]*\b\d{5}` + spacing + `+\p{Lu}[^\n]*$`),
				regexp.MustCompile(`(?m)^[^\n]*\p{L}` + spacing + `+\d{5}` + spacing + `*$`),
			},
		},
		Description: FieldRule{
			Selectors: []string{
				`[data-qa-id="adview_description_container"] p`,
				`[data-qa-id="adview_description_container"]`,
				`[data-qa-id="adview_description"]`,
				`div[class*="description"]`,
			},
		},
		Floor: FieldRule{
			Selectors: []string{
				`[data-qa-id="criteria_item_floor_number"]`,
				`[data-test-id="criteria_item_floor_number"]`,
			},
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)(\d+)` + spacing + `*(?:er|ère|e|ème|eme)?` + spacing + `*étages?`),
				regexp.MustCompile(`(?i)étage` + spacing + `*:?` + spacing + `*(\d+)`),
			},
		},
		Elevator: IndicatorRule{
			Selectors: []string{
				`[data-qa-id="criteria_item_elevator"]`,
			},
			Pattern: regexp.MustCompile(`(?i)ascenseur`),
		},
		Furnished: IndicatorRule{
			Selectors: []string{
				`[data-qa-id="criteria_item_furnished"]`,
			},
			Pattern: regexp.MustCompile(`(?i)meublé`),
		},
		Photos: []PhotoSource{
			{Selector: `[data-qa-id="slideshow_container"] img`, Attrs: []string{"src", "data-src"}},
			{Selector: `[data-qa-id="adview_spotlight_container"] img`, Attrs: []string{"src", "data-src"}},
			{Selector: "img[data-src]", Attrs: []string{"data-src"}},
			{Selector: `[class*="gallery"] img, [class*="Gallery"] img`, Attrs: []string{"src", "data-src"}},
			{Selector: `[class*="carousel"] img, [class*="Carousel"] img`, Attrs: []string{"src", "data-src"}},
			{Selector: `img[class*="image"], img[class*="photo"]`, Attrs: []string{"src", "data-src"}},
			{Selector: `[class*="photo"] img, [class*="image"] img`, Attrs: []string{"src", "data-src"}},
		},
		PhotoExclusions: []string{"placeholder", "logo", "icon"},
	}
}
