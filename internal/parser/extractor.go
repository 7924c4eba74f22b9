package parser

import (
	"log/slog"
	"strings"

	"github.com/maltedev/listing-scraper/internal/models"
)

// Extractor applies a Rules table to any FieldQuery adapter.
type Extractor struct {
	rules  *Rules
	logger *slog.Logger
}

func NewExtractor(rules *Rules, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		rules:  rules,
		logger: logger.With("component", "extractor", "site", rules.Site),
	}
}

// Extract reads every field and returns a normalized listing whose photos
// carry URLs only.
func (e *Extractor) Extract(q FieldQuery, sourceURL string) *models.ParsedListing {
	listing := models.NewParsedListing(sourceURL)
	fullText := memo(q.FullText)
	html := memo(q.HTML)

	if title := e.rules.Title.Match(q, fullText); title != "" {
		listing.Title = title
	}

	listing.Price = ExtractPrice(e.rules.Price.Match(q, fullText))

	if raw := e.rules.Charges.Match(q, fullText); raw != "" {
		if _, ok := ExtractInteger(raw); ok {
			charges := ExtractPrice(raw)
			listing.Charges = &charges
		}
	}

	listing.Surface, _ = ExtractInteger(e.rules.Surface.Match(q, fullText))
	listing.Rooms, _ = ExtractInteger(e.rules.Rooms.Match(q, fullText))

	if bedrooms, ok := ExtractInteger(e.rules.Bedrooms.Match(q, fullText)); ok {
		listing.Bedrooms = &bedrooms
	}

	if raw := e.rules.Address.Match(q, fullText); raw != "" {
		addr := ParseAddress(raw)
		listing.Address = addr.Street
		listing.City = addr.City
		listing.PostalCode = addr.PostalCode
	}

	listing.Description = e.rules.Description.Match(q, fullText)

	if floor, ok := parseFloor(e.rules.Floor.Match(q, fullText)); ok {
		listing.Floor = &floor
	}

	if e.rules.Elevator.Detect(q, html) {
		listing.HasElevator = boolPtr(true)
	}
	if e.rules.Furnished.Detect(q, html) {
		listing.IsFurnished = boolPtr(true)
	}

	for _, u := range e.PhotoURLs(q) {
		listing.Photos = append(listing.Photos, models.PhotoRef{URL: u})
	}

	e.logger.Debug("extracted listing",
		"url", sourceURL,
		"title", listing.Title,
		"price", listing.Price,
		"surface", listing.Surface,
		"rooms", listing.Rooms,
		"photos", len(listing.Photos),
	)

	return listing
}

// PhotoURLs collects candidate image URLs from every photo source, drops
// excluded assets and duplicates, and keeps the first MaxPhotos in encounter
// order.
func (e *Extractor) PhotoURLs(q FieldQuery) []string {
	var candidates []string
	for _, source := range e.rules.Photos {
		candidates = append(candidates, q.QueryAttrs(source.Selector, source.Attrs...)...)
	}
	return FilterPhotoURLs(e.rules, candidates)
}

// FilterPhotoURLs applies the exclusion list, exact-URL deduplication and
// the MaxPhotos cap.
func FilterPhotoURLs(rules *Rules, candidates []string) []string {
	seen := make(map[string]struct{}, len(candidates))
	urls := make([]string, 0, models.MaxPhotos)

	for _, c := range candidates {
		u := strings.TrimSpace(c)
		if rules.ExcludedPhoto(u) {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
		if len(urls) == models.MaxPhotos {
			break
		}
	}

	return urls
}

func parseFloor(raw string) (int, bool) {
	if raw == "" {
		return 0, false
	}
	if strings.Contains(strings.ToLower(raw), "rez-de-chaussée") {
		return 0, true
	}
	return ExtractInteger(raw)
}

func memo(fn func() string) func() string {
	var (
		done  bool
		value string
	)
	return func() string {
		if !done {
			value = fn()
			done = true
		}
		return value
	}
}

func boolPtr(b bool) *bool {
	return &b
}
