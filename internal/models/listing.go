package models

import (
	"net/url"
	"strings"
	"time"
)

// MaxPhotos is the number of photos kept on a listing.
const MaxPhotos = 10

// DefaultTitle is used when no title could be extracted.
const DefaultTitle = "Annonce sans titre"

// ParsedListing is the canonical record produced by one extraction run.
type ParsedListing struct {
	Title       string     `json:"title"`
	Price       int        `json:"price"`
	Charges     *int       `json:"charges,omitempty"`
	Surface     int        `json:"surface"`
	Rooms       int        `json:"rooms"`
	Bedrooms    *int       `json:"bedrooms,omitempty"`
	Address     string     `json:"address"`
	City        string     `json:"city"`
	PostalCode  string     `json:"postalCode"`
	Description string     `json:"description"`
	Photos      []PhotoRef `json:"photos"`
	Floor       *int       `json:"floor,omitempty"`
	HasElevator *bool      `json:"hasElevator,omitempty"`
	IsFurnished *bool      `json:"isFurnished,omitempty"`
	SourceURL   string     `json:"sourceUrl"`
}

// PhotoRef points at a listing photo. Binary and MimeType are only set when
// the image was downloaded inside the browser session.
type PhotoRef struct {
	URL      string `json:"url"`
	Binary   []byte `json:"binary,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// HasBinary reports whether the photo payload was downloaded.
func (p PhotoRef) HasBinary() bool {
	return len(p.Binary) > 0
}

func NewParsedListing(sourceURL string) *ParsedListing {
	return &ParsedListing{
		Title:     DefaultTitle,
		Photos:    make([]PhotoRef, 0),
		SourceURL: sourceURL,
	}
}

// CapPhotos truncates Photos to MaxPhotos entries.
func (l *ParsedListing) CapPhotos() {
	if len(l.Photos) > MaxPhotos {
		l.Photos = l.Photos[:MaxPhotos]
	}
}

// Site identifies the classified source of a listing URL.
type Site string

const (
	SiteLeboncoin Site = "leboncoin"
	SiteSeloger   Site = "seloger"
	SitePap       Site = "pap"
	SiteUnknown   Site = "unknown"
)

var siteDomains = []struct {
	domain string
	site   Site
}{
	{"leboncoin.fr", SiteLeboncoin},
	{"seloger.com", SiteSeloger},
	{"pap.fr", SitePap},
}

// ClassifySite matches known domain substrings against the URL host. When the
// URL has no parsable host the whole string is matched instead.
func ClassifySite(rawURL string) Site {
	target := strings.ToLower(strings.TrimSpace(rawURL))
	if u, err := url.Parse(target); err == nil && u.Host != "" {
		target = u.Host
	}

	for _, d := range siteDomains {
		if strings.Contains(target, d.domain) {
			return d.site
		}
	}
	return SiteUnknown
}

// ScrapeResult is the envelope handed to callers of the pipeline.
type ScrapeResult struct {
	Listing          *ParsedListing `json:"listing,omitempty"`
	Error            *Error         `json:"error,omitempty"`
	Success          bool           `json:"success"`
	NeedsManualInput bool           `json:"needsManualInput,omitempty"`
}

type Error struct {
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
	URL     string    `json:"url,omitempty"`
}
