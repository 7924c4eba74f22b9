package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/maltedev/listing-scraper/internal/models"
)

type LinkStatus string

const (
	StatusPending   LinkStatus = "pending"
	StatusCompleted LinkStatus = "completed"
	StatusFailed    LinkStatus = "failed"
	// StatusManual marks links the source blocked; they need manual entry
	// and are not retried.
	StatusManual LinkStatus = "manual"
)

// ListingLink is the batch state of one listing URL.
type ListingLink struct {
	URL       string      `json:"url"`
	Site      models.Site `json:"site"`
	Title     string      `json:"title,omitempty"`
	Price     int         `json:"price,omitempty"`
	Photos    int         `json:"photos,omitempty"`
	Status    LinkStatus  `json:"status"`
	ErrorCode string      `json:"error_code,omitempty"`
	Error     string      `json:"error,omitempty"`
	AddedAt   time.Time   `json:"added_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	// Seq is the position of the link in the order it was added.
	Seq       int         `json:"seq"`
}

// LinkStorage keeps batch state in a JSON file so an interrupted batch can
// resume where it stopped. Every mutation is written through.
type LinkStorage struct {
	mu       sync.RWMutex
	links    map[string]*ListingLink
	filename string
}

func NewLinkStorage(filename string) (*LinkStorage, error) {
	ls := &LinkStorage{
		links:    make(map[string]*ListingLink),
		filename: filename,
	}

	if err := ls.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	return ls, nil
}

// AddBatch registers new URLs as pending. URLs already known keep their
// state. It returns how many were added.
func (ls *LinkStorage) AddBatch(urls []string) (int, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	now := time.Now()
	next := ls.nextSeqLocked()
	added := 0
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, exists := ls.links[u]; exists {
			continue
		}

		ls.links[u] = &ListingLink{
			URL:       u,
			Site:      models.ClassifySite(u),
			Status:    StatusPending,
			AddedAt:   now,
			UpdatedAt: now,
			Seq:       next,
		}
		next++
		added++
	}

	if added == 0 {
		return 0, nil
	}
	return added, ls.save()
}

func (ls *LinkStorage) nextSeqLocked() int {
	next := 0
	for _, link := range ls.links {
		if link.Seq >= next {
			next = link.Seq + 1
		}
	}
	return next
}

func (ls *LinkStorage) Get(url string) (*ListingLink, bool) {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	link, exists := ls.links[url]
	if !exists {
		return nil, false
	}
	snapshot := *link
	return &snapshot, true
}

// GetPending returns pending links in the order they were added.
func (ls *LinkStorage) GetPending() []*ListingLink {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	var pending []*ListingLink
	for _, link := range ls.links {
		if link.Status == StatusPending {
			snapshot := *link
			pending = append(pending, &snapshot)
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		if pending[i].Seq != pending[j].Seq {
			return pending[i].Seq < pending[j].Seq
		}
		return pending[i].URL < pending[j].URL
	})
	return pending
}

// Record stores the outcome of one extraction.
func (ls *LinkStorage) Record(url string, result *models.ScrapeResult) error {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	link, exists := ls.links[url]
	if !exists {
		return fmt.Errorf("link not found: %s", url)
	}

	link.UpdatedAt = time.Now()
	link.ErrorCode = ""
	link.Error = ""

	switch {
	case result.Success && result.Listing != nil:
		link.Status = StatusCompleted
		link.Title = result.Listing.Title
		link.Price = result.Listing.Price
		link.Photos = len(result.Listing.Photos)
	case result.NeedsManualInput:
		link.Status = StatusManual
	default:
		link.Status = StatusFailed
	}

	if result.Error != nil {
		link.ErrorCode = result.Error.Code
		link.Error = result.Error.Message
	}

	return ls.save()
}

// Reset puts failed links back to pending. Links needing manual input stay
// as they are.
func (ls *LinkStorage) Reset() (int, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	count := 0
	for _, link := range ls.links {
		if link.Status == StatusFailed {
			link.Status = StatusPending
			link.UpdatedAt = time.Now()
			count++
		}
	}

	if count == 0 {
		return 0, nil
	}
	return count, ls.save()
}

func (ls *LinkStorage) GetStats() map[string]int {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	stats := make(map[string]int)
	for _, link := range ls.links {
		stats[string(link.Status)]++
	}
	stats["total"] = len(ls.links)
	return stats
}

func (ls *LinkStorage) save() error {
	data, err := json.MarshalIndent(ls.links, "", "  ")
	if err != nil {
		return err
	}

	// write to a temp file first so a crash never leaves a truncated state
	tmpFile := ls.filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return err
	}

	return os.Rename(tmpFile, ls.filename)
}

func (ls *LinkStorage) Load() error {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	data, err := os.ReadFile(ls.filename)
	if err != nil {
		return err
	}

	links := make(map[string]*ListingLink)
	if err := json.Unmarshal(data, &links); err != nil {
		return fmt.Errorf("failed to parse %s: %w", ls.filename, err)
	}
	ls.links = links
	return nil
}
