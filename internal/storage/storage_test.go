package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/listing-scraper/internal/models"
)

const (
	firstAd   = "https://www.leboncoin.fr/ad/locations/1"
	secondAd  = "https://www.leboncoin.fr/ad/locations/2"
	selogerAd = "https://www.seloger.com/annonces/locations/3.htm"
)

func newStorage(t *testing.T) (*LinkStorage, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch.json")
	ls, err := NewLinkStorage(path)
	require.NoError(t, err)
	return ls, path
}

func TestAddBatch(t *testing.T) {
	ls, path := newStorage(t)

	added, err := ls.AddBatch([]string{firstAd, "", secondAd, firstAd})
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	link, ok := ls.Get(firstAd)
	require.True(t, ok)
	assert.Equal(t, StatusPending, link.Status)
	assert.Equal(t, models.SiteLeboncoin, link.Site)

	_, err = os.Stat(path)
	assert.NoError(t, err)
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestRecord(t *testing.T) {
	ls, _ := newStorage(t)
	_, err := ls.AddBatch([]string{firstAd, secondAd, selogerAd})
	require.NoError(t, err)

	listing := models.NewParsedListing(firstAd)
	listing.Title = "Studio lumineux"
	listing.Price = 620
	listing.Photos = []models.PhotoRef{{URL: "https://img.leboncoin.fr/1.jpg"}}
	require.NoError(t, ls.Record(firstAd, &models.ScrapeResult{Listing: listing, Success: true}))

	require.NoError(t, ls.Record(secondAd, &models.ScrapeResult{
		Error:            &models.Error{Code: "blocked-by-source", Message: "bloqué", Time: time.Now()},
		NeedsManualInput: true,
	}))

	require.NoError(t, ls.Record(selogerAd, &models.ScrapeResult{
		Error: &models.Error{Code: "not-implemented", Message: "non pris en charge", Time: time.Now()},
	}))

	first, _ := ls.Get(firstAd)
	assert.Equal(t, StatusCompleted, first.Status)
	assert.Equal(t, "Studio lumineux", first.Title)
	assert.Equal(t, 620, first.Price)
	assert.Equal(t, 1, first.Photos)
	assert.Empty(t, first.Error)

	second, _ := ls.Get(secondAd)
	assert.Equal(t, StatusManual, second.Status)
	assert.Equal(t, "blocked-by-source", second.ErrorCode)

	third, _ := ls.Get(selogerAd)
	assert.Equal(t, StatusFailed, third.Status)

	assert.Error(t, ls.Record("https://www.leboncoin.fr/ad/unknown", &models.ScrapeResult{Success: true}))

	stats := ls.GetStats()
	assert.Equal(t, 3, stats["total"])
	assert.Equal(t, 1, stats["completed"])
	assert.Equal(t, 1, stats["manual"])
	assert.Equal(t, 1, stats["failed"])
	assert.Empty(t, ls.GetPending())
}

func TestResumeFromFile(t *testing.T) {
	ls, path := newStorage(t)
	_, err := ls.AddBatch([]string{firstAd, secondAd, selogerAd})
	require.NoError(t, err)
	require.NoError(t, ls.Record(firstAd, &models.ScrapeResult{Listing: models.NewParsedListing(firstAd), Success: true}))
	require.NoError(t, ls.Record(selogerAd, &models.ScrapeResult{Error: &models.Error{Code: "not-implemented"}}))

	reopened, err := NewLinkStorage(path)
	require.NoError(t, err)

	pending := reopened.GetPending()
	require.Len(t, pending, 1)
	assert.Equal(t, secondAd, pending[0].URL)

	added, err := reopened.AddBatch([]string{firstAd, secondAd})
	require.NoError(t, err)
	assert.Zero(t, added, "known links keep their state")

	reset, err := reopened.Reset()
	require.NoError(t, err)
	assert.Equal(t, 1, reset)
	assert.Len(t, reopened.GetPending(), 2)
}

func TestGetPendingOrder(t *testing.T) {
	ls, path := newStorage(t)
	lyon := "https://www.leboncoin.fr/ad/locations/9"
	_, err := ls.AddBatch([]string{secondAd, lyon, firstAd})
	require.NoError(t, err)
	_, err = ls.AddBatch([]string{selogerAd})
	require.NoError(t, err)

	order := func(links []*ListingLink) []string {
		var urls []string
		for _, link := range links {
			urls = append(urls, link.URL)
		}
		return urls
	}

	want := []string{secondAd, lyon, firstAd, selogerAd}
	assert.Equal(t, want, order(ls.GetPending()), "links come back in the order they were added")

	reopened, err := NewLinkStorage(path)
	require.NoError(t, err)
	assert.Equal(t, want, order(reopened.GetPending()), "order survives a restart")
}

func TestNewLinkStorageCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0644))

	_, err := NewLinkStorage(path)

	assert.Error(t, err)
}
