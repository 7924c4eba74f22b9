package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/listing-scraper/internal/models"
)

const adURL = "https://www.leboncoin.fr/ad/locations/2456789012"

func loadFixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return string(data)
}

func staticDoc(t *testing.T, name string) *StaticDocument {
	t.Helper()
	doc, err := NewStaticDocument(loadFixture(t, name), adURL)
	require.NoError(t, err)
	return doc
}

func TestExtractFromSelectors(t *testing.T) {
	extractor := NewExtractor(LeboncoinRules(), nil)

	listing := extractor.Extract(staticDoc(t, "leboncoin_ad.html"), adURL)

	assert.Equal(t, "Bel appartement T3", listing.Title)
	assert.Equal(t, 850, listing.Price)
	assert.Equal(t, 45, listing.Surface)
	assert.Equal(t, 3, listing.Rooms)
	require.NotNil(t, listing.Bedrooms)
	assert.Equal(t, 2, *listing.Bedrooms)
	require.NotNil(t, listing.Charges)
	assert.Equal(t, 60, *listing.Charges)
	require.NotNil(t, listing.Floor)
	assert.Equal(t, 2, *listing.Floor)
	require.NotNil(t, listing.HasElevator)
	assert.True(t, *listing.HasElevator)
	require.NotNil(t, listing.IsFurnished)
	assert.True(t, *listing.IsFurnished)

	assert.Equal(t, "12 rue de la République, 75001 Paris", listing.Address)
	assert.Equal(t, "Paris", listing.City)
	assert.Equal(t, "75001", listing.PostalCode)
	assert.Contains(t, listing.Description, "Appartement traversant")
	assert.Equal(t, adURL, listing.SourceURL)
}

func TestExtractPhotosCappedAndFiltered(t *testing.T) {
	extractor := NewExtractor(LeboncoinRules(), nil)

	listing := extractor.Extract(staticDoc(t, "leboncoin_ad.html"), adURL)

	require.Len(t, listing.Photos, models.MaxPhotos)
	assert.Equal(t, "https://img.leboncoin.fr/api/v1/lbcpb1/images/ad-01.jpg?rule=ad-large", listing.Photos[0].URL)
	// lazy images are resolved against the ad URL
	assert.Equal(t, "https://www.leboncoin.fr/api/v1/lbcpb1/images/ad-08.jpg?rule=ad-large", listing.Photos[7].URL)

	seen := map[string]bool{}
	for _, p := range listing.Photos {
		assert.False(t, seen[p.URL], "duplicate photo %s", p.URL)
		seen[p.URL] = true
		assert.NotContains(t, p.URL, "logo")
		assert.NotContains(t, p.URL, "placeholder")
		assert.NotContains(t, p.URL, "icon")
		assert.False(t, p.HasBinary())
	}
}

func TestExtractRegexFallbacks(t *testing.T) {
	extractor := NewExtractor(LeboncoinRules(), nil)

	listing := extractor.Extract(staticDoc(t, "leboncoin_fallback.html"), adURL)

	assert.Equal(t, "Studio lumineux", listing.Title)
	assert.Equal(t, 620, listing.Price)
	assert.Equal(t, 22, listing.Surface)
	assert.Equal(t, 1, listing.Rooms)
	assert.Nil(t, listing.Bedrooms)
	assert.Nil(t, listing.Charges)
	require.NotNil(t, listing.Floor)
	assert.Equal(t, 4, *listing.Floor)
	assert.Equal(t, "Lyon", listing.City)
	assert.Equal(t, "69003", listing.PostalCode)

	// the word alone is enough, even in "sans ascenseur"
	require.NotNil(t, listing.HasElevator)
	assert.True(t, *listing.HasElevator)
	assert.Nil(t, listing.IsFurnished)

	require.Len(t, listing.Photos, 1)
	assert.Equal(t, "https://img.leboncoin.fr/api/v1/lbcpb1/images/studio-1.jpg", listing.Photos[0].URL)

	priceTests := []struct {
		name  string
		body  string
		price int
	}{
		{"digits glued to a word", `<p>Appartement T3 850 €</p>`, 850},
		{"labelled rent after charges", `<p>Charges : 60 €</p><p>Loyer : 850 €</p>`, 850},
		{"charges line skipped", `<p>Charges : 60 €</p><p>850 € par mois</p>`, 850},
		{"deposit line skipped", `<p>Dépôt de garantie 1 700 €</p><p>850 euros</p>`, 850},
		{"label without currency", `<p>Prix : 1 200</p>`, 1200},
		{"thousands separator", `<p>Maison F5 1 450 €</p>`, 1450},
	}

	for _, tt := range priceTests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := NewStaticDocument(`<html><body><main>`+tt.body+`</main></body></html>`, adURL)
			require.NoError(t, err)

			assert.Equal(t, tt.price, extractor.Extract(doc, adURL).Price)
		})
	}
}

func TestExtractEmptyPageUsesDefaults(t *testing.T) {
	extractor := NewExtractor(LeboncoinRules(), nil)
	doc, err := NewStaticDocument(`<html><body><div>Rien ici</div></body></html>`, adURL)
	require.NoError(t, err)

	listing := extractor.Extract(doc, adURL)

	assert.Equal(t, models.DefaultTitle, listing.Title)
	assert.Equal(t, 0, listing.Price)
	assert.Equal(t, 0, listing.Surface)
	assert.Equal(t, 0, listing.Rooms)
	assert.Empty(t, listing.Address)
	assert.Empty(t, listing.PostalCode)
	assert.Nil(t, listing.Charges)
	assert.Nil(t, listing.Bedrooms)
	assert.Nil(t, listing.Floor)
	assert.Nil(t, listing.HasElevator)
	assert.Nil(t, listing.IsFurnished)
	assert.Empty(t, listing.Photos)
}

func TestFilterPhotoURLs(t *testing.T) {
	rules := LeboncoinRules()

	for _, n := range []int{0, 1, 9, 10, 11, 14, 30} {
		t.Run(fmt.Sprintf("%d candidates", n), func(t *testing.T) {
			var candidates []string
			for i := 0; i < n; i++ {
				u := fmt.Sprintf("https://img.leboncoin.fr/images/%d.jpg", i)
				// every URL appears twice
				candidates = append(candidates, u, u)
			}

			urls := FilterPhotoURLs(rules, candidates)

			expected := n
			if expected > models.MaxPhotos {
				expected = models.MaxPhotos
			}
			assert.Len(t, urls, expected)
		})
	}

	t.Run("exclusions", func(t *testing.T) {
		urls := FilterPhotoURLs(rules, []string{
			"",
			"data:image/gif;base64,R0lGOD",
			"https://cdn.example/LOGO.png",
			"https://cdn.example/placeholder.jpg",
			"https://cdn.example/icons/camera.svg",
			"https://cdn.example/photo.jpg",
		})
		assert.Equal(t, []string{"https://cdn.example/photo.jpg"}, urls)
	})
}

func TestFieldRuleCascadeOrder(t *testing.T) {
	doc, err := NewStaticDocument(`<html><body>
		<p class="second">second</p>
		<p class="first"> </p>
		<p class="third">third</p>
	</body></html>`, adURL)
	require.NoError(t, err)

	rule := FieldRule{Selectors: []string{".missing", ".first", ".second", ".third"}}
	fullText := func() string {
		t.Fatal("full text must not be read when a selector matches")
		return ""
	}

	assert.Equal(t, "second", rule.Match(doc, fullText))
}

func TestStaticFullTextSkipsScripts(t *testing.T) {
	doc := staticDoc(t, "leboncoin_ad.html")

	text := doc.FullText()

	assert.NotContains(t, text, "captcha")
	assert.NotContains(t, text, "999")
	assert.Contains(t, text, "Bel appartement T3\n")
	assert.Equal(t, "Bel appartement T3 - Locations Paris | leboncoin", doc.Title())
}
