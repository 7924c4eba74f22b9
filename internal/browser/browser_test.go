package browser

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/listing-scraper/internal/config"
	"github.com/maltedev/listing-scraper/internal/parser"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	assert.True(t, opts.Headless)
	assert.Equal(t, 30*time.Second, opts.Timeout)
	assert.Equal(t, 1920, opts.ViewportWidth)
	assert.Equal(t, 1080, opts.ViewportHeight)
	assert.Equal(t, "fr-FR", opts.Locale)
	assert.Equal(t, "Europe/Paris", opts.TimezoneID)
	assert.True(t, opts.HideWebdriver)
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.BrowserConfig{
		Headless:       false,
		Timeout:        45 * time.Second,
		ViewportWidth:  1366,
		ViewportHeight: 768,
		AcceptLanguage: "fr-FR,fr;q=0.9",
		TimezoneID:     "Europe/Brussels",
		Locale:         "fr-BE",
		ProxyServer:    "http://proxy.internal:3128",
		HideWebdriver:  true,
	})

	assert.False(t, opts.Headless)
	assert.Equal(t, 45*time.Second, opts.Timeout)
	assert.Equal(t, 1366, opts.ViewportWidth)
	assert.Equal(t, 768, opts.ViewportHeight)
	assert.Equal(t, "fr-FR,fr;q=0.9", opts.AcceptLanguage)
	assert.Equal(t, "Europe/Brussels", opts.TimezoneID)
	assert.Equal(t, "fr-BE", opts.Locale)
	assert.Equal(t, "http://proxy.internal:3128", opts.ProxyServer)
	assert.True(t, opts.HideWebdriver)
	assert.Equal(t, DefaultOptions().UserAgent, opts.UserAgent, "empty user agent keeps the default")

	bare := OptionsFromConfig(config.BrowserConfig{})
	assert.Equal(t, 1920, bare.ViewportWidth)
	assert.Equal(t, "Europe/Paris", bare.TimezoneID)
	assert.False(t, bare.HideWebdriver)
}

func TestHeaders(t *testing.T) {
	opts := DefaultOptions()

	headers := opts.Headers()

	assert.Equal(t, opts.AcceptLanguage, headers["Accept-Language"])
	assert.Equal(t, "keep-alive", headers["Connection"])
	assert.Equal(t, "1", headers["Upgrade-Insecure-Requests"])
	assert.Contains(t, headers["Accept"], "text/html")

	// building headers must not mutate the options
	_, ok := opts.ExtraHeaders["Accept-Language"]
	assert.False(t, ok)
}

func TestScripts(t *testing.T) {
	opts := DefaultOptions()
	opts.InitScripts = []string{"window.__custom = true;"}

	scripts := opts.Scripts()
	require.Len(t, scripts, 2)
	assert.Contains(t, scripts[0], "navigator, 'webdriver'")
	assert.Equal(t, "window.__custom = true;", scripts[1])

	opts.HideWebdriver = false
	assert.Equal(t, []string{"window.__custom = true;"}, opts.Scripts())
}

func TestParseFetchResult(t *testing.T) {
	tests := []struct {
		name    string
		result  interface{}
		want    string
		wantErr string
	}{
		{
			name:   "data url",
			result: map[string]interface{}{"ok": true, "dataUrl": "data:image/jpeg;base64,/9j/"},
			want:   "data:image/jpeg;base64,/9j/",
		},
		{
			name:    "http error",
			result:  map[string]interface{}{"ok": false, "status": float64(403)},
			wantErr: "status 403",
		},
		{
			name:    "too large",
			result:  map[string]interface{}{"ok": false, "tooLarge": true},
			wantErr: "size limit",
		},
		{
			name:    "timeout",
			result:  map[string]interface{}{"ok": false, "timeout": true},
			wantErr: "timed out",
		},
		{
			name:    "network error",
			result:  map[string]interface{}{"ok": false, "error": "TypeError: Failed to fetch"},
			wantErr: "Failed to fetch",
		},
		{
			name:    "not an object",
			result:  "nope",
			wantErr: "unexpected fetch result",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFetchResult(tt.result)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBoundedTimeout(t *testing.T) {
	assert.Equal(t, float64(2500), boundedTimeout(context.Background(), 2500*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.LessOrEqual(t, boundedTimeout(ctx, 10*time.Second), float64(100))
}

// TestLivePageMatchesStaticDocument loads the same fixture into a real page
// and checks both adapters agree. Requires installed browsers.
func TestLivePageMatchesStaticDocument(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run")
	}

	const sourceURL = "https://www.leboncoin.fr/ad/locations/2456789012"
	raw, err := os.ReadFile(filepath.Join("..", "parser", "testdata", "leboncoin_ad.html"))
	require.NoError(t, err)

	b, err := New(DefaultOptions())
	require.NoError(t, err)
	defer b.Close()

	sess, err := b.OpenSession(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	require.NoError(t, sess.page.SetContent(string(raw)))

	static, err := parser.NewStaticDocument(string(raw), sourceURL)
	require.NoError(t, err)

	extractor := parser.NewExtractor(parser.LeboncoinRules(), nil)
	live := extractor.Extract(sess.Query(), sourceURL)
	offline := extractor.Extract(static, sourceURL)

	assert.Equal(t, offline.Title, live.Title)
	assert.Equal(t, offline.Price, live.Price)
	assert.Equal(t, offline.Surface, live.Surface)
	assert.Equal(t, offline.Rooms, live.Rooms)
	assert.Equal(t, offline.PostalCode, live.PostalCode)
	assert.Equal(t, offline.City, live.City)

	require.NoError(t, sess.Close())
	assert.NoError(t, sess.Close(), "closing twice must be a no-op")
}
