package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadURLs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.txt")
	content := "# locations Lyon\nhttps://www.leboncoin.fr/ad/locations/1\n\n  https://www.leboncoin.fr/ad/locations/2  \n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	urls, err := readURLs(path)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://www.leboncoin.fr/ad/locations/1",
		"https://www.leboncoin.fr/ad/locations/2",
	}, urls)

	_, err = readURLs(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
