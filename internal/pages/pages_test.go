package pages

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePages(t *testing.T) {
	csv := `page,comments,max_posts
CEBECOIIIToledo,electric cooperative,5
SomeOtherPage,,
CEBECOIIIToledo,duplicate row,3
,empty name,
BadLimit,,not-a-number
`
	pages, err := parsePages(strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, pages, 3)

	assert.Equal(t, "CEBECOIIIToledo", pages[0].Name)
	assert.Equal(t, "electric cooperative", pages[0].Comments)
	assert.Equal(t, 5, pages[0].MaxPosts)

	assert.Equal(t, "SomeOtherPage", pages[1].Name)
	assert.Equal(t, 0, pages[1].MaxPosts)

	// Invalid max_posts falls back to the default.
	assert.Equal(t, "BadLimit", pages[2].Name)
	assert.Equal(t, 0, pages[2].MaxPosts)
}

func TestParsePagesMissingColumn(t *testing.T) {
	csv := "name,comments\nfoo,bar\n"
	_, err := parsePages(strings.NewReader(csv))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required column 'page'")
}

func TestParsePagesHeaderCaseInsensitive(t *testing.T) {
	csv := "Page,Comments\nMyPage,hi\n"
	pages, err := parsePages(strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "MyPage", pages[0].Name)
}

func TestLoadPages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.csv")
	require.NoError(t, os.WriteFile(path, []byte("page\nOnlyPage\n"), 0644))

	pages, err := LoadPages(path)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "OnlyPage", pages[0].Name)
}

func TestLoadPagesMissingFile(t *testing.T) {
	_, err := LoadPages(filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
}
