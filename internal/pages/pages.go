// Package pages loads the list of Facebook pages to harvest from a CSV
// file. Expected columns: page (required), comments, max_posts.
package pages

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Page is one entry in the harvest list.
type Page struct {
	Name     string
	Comments string
	MaxPosts int // 0 means use the configured default
}

// LoadPages reads the page list from a CSV file. Rows with an empty page
// name are skipped with a line-numbered warning; duplicate page names keep
// the first occurrence.
func LoadPages(csvPath string) ([]Page, error) {
	log.Info().Str("csv", csvPath).Msg("Loading page list")

	f, err := os.Open(csvPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open pages CSV: %w", err)
	}
	defer f.Close()

	pages, err := parsePages(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pages CSV: %w", err)
	}

	log.Info().Int("pages", len(pages)).Msg("Page list loaded")
	return pages, nil
}

func parsePages(r io.Reader) ([]Page, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, err
	}

	log.Debug().Strs("header", header).Msg("CSV header read")

	pageIdx := findColumnIndex(header, "page")
	if pageIdx < 0 {
		return nil, fmt.Errorf("required column 'page' not found in CSV header")
	}
	commentsIdx := findColumnIndex(header, "comments")
	maxPostsIdx := findColumnIndex(header, "max_posts")

	var pages []Page
	seen := make(map[string]bool)
	lineCount := 1 // Header was already read
	var errs []string

	for {
		lineCount++
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Warn().Err(err).Int("line", lineCount).Msg("Error reading CSV line")
			errs = append(errs, fmt.Sprintf("line %d: %v", lineCount, err))
			continue
		}

		if len(record) == 0 || (len(record) == 1 && record[0] == "") {
			log.Debug().Int("line", lineCount).Msg("Skipping empty row")
			continue
		}

		name := safeGetValue(record, pageIdx)
		if name == "" {
			log.Warn().Int("line", lineCount).Msg("Skipping row with empty page name")
			errs = append(errs, fmt.Sprintf("line %d: empty page name", lineCount))
			continue
		}
		if seen[name] {
			log.Warn().Int("line", lineCount).Str("page", name).Msg("Duplicate page name, keeping first")
			continue
		}
		seen[name] = true

		page := Page{
			Name:     name,
			Comments: safeGetValue(record, commentsIdx),
		}
		if raw := safeGetValue(record, maxPostsIdx); raw != "" {
			maxPosts, convErr := strconv.Atoi(raw)
			if convErr != nil || maxPosts < 0 {
				log.Warn().Int("line", lineCount).Str("max_posts", raw).Msg("Invalid max_posts value, using default")
			} else {
				page.MaxPosts = maxPosts
			}
		}

		pages = append(pages, page)
	}

	log.Info().
		Int("total", lineCount-1).
		Int("loaded", len(pages)).
		Int("errors", len(errs)).
		Msg("Page list summary")

	return pages, nil
}

func findColumnIndex(header []string, columnName string) int {
	for i, col := range header {
		if strings.EqualFold(col, columnName) {
			return i
		}
	}
	return -1
}

// safeGetValue returns the trimmed value at index, or the empty string when
// the index is out of bounds.
func safeGetValue(record []string, index int) string {
	if index >= 0 && index < len(record) {
		return strings.TrimSpace(record[index])
	}
	return ""
}
