// Package scraper extracts posts from a Facebook page's mobile timeline.
// It fetches the plain-HTML (mbasic) rendering of the page and walks the
// post containers, following the "see more" pagination link between
// timeline pages.
package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
)

const defaultBaseURL = "https://mbasic.facebook.com"

// Post is a single post extracted from a page timeline.
type Post struct {
	PostID string
	URL    string
	Time   time.Time // zero when the timeline did not expose a publish time
	Text   string
	Images []string
	Video  string
}

// Config holds scraper construction parameters.
type Config struct {
	BaseURL        string
	UserAgent      string
	RequestTimeout time.Duration
	Retry          int
}

// Scraper fetches and parses page timelines.
type Scraper struct {
	base   *url.URL
	client *client
}

// New creates a Scraper with the given configuration.
func New(cfg Config) (*Scraper, error) {
	raw := cfg.BaseURL
	if raw == "" {
		raw = defaultBaseURL
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", raw, err)
	}
	return &Scraper{
		base:   base,
		client: newClient(cfg.RequestTimeout, cfg.Retry, cfg.UserAgent),
	}, nil
}

// FetchPosts retrieves up to maxPosts posts from the named page, fetching
// at most maxTimelinePages timeline pages. Post nodes that carry no post id
// are skipped, never fatal.
func (s *Scraper) FetchPosts(ctx context.Context, page string, maxPosts, maxTimelinePages int) ([]Post, error) {
	if page == "" {
		return nil, fmt.Errorf("page name cannot be empty")
	}
	if maxTimelinePages <= 0 {
		maxTimelinePages = 1
	}

	pageURL := s.base.JoinPath(page).String() + "?v=timeline"
	var posts []Post

	for fetched := 0; fetched < maxTimelinePages && pageURL != ""; fetched++ {
		resp, err := s.client.get(ctx, pageURL)
		if err != nil {
			return posts, fmt.Errorf("fetch timeline for %s: %w", page, err)
		}

		pagePosts, nextURL, parseErr := ParseTimeline(resp.Body, s.base)
		resp.Body.Close()
		if parseErr != nil {
			return posts, fmt.Errorf("parse timeline for %s: %w", page, parseErr)
		}

		log.Debug().
			Str("page", page).
			Int("posts", len(pagePosts)).
			Bool("has_next", nextURL != "").
			Msg("Timeline page parsed")

		for _, p := range pagePosts {
			posts = append(posts, p)
			if maxPosts > 0 && len(posts) >= maxPosts {
				return posts, nil
			}
		}
		pageURL = nextURL
	}

	return posts, nil
}

// ParseTimeline extracts posts and the next-page URL from one timeline
// HTML document. Relative links are resolved against base.
func ParseTimeline(r io.Reader, base *url.URL) ([]Post, string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, "", fmt.Errorf("parse HTML: %w", err)
	}

	var posts []Post
	doc.Find("article[data-ft], div[data-ft]").Each(func(_ int, sel *goquery.Selection) {
		raw, ok := sel.Attr("data-ft")
		if !ok {
			return
		}

		postID, publishTime := parseDataFT(raw)
		if postID == "" {
			return // container without a top-level post id, e.g. nested share
		}

		post := Post{
			PostID: postID,
			Time:   publishTime,
			Text:   extractText(sel),
			Images: extractImages(sel),
			Video:  extractVideo(sel, base),
			URL:    extractPermalink(sel, base),
		}
		if post.URL == "" {
			// No permalink in the markup; synthesize one from the post id.
			post.URL = base.JoinPath(postID).String()
		}
		posts = append(posts, post)
	})

	nextURL := ""
	doc.Find("#structured_composer_async_container a[href], div#tlFeed a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		if strings.Contains(href, "cursor=") {
			nextURL = resolveURL(base, href)
			return false
		}
		return true
	})

	return posts, nextURL, nil
}

// dataFT mirrors the subset of the data-ft attribute payload we care about.
type dataFT struct {
	TopLevelPostID string `json:"top_level_post_id"`
	PageInsights   map[string]struct {
		PostContext struct {
			PublishTime int64 `json:"publish_time"`
		} `json:"post_context"`
	} `json:"page_insights"`
}

func parseDataFT(raw string) (string, time.Time) {
	var ft dataFT
	if err := json.Unmarshal([]byte(raw), &ft); err != nil {
		log.Warn().Err(err).Msg("Malformed data-ft attribute, skipping container")
		return "", time.Time{}
	}

	var publishTime time.Time
	for _, insight := range ft.PageInsights {
		if ts := insight.PostContext.PublishTime; ts > 0 {
			publishTime = time.Unix(ts, 0).UTC()
			break
		}
	}
	return ft.TopLevelPostID, publishTime
}

func extractText(sel *goquery.Selection) string {
	var paragraphs []string
	sel.Find("p").Each(func(_ int, p *goquery.Selection) {
		if text := strings.TrimSpace(p.Text()); text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	return strings.Join(paragraphs, "\n")
}

func extractImages(sel *goquery.Selection) []string {
	var images []string
	sel.Find("img[src]").Each(func(_ int, img *goquery.Selection) {
		src, _ := img.Attr("src")
		// Content images come from the scontent CDN; everything else is
		// chrome (emoji sprites, reaction icons).
		if strings.Contains(src, "scontent") {
			images = append(images, src)
		}
	})
	return images
}

func extractVideo(sel *goquery.Selection, base *url.URL) string {
	href, ok := sel.Find(`a[href*="video_redirect"]`).First().Attr("href")
	if !ok {
		return ""
	}
	redirect, err := url.Parse(resolveURL(base, href))
	if err != nil {
		return ""
	}
	if src := redirect.Query().Get("src"); src != "" {
		return src
	}
	return redirect.String()
}

func extractPermalink(sel *goquery.Selection, base *url.URL) string {
	href, ok := sel.Find(`a[href*="story.php"]`).First().Attr("href")
	if !ok {
		return ""
	}
	resolved, err := url.Parse(resolveURL(base, href))
	if err != nil {
		return ""
	}

	// Keep only the identifying parameters; the rest is click tracking.
	query := resolved.Query()
	cleaned := url.Values{}
	for _, key := range []string{"story_fbid", "id"} {
		if v := query.Get(key); v != "" {
			cleaned.Set(key, v)
		}
	}
	resolved.RawQuery = cleaned.Encode()
	return resolved.String()
}

func resolveURL(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
