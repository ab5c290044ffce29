package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const timelineFixture = `<html><body>
<div id="tlFeed">
<article data-ft='{"top_level_post_id":"100200300","page_insights":{"555":{"post_context":{"publish_time":1715942400}}}}'>
  <p>First paragraph.</p>
  <p>Second paragraph.</p>
  <img src="https://scontent.xx.fbcdn.net/v/t1/photo1.jpg" />
  <img src="https://static.xx.fbcdn.net/images/emoji.png" />
  <a href="/story.php?story_fbid=100200300&amp;id=555&amp;refid=17">Full Story</a>
</article>
<div data-ft='{"top_level_post_id":"400500600"}'>
  <a href="/video_redirect/?src=https%3A%2F%2Fvideo.example%2Fclip.mp4">Video</a>
  <a href="/story.php?story_fbid=400500600&amp;id=555">Full Story</a>
</div>
<div data-ft='{"qid":"-123","mf_story_key":"0"}'><p>nested share container</p></div>
</div>
<div id="structured_composer_async_container">
<a href="/SomePage?v=timeline&amp;cursor=AQHRabc123">See more stories</a>
</div>
</body></html>`

func mustBase(t *testing.T) *url.URL {
	t.Helper()
	base, err := url.Parse("https://mbasic.facebook.com")
	require.NoError(t, err)
	return base
}

func TestParseTimeline(t *testing.T) {
	posts, nextURL, err := ParseTimeline(strings.NewReader(timelineFixture), mustBase(t))
	require.NoError(t, err)
	require.Len(t, posts, 2)

	first := posts[0]
	assert.Equal(t, "100200300", first.PostID)
	assert.Equal(t, time.Unix(1715942400, 0).UTC(), first.Time)
	assert.Equal(t, "First paragraph.\nSecond paragraph.", first.Text)
	require.Len(t, first.Images, 1)
	assert.Equal(t, "https://scontent.xx.fbcdn.net/v/t1/photo1.jpg", first.Images[0])
	assert.Empty(t, first.Video)
	// Tracking params are stripped from the permalink.
	assert.Equal(t, "https://mbasic.facebook.com/story.php?id=555&story_fbid=100200300", first.URL)

	second := posts[1]
	assert.Equal(t, "400500600", second.PostID)
	assert.True(t, second.Time.IsZero())
	assert.Empty(t, second.Text)
	assert.Equal(t, "https://video.example/clip.mp4", second.Video)

	assert.Contains(t, nextURL, "cursor=AQHRabc123")
	assert.True(t, strings.HasPrefix(nextURL, "https://mbasic.facebook.com/"))
}

func TestParseTimelineNoPosts(t *testing.T) {
	posts, nextURL, err := ParseTimeline(strings.NewReader("<html><body><div>nothing here</div></body></html>"), mustBase(t))
	require.NoError(t, err)
	assert.Empty(t, posts)
	assert.Empty(t, nextURL)
}

func TestParseDataFT(t *testing.T) {
	postID, publishTime := parseDataFT(`{"top_level_post_id":"42","page_insights":{"9":{"post_context":{"publish_time":1700000000}}}}`)
	assert.Equal(t, "42", postID)
	assert.Equal(t, int64(1700000000), publishTime.Unix())

	// Malformed JSON is skipped, not fatal.
	postID, publishTime = parseDataFT(`{"top_level_post_id":`)
	assert.Empty(t, postID)
	assert.True(t, publishTime.IsZero())

	// No publish time exposed.
	postID, publishTime = parseDataFT(`{"top_level_post_id":"7"}`)
	assert.Equal(t, "7", postID)
	assert.True(t, publishTime.IsZero())
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	_, err := New(Config{BaseURL: "://bad"})
	assert.Error(t, err)
}

// timelineHTML renders a minimal timeline document with one container per
// post id and, when nextCursor is set, a "see more" pagination link.
func timelineHTML(postIDs []string, nextCursor string) string {
	var sb strings.Builder
	sb.WriteString("<html><body><div id=\"tlFeed\">\n")
	for _, id := range postIDs {
		fmt.Fprintf(&sb, `<article data-ft='{"top_level_post_id":"%s"}'><p>post %s</p>`, id, id)
		fmt.Fprintf(&sb, `<a href="/story.php?story_fbid=%s&amp;id=555">Full Story</a></article>`+"\n", id)
	}
	sb.WriteString("</div>\n")
	if nextCursor != "" {
		sb.WriteString(`<div id="structured_composer_async_container">`)
		fmt.Fprintf(&sb, `<a href="/TestPage?v=timeline&amp;cursor=%s">See more stories</a>`, nextCursor)
		sb.WriteString("</div>\n")
	}
	sb.WriteString("</body></html>")
	return sb.String()
}

// newTimelineServer serves three linked timeline pages of two posts each
// and counts the requests it receives.
func newTimelineServer(t *testing.T) (*Scraper, *atomic.Int64) {
	t.Helper()

	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		switch r.URL.Query().Get("cursor") {
		case "":
			fmt.Fprint(w, timelineHTML([]string{"a1", "a2"}, "CUR2"))
		case "CUR2":
			fmt.Fprint(w, timelineHTML([]string{"b1", "b2"}, "CUR3"))
		default:
			fmt.Fprint(w, timelineHTML([]string{"c1", "c2"}, ""))
		}
	}))
	t.Cleanup(srv.Close)

	sc, err := New(Config{BaseURL: srv.URL, RequestTimeout: 5 * time.Second})
	require.NoError(t, err)
	return sc, &requests
}

func TestFetchPostsFollowsPagination(t *testing.T) {
	sc, requests := newTimelineServer(t)

	posts, err := sc.FetchPosts(context.Background(), "TestPage", 10, 2)
	require.NoError(t, err)
	require.Len(t, posts, 4)
	assert.Equal(t, "a1", posts[0].PostID)
	assert.Equal(t, "b2", posts[3].PostID)
	// The cursor link was followed once and the page cap stopped the walk
	// even though the second page advertised another cursor.
	assert.Equal(t, int64(2), requests.Load())
}

func TestFetchPostsSingleTimelinePage(t *testing.T) {
	sc, requests := newTimelineServer(t)

	posts, err := sc.FetchPosts(context.Background(), "TestPage", 10, 1)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, int64(1), requests.Load())
}

func TestFetchPostsTruncatesMidPage(t *testing.T) {
	sc, requests := newTimelineServer(t)

	posts, err := sc.FetchPosts(context.Background(), "TestPage", 3, 3)
	require.NoError(t, err)
	require.Len(t, posts, 3)
	assert.Equal(t, "b1", posts[2].PostID)
	// The limit was hit halfway through the second page, so the third was
	// never requested.
	assert.Equal(t, int64(2), requests.Load())
}

func TestFetchPostsRetriesFailedFetch(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			http.Error(w, "try again", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, timelineHTML([]string{"r1"}, ""))
	}))
	defer srv.Close()

	sc, err := New(Config{BaseURL: srv.URL, RequestTimeout: 5 * time.Second, Retry: 2})
	require.NoError(t, err)

	posts, err := sc.FetchPosts(context.Background(), "TestPage", 10, 1)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "r1", posts[0].PostID)
	assert.Equal(t, int64(2), requests.Load())
}

func TestFetchPostsExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	sc, err := New(Config{BaseURL: srv.URL, RequestTimeout: 5 * time.Second, Retry: 1})
	require.NoError(t, err)

	_, err = sc.FetchPosts(context.Background(), "TestPage", 10, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestFetchPostsEmptyPageName(t *testing.T) {
	sc, _ := newTimelineServer(t)
	_, err := sc.FetchPosts(context.Background(), "", 10, 1)
	assert.Error(t, err)
}
