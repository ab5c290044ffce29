package chat

import (
	"sort"
	"strings"

	"fbharvest/internal/models"
)

const (
	// retrievalPool is how many of the newest posts are considered when
	// grounding an answer.
	retrievalPool = 50
	// retrievalTop is how many matching posts end up in the prompt.
	retrievalTop = 3
)

// queryTerms splits a question into lowercase search terms. Short tokens
// carry no signal and are dropped.
func queryTerms(question string) []string {
	var terms []string
	for _, field := range strings.Fields(strings.ToLower(question)) {
		field = strings.Trim(field, ".,!?\"'()")
		if len(field) >= 3 {
			terms = append(terms, field)
		}
	}
	return terms
}

// scorePost counts how many query terms occur in the post's text and
// summary.
func scorePost(post models.FBPost, terms []string) int {
	haystack := strings.ToLower(post.Text.String + "\n" + post.Summary.String)
	score := 0
	for _, term := range terms {
		if strings.Contains(haystack, term) {
			score++
		}
	}
	return score
}

// topPosts returns up to k posts ranked by term overlap with the question.
// Posts matching no term are excluded; ties keep the newest-first input
// order.
func topPosts(posts []models.FBPost, question string, k int) []models.FBPost {
	terms := queryTerms(question)
	if len(terms) == 0 {
		return nil
	}

	type scored struct {
		post  models.FBPost
		score int
	}
	var matches []scored
	for _, post := range posts {
		if s := scorePost(post, terms); s > 0 {
			matches = append(matches, scored{post: post, score: s})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	out := make([]models.FBPost, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.post)
	}
	return out
}

// excerpt renders one post as a prompt context block. The summary stands
// in for the full text when available.
func excerpt(post models.FBPost) string {
	var sb strings.Builder
	if post.PostTime.Valid {
		sb.WriteString(post.PostTime.Time.UTC().Format("2006-01-02"))
		sb.WriteString(" ")
	}
	sb.WriteString(post.PostURL)
	sb.WriteString("\n")

	switch {
	case post.Summary.Valid && post.Summary.String != "":
		sb.WriteString(post.Summary.String)
	case post.Text.Valid && post.Text.String != "":
		text := post.Text.String
		if runes := []rune(text); len(runes) > 500 {
			text = string(runes[:500]) + "…"
		}
		sb.WriteString(text)
	default:
		sb.WriteString("(no text)")
	}
	return sb.String()
}
