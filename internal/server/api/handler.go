package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/hlog"

	"fbharvest/internal/models"
	"fbharvest/internal/server/pagination"
	"fbharvest/internal/storage"
)

const defaultLimit = 100
const maxLimit = 1000

// Post is the JSON rendering of an FBPosts row. Nullable columns are
// pointers so absent values serialize as null.
type Post struct {
	ID          int64      `json:"id"`
	PostID      string     `json:"post_id"`
	PostURL     string     `json:"post_url"`
	PostTime    *time.Time `json:"post_time"`
	Text        *string    `json:"text"`
	Summary     *string    `json:"summary"`
	Attachments *string    `json:"attachments"`
}

// Response structure for the posts listing endpoint
type Response struct {
	Posts      []Post  `json:"posts"`
	NextCursor *string `json:"next_cursor,omitempty"`
}

// PostsHandler holds dependencies for the API handlers.
type PostsHandler struct {
	repo storage.PostRepository
}

// NewPostsHandler creates a new handler instance.
func NewPostsHandler(repo storage.PostRepository) *PostsHandler {
	return &PostsHandler{
		repo: repo,
	}
}

// ListPosts handles requests to fetch stored posts in insertion order.
func (h *PostsHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	log.Debug().Msg("Processing posts listing request")

	ctx := r.Context()

	query := r.URL.Query()
	limitStr := query.Get("limit")
	cursorStr := query.Get("cursor")

	limit := defaultLimit
	if limitStr != "" {
		parsedLimit, err := strconv.Atoi(limitStr)
		if err != nil || parsedLimit <= 0 || parsedLimit > maxLimit {
			log.Warn().Err(err).Str("limit", limitStr).Msg("Invalid 'limit' parameter value")
			http.Error(w, fmt.Sprintf("Invalid 'limit' parameter: must be between 1 and %d", maxLimit), http.StatusBadRequest)
			return
		}
		limit = parsedLimit
	}

	var afterID *int64
	if cursorStr != "" {
		id, err := pagination.DecodeCursor(cursorStr)
		if err != nil {
			log.Warn().Err(err).Str("cursor", cursorStr).Msg("Invalid 'cursor' parameter")
			http.Error(w, "Invalid 'cursor' parameter", http.StatusBadRequest)
			return
		}
		afterID = &id
	}

	rows, err := h.repo.FetchPosts(ctx, limit+1, afterID) // Fetch one extra
	if err != nil {
		log.Error().Err(err).Str("cursor", cursorStr).Msg("Error fetching posts from repository")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	var nextCursorStr *string
	hasNextPage := len(rows) > limit
	actualRows := rows
	if hasNextPage {
		actualRows = rows[:limit]
		if len(actualRows) > 0 {
			cursor := pagination.EncodeCursor(actualRows[len(actualRows)-1].ID)
			nextCursorStr = &cursor
		}
	}

	posts := make([]Post, 0, len(actualRows))
	for _, row := range actualRows {
		posts = append(posts, toAPIPost(&row))
	}

	writeJSON(w, r, http.StatusOK, Response{
		Posts:      posts,
		NextCursor: nextCursorStr,
	})
}

// GetPost handles requests for a single post by its external post_id.
func (h *PostsHandler) GetPost(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	postID := r.PathValue("post_id")
	if postID == "" {
		http.Error(w, "Missing post_id", http.StatusBadRequest)
		return
	}

	row, err := h.repo.GetByPostID(r.Context(), postID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Debug().Str("post_id", postID).Msg("Post not found")
			http.Error(w, "Post not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("post_id", postID).Msg("Error fetching post from repository")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, r, http.StatusOK, toAPIPost(row))
}

func toAPIPost(row *models.FBPost) Post {
	post := Post{
		ID:      row.ID,
		PostID:  row.PostID,
		PostURL: row.PostURL,
	}
	if row.PostTime.Valid {
		t := row.PostTime.Time.UTC()
		post.PostTime = &t
	}
	if row.Text.Valid {
		post.Text = &row.Text.String
	}
	if row.Summary.Valid {
		post.Summary = &row.Summary.String
	}
	if row.Attachments.Valid {
		post.Attachments = &row.Attachments.String
	}
	return post
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	log := hlog.FromRequest(r)

	jsonBytes, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Error marshaling JSON response")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, writeErr := w.Write(jsonBytes); writeErr != nil {
		log.Error().Err(writeErr).Msg("Error writing JSON response body to client")
		// Cannot reliably send a different status code here.
	}
	log.Debug().Int("bytes_written", len(jsonBytes)).Msg("Response completed")
}
