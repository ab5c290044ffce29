package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"fbharvest/internal/database"
	"fbharvest/internal/models"
)

// ErrDuplicatePost is returned when an insert collides with an existing
// post_id. The stored row is left untouched.
var ErrDuplicatePost = errors.New("post_id already exists")

// ErrNotFound is returned when no post matches the requested identifier.
var ErrNotFound = errors.New("post not found")

// PostRepository defines operations for accessing FBPosts rows.
type PostRepository interface {
	InsertPost(ctx context.Context, post *models.FBPost) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.FBPost, error)
	GetByPostID(ctx context.Context, postID string) (*models.FBPost, error)
	FetchPosts(ctx context.Context, limit int, afterID *int64) ([]models.FBPost, error)
	RecentPosts(ctx context.Context, limit int) ([]models.FBPost, error)
	CountPosts(ctx context.Context) (int64, error)
}

// sqlxRepository implements PostRepository using sqlx.
type sqlxRepository struct {
	db *database.DB
}

// NewRepository creates a new repository instance.
func NewRepository(db *database.DB) PostRepository {
	return &sqlxRepository{db: db}
}

// InsertPost inserts a new post and returns the assigned surrogate id.
// Repeated observations of the same post_id fail with ErrDuplicatePost;
// the policy is insert-only, never overwrite.
func (r *sqlxRepository) InsertPost(ctx context.Context, post *models.FBPost) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO FBPosts (post_id, post_url, post_time, text, summary, attachments)
		VALUES (?, ?, ?, ?, ?, ?)`,
		post.PostID, post.PostURL, post.PostTime,
		post.Text, post.Summary, post.Attachments,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return 0, fmt.Errorf("insert post %s: %w", post.PostID, ErrDuplicatePost)
		}
		return 0, fmt.Errorf("insert post %s: %w", post.PostID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id for post %s: %w", post.PostID, err)
	}
	post.ID = id
	return id, nil
}

// GetByID fetches a post by its surrogate id.
func (r *sqlxRepository) GetByID(ctx context.Context, id int64) (*models.FBPost, error) {
	var post models.FBPost
	err := r.db.GetContext(ctx, &post, `SELECT * FROM FBPosts WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query post id %d: %w", id, err)
	}
	return &post, nil
}

// GetByPostID fetches a post by its external post_id.
func (r *sqlxRepository) GetByPostID(ctx context.Context, postID string) (*models.FBPost, error) {
	var post models.FBPost
	err := r.db.GetContext(ctx, &post, `SELECT * FROM FBPosts WHERE post_id = ?`, postID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query post_id %s: %w", postID, err)
	}
	return &post, nil
}

// FetchPosts retrieves posts ordered by surrogate id, optionally after a
// cursor id. The surrogate id is the sort key for cursor pagination: it is
// assigned monotonically so id order is insertion order.
func (r *sqlxRepository) FetchPosts(ctx context.Context, limit int, afterID *int64) ([]models.FBPost, error) {
	var posts []models.FBPost
	var query string
	var args []any

	if afterID != nil {
		query = `SELECT * FROM FBPosts WHERE id > ? ORDER BY id ASC LIMIT ?`
		args = append(args, *afterID, limit)
	} else {
		query = `SELECT * FROM FBPosts ORDER BY id ASC LIMIT ?`
		args = append(args, limit)
	}

	err := r.db.SelectContext(ctx, &posts, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []models.FBPost{}, nil // Return empty slice, not error
		}
		return nil, fmt.Errorf("database query failed: %w", err)
	}

	return posts, nil
}

// RecentPosts retrieves the most recently stored posts, newest first.
func (r *sqlxRepository) RecentPosts(ctx context.Context, limit int) ([]models.FBPost, error) {
	var posts []models.FBPost
	err := r.db.SelectContext(ctx, &posts, `SELECT * FROM FBPosts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []models.FBPost{}, nil
		}
		return nil, fmt.Errorf("query recent posts: %w", err)
	}
	return posts, nil
}

// CountPosts returns the number of stored posts.
func (r *sqlxRepository) CountPosts(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM FBPosts`); err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	return count, nil
}
