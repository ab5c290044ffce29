package models

import "database/sql"

// FBPost represents a row in the FBPosts table. The surrogate id is
// assigned by SQLite on insert and never reused; post_id is the
// platform-assigned identifier and is unique across all rows.
type FBPost struct {
	ID          int64          `db:"id"`
	PostID      string         `db:"post_id"`
	PostURL     string         `db:"post_url"`
	PostTime    sql.NullTime   `db:"post_time"`
	Text        sql.NullString `db:"text"`
	Summary     sql.NullString `db:"summary"`
	Attachments sql.NullString `db:"attachments"`
}

// NullString builds a sql.NullString that is NULL for the empty string.
func NullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
