package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fbharvest/internal/database"
	"fbharvest/internal/models"
	"fbharvest/internal/storage"
)

func newTestBot(t *testing.T) (*Bot, storage.PostRepository) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := database.NewDB(database.NewConfig(dbPath))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := storage.NewRepository(db)
	bot, err := NewBot(db, repo, "test-key", "")
	require.NoError(t, err)
	return bot, repo
}

func seedPost(t *testing.T, repo storage.PostRepository, postID, text, summary string) {
	t.Helper()
	_, err := repo.InsertPost(context.Background(), &models.FBPost{
		PostID:   postID,
		PostURL:  "https://www.facebook.com/" + postID,
		PostTime: sql.NullTime{Time: time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC), Valid: true},
		Text:     models.NullString(text),
		Summary:  models.NullString(summary),
	})
	require.NoError(t, err)
}

func TestNewBotRequiresKey(t *testing.T) {
	_, err := NewBot(nil, nil, "", "")
	assert.Error(t, err)
}

func TestMemoryTrimsHistory(t *testing.T) {
	mem := newMemory()
	for i := 0; i < maxTurns*3; i++ {
		mem.remember("c1", "user", fmt.Sprintf("question %d", i))
		mem.remember("c1", "assistant", fmt.Sprintf("answer %d", i))
	}

	turns := mem.history("c1")
	require.Len(t, turns, maxTurns*2)
	// Oldest turns fall off the front.
	assert.Equal(t, fmt.Sprintf("answer %d", maxTurns*3-1), turns[len(turns)-1].Content)

	mem.reset("c1")
	assert.Empty(t, mem.history("c1"))
	// Resetting one conversation leaves others alone.
	mem.remember("c2", "user", "hello")
	mem.reset("c1")
	assert.Len(t, mem.history("c2"), 1)
}

func TestReplyResetClearsConversation(t *testing.T) {
	bot, _ := newTestBot(t)
	bot.mem.remember("c1", "user", "earlier question")

	answer, err := bot.Reply(context.Background(), "c1", "reset")
	require.NoError(t, err)
	assert.Equal(t, "Conversation context cleared.", answer)
	assert.Empty(t, bot.mem.history("c1"))
}

func TestReplyEmptyQuestion(t *testing.T) {
	bot, _ := newTestBot(t)
	_, err := bot.Reply(context.Background(), "c1", "   ")
	assert.Error(t, err)
}

func TestReplyRecentIntent(t *testing.T) {
	bot, repo := newTestBot(t)
	seedPost(t, repo, "p1", "Power restored in Toledo City.", "Power restored.")
	seedPost(t, repo, "p2", "Scheduled maintenance on Friday.", "Maintenance notice.")

	answer, err := bot.Reply(context.Background(), "c1", "What are the latest posts?")
	require.NoError(t, err)
	// Newest first, rendered from the summaries.
	assert.Contains(t, answer, "Maintenance notice.")
	assert.Contains(t, answer, "Power restored.")

	// The exchange lands in conversation memory.
	turns := bot.mem.history("c1")
	require.Len(t, turns, 2)
	assert.Equal(t, "user", turns[0].Role)
	assert.Equal(t, "assistant", turns[1].Role)
}

func TestReplyRecentIntentEmptyArchive(t *testing.T) {
	bot, _ := newTestBot(t)
	answer, err := bot.Reply(context.Background(), "c1", "show me the newest post")
	require.NoError(t, err)
	assert.Equal(t, "No posts have been harvested yet.", answer)
}

func TestTopPosts(t *testing.T) {
	posts := []models.FBPost{
		{PostID: "a", Text: models.NullString("Scheduled power interruption in Balamban this weekend.")},
		{PostID: "b", Text: models.NullString("Board election results announced.")},
		{PostID: "c", Summary: models.NullString("Power interruption notice for Asturias, interruption ends at noon.")},
	}

	top := topPosts(posts, "When is the power interruption?", 2)
	require.Len(t, top, 2)
	// Both mention "power" and "interruption"; ties keep input order.
	assert.Equal(t, "a", top[0].PostID)
	assert.Equal(t, "c", top[1].PostID)

	assert.Empty(t, topPosts(posts, "typhoon signal", 2))
	assert.Empty(t, topPosts(posts, "a an of", 2))
}

func TestQueryTerms(t *testing.T) {
	terms := queryTerms("When is the next Brownout, exactly?")
	assert.Equal(t, []string{"when", "the", "next", "brownout", "exactly"}, terms)
}

func TestExecuteSQL(t *testing.T) {
	bot, repo := newTestBot(t)
	seedPost(t, repo, "p1", "first post", "sum one")
	seedPost(t, repo, "p2", "second post", "sum two")

	out, err := bot.executeSQL(context.Background(), "SELECT post_id FROM FBPosts ORDER BY id")
	require.NoError(t, err)

	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "p1", rows[0]["post_id"])
	assert.Equal(t, "p2", rows[1]["post_id"])

	out, err = bot.executeSQL(context.Background(), "SELECT COUNT(*) AS n FROM FBPosts")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"n":2}]`, out)
}

func TestExecuteSQLRejectsWrites(t *testing.T) {
	bot, repo := newTestBot(t)
	seedPost(t, repo, "p1", "first post", "")

	for _, query := range []string{
		"DELETE FROM FBPosts",
		"  drop table FBPosts",
		"INSERT INTO FBPosts (post_id, post_url) VALUES ('x', 'y')",
		"UPDATE FBPosts SET text = 'gone'",
	} {
		_, err := bot.executeSQL(context.Background(), query)
		assert.Error(t, err, query)
	}

	// The rejected statements never ran.
	count, err := storage.NewRepository(bot.db).CountPosts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestExcerpt(t *testing.T) {
	post := models.FBPost{
		PostURL:  "https://www.facebook.com/story.php?id=1",
		PostTime: sql.NullTime{Time: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC), Valid: true},
		Summary:  models.NullString("A short summary."),
	}
	got := excerpt(post)
	assert.Contains(t, got, "2025-05-01")
	assert.Contains(t, got, "https://www.facebook.com/story.php?id=1")
	assert.Contains(t, got, "A short summary.")

	// Without a summary the text is used, without either a placeholder.
	post.Summary = models.NullString("")
	post.Text = models.NullString("Raw post text.")
	assert.Contains(t, excerpt(post), "Raw post text.")

	post.Text = models.NullString("")
	assert.Contains(t, excerpt(post), "(no text)")
}
