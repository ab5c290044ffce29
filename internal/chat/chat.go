// Package chat answers free-form questions about harvested posts. Answers
// are grounded on the stored posts two ways: matching posts are quoted
// into the prompt, and the model may call a read-only SQL tool for
// questions the excerpts cannot answer, such as counts or date ranges.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/rs/zerolog/log"

	"fbharvest/internal/database"
	"fbharvest/internal/models"
	"fbharvest/internal/storage"
)

// maxSQLRows caps how many rows a tool call feeds back into the prompt.
const maxSQLRows = 50

const systemPrompt = `You are an assistant for an archive of posts harvested from public Facebook pages.
Answer questions using the post excerpts below when they are relevant.
For counting or date questions you may call execute_sql with a read-only SELECT against the FBPosts table.
If neither the excerpts nor the table can answer the question, say so instead of guessing.`

// Bot generates replies over the stored posts.
type Bot struct {
	db     *database.DB
	repo   storage.PostRepository
	client openai.Client
	model  string
	mem    *memory
}

// NewBot creates a Bot backed by the OpenAI chat completions API.
func NewBot(db *database.DB, repo storage.PostRepository, apiKey, model string) (*Bot, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key cannot be empty")
	}
	if model == "" {
		model = string(openai.ChatModelGPT3_5Turbo)
	}
	return &Bot{
		db:     db,
		repo:   repo,
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		mem:    newMemory(),
	}, nil
}

// Reply answers a question within the named conversation. The literal
// messages "reset" and "restart" clear the conversation history instead
// of producing an answer.
func (b *Bot) Reply(ctx context.Context, conversationID, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("question cannot be empty")
	}

	switch strings.ToLower(question) {
	case "reset", "restart":
		b.mem.reset(conversationID)
		return "Conversation context cleared.", nil
	}

	// Latest-posts questions are answered straight from the archive.
	if isRecentIntent(question) {
		answer, err := b.recentAnswer(ctx)
		if err != nil {
			return "", err
		}
		b.mem.remember(conversationID, "user", question)
		b.mem.remember(conversationID, "assistant", answer)
		return answer, nil
	}

	answer, err := b.generate(ctx, conversationID, question)
	if err != nil {
		return "", err
	}

	b.mem.remember(conversationID, "user", question)
	b.mem.remember(conversationID, "assistant", answer)
	return answer, nil
}

// isRecentIntent reports whether the question asks for the newest posts.
func isRecentIntent(question string) bool {
	q := strings.ToLower(question)
	for _, marker := range []string{"latest post", "latest posts", "recent post", "recent posts", "newest post", "newest posts", "last post", "last posts"} {
		if strings.Contains(q, marker) {
			return true
		}
	}
	return false
}

// recentAnswer lists the newest stored posts without calling the model.
func (b *Bot) recentAnswer(ctx context.Context) (string, error) {
	posts, err := b.repo.RecentPosts(ctx, 5)
	if err != nil {
		return "", fmt.Errorf("fetch recent posts: %w", err)
	}
	if len(posts) == 0 {
		return "No posts have been harvested yet.", nil
	}

	var sb strings.Builder
	sb.WriteString("Here are the most recent posts:\n")
	for _, post := range posts {
		sb.WriteString("- ")
		sb.WriteString(excerpt(post))
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// generate runs the retrieval-augmented completion, resolving at most one
// round of tool calls.
func (b *Bot) generate(ctx context.Context, conversationID, question string) (string, error) {
	pool, err := b.repo.RecentPosts(ctx, retrievalPool)
	if err != nil {
		return "", fmt.Errorf("fetch retrieval pool: %w", err)
	}

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(buildSystemPrompt(topPosts(pool, question, retrievalTop))),
	}
	for _, turn := range b.mem.history(conversationID) {
		if turn.Role == "user" {
			messages = append(messages, openai.UserMessage(turn.Content))
		} else {
			messages = append(messages, openai.AssistantMessage(turn.Content))
		}
	}
	messages = append(messages, openai.UserMessage(question))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(b.model),
		Messages: messages,
		Tools:    []openai.ChatCompletionToolUnionParam{sqlTool()},
	}

	resp, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	msg := resp.Choices[0].Message
	if len(msg.ToolCalls) == 0 {
		return strings.TrimSpace(msg.Content), nil
	}

	params.Messages = append(params.Messages, msg.ToParam())
	for _, call := range msg.ToolCalls {
		params.Messages = append(params.Messages, openai.ToolMessage(b.runToolCall(ctx, call), call.ID))
	}

	followup, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion after tool call: %w", err)
	}
	if len(followup.Choices) == 0 {
		return "", fmt.Errorf("chat completion after tool call returned no choices")
	}
	return strings.TrimSpace(followup.Choices[0].Message.Content), nil
}

func buildSystemPrompt(posts []models.FBPost) string {
	var sb strings.Builder
	sb.WriteString(systemPrompt)
	if len(posts) > 0 {
		sb.WriteString("\n\nPost excerpts:")
		for _, post := range posts {
			sb.WriteString("\n---\n")
			sb.WriteString(excerpt(post))
		}
	}
	return sb.String()
}

func sqlTool() openai.ChatCompletionToolUnionParam {
	return openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
		Name: "execute_sql",
		Description: openai.String(
			"Run a read-only SELECT against the FBPosts table and return the rows as JSON. " +
				"Columns: id, post_id, post_url, post_time, text, summary, attachments. " +
				"Only SELECT statements are allowed."),
		Parameters: openai.FunctionParameters{
			"type": "object",
			"properties": map[string]any{
				"sql": map[string]any{
					"type":        "string",
					"description": "A SELECT statement against FBPosts.",
				},
			},
			"required": []string{"sql"},
		},
	})
}

// runToolCall executes one tool call and renders its outcome for the
// follow-up prompt. Failures go back to the model as an error payload so
// it can tell the user instead of the request dying.
func (b *Bot) runToolCall(ctx context.Context, call openai.ChatCompletionMessageToolCallUnion) string {
	if call.Function.Name != "execute_sql" {
		return fmt.Sprintf(`{"error":"unknown tool %s"}`, call.Function.Name)
	}

	var args struct {
		SQL string `json:"sql"`
	}
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		return `{"error":"malformed tool arguments"}`
	}

	result, err := b.executeSQL(ctx, args.SQL)
	if err != nil {
		log.Warn().Err(err).Str("sql", args.SQL).Msg("Tool query rejected")
		payload, _ := json.Marshal(map[string]string{"error": err.Error()})
		return string(payload)
	}
	return result
}

// executeSQL runs a SELECT and returns the rows as a JSON array. Anything
// that is not a SELECT is rejected before touching the database.
func (b *Bot) executeSQL(ctx context.Context, query string) (string, error) {
	trimmed := strings.TrimSpace(query)
	if !strings.HasPrefix(strings.ToLower(trimmed), "select") {
		return "", fmt.Errorf("only SELECT queries are allowed")
	}

	rows, err := b.db.QueryxContext(ctx, trimmed)
	if err != nil {
		return "", fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	out := make([]map[string]any, 0, 8)
	for rows.Next() && len(out) < maxSQLRows {
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			return "", fmt.Errorf("scan row: %w", err)
		}
		for k, v := range row {
			if bs, ok := v.([]byte); ok {
				row[k] = string(bs)
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("read rows: %w", err)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("encode rows: %w", err)
	}
	return string(data), nil
}
