package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/xid"
	"github.com/rs/zerolog/hlog"
)

// Responder answers a question within a conversation.
type Responder interface {
	Reply(ctx context.Context, conversationID, question string) (string, error)
}

// AskRequest is the request body for the ask endpoint. ConversationID ties
// follow-up questions to earlier ones; when omitted the server assigns one.
type AskRequest struct {
	ConversationID string `json:"conversation_id"`
	Question       string `json:"question"`
}

// AskResponse carries the answer and the conversation id to reuse on the
// next question.
type AskResponse struct {
	ConversationID string `json:"conversation_id"`
	Answer         string `json:"answer"`
}

// AskHandler serves conversational questions about the stored posts.
type AskHandler struct {
	bot Responder
}

// NewAskHandler creates a handler around the given Responder. A nil
// Responder keeps the route registered but answers 503, so clients get a
// clear signal when no model is configured.
func NewAskHandler(bot Responder) *AskHandler {
	return &AskHandler{bot: bot}
}

// Ask handles a single question within a conversation.
func (h *AskHandler) Ask(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	if h.bot == nil {
		http.Error(w, "Ask endpoint disabled: no OpenAI API key configured", http.StatusServiceUnavailable)
		return
	}

	var req AskRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		log.Warn().Err(err).Msg("Invalid ask request body")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Question == "" {
		http.Error(w, "Missing 'question' field", http.StatusBadRequest)
		return
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = xid.New().String()
	}

	answer, err := h.bot.Reply(r.Context(), conversationID, req.Question)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", conversationID).Msg("Error generating answer")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, r, http.StatusOK, AskResponse{
		ConversationID: conversationID,
		Answer:         answer,
	})
}
