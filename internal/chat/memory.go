package chat

import "sync"

// maxTurns is the number of question/answer exchanges kept per conversation.
const maxTurns = 10

// Turn is one utterance in a conversation.
type Turn struct {
	Role    string // "user" or "assistant"
	Content string
}

// memory keeps a bounded per-conversation history. Conversations live in
// process memory only; a restart starts everyone fresh.
type memory struct {
	mu    sync.Mutex
	turns map[string][]Turn
}

func newMemory() *memory {
	return &memory{turns: make(map[string][]Turn)}
}

func (m *memory) remember(conversationID, role, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	turns := append(m.turns[conversationID], Turn{Role: role, Content: content})
	if len(turns) > maxTurns*2 {
		turns = turns[len(turns)-maxTurns*2:]
	}
	m.turns[conversationID] = turns
}

func (m *memory) history(conversationID string) []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()

	turns := m.turns[conversationID]
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

func (m *memory) reset(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.turns, conversationID)
}
