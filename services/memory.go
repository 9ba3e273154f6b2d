package services

import (
	"sync"

	"github.com/diaflow/diaflow/domain"
)

// ConversationMemory keeps per-person conversation history within an
// execution. person_job handlers append their turns here so later
// iterations see the full exchange.
type ConversationMemory struct {
	mu       sync.RWMutex
	sessions map[sessionKey][]Message
}

type sessionKey struct {
	executionID domain.ExecutionID
	personID    string
}

// NewConversationMemory creates an empty memory store
func NewConversationMemory() *ConversationMemory {
	return &ConversationMemory{
		sessions: make(map[sessionKey][]Message),
	}
}

// Append records one turn in the person's conversation
func (m *ConversationMemory) Append(executionID domain.ExecutionID, personID string, msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sessionKey{executionID, personID}
	m.sessions[key] = append(m.sessions[key], msg)
}

// History returns a copy of the person's conversation so far
func (m *ConversationMemory) History(executionID domain.ExecutionID, personID string) []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.sessions[sessionKey{executionID, personID}]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Forget drops every conversation belonging to the execution
func (m *ConversationMemory) Forget(executionID domain.ExecutionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.sessions {
		if key.executionID == executionID {
			delete(m.sessions, key)
		}
	}
}
