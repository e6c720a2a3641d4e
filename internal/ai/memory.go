// Package ai implements bilingual response generation: conversation
// memory, language detection, prompt assembly, and the streaming
// response orchestrator in front of the Gemini backend.
package ai

import (
	"strings"
	"sync"
	"time"
)

// Message is one entry in the conversation memory.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Memory is a bounded conversation history used to build generation
// prompts. It retains at most 2×window messages (paired turns). Safe
// for concurrent use: the read loop may clear it while a generation
// goroutine is streaming.
type Memory struct {
	mu       sync.Mutex
	window   int
	messages []Message
}

// NewMemory creates a memory retaining window paired turns.
func NewMemory(window int) *Memory {
	return &Memory{window: window}
}

// Add appends a message, evicting the oldest entries beyond the window.
func (m *Memory) Add(role, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
	if max := m.window * 2; len(m.messages) > max {
		m.messages = m.messages[len(m.messages)-max:]
	}
}

// Messages returns a snapshot of the retained history, oldest first.
func (m *Memory) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// TurnCount returns the number of completed user/assistant pairs.
func (m *Memory) TurnCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages) / 2
}

// Clear drops the history.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
}

// String renders the history as "role: content" lines for prompts.
func (m *Memory) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var b strings.Builder
	for i, msg := range m.messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(msg.Role)
		b.WriteString(": ")
		b.WriteString(msg.Content)
	}
	return b.String()
}
