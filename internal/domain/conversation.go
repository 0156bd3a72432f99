package domain

import (
	"errors"
	"time"
)

// ErrHistoryConflict reports that the stored history changed between the
// read and the write of a turn.
var ErrHistoryConflict = errors.New("history was modified concurrently")

// Message is a single persisted conversation entry.
// A zero Timestamp means the stored value was missing or unreadable.
type Message struct {
	Role      string
	Content   string
	Timestamp time.Time
}

// Chat strips the message down to what a reply generator accepts.
func (m Message) Chat() ChatMessage {
	return ChatMessage{Role: m.Role, Content: m.Content}
}

// History is a user's full conversation, oldest first. Version is the
// stored revision the history was read at; zero means nothing is stored yet.
type History struct {
	Messages []Message
	Version  int64
}

// UserConfig holds per-user overrides. Nil fields fall back to defaults.
type UserConfig struct {
	SystemPrompt       *string
	ActiveMessageLimit *int
	DailyRateLimit     *int
	Whitelist          *bool
}
