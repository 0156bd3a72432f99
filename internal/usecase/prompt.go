package usecase

import (
	"strings"

	"voice-turn/internal/domain"
)

// windowMessages returns the last 2*pairs entries of history. A negative
// pairs value means the whole history.
func windowMessages(history []domain.Message, pairs int) []domain.Message {
	if pairs < 0 {
		return history
	}
	n := 2 * pairs
	if n >= len(history) {
		return history
	}
	return history[len(history)-n:]
}

// buildPromptMessages prepends exactly one system message to the window and
// appends the new user utterance. Timestamps are dropped.
func buildPromptMessages(systemPrompt string, window []domain.Message, utterance string) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, len(window)+2)
	messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: systemPrompt})
	for _, m := range window {
		messages = append(messages, m.Chat())
	}
	return append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: utterance})
}

func resolvePrompt(cfg domain.UserConfig, def string) string {
	if cfg.SystemPrompt != nil && strings.TrimSpace(*cfg.SystemPrompt) != "" {
		return *cfg.SystemPrompt
	}
	return def
}

func resolveInt(v *int, def int) int {
	if v != nil {
		return *v
	}
	return def
}
