package services

import "github.com/MegaGrindStone/maya-chat/internal/models"

// LLMParameters holds the optional sampling parameters shared by the LLM providers. A nil field
// leaves the provider's default in place.
type LLMParameters struct {
	Temperature *float32 `yaml:"temperature"`
	TopP        *float32 `yaml:"topP"`
	Stop        []string `yaml:"stop"`
}

const errLoggerKey = "err"

// conversation keeps the user and assistant turns of messages, the only roles a provider knows
// about. Empty turns are dropped.
func conversation(messages []models.Message) []models.Message {
	msgs := make([]models.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role != models.RoleUser && msg.Role != models.RoleAssistant {
			continue
		}
		if msg.Text == "" {
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs
}
