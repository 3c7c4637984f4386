package shared

import (
	"time"
)

// TokenUsage tracks the tokens consumed by a generative-model request.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Model            string
}

// AgentMeta holds operational metadata for one model-backed stage execution.
type AgentMeta struct {
	AgentName string
	Usage     TokenUsage
	Latency   time.Duration
}

// HasUsage reports whether the execution consumed any tokens.
func (m AgentMeta) HasUsage() bool {
	return m.Usage.PromptTokens > 0 || m.Usage.CompletionTokens > 0 || m.Usage.TotalTokens > 0
}
