// Package types holds the wire-level request and response shapes shared by
// providers, pipelines, and the engine facade.
package types

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is the uniform payload sent to an AI provider. Provider-specific
// protocol details stay behind the llm.Provider boundary.
type Request struct {
	Model           string    `json:"model,omitempty"`
	SystemPrompt    string    `json:"systemPrompt,omitempty"`
	Messages        []Message `json:"messages"`
	MaxOutputTokens int       `json:"maxOutputTokens,omitempty"`
	Temperature     *float64  `json:"temperature,omitempty"`
}

type Usage struct {
	InputTokens  int `json:"inputTokens,omitempty"`
	OutputTokens int `json:"outputTokens,omitempty"`
	TotalTokens  int `json:"totalTokens,omitempty"`
}

type Response struct {
	Message Message `json:"message"`
	Usage   *Usage  `json:"usage,omitempty"`
}

// Citation points an answer back at the source chunk it was synthesized from.
type Citation struct {
	ChunkID  string  `json:"chunkId"`
	SourceID string  `json:"sourceId"`
	Score    float64 `json:"score"`
	Excerpt  string  `json:"excerpt,omitempty"`
}

// EstimateTokens approximates the token count of a prompt. Providers bill in
// tokens but the engine only needs a capacity check, so a character-ratio
// heuristic is enough here.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// EstimateMessagesTokens sums EstimateTokens over a conversation, with a
// small per-message envelope overhead.
func EstimateMessagesTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.Content) + 4
	}
	return total
}
