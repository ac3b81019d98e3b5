package llm

import "context"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// SystemPart is one system prompt segment. Cache marks it as a prompt-cache
// boundary on providers that support explicit caching.
type SystemPart struct {
	Text  string
	Cache bool
}

// Message represents a conversation message
type Message struct {
	Role    Role
	Content string
}

type ChatRequest struct {
	Model         string
	System        []SystemPart
	Messages      []Message
	MaxTokens     int
	Temperature   *float64
	TopP          *float64
	StopSequences []string
}

type ChatResponse struct {
	ID           string
	Content      string
	Model        string
	FinishReason string
	Usage        Usage
}

// Usage is normalized across providers so callers can rely on one shape:
// InputTokens is the full prompt count including cache reads and cache
// creation, OutputTokens is the full completion count including reasoning.
// The remaining fields are subsets of those totals.
type Usage struct {
	InputTokens         int64
	CachedTokens        int64
	CacheCreationTokens int64
	OutputTokens        int64
	ReasoningTokens     int64
}

type Provider interface {
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	Name() string
}
