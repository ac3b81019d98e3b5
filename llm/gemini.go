package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

type GeminiProvider struct {
	client *genai.Client
}

func NewGeminiProvider(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &GeminiProvider{client: client}, nil
}

func (p *GeminiProvider) Name() string {
	return "gemini"
}

func (p *GeminiProvider) Close() error {
	return p.client.Close()
}

func (p *GeminiProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	model := p.client.GenerativeModel(req.Model)

	if len(req.System) > 0 {
		parts := make([]string, 0, len(req.System))
		for _, part := range req.System {
			parts = append(parts, part.Text)
		}
		model.SystemInstruction = genai.NewUserContent(genai.Text(strings.Join(parts, "\n\n")))
	}

	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.Temperature != nil {
		model.SetTemperature(float32(*req.Temperature))
	}
	if req.TopP != nil {
		model.SetTopP(float32(*req.TopP))
	}
	if len(req.StopSequences) > 0 {
		model.StopSequences = req.StopSequences
	}

	// History carries everything up to the last user message, which is
	// sent as the prompt itself.
	chat := model.StartChat()
	chat.History = p.convertHistory(req.Messages)

	resp, err := chat.SendMessage(ctx, genai.Text(p.lastUserContent(req.Messages)))
	if err != nil {
		return nil, err
	}

	var finishReason string
	if len(resp.Candidates) > 0 {
		finishReason = resp.Candidates[0].FinishReason.String()
	}

	var usage Usage
	if resp.UsageMetadata != nil {
		usage = Usage{
			InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
			CachedTokens: int64(resp.UsageMetadata.CachedContentTokenCount),
			OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
		}
	}

	return &ChatResponse{
		ID:           uuid.New().String(),
		Content:      p.extractContent(resp),
		Model:        req.Model,
		FinishReason: finishReason,
		Usage:        usage,
	}, nil
}

func (p *GeminiProvider) convertHistory(messages []Message) []*genai.Content {
	last := lastUserIndex(messages)

	var history []*genai.Content
	for i, m := range messages {
		if i == last {
			continue
		}
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}
	return history
}

func (p *GeminiProvider) lastUserContent(messages []Message) string {
	if i := lastUserIndex(messages); i >= 0 {
		return messages[i].Content
	}
	return ""
}

func lastUserIndex(messages []Message) int {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return i
		}
	}
	return -1
}

func (p *GeminiProvider) extractContent(resp *genai.GenerateContentResponse) string {
	var content string
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				content += fmt.Sprintf("%v", part)
			}
		}
	}
	return content
}
