package run

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"

	"sortie/config"
	"sortie/llm"
)

// promptScope is the template data bound into every prompt part. All
// three keys are always present so a part can reference any of them
// without guarding.
func promptScope(input, data, beforeAll any) map[string]any {
	return map[string]any{
		"input":      input,
		"data":       data,
		"before_all": beforeAll,
	}
}

// buildChatRequest renders the agent's prompt parts against the scope
// and assembles them into one model request. System parts carry their
// cache flag; instruction parts become user messages, assistant parts
// assistant messages, in declaration order.
func buildChatRequest(agent *config.Agent, opts Options, modelName string, scope map[string]any) (*llm.ChatRequest, error) {
	req := &llm.ChatRequest{
		Model:       modelName,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
	}
	for _, part := range agent.Prompts {
		content, err := renderPart(&part, scope)
		if err != nil {
			return nil, err
		}
		switch part.Kind {
		case config.PromptSystem:
			req.System = append(req.System, llm.SystemPart{Text: content, Cache: part.CacheEnabled()})
		case config.PromptAssistant:
			req.Messages = append(req.Messages, llm.Message{Role: llm.RoleAssistant, Content: content})
		default:
			req.Messages = append(req.Messages, llm.Message{Role: llm.RoleUser, Content: content})
		}
	}
	return req, nil
}

// renderPart resolves one prompt part's template. missingkey=error so a
// typo in a binding fails the stage instead of silently rendering
// "<no value>".
func renderPart(part *config.PromptPart, scope map[string]any) (string, error) {
	tmpl, err := template.New(part.Kind).Option("missingkey=error").Funcs(promptFuncs()).Parse(part.Content)
	if err != nil {
		return "", fmt.Errorf("parse %s prompt: %w", part.Kind, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, scope); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", part.Kind, err)
	}
	return buf.String(), nil
}

func promptFuncs() template.FuncMap {
	return template.FuncMap{
		"json": func(v any) (string, error) {
			b, err := json.Marshal(v)
			if err != nil {
				return "", err
			}
			return string(b), nil
		},
	}
}
