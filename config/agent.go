package config

import (
	"fmt"
	"strings"
)

// Prompt part kinds
const (
	PromptSystem      = "system"
	PromptInstruction = "instruction"
	PromptAssistant   = "assistant"
)

// PromptPart is one labeled prompt block of an agent. Parts keep their
// declaration order; that order is the message order sent to the model.
type PromptPart struct {
	Kind    string `hcl:"kind,label"`
	Options string `hcl:"options,optional"`
	Content string `hcl:"content"`
}

// CacheEnabled reports whether the part's options ask for prompt caching
// (options = "cache = true").
func (p *PromptPart) CacheEnabled() bool {
	for _, opt := range strings.Split(p.Options, ",") {
		kv := strings.SplitN(opt, "=", 2)
		if len(kv) != 2 {
			continue
		}
		if strings.TrimSpace(kv[0]) == "cache" && strings.TrimSpace(kv[1]) == "true" {
			return true
		}
	}
	return false
}

// AgentOptions are the model call options an agent declares. All fields are
// optional; unset fields fall through to provider defaults.
type AgentOptions struct {
	Temperature *float64 `hcl:"temperature,optional"`
	MaxTokens   *int     `hcl:"max_tokens,optional"`
	TopP        *float64 `hcl:"top_p,optional"`
}

// Agent is a declarative multi-stage agent definition. The four stage
// attributes hold script source evaluated by the script host; prompt blocks
// hold the templated model messages.
type Agent struct {
	Name             string `hcl:"name,label"`
	Description      string `hcl:"description,optional"`
	Model            string `hcl:"model"`
	InputConcurrency int    `hcl:"input_concurrency,optional"`
	Label            string `hcl:"label,optional"`

	Options *AgentOptions `hcl:"options,block"`

	BeforeAll string `hcl:"before_all,optional"`
	Data      string `hcl:"data,optional"`
	Output    string `hcl:"output,optional"`
	AfterAll  string `hcl:"after_all,optional"`

	Prompts []PromptPart `hcl:"prompt,block"`
}

// HasBeforeAll reports whether the agent declares a before_all stage.
func (a *Agent) HasBeforeAll() bool { return strings.TrimSpace(a.BeforeAll) != "" }

// HasData reports whether the agent declares a data stage.
func (a *Agent) HasData() bool { return strings.TrimSpace(a.Data) != "" }

// HasOutput reports whether the agent declares an output stage.
func (a *Agent) HasOutput() bool { return strings.TrimSpace(a.Output) != "" }

// HasAfterAll reports whether the agent declares an after_all stage.
func (a *Agent) HasAfterAll() bool { return strings.TrimSpace(a.AfterAll) != "" }

// HasPrompt reports whether the agent declares any prompt parts. An agent
// without prompts never calls the model; its pipeline is Data → Output.
func (a *Agent) HasPrompt() bool { return len(a.Prompts) > 0 }

// Concurrency returns the effective task concurrency (minimum 1).
func (a *Agent) Concurrency() int {
	if a.InputConcurrency < 1 {
		return 1
	}
	return a.InputConcurrency
}

// Validate checks that the agent definition is internally consistent.
// Model resolution is validated in Config.Validate() since it needs the
// model blocks.
func (a *Agent) Validate() error {
	if a.Model == "" {
		return fmt.Errorf("model is required")
	}
	if a.InputConcurrency < 0 {
		return fmt.Errorf("input_concurrency must be >= 0, got %d", a.InputConcurrency)
	}
	for _, p := range a.Prompts {
		switch p.Kind {
		case PromptSystem, PromptInstruction, PromptAssistant:
		default:
			return fmt.Errorf("unknown prompt kind '%s' (expected system, instruction or assistant)", p.Kind)
		}
	}
	return nil
}

// ResolveModel finds the model block this agent references
func (a *Agent) ResolveModel(models []Model) (*Model, error) {
	for i := range models {
		if models[i].Name == a.Model {
			return &models[i], nil
		}
	}
	return nil, fmt.Errorf("no model block named '%s'", a.Model)
}
