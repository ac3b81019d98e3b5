package run

import "sortie/config"

// Options is the effective model-call overlay for a run or a single task.
// The zero Temperature/TopP pointers mean "provider default", which is why
// they are pointers and not floats.
type Options struct {
	Model       string
	Temperature *float64
	TopP        *float64
	MaxTokens   int
}

func optionsFromAgent(a *config.Agent) Options {
	o := Options{Model: a.Model}
	if a.Options != nil {
		o.Temperature = a.Options.Temperature
		o.TopP = a.Options.TopP
		if a.Options.MaxTokens != nil {
			o.MaxTokens = *a.Options.MaxTokens
		}
	}
	return o
}

// apply returns a copy with the overlay's recognized keys merged in.
// Unknown keys are ignored; wrong-typed values fall through to the
// current value. Copy semantics keep per-task overrides from leaking
// across tasks.
func (o Options) apply(overlay map[string]any) Options {
	if v, ok := overlay["model"].(string); ok && v != "" {
		o.Model = v
	}
	if v, ok := toFloat(overlay["temperature"]); ok {
		o.Temperature = &v
	}
	if v, ok := toFloat(overlay["top_p"]); ok {
		o.TopP = &v
	}
	if v, ok := toInt(overlay["max_tokens"]); ok {
		o.MaxTokens = v
	}
	return o
}

// envView is the `options` binding exposed to stage scripts.
func (o Options) envView() map[string]any {
	view := map[string]any{
		"model":      o.Model,
		"max_tokens": o.MaxTokens,
	}
	if o.Temperature != nil {
		view["temperature"] = *o.Temperature
	}
	if o.TopP != nil {
		view["top_p"] = *o.TopP
	}
	return view
}

// Scripts hand back ints or floats depending on how the literal was
// written; JSON decoding always hands back float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
