package script

// Flow envelope protocol shared between the helper functions below and the
// engine's directive decoder.
const (
	EnvelopeKey = "_envelope_"

	KindSkip              = "Skip"
	KindDataResponse      = "DataResponse"
	KindBeforeAllResponse = "BeforeAllResponse"
)

func envelope(kind string, data map[string]any) map[string]any {
	return map[string]any{
		EnvelopeKey: map[string]any{
			"kind": kind,
			"data": data,
		},
	}
}

// BaseEnv returns an env seeded with the flow helper functions. The engine
// layers stage bindings (input, data, before_all, ...) on top.
func BaseEnv() Env {
	return Env{
		"skip": func(reason ...string) map[string]any {
			data := map[string]any{}
			if len(reason) > 0 {
				data["reason"] = reason[0]
			}
			return envelope(KindSkip, data)
		},
		"data_response": func(data map[string]any) map[string]any {
			return envelope(KindDataResponse, data)
		},
		"before_all_response": func(data map[string]any) map[string]any {
			return envelope(KindBeforeAllResponse, data)
		},
	}
}
