package ollama

import "github.com/kirillkom/docqa/internal/core/ports"

func buildGenerateRequest(defaultModel, prompt string, opts ports.GenerateOptions) map[string]any {
	model := defaultModel
	if opts.Model != "" {
		model = opts.Model
	}

	options := map[string]any{
		"temperature": opts.Temperature,
	}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}

	req := map[string]any{
		"model":   model,
		"prompt":  prompt,
		"stream":  false,
		"options": options,
	}
	if opts.JSON {
		req["format"] = "json"
	}
	return req
}
