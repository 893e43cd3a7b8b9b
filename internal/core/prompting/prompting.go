// Package prompting declares typed, schema-validated reasoning calls.
package prompting

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/core/ports"
)

// Config declares one structured call: how to render the input, and how to
// validate the decoded output. Validate may fill defaults for optional fields
// and must return an error when a required field is unusable.
type Config[In, Out any] struct {
	Name     string
	Render   func(In) string
	Validate func(*Out) error
	Options  []ports.GenerateOption
}

// Func is a callable structured prompt.
type Func[In, Out any] func(ctx context.Context, input In) (Out, error)

// Define binds a structured prompt to a reasoner. Output that is not a JSON
// object of the declared shape, or that fails validation, yields
// domain.ErrMalformedOutput.
func Define[In, Out any](reasoner ports.Reasoner, cfg Config[In, Out]) Func[In, Out] {
	return func(ctx context.Context, input In) (Out, error) {
		var out Out
		if reasoner == nil {
			return out, fmt.Errorf("%s: reasoner is not configured", cfg.Name)
		}

		raw, err := reasoner.GenerateStructured(ctx, cfg.Render(input), cfg.Options...)
		if err != nil {
			return out, err
		}

		payload := ExtractJSONObject(raw)
		if payload == "" {
			return out, domain.WrapError(domain.ErrMalformedOutput, cfg.Name, fmt.Errorf("no json object in response"))
		}
		if err := json.Unmarshal([]byte(payload), &out); err != nil {
			return out, domain.WrapError(domain.ErrMalformedOutput, cfg.Name, err)
		}
		if cfg.Validate != nil {
			if err := cfg.Validate(&out); err != nil {
				var zero Out
				return zero, domain.WrapError(domain.ErrMalformedOutput, cfg.Name, err)
			}
		}
		return out, nil
	}
}

// ExtractJSONObject trims code fences and prose around the first JSON object.
func ExtractJSONObject(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return ""
}
