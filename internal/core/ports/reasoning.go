package ports

import "context"

// GenerateOptions tune a single reasoning call.
type GenerateOptions struct {
	Temperature float64
	MaxTokens   int
	Model       string
	JSON        bool
}

type GenerateOption func(*GenerateOptions)

func WithTemperature(t float64) GenerateOption {
	return func(o *GenerateOptions) { o.Temperature = t }
}

func WithMaxTokens(n int) GenerateOption {
	return func(o *GenerateOptions) { o.MaxTokens = n }
}

func WithModel(model string) GenerateOption {
	return func(o *GenerateOptions) { o.Model = model }
}

func WithJSON() GenerateOption {
	return func(o *GenerateOptions) { o.JSON = true }
}

// ApplyGenerateOptions folds opts over the defaults used by reasoning calls.
func ApplyGenerateOptions(opts ...GenerateOption) GenerateOptions {
	out := GenerateOptions{Temperature: 0.2, MaxTokens: 1024}
	for _, opt := range opts {
		if opt != nil {
			opt(&out)
		}
	}
	return out
}

// ReasoningProvider is one vendor's text generation endpoint.
type ReasoningProvider interface {
	Name() string
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// Reasoner is the rate-limited, retrying client the core talks to.
//
// Generate may fall back to an alternate provider. GenerateStructured never
// crosses providers.
type Reasoner interface {
	Generate(ctx context.Context, prompt string, opts ...GenerateOption) (string, error)
	GenerateStructured(ctx context.Context, prompt string, opts ...GenerateOption) (string, error)
	BackedOff() bool
}
