package llm

import (
	"context"

	"github.com/m4xw311/ponder/errors"
	"github.com/rs/zerolog"
)

// New creates the client named by llmName for the given model.
func New(ctx context.Context, llmName, model string, log zerolog.Logger) (Client, error) {
	switch llmName {
	case "gemini":
		c, err := NewGeminiLLMClient(ctx, model, log)
		if err != nil {
			return nil, errors.Wrapf(err, "could not create gemini client")
		}
		return c, nil
	case "openai":
		c, err := NewOpenAILLMClient(ctx, model, log)
		if err != nil {
			return nil, errors.Wrapf(err, "could not create openai client")
		}
		return c, nil
	case "bedrock":
		c, err := NewBedrockLLMClient(ctx, model, log)
		if err != nil {
			return nil, errors.Wrapf(err, "could not create bedrock client")
		}
		return c, nil
	case "anthropic":
		c, err := NewAnthropicLLMClient(ctx, model, log)
		if err != nil {
			return nil, errors.Wrapf(err, "could not create anthropic client")
		}
		return c, nil
	case "mock":
		return &MockLLMClient{}, nil
	}
	return nil, errors.New("unknown llm client %q", llmName)
}
