package llm

import (
	"context"
	"encoding/json"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/m4xw311/ponder/errors"
	"github.com/rs/zerolog"
)

const bedrockAnthropicVersion = "bedrock-2023-05-31"

// BedrockLLMClient is a client for the Anthropic models on AWS Bedrock.
type BedrockLLMClient struct {
	client  *bedrockruntime.Client
	modelID string
	region  string
	log     zerolog.Logger
}

// NewBedrockLLMClient creates a new BedrockLLMClient.
// It requires AWS credentials to be configured in the environment.
func NewBedrockLLMClient(ctx context.Context, modelID string, log zerolog.Logger) (*BedrockLLMClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}

	region := cfg.Region
	if region == "" {
		region = os.Getenv("AWS_DEFAULT_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}
	cfg.Region = region

	var opts []func(*bedrockruntime.Options)
	// Custom endpoint, useful for testing against a local emulator.
	if endpoint := os.Getenv("BEDROCK_ENDPOINT_URL"); endpoint != "" {
		opts = append(opts, func(o *bedrockruntime.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}

	return &BedrockLLMClient{
		client:  bedrockruntime.NewFromConfig(cfg, opts...),
		modelID: modelID,
		region:  region,
		log:     log.With().Str("llm", "bedrock").Str("region", region).Logger(),
	}, nil
}

// Stream invokes the model with a response stream. Each chunk carries one
// Anthropic stream event as JSON.
func (b *BedrockLLMClient) Stream(ctx context.Context, req Request) (Stream, error) {
	body, err := createBedrockRequest(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create Bedrock request")
	}

	modelID := req.Model
	if modelID == "" {
		modelID = b.modelID
	}
	b.log.Debug().Str("model", modelID).Int("bytes", len(body)).Msg("request")

	out, err := b.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, errors.Transport(err, "failed to invoke Bedrock model")
	}

	es := out.GetStream()
	events := es.Events()
	t := &anthropicTranslator{log: b.log}
	return newQueueStream(func(q *queueStream) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				if err := es.Err(); err != nil {
					q.fail(errors.Transport(err, "bedrock stream failed"))
				}
				return false
			}
			chunk, isChunk := ev.(*types.ResponseStreamMemberChunk)
			if !isChunk {
				b.log.Debug().Msgf("ignoring bedrock stream member %T", ev)
				return true
			}
			if err := translateBedrockChunk(t, q, chunk.Value.Bytes); err != nil {
				q.fail(err)
				return false
			}
			return true
		case <-ctx.Done():
			q.fail(errors.Transport(ctx.Err(), "bedrock stream cancelled"))
			return false
		}
	}, es.Close), nil
}

// translateBedrockChunk decodes one Anthropic event from a chunk payload.
func translateBedrockChunk(t *anthropicTranslator, q *queueStream, data []byte) error {
	var event anthropic.MessageStreamEventUnion
	if err := json.Unmarshal(data, &event); err != nil {
		return errors.Protocol("malformed bedrock chunk: %v", err)
	}
	t.translate(q, event)
	return nil
}

// createBedrockRequest builds the Anthropic-on-Bedrock request body.
func createBedrockRequest(req Request) ([]byte, error) {
	request := map[string]any{
		"anthropic_version": bedrockAnthropicVersion,
		"max_tokens":        req.MaxOutputTokens,
		"messages":          convertTurnsToAnthropicMessages(req.Messages),
	}
	if req.System != "" {
		request["system"] = req.System
	}
	if tools := convertToolsToAnthropicTools(req.Tools); len(tools) > 0 {
		request["tools"] = tools
	}
	if req.ReasoningBudget > 0 {
		request["thinking"] = map[string]any{
			"type":          "enabled",
			"budget_tokens": req.ReasoningBudget,
		}
	}
	return json.Marshal(request)
}
