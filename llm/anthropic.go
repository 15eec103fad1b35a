package llm

import (
	"context"
	"encoding/json"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m4xw311/ponder/errors"
	"github.com/m4xw311/ponder/session"
	"github.com/rs/zerolog"
)

// AnthropicLLMClient streams from the Anthropic Messages API.
type AnthropicLLMClient struct {
	client *anthropic.Client
	model  string
	log    zerolog.Logger
}

// NewAnthropicLLMClient creates a new AnthropicLLMClient.
// It requires the ANTHROPIC_API_KEY environment variable to be set and honours
// ANTHROPIC_BASE_URL.
func NewAnthropicLLMClient(ctx context.Context, modelName string, log zerolog.Logger) (*AnthropicLLMClient, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY environment variable not set")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := os.Getenv("ANTHROPIC_BASE_URL"); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(opts...)

	return &AnthropicLLMClient{
		client: &client,
		model:  modelName,
		log:    log.With().Str("llm", "anthropic").Logger(),
	}, nil
}

// Stream sends a streaming request. Transport failures surface from the
// returned Stream's Err.
func (a *AnthropicLLMClient) Stream(ctx context.Context, req Request) (Stream, error) {
	model := req.Model
	if model == "" {
		model = a.model
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(req.MaxOutputTokens),
		Messages:  convertTurnsToAnthropicMessages(req.Messages),
		Tools:     convertToolsToAnthropicTools(req.Tools),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.ReasoningBudget > 0 {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(req.ReasoningBudget))
	}

	a.log.Debug().Str("model", model).Int("messages", len(params.Messages)).Int("tools", len(params.Tools)).
		Int("reasoning_budget", req.ReasoningBudget).Msg("request")

	stream := a.client.Messages.NewStreaming(ctx, params)
	t := &anthropicTranslator{log: a.log}
	return newQueueStream(func(q *queueStream) bool {
		if !stream.Next() {
			if err := stream.Err(); err != nil {
				q.fail(errors.Transport(err, "anthropic stream failed"))
			}
			return false
		}
		t.translate(q, stream.Current())
		return true
	}, stream.Close), nil
}

// anthropicTranslator carries message-level state (stop reason, usage)
// across SDK events.
type anthropicTranslator struct {
	log        zerolog.Logger
	stopReason string
	usage      Usage
}

func (t *anthropicTranslator) translate(q *queueStream, event anthropic.MessageStreamEventUnion) {
	switch ev := event.AsAny().(type) {
	case anthropic.MessageStartEvent:
		t.usage.InputTokens = ev.Message.Usage.InputTokens
	case anthropic.ContentBlockStartEvent:
		idx := int(ev.Index)
		block := ev.ContentBlock
		switch block.Type {
		case "text":
			q.push(Event{Type: EventBlockStart, Index: idx, Kind: KindText})
			if block.Text != "" {
				q.push(Event{Type: EventDelta, Index: idx, Kind: KindText, Payload: block.Text})
			}
		case "thinking":
			q.push(Event{Type: EventBlockStart, Index: idx, Kind: KindThinking})
			if block.Thinking != "" {
				q.push(Event{Type: EventDelta, Index: idx, Kind: KindThinking, Payload: block.Thinking})
			}
		case "tool_use":
			q.push(Event{Type: EventBlockStart, Index: idx, Kind: KindToolUse, ID: block.ID, Name: block.Name})
		default:
			t.log.Debug().Str("type", block.Type).Int("index", idx).Msg("ignoring content block")
		}
	case anthropic.ContentBlockDeltaEvent:
		idx := int(ev.Index)
		switch d := ev.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			q.push(Event{Type: EventDelta, Index: idx, Kind: KindText, Payload: d.Text})
		case anthropic.ThinkingDelta:
			q.push(Event{Type: EventDelta, Index: idx, Kind: KindThinking, Payload: d.Thinking})
		case anthropic.SignatureDelta:
			q.push(Event{Type: EventDelta, Index: idx, Kind: KindThinking, Signature: d.Signature})
		case anthropic.InputJSONDelta:
			q.push(Event{Type: EventDelta, Index: idx, Kind: KindToolUse, Payload: d.PartialJSON})
		}
	case anthropic.ContentBlockStopEvent:
		q.push(Event{Type: EventBlockStop, Index: int(ev.Index)})
	case anthropic.MessageDeltaEvent:
		t.stopReason = string(ev.Delta.StopReason)
		t.usage.OutputTokens = ev.Usage.OutputTokens
	case anthropic.MessageStopEvent:
		q.push(Event{Type: EventMessageStop, StopReason: t.stopReason, Usage: t.usage})
	}
}

// convertTurnsToAnthropicMessages converts the conversation to Anthropic's
// message format. Signed reasoning is replayed ahead of an assistant turn's
// content, as extended thinking with tools requires.
func convertTurnsToAnthropicMessages(turns []session.Turn) []anthropic.MessageParam {
	var messages []anthropic.MessageParam
	for _, turn := range turns {
		var blocks []anthropic.ContentBlockParamUnion
		if turn.Role == session.RoleAssistant {
			for _, r := range turn.Reasoning {
				if r.Signature == "" {
					continue
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfThinking: &anthropic.ThinkingBlockParam{Thinking: r.Text, Signature: r.Signature},
				})
			}
		}
		for _, b := range turn.Blocks {
			switch b.Type {
			case session.BlockText:
				if b.Text == "" {
					continue
				}
				blocks = append(blocks, anthropic.NewTextBlock(b.Text))
			case session.BlockToolUse:
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    b.ID,
						Name:  b.Name,
						Input: toolInput(b),
					},
				})
			case session.BlockToolResult:
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolResult: &anthropic.ToolResultBlockParam{
						ToolUseID: b.ToolUseID,
						IsError:   anthropic.Bool(b.IsError),
						Content: []anthropic.ToolResultBlockParamContentUnion{{
							OfText: &anthropic.TextBlockParam{Text: nonEmpty(b.Content)},
						}},
					},
				})
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if turn.Role == session.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))
		} else {
			messages = append(messages, anthropic.NewUserMessage(blocks...))
		}
	}
	return messages
}

// convertToolsToAnthropicTools converts tool schemas to Anthropic's tool format.
func convertToolsToAnthropicTools(ts []ToolSchema) []anthropic.ToolUnionParam {
	if len(ts) == 0 {
		return nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(ts))
	for _, t := range ts {
		param := anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schemaProperties(t.InputSchema),
				Required:   schemaRequired(t.InputSchema),
			},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out
}

// toolInput returns a tool_use block's input as a JSON object, falling back
// to {} when the streamed input never parsed.
func toolInput(b session.ContentBlock) json.RawMessage {
	if b.InputError != "" || len(b.Input) == 0 || !json.Valid(b.Input) {
		return json.RawMessage(`{}`)
	}
	return b.Input
}

func schemaProperties(schema map[string]any) any {
	if p, ok := schema["properties"]; ok && p != nil {
		return p
	}
	return map[string]any{}
}

func schemaRequired(schema map[string]any) []string {
	switch r := schema["required"].(type) {
	case []string:
		return r
	case []any:
		out := make([]string, 0, len(r))
		for _, v := range r {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// nonEmpty keeps tool results acceptable to providers that reject empty text.
func nonEmpty(s string) string {
	if s == "" {
		return "(no output)"
	}
	return s
}
