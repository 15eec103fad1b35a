package llm

import (
	"context"
	"os"

	"github.com/m4xw311/ponder/errors"
	"github.com/m4xw311/ponder/session"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/rs/zerolog"
)

// OpenAILLMClient is a client for the OpenAI Chat Completion API.
type OpenAILLMClient struct {
	client *openai.Client
	model  string
	log    zerolog.Logger
}

// NewOpenAILLMClient creates a new OpenAILLMClient. It requires the OPENAI_API_KEY environment variable to be set.
// It also supports OPENAI_BASE_URL for custom API endpoints.
func NewOpenAILLMClient(ctx context.Context, modelName string, log zerolog.Logger) (*OpenAILLMClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}

	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	// The &c is required, do not replace and just use c
	c := openai.NewClient(options...)
	return &OpenAILLMClient{
		client: &c,
		model:  modelName,
		log:    log.With().Str("llm", "openai").Logger(),
	}, nil
}

// Stream sends a streaming chat completion request. Chat completions carry
// no reasoning content, so ReasoningBudget is ignored.
func (o *OpenAILLMClient) Stream(ctx context.Context, req Request) (Stream, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: convertTurnsToOpenAIMessages(req.System, req.Messages),
		Tools:    convertToolsToOpenAITools(req.Tools),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if req.MaxOutputTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxOutputTokens))
	}
	o.log.Debug().Str("model", model).Int("messages", len(params.Messages)).Int("tools", len(params.Tools)).Msg("request")

	stream := o.client.Chat.Completions.NewStreaming(ctx, params)
	t := newOpenAITranslator()
	finished := false
	return newQueueStream(func(q *queueStream) bool {
		if finished {
			return false
		}
		if stream.Next() {
			t.chunk(q, stream.Current())
			return true
		}
		if err := stream.Err(); err != nil {
			q.fail(errors.Transport(err, "openai stream failed"))
			return false
		}
		finished = true
		t.finish(q)
		return true
	}, stream.Close), nil
}

// openaiTranslator maps chat completion chunks onto indexed blocks. The text
// content and each tool call get their own block index in order of first
// appearance. Blocks stay open until the upstream ends, since chunks carry
// no explicit block boundaries.
type openaiTranslator struct {
	next       int
	textIndex  int
	toolIndex  map[int64]int
	open       []int
	stopReason string
	usage      Usage
}

func newOpenAITranslator() *openaiTranslator {
	return &openaiTranslator{textIndex: -1, toolIndex: make(map[int64]int)}
}

func (t *openaiTranslator) chunk(q *queueStream, chunk openai.ChatCompletionChunk) {
	if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
		t.usage = Usage{InputTokens: chunk.Usage.PromptTokens, OutputTokens: chunk.Usage.CompletionTokens}
	}
	if len(chunk.Choices) == 0 {
		return
	}
	choice := chunk.Choices[0]
	if choice.Delta.Content != "" {
		if t.textIndex < 0 {
			t.textIndex = t.start(q, Event{Kind: KindText})
		}
		q.push(Event{Type: EventDelta, Index: t.textIndex, Kind: KindText, Payload: choice.Delta.Content})
	}
	for _, tc := range choice.Delta.ToolCalls {
		idx, ok := t.toolIndex[tc.Index]
		if !ok {
			idx = t.start(q, Event{Kind: KindToolUse, ID: tc.ID, Name: tc.Function.Name})
			t.toolIndex[tc.Index] = idx
		}
		if tc.Function.Arguments != "" {
			q.push(Event{Type: EventDelta, Index: idx, Kind: KindToolUse, Payload: tc.Function.Arguments})
		}
	}
	if choice.FinishReason != "" {
		t.stopReason = openaiStopReason(choice.FinishReason)
	}
}

func (t *openaiTranslator) start(q *queueStream, ev Event) int {
	ev.Type = EventBlockStart
	ev.Index = t.next
	t.next++
	t.open = append(t.open, ev.Index)
	q.push(ev)
	return ev.Index
}

// finish closes every open block and terminates the message.
func (t *openaiTranslator) finish(q *queueStream) {
	for _, idx := range t.open {
		q.push(Event{Type: EventBlockStop, Index: idx})
	}
	t.open = nil
	q.push(Event{Type: EventMessageStop, StopReason: t.stopReason, Usage: t.usage})
}

func openaiStopReason(reason string) string {
	switch reason {
	case "tool_calls", "function_call":
		return "tool_use"
	case "length":
		return "max_tokens"
	case "stop":
		return "end_turn"
	}
	return reason
}

// convertTurnsToOpenAIMessages converts the conversation to OpenAI's format.
// Each tool result becomes its own tool-role message.
func convertTurnsToOpenAIMessages(system string, turns []session.Turn) []openai.ChatCompletionMessageParamUnion {
	var chatMessages []openai.ChatCompletionMessageParamUnion
	if system != "" {
		chatMessages = append(chatMessages, openai.SystemMessage(system))
	}
	for _, turn := range turns {
		switch turn.Role {
		case session.RoleAssistant:
			assistantMessage := openai.ChatCompletionMessage{
				Role:    "assistant",
				Content: turn.Text(),
			}
			var toolCalls []openai.ChatCompletionMessageToolCallUnion
			for _, b := range turn.ToolUses() {
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallUnion{
					ID:   b.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageFunctionToolCallFunction{
						Name:      b.Name,
						Arguments: string(toolInput(b)),
					},
				})
			}
			assistantMessage.ToolCalls = toolCalls
			chatMessages = append(chatMessages, assistantMessage.ToParam())
		default:
			for _, b := range turn.Blocks {
				switch b.Type {
				case session.BlockToolResult:
					chatMessages = append(chatMessages, openai.ToolMessage(nonEmpty(b.Content), b.ToolUseID))
				case session.BlockText:
					chatMessages = append(chatMessages, openai.UserMessage(b.Text))
				}
			}
		}
	}
	return chatMessages
}

// convertToolsToOpenAITools converts tool schemas to the OpenAI function tool format.
func convertToolsToOpenAITools(ts []ToolSchema) []openai.ChatCompletionToolUnionParam {
	if len(ts) == 0 {
		return nil
	}
	var openAITools []openai.ChatCompletionToolUnionParam
	for _, t := range ts {
		params := openai.FunctionParameters{
			"type":       "object",
			"properties": schemaProperties(t.InputSchema),
		}
		if required := schemaRequired(t.InputSchema); len(required) > 0 {
			params["required"] = required
		}
		openAITools = append(openAITools, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
			Parameters:  params,
		}))
	}
	return openAITools
}
