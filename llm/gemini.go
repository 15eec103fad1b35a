package llm

import (
	"context"
	"encoding/json"
	"os"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"github.com/m4xw311/ponder/errors"
	"github.com/m4xw311/ponder/session"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiLLMClient is a client for the Google Gemini API.
type GeminiLLMClient struct {
	client *genai.Client
	model  string
	log    zerolog.Logger
}

// NewGeminiLLMClient creates a new GeminiLLMClient.
// It requires the GEMINI_API_KEY environment variable to be set.
func NewGeminiLLMClient(ctx context.Context, modelName string, log zerolog.Logger) (*GeminiLLMClient, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY environment variable not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create genai client")
	}

	return &GeminiLLMClient{
		client: client,
		model:  modelName,
		log:    log.With().Str("llm", "gemini").Logger(),
	}, nil
}

// Stream sends the conversation through a chat session and streams the
// reply. Gemini assigns no call ids, so tool_use ids are generated here.
func (g *GeminiLLMClient) Stream(ctx context.Context, req Request) (Stream, error) {
	history := convertTurnsToGeminiContent(req.Messages)
	if len(history) == 0 {
		return nil, errors.New("gemini request has no messages")
	}

	name := req.Model
	if name == "" {
		name = g.model
	}
	model := g.client.GenerativeModel(name)
	model.Tools = convertToolsToGeminiTools(req.Tools)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	if req.MaxOutputTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxOutputTokens))
	}

	// The last message is the new prompt.
	last := history[len(history)-1]
	chatSession := model.StartChat()
	chatSession.History = history[:len(history)-1]
	g.log.Debug().Str("model", name).Int("history", len(chatSession.History)).Msg("request")

	it := chatSession.SendMessageStream(ctx, last.Parts...)
	t := &geminiTranslator{textIndex: -1}
	finished := false
	return newQueueStream(func(q *queueStream) bool {
		if finished {
			return false
		}
		resp, err := it.Next()
		if err == iterator.Done {
			finished = true
			t.finish(q)
			return true
		}
		if err != nil {
			q.fail(errors.Transport(err, "gemini stream failed"))
			return false
		}
		t.response(q, resp)
		return true
	}, nil), nil
}

// geminiTranslator maps streamed responses onto indexed blocks. Text parts
// accumulate in one block; each function call is a complete block of its own.
type geminiTranslator struct {
	next      int
	textIndex int
	toolCalls bool
	usage     Usage
}

func (t *geminiTranslator) response(q *queueStream, resp *genai.GenerateContentResponse) {
	if resp.UsageMetadata != nil {
		t.usage = Usage{
			InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			if v == "" {
				continue
			}
			if t.textIndex < 0 {
				t.textIndex = t.next
				t.next++
				q.push(Event{Type: EventBlockStart, Index: t.textIndex, Kind: KindText})
			}
			q.push(Event{Type: EventDelta, Index: t.textIndex, Kind: KindText, Payload: string(v)})
		case genai.FunctionCall:
			t.functionCall(q, v)
		case *genai.FunctionCall:
			t.functionCall(q, *v)
		}
	}
}

func (t *geminiTranslator) functionCall(q *queueStream, call genai.FunctionCall) {
	idx := t.next
	t.next++
	t.toolCalls = true
	args := call.Args
	if args == nil {
		args = map[string]any{}
	}
	payload, _ := json.Marshal(args)
	q.push(Event{Type: EventBlockStart, Index: idx, Kind: KindToolUse, ID: "call_" + uuid.NewString(), Name: call.Name})
	q.push(Event{Type: EventDelta, Index: idx, Kind: KindToolUse, Payload: string(payload)})
	q.push(Event{Type: EventBlockStop, Index: idx})
}

func (t *geminiTranslator) finish(q *queueStream) {
	if t.textIndex >= 0 {
		q.push(Event{Type: EventBlockStop, Index: t.textIndex})
	}
	stop := "end_turn"
	if t.toolCalls {
		stop = "tool_use"
	}
	q.push(Event{Type: EventMessageStop, StopReason: stop, Usage: t.usage})
}

// convertTurnsToGeminiContent converts the conversation to Gemini's content
// format. Function responses are matched to their call by tool_use id.
func convertTurnsToGeminiContent(turns []session.Turn) []*genai.Content {
	var contents []*genai.Content
	names := make(map[string]string)
	for _, turn := range turns {
		role := "user"
		if turn.Role == session.RoleAssistant {
			role = "model"
		}
		var parts []genai.Part
		for _, b := range turn.Blocks {
			switch b.Type {
			case session.BlockText:
				if b.Text != "" {
					parts = append(parts, genai.Text(b.Text))
				}
			case session.BlockToolUse:
				names[b.ID] = b.Name
				var args map[string]any
				_ = json.Unmarshal(toolInput(b), &args)
				parts = append(parts, genai.FunctionCall{Name: b.Name, Args: args})
			case session.BlockToolResult:
				parts = append(parts, genai.FunctionResponse{
					Name: names[b.ToolUseID],
					Response: map[string]any{
						"content":  b.Content,
						"is_error": b.IsError,
					},
				})
			}
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents
}

// convertToolsToGeminiTools converts tool schemas to Gemini function declarations.
func convertToolsToGeminiTools(ts []ToolSchema) []*genai.Tool {
	if len(ts) == 0 {
		return nil
	}
	var funcDecls []*genai.FunctionDeclaration
	for _, tool := range ts {
		funcDecls = append(funcDecls, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  convertSchemaToGemini(tool.InputSchema),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: funcDecls}}
}

// convertSchemaToGemini converts a JSON schema object into genai.Schema.
// Keywords Gemini does not model are dropped.
func convertSchemaToGemini(schema map[string]any) *genai.Schema {
	if schema == nil {
		return &genai.Schema{Type: genai.TypeObject}
	}
	s := &genai.Schema{Type: geminiType(schema["type"])}
	if d, ok := schema["description"].(string); ok {
		s.Description = d
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, p := range props {
			if pm, ok := p.(map[string]any); ok {
				s.Properties[name] = convertSchemaToGemini(pm)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		s.Items = convertSchemaToGemini(items)
	}
	s.Required = schemaRequired(schema)
	if enum, ok := schema["enum"].([]any); ok {
		for _, e := range enum {
			if es, ok := e.(string); ok {
				s.Enum = append(s.Enum, es)
			}
		}
	}
	return s
}

func geminiType(v any) genai.Type {
	switch v {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	}
	return genai.TypeObject
}
