package llm

import (
	"encoding/json"
	"testing"

	"github.com/m4xw311/ponder/session"
	"github.com/openai/openai-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeChunk(t *testing.T, raw string) openai.ChatCompletionChunk {
	t.Helper()
	var c openai.ChatCompletionChunk
	require.NoError(t, json.Unmarshal([]byte(raw), &c))
	return c
}

func TestOpenAITranslator(t *testing.T) {
	chunks := []string{
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt","choices":[{"index":0,"delta":{"content":"Let me look."},"finish_reason":null}]}`,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"read_file","arguments":""}}]},"finish_reason":null}]}`,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"path\":\"a\"}"}}]},"finish_reason":null}]}`,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt","choices":[],"usage":{"prompt_tokens":5,"completion_tokens":7,"total_tokens":12}}`,
	}

	q := newQueueStream(nil, nil)
	tr := newOpenAITranslator()
	for _, c := range chunks {
		tr.chunk(q, decodeChunk(t, c))
	}
	tr.finish(q)

	want := []Event{
		{Type: EventBlockStart, Index: 0, Kind: KindText},
		{Type: EventDelta, Index: 0, Kind: KindText, Payload: "Let me look."},
		{Type: EventBlockStart, Index: 1, Kind: KindToolUse, ID: "call_a", Name: "read_file"},
		{Type: EventDelta, Index: 1, Kind: KindToolUse, Payload: `{"path":"a"}`},
		{Type: EventBlockStop, Index: 0},
		{Type: EventBlockStop, Index: 1},
		{Type: EventMessageStop, StopReason: "tool_use", Usage: Usage{InputTokens: 5, OutputTokens: 7}},
	}
	assert.Equal(t, want, q.pending)
}

func TestOpenAIStopReason(t *testing.T) {
	assert.Equal(t, "tool_use", openaiStopReason("tool_calls"))
	assert.Equal(t, "end_turn", openaiStopReason("stop"))
	assert.Equal(t, "max_tokens", openaiStopReason("length"))
	assert.Equal(t, "content_filter", openaiStopReason("content_filter"))
}

func TestConvertTurnsToOpenAIMessages(t *testing.T) {
	turns := []session.Turn{
		{Role: session.RoleUser, Blocks: []session.ContentBlock{session.TextBlock("hi")}},
		{Role: session.RoleAssistant, Blocks: []session.ContentBlock{
			session.TextBlock("checking"),
			session.ToolUseBlock("call_a", "read_file", json.RawMessage(`{"path":"a"}`)),
			session.ToolUseBlock("call_b", "list_files", nil),
		}},
		{Role: session.RoleUser, Blocks: []session.ContentBlock{
			session.ToolResultBlock("call_a", "contents", false),
			session.ToolResultBlock("call_b", "x.go", false),
		}},
	}

	msgs := convertTurnsToOpenAIMessages("be brief", turns)
	require.Len(t, msgs, 5)
	assert.NotNil(t, msgs[0].OfSystem)
	assert.NotNil(t, msgs[1].OfUser)

	require.NotNil(t, msgs[2].OfAssistant)
	assert.Len(t, msgs[2].OfAssistant.ToolCalls, 2)

	require.NotNil(t, msgs[3].OfTool)
	assert.Equal(t, "call_a", msgs[3].OfTool.ToolCallID)
	assert.Equal(t, "call_b", msgs[4].OfTool.ToolCallID)
}

func TestConvertToolsToOpenAITools(t *testing.T) {
	tools := convertToolsToOpenAITools([]ToolSchema{{
		Name:        "execute_command",
		Description: "Runs a command",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"command": map[string]any{"type": "string"}},
			"required":   []string{"command"},
		},
	}})
	require.Len(t, tools, 1)
	require.NotNil(t, tools[0].OfFunction)
	fn := tools[0].OfFunction.Function
	assert.Equal(t, "execute_command", fn.Name)
	assert.Equal(t, []string{"command"}, fn.Parameters["required"])
}
