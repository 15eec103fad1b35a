package llm

import (
	"context"
	"testing"

	"github.com/m4xw311/ponder/errors"
	"github.com/m4xw311/ponder/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, s Stream) []Event {
	t.Helper()
	var out []Event
	for s.Next() {
		out = append(out, s.Current())
	}
	return out
}

func TestScriptEvents(t *testing.T) {
	events := NewScript().Text("a", "b").ToolUse("t1", "read_file", `{"path":`, `"x"}`).Events()
	require.Len(t, events, 9)
	assert.Equal(t, Event{Type: EventBlockStart, Index: 1, Kind: KindToolUse, ID: "t1", Name: "read_file"}, events[4])
	assert.Equal(t, Event{Type: EventMessageStop, StopReason: "tool_use"}, events[8])

	plain := NewScript().Text("hi").Events()
	assert.Equal(t, "end_turn", plain[len(plain)-1].StopReason)
}

func TestSliceStream(t *testing.T) {
	boom := errors.Transport(nil, "connection reset")
	s := SliceStream(NewScript().Text("x").Events(), boom)
	events := drain(t, s)
	assert.Len(t, events, 4)
	assert.Same(t, boom, s.Err())
	assert.False(t, s.Next(), "stays exhausted")
	assert.NoError(t, s.Close())
}

func TestMockLLMClientScripted(t *testing.T) {
	refused := errors.Transport(nil, "refused")
	m := &MockLLMClient{Responses: []MockResponse{
		{Err: refused},
		{Events: NewScript().Text("ok").Events()},
	}}

	_, err := m.Stream(context.Background(), Request{})
	assert.Same(t, refused, err)

	s, err := m.Stream(context.Background(), Request{Model: "m"})
	require.NoError(t, err)
	assert.Len(t, drain(t, s), 4)
	assert.Equal(t, 2, m.Calls())
	assert.Equal(t, "m", m.Requests[1].Model)
}

func TestMockLLMClientEcho(t *testing.T) {
	m := &MockLLMClient{}
	s, err := m.Stream(context.Background(), Request{
		ReasoningBudget: 1024,
		Messages: []session.Turn{
			{Role: session.RoleUser, Blocks: []session.ContentBlock{session.TextBlock("ping")}},
		},
	})
	require.NoError(t, err)

	var text string
	var sawThinking bool
	for s.Next() {
		ev := s.Current()
		if ev.Kind == KindThinking {
			sawThinking = true
		}
		if ev.Type == EventDelta && ev.Kind == KindText {
			text += ev.Payload
		}
	}
	assert.True(t, sawThinking)
	assert.Contains(t, text, "You said: 'ping'")
}
