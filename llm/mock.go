package llm

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/m4xw311/ponder/session"
)

// Script builds the event sequence of one scripted response. Each call adds
// a complete block at the next index.
type Script struct {
	events []Event
	index  int
}

func NewScript() *Script {
	return &Script{}
}

// Text adds a text block streamed as the given chunks.
func (s *Script) Text(chunks ...string) *Script {
	return s.block(KindText, "", "", chunks)
}

// Thinking adds a reasoning block streamed as the given chunks.
func (s *Script) Thinking(chunks ...string) *Script {
	return s.block(KindThinking, "", "", chunks)
}

// ToolUse adds a tool_use block whose input arrives as partial JSON
// fragments.
func (s *Script) ToolUse(id, name string, fragments ...string) *Script {
	return s.block(KindToolUse, id, name, fragments)
}

// Raw appends events verbatim, for protocol anomaly scenarios.
func (s *Script) Raw(events ...Event) *Script {
	s.events = append(s.events, events...)
	return s
}

func (s *Script) block(kind BlockKind, id, name string, chunks []string) *Script {
	i := s.index
	s.index++
	s.events = append(s.events, Event{Type: EventBlockStart, Index: i, Kind: kind, ID: id, Name: name})
	for _, c := range chunks {
		s.events = append(s.events, Event{Type: EventDelta, Index: i, Kind: kind, Payload: c})
	}
	s.events = append(s.events, Event{Type: EventBlockStop, Index: i})
	return s
}

// Events returns the script terminated by a message_stop.
func (s *Script) Events() []Event {
	stop := "end_turn"
	for _, ev := range s.events {
		if ev.Kind == KindToolUse {
			stop = "tool_use"
		}
	}
	out := append([]Event(nil), s.events...)
	return append(out, Event{Type: EventMessageStop, StopReason: stop})
}

// MockResponse is one scripted reply. Err fails the request before any
// event; StreamErr fails the stream after Events are delivered.
type MockResponse struct {
	Events    []Event
	Err       error
	StreamErr error
}

// MockLLMClient replays scripted responses in order and records every
// request. Once the script is exhausted it parrots the last user message.
type MockLLMClient struct {
	Responses []MockResponse
	Requests  []Request
	calls     int
}

func (m *MockLLMClient) Stream(ctx context.Context, req Request) (Stream, error) {
	m.Requests = append(m.Requests, req)
	if m.calls < len(m.Responses) {
		resp := m.Responses[m.calls]
		m.calls++
		if resp.Err != nil {
			return nil, resp.Err
		}
		return SliceStream(resp.Events, resp.StreamErr), nil
	}
	m.calls++
	return SliceStream(echo(req), nil), nil
}

// Calls is the number of requests issued so far.
func (m *MockLLMClient) Calls() int {
	return m.calls
}

func echo(req Request) []Event {
	said := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if t := req.Messages[i]; t.Role == session.RoleUser && t.Text() != "" {
			said = t.Text()
			break
		}
	}
	s := NewScript()
	if req.ReasoningBudget > 0 {
		s.Thinking("Analyzing the request ", "and deciding how to answer.")
	}
	return s.Text(fmt.Sprintf("I am a mock LLM (%s). You said: '%s'.", uuid.NewString()[:8], said)).Events()
}
