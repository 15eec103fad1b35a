package llm

import (
	"context"

	"github.com/m4xw311/ponder/session"
)

// EventType is the kind of a stream event.
type EventType string

const (
	EventBlockStart  EventType = "block_start"
	EventDelta       EventType = "delta"
	EventBlockStop   EventType = "block_stop"
	EventMessageStop EventType = "message_stop"
)

// BlockKind is the kind of content block an event refers to.
type BlockKind string

const (
	KindText     BlockKind = "text"
	KindThinking BlockKind = "thinking"
	KindToolUse  BlockKind = "tool_use"
)

// Event is one provider-neutral notification from a streaming response.
// Index identifies the content block; ID and Name are set on tool_use block
// starts; Payload carries delta text or partial JSON; Signature carries a
// thinking-block signature delta.
type Event struct {
	Type       EventType
	Index      int
	Kind       BlockKind
	ID         string
	Name       string
	Payload    string
	Signature  string
	StopReason string
	Usage      Usage
}

type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// ToolSchema describes a tool to the model.
type ToolSchema struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Request is one inference request carrying the whole conversation.
type Request struct {
	Model           string
	System          string
	MaxOutputTokens int
	Messages        []session.Turn
	Tools           []ToolSchema
	// ReasoningBudget enables extended reasoning when positive.
	ReasoningBudget int
}

// Stream is a pull-based, ordered sequence of events from one request.
// Next advances; Current is valid until the following Next; Err reports the
// failure that stopped iteration, if any.
type Stream interface {
	Next() bool
	Current() Event
	Err() error
	Close() error
}

// Client is the interface for interacting with a Large Language Model.
type Client interface {
	Stream(ctx context.Context, req Request) (Stream, error)
}
