// Package session holds the conversation history of one agent session.
package session

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/m4xw311/ponder/errors"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one atomic unit of a turn. Which fields are meaningful
// depends on Type.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
	// InputError is set when the streamed input did not parse; Input then
	// holds the raw fragments.
	InputError string `json:"-"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

func ToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// ReasoningTrace is signed model thinking kept alongside an assistant turn so
// providers that require it can replay it. It is not conversation content.
type ReasoningTrace struct {
	Text      string `json:"text"`
	Signature string `json:"signature,omitempty"`
}

type Turn struct {
	Role      Role             `json:"role"`
	Blocks    []ContentBlock   `json:"blocks"`
	Reasoning []ReasoningTrace `json:"reasoning,omitempty"`
}

// ToolUses returns the tool_use blocks of the turn in order.
func (t Turn) ToolUses() []ContentBlock {
	var uses []ContentBlock
	for _, b := range t.Blocks {
		if b.Type == BlockToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}

// Text concatenates the turn's text blocks.
func (t Turn) Text() string {
	var s string
	for _, b := range t.Blocks {
		if b.Type == BlockText {
			s += b.Text
		}
	}
	return s
}

// Conversation is the ordered, append-only turn history of one session.
// It is owned by a single agent loop and is not safe for concurrent use.
type Conversation struct {
	ID    string
	turns []Turn
}

// New creates an empty conversation with a fresh ID.
func New() *Conversation {
	return &Conversation{ID: uuid.NewString()}
}

func (c *Conversation) Len() int {
	return len(c.turns)
}

// Turns returns a copy of the history.
func (c *Conversation) Turns() []Turn {
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// AppendUserText appends a user turn with a single text block.
func (c *Conversation) AppendUserText(text string) {
	c.turns = append(c.turns, Turn{Role: RoleUser, Blocks: []ContentBlock{TextBlock(text)}})
}

// AppendAssistant appends an assistant turn built from text and tool_use
// blocks.
func (c *Conversation) AppendAssistant(blocks []ContentBlock, reasoning []ReasoningTrace) error {
	if err := ValidateAssistant(blocks); err != nil {
		return err
	}
	c.turns = append(c.turns, Turn{
		Role:      RoleAssistant,
		Blocks:    append([]ContentBlock(nil), blocks...),
		Reasoning: append([]ReasoningTrace(nil), reasoning...),
	})
	return nil
}

// ValidateAssistant checks that blocks form a valid assistant turn: at least
// one block, only text and tool_use blocks, and unique non-empty tool_use ids.
func ValidateAssistant(blocks []ContentBlock) error {
	if len(blocks) == 0 {
		return errors.Protocol("assistant turn has no content")
	}
	seen := make(map[string]bool)
	for _, b := range blocks {
		switch b.Type {
		case BlockText:
		case BlockToolUse:
			if b.ID == "" {
				return errors.Protocol("tool_use block %q has no id", b.Name)
			}
			if seen[b.ID] {
				return errors.Protocol("duplicate tool_use id %s", b.ID)
			}
			seen[b.ID] = true
		default:
			return errors.Protocol("%s block in assistant turn", b.Type)
		}
	}
	return nil
}

// AppendToolResults appends a user turn of tool_result blocks answering the
// tool_use blocks of the immediately preceding assistant turn. Each result
// must reference exactly one of those tool_use ids, at most once.
func (c *Conversation) AppendToolResults(results []ContentBlock) error {
	if len(results) == 0 {
		return errors.Protocol("no tool results to append")
	}
	last, ok := c.LastAssistant()
	if !ok || c.turns[len(c.turns)-1].Role != RoleAssistant {
		return errors.Protocol("tool results must follow an assistant turn")
	}
	pending := make(map[string]bool)
	for _, u := range last.ToolUses() {
		pending[u.ID] = true
	}
	for _, r := range results {
		if r.Type != BlockToolResult {
			return errors.Protocol("%s block in tool result turn", r.Type)
		}
		if !pending[r.ToolUseID] {
			return errors.Protocol("tool_result %s has no matching tool_use", r.ToolUseID)
		}
		delete(pending, r.ToolUseID)
	}
	c.turns = append(c.turns, Turn{Role: RoleUser, Blocks: append([]ContentBlock(nil), results...)})
	return nil
}

// LastAssistant returns the most recent assistant turn.
func (c *Conversation) LastAssistant() (Turn, bool) {
	for i := len(c.turns) - 1; i >= 0; i-- {
		if c.turns[i].Role == RoleAssistant {
			return c.turns[i], true
		}
	}
	return Turn{}, false
}

// PendingToolUses returns the tool_use blocks of the last turn when it is an
// assistant turn still waiting for results.
func (c *Conversation) PendingToolUses() []ContentBlock {
	if len(c.turns) == 0 {
		return nil
	}
	last := c.turns[len(c.turns)-1]
	if last.Role != RoleAssistant {
		return nil
	}
	return last.ToolUses()
}
