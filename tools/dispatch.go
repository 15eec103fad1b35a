package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/m4xw311/ponder/errors"
	"github.com/m4xw311/ponder/session"
	"github.com/rs/zerolog"
)

// Outcome is the normalized result of one tool call.
type Outcome struct {
	ToolUseID string
	Content   string
	IsError   bool
}

// Block converts the outcome into a tool_result content block.
func (o Outcome) Block() session.ContentBlock {
	return session.ToolResultBlock(o.ToolUseID, o.Content, o.IsError)
}

// Notifier receives tool activity for display.
type Notifier interface {
	ToolStarted(name string)
	ToolFinished(name string, success bool)
}

// Dispatcher executes tool_use blocks against a Registry. Every failure is
// captured in the Outcome; Dispatch never returns an error.
type Dispatcher struct {
	registry *Registry
	notifier Notifier
	log      zerolog.Logger
}

func NewDispatcher(registry *Registry, notifier Notifier, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, notifier: notifier, log: log}
}

// Dispatch executes one tool_use block.
func (d *Dispatcher) Dispatch(ctx context.Context, block session.ContentBlock) Outcome {
	d.notifier.ToolStarted(block.Name)
	content, err := d.execute(ctx, block)
	if err != nil {
		d.log.Debug().Err(err).Str("tool", block.Name).Str("id", block.ID).Str("kind", string(errors.KindOf(err))).Msg("tool call failed")
		d.notifier.ToolFinished(block.Name, false)
		return Outcome{ToolUseID: block.ID, Content: errorContent(err), IsError: true}
	}
	d.log.Debug().Str("tool", block.Name).Str("id", block.ID).Int("bytes", len(content)).Msg("tool call succeeded")
	d.notifier.ToolFinished(block.Name, true)
	return Outcome{ToolUseID: block.ID, Content: content}
}

// DispatchAll executes blocks one at a time in order. The outcomes are in the
// same order.
func (d *Dispatcher) DispatchAll(ctx context.Context, blocks []session.ContentBlock) []Outcome {
	outcomes := make([]Outcome, 0, len(blocks))
	for _, b := range blocks {
		outcomes = append(outcomes, d.Dispatch(ctx, b))
	}
	return outcomes
}

func (d *Dispatcher) execute(ctx context.Context, block session.ContentBlock) (content string, err error) {
	tool, ok := d.registry.Get(block.Name)
	if !ok {
		return "", errors.ToolNotFound(block.Name)
	}
	input, err := decodeInput(block)
	if err != nil {
		return "", err
	}

	defer func() {
		if r := recover(); r != nil {
			err = errors.ToolExecution(block.Name, fmt.Errorf("panic: %v", r))
		}
	}()
	content, err = tool.Execute(ctx, input)
	if err != nil {
		return "", errors.ToolExecution(block.Name, err)
	}
	return content, nil
}

// decodeInput returns the block's input as a JSON object. Empty input is an
// empty object.
func decodeInput(block session.ContentBlock) (map[string]any, error) {
	if block.InputError != "" {
		return nil, errors.InputParse(block.Name, fmt.Errorf("%s (received %q)", block.InputError, string(block.Input)))
	}
	raw := bytes.TrimSpace(block.Input)
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var input map[string]any
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, errors.InputParse(block.Name, err)
	}
	if input == nil {
		input = map[string]any{}
	}
	return input, nil
}

// errorContent is the text the model sees for a failed call. A missing tool
// gets the bare diagnostic; other failures read "Error: ...".
func errorContent(err error) string {
	if errors.Is(err, errors.KindToolNotFound) {
		return err.Error()
	}
	return "Error: " + err.Error()
}
