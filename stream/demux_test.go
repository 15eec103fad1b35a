package stream

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/m4xw311/ponder/errors"
	"github.com/m4xw311/ponder/llm"
	"github.com/m4xw311/ponder/logging"
	"github.com/m4xw311/ponder/session"
	"github.com/m4xw311/ponder/stage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	calls []string
	text  string
}

func (r *recorder) TextAppended(delta string) {
	r.text += delta
	r.calls = append(r.calls, "text:"+delta)
}

func (r *recorder) ReasoningStarted(s stage.Stage) {
	r.calls = append(r.calls, "start:"+s.String())
}

func (r *recorder) ReasoningAppended(delta string, s stage.Stage) {
	r.calls = append(r.calls, fmt.Sprintf("reason:%s:%s", s, delta))
}

func (r *recorder) ReasoningStageChanged(old, next stage.Stage) {
	r.calls = append(r.calls, fmt.Sprintf("change:%s->%s", old, next))
}

func (r *recorder) ReasoningEnded(d time.Duration, stages []stage.Stage) {
	r.calls = append(r.calls, fmt.Sprintf("end:%s:%v", d, stages))
}

func newTestDemux() (*Demux, *recorder) {
	r := &recorder{}
	return New(r, logging.Nop()), r
}

func run(t *testing.T, events []llm.Event) (Result, *recorder) {
	t.Helper()
	d, r := newTestDemux()
	res, err := d.Run(llm.SliceStream(events, nil))
	require.NoError(t, err)
	return res, r
}

func TestTextDeltasConcatenate(t *testing.T) {
	res, r := run(t, llm.NewScript().Text("Hello", " world").Events())

	assert.Equal(t, "Hello world", r.text)
	assert.Equal(t, []string{"text:Hello", "text: world"}, r.calls)
	assert.Equal(t, "Hello world", res.Text)
	assert.Equal(t, []session.ContentBlock{session.TextBlock("Hello world")}, res.Blocks)
	assert.Equal(t, "end_turn", res.StopReason)
	assert.Empty(t, res.Anomalies)
}

func TestReasoningStageChangesOnce(t *testing.T) {
	d, r := newTestDemux()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	events := llm.NewScript().Thinking("Let me plan the approach", "now let's execute this", " and tidy up").Events()
	res, err := d.Run(llm.SliceStream(events, nil))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"start:Planning",
		"reason:Planning:Let me plan the approach",
		"change:Planning->Executing",
		"reason:Executing:now let's execute this",
		"reason:Executing: and tidy up",
		"end:1s:[Planning Executing]",
	}, r.calls)
	assert.Empty(t, res.Blocks, "reasoning never becomes content")
	require.Len(t, res.Reasoning, 1)
	assert.Equal(t, "Let me plan the approachnow let's execute this and tidy up", res.Reasoning[0].Text)
}

func TestReasoningSignatureCaptured(t *testing.T) {
	events := llm.NewScript().Raw(
		llm.Event{Type: llm.EventBlockStart, Index: 0, Kind: llm.KindThinking},
		llm.Event{Type: llm.EventDelta, Index: 0, Kind: llm.KindThinking, Payload: "hmm"},
		llm.Event{Type: llm.EventDelta, Index: 0, Kind: llm.KindThinking, Signature: "sig-"},
		llm.Event{Type: llm.EventDelta, Index: 0, Kind: llm.KindThinking, Signature: "abc"},
		llm.Event{Type: llm.EventBlockStop, Index: 0},
	).Events()
	res, _ := run(t, events)
	assert.Equal(t, []session.ReasoningTrace{{Text: "hmm", Signature: "sig-abc"}}, res.Reasoning)
}

func TestEmptyReasoningBlockEmitsNothing(t *testing.T) {
	_, r := run(t, llm.NewScript().Thinking().Events())
	assert.Empty(t, r.calls)
}

func TestToolUseInput(t *testing.T) {
	events := llm.NewScript().
		Text("Reading.").
		ToolUse("toolu_1", "read_file", `{"pa`, `th": "a.txt"}`).
		ToolUse("toolu_2", "list_files").
		ToolUse("toolu_3", "write_file", `{"path": `).
		Events()
	res, r := run(t, events)

	assert.Equal(t, []string{"text:Reading."}, r.calls)
	assert.Equal(t, "tool_use", res.StopReason)

	uses := res.ToolUses()
	require.Len(t, uses, 3)
	assert.Equal(t, "toolu_1", uses[0].ID)
	assert.JSONEq(t, `{"path":"a.txt"}`, string(uses[0].Input))
	assert.Empty(t, uses[0].InputError)

	assert.Equal(t, json.RawMessage(`{}`), uses[1].Input, "empty input is an empty object")

	assert.Equal(t, `{"path":`, string(uses[2].Input))
	assert.NotEmpty(t, uses[2].InputError)
}

func TestBlocksOrderedByStart(t *testing.T) {
	// Two overlapping blocks: the tool_use stops first but started second.
	events := []llm.Event{
		{Type: llm.EventBlockStart, Index: 0, Kind: llm.KindText},
		{Type: llm.EventBlockStart, Index: 1, Kind: llm.KindToolUse, ID: "t1", Name: "read_file"},
		{Type: llm.EventDelta, Index: 0, Kind: llm.KindText, Payload: "a"},
		{Type: llm.EventDelta, Index: 1, Kind: llm.KindToolUse, Payload: `{}`},
		{Type: llm.EventBlockStop, Index: 1},
		{Type: llm.EventDelta, Index: 0, Kind: llm.KindText, Payload: "b"},
		{Type: llm.EventBlockStop, Index: 0},
		{Type: llm.EventMessageStop, StopReason: "tool_use"},
	}
	res, _ := run(t, events)
	require.Len(t, res.Blocks, 2)
	assert.Equal(t, session.TextBlock("ab"), res.Blocks[0])
	assert.Equal(t, "t1", res.Blocks[1].ID)
	assert.Empty(t, res.Anomalies)
}

func TestOverlappingReasoningTrackedPerIndex(t *testing.T) {
	events := []llm.Event{
		{Type: llm.EventBlockStart, Index: 0, Kind: llm.KindThinking},
		{Type: llm.EventBlockStart, Index: 1, Kind: llm.KindThinking},
		{Type: llm.EventDelta, Index: 0, Kind: llm.KindThinking, Payload: "plan it"},
		{Type: llm.EventDelta, Index: 1, Kind: llm.KindThinking, Payload: "verify it"},
		{Type: llm.EventDelta, Index: 0, Kind: llm.KindThinking, Payload: " more"},
	}
	d, r := newTestDemux()
	for _, ev := range events {
		d.Handle(ev)
	}
	snaps := d.Reasoning()
	require.Len(t, snaps, 2)
	assert.Equal(t, stage.Planning, snaps[0].Stage)
	assert.Equal(t, "plan it more", snaps[0].Text)
	assert.Equal(t, stage.Evaluating, snaps[1].Stage)
	assert.True(t, snaps[1].Active)

	assert.Equal(t, []string{
		"start:Planning",
		"reason:Planning:plan it",
		"start:Evaluating",
		"reason:Evaluating:verify it",
		"reason:Planning: more",
	}, r.calls)
}

func TestProtocolAnomaliesAreDropped(t *testing.T) {
	events := []llm.Event{
		{Type: llm.EventDelta, Index: 7, Kind: llm.KindText, Payload: "orphan"},
		{Type: llm.EventBlockStop, Index: 7},
		{Type: llm.EventBlockStart, Index: 0, Kind: llm.KindText},
		{Type: llm.EventBlockStart, Index: 0, Kind: llm.KindText},
		{Type: llm.EventDelta, Index: 0, Kind: llm.KindThinking, Payload: "wrong kind"},
		{Type: llm.EventDelta, Index: 0, Kind: llm.KindText, Payload: "kept"},
		{Type: llm.EventBlockStop, Index: 0},
		{Type: llm.EventBlockStart, Index: 0, Kind: llm.KindText},
		{Type: llm.EventBlockStart, Index: 1, Kind: "image"},
		{Type: "ping"},
		{Type: llm.EventMessageStop, StopReason: "end_turn"},
	}
	res, r := run(t, events)

	assert.Equal(t, []string{"text:kept"}, r.calls)
	assert.Equal(t, "kept", res.Text)
	require.Len(t, res.Anomalies, 7)
	for _, err := range res.Anomalies {
		assert.True(t, errors.Is(err, errors.KindProtocol))
	}
}

func TestOpenBlocksFinalizedAtEnd(t *testing.T) {
	events := []llm.Event{
		{Type: llm.EventBlockStart, Index: 0, Kind: llm.KindText},
		{Type: llm.EventDelta, Index: 0, Kind: llm.KindText, Payload: "cut"},
		{Type: llm.EventBlockStart, Index: 1, Kind: llm.KindToolUse, ID: "t1", Name: "read_file"},
		{Type: llm.EventDelta, Index: 1, Kind: llm.KindToolUse, Payload: `{"path":"x"}`},
	}
	res, _ := run(t, events)
	require.Len(t, res.Blocks, 2)
	assert.Equal(t, "cut", res.Blocks[0].Text)
	assert.JSONEq(t, `{"path":"x"}`, string(res.Blocks[1].Input))
	assert.Len(t, res.Anomalies, 2)
}

func TestRunStreamError(t *testing.T) {
	d, _ := newTestDemux()
	_, err := d.Run(llm.SliceStream(llm.NewScript().Text("partial").Events()[:2], fmt.Errorf("connection reset")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindTransport))
	assert.ErrorContains(t, err, "connection reset")

	d, _ = newTestDemux()
	_, err = d.Run(llm.SliceStream(nil, errors.Protocol("bad chunk")))
	assert.True(t, errors.Is(err, errors.KindProtocol), "already classified errors pass through")
}
