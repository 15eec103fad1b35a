// Package stream folds the event sequence of one inference request into an
// assistant turn while forwarding incremental text and reasoning to an
// Observer.
//
// Each block index moves Closed → Open(kind) → Closed. Events that do not fit
// that machine (an unopened index, a kind mismatch, a restarted index) are
// protocol anomalies: they are logged and dropped, and processing continues.
// Blocks are tracked independently per index, so overlapping blocks are
// accumulated separately and their notifications interleave in arrival order.
package stream

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/m4xw311/ponder/errors"
	"github.com/m4xw311/ponder/llm"
	"github.com/m4xw311/ponder/session"
	"github.com/m4xw311/ponder/stage"
	"github.com/rs/zerolog"
)

// Observer receives display notifications as events are folded.
type Observer interface {
	TextAppended(delta string)
	ReasoningStarted(s stage.Stage)
	ReasoningAppended(delta string, s stage.Stage)
	ReasoningStageChanged(old, next stage.Stage)
	ReasoningEnded(duration time.Duration, stages []stage.Stage)
}

// BlockState is the accumulation of one open block.
type BlockState struct {
	Index int
	Kind  llm.BlockKind
	ID    string
	Name  string

	order     int
	buf       strings.Builder
	signature string

	// thinking only
	started   time.Time
	reasoning bool
	stage     stage.Stage
	stages    []stage.Stage
}

// Text is what the block has accumulated so far: text, reasoning, or
// partial tool input JSON.
func (b *BlockState) Text() string {
	return b.buf.String()
}

// ReasoningSnapshot is the display state of an open reasoning block.
type ReasoningSnapshot struct {
	Stage     stage.Stage
	Text      string
	Active    bool
	Collapsed bool
}

// Result is the finalized assistant output of one request.
type Result struct {
	// Blocks holds text and tool_use blocks in order of block start.
	Blocks []session.ContentBlock
	// Reasoning is replay metadata; it never enters the conversation as
	// content.
	Reasoning  []session.ReasoningTrace
	Text       string
	StopReason string
	Usage      llm.Usage
	Anomalies  []error
}

// ToolUses returns the tool_use blocks in stream order.
func (r Result) ToolUses() []session.ContentBlock {
	var uses []session.ContentBlock
	for _, b := range r.Blocks {
		if b.Type == session.BlockToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}

type finalized struct {
	order int
	block session.ContentBlock
}

// Demux is a synchronous fold over llm.Events. It is single-use: create one
// per request.
type Demux struct {
	// Collapsed is reported in reasoning snapshots.
	Collapsed bool

	obs        Observer
	classifier *stage.Classifier
	log        zerolog.Logger
	now        func() time.Time

	open       map[int]*BlockState
	closed     map[int]bool
	started    int
	blocks     []finalized
	reasoning  []session.ReasoningTrace
	stopReason string
	usage      llm.Usage
	anomalies  []error
}

func New(obs Observer, log zerolog.Logger) *Demux {
	return &Demux{
		obs:        obs,
		classifier: stage.NewClassifier(stage.DefaultRules),
		log:        log,
		now:        time.Now,
		open:       make(map[int]*BlockState),
		closed:     make(map[int]bool),
	}
}

// Run folds every event of s and closes it. A stream failure is returned as
// a transport error and the partial result is discarded.
func (d *Demux) Run(s llm.Stream) (Result, error) {
	defer s.Close()
	for s.Next() {
		d.Handle(s.Current())
	}
	if err := s.Err(); err != nil {
		if errors.KindOf(err) == "" {
			err = errors.Transport(err, "stream failed")
		}
		return Result{}, err
	}
	return d.Result(), nil
}

// Handle folds one event.
func (d *Demux) Handle(ev llm.Event) {
	switch ev.Type {
	case llm.EventBlockStart:
		d.blockStart(ev)
	case llm.EventDelta:
		d.delta(ev)
	case llm.EventBlockStop:
		b, ok := d.open[ev.Index]
		if !ok {
			d.anomaly(ev, "stop for unopened index")
			return
		}
		d.finalize(b)
	case llm.EventMessageStop:
		d.stopReason = ev.StopReason
		d.usage = ev.Usage
	default:
		d.anomaly(ev, "unknown event type")
	}
}

func (d *Demux) blockStart(ev llm.Event) {
	if _, ok := d.open[ev.Index]; ok {
		d.anomaly(ev, "start for already open index")
		return
	}
	if d.closed[ev.Index] {
		d.anomaly(ev, "start for reused index")
		return
	}
	switch ev.Kind {
	case llm.KindText, llm.KindThinking, llm.KindToolUse:
	default:
		d.anomaly(ev, "start of unknown block kind")
		return
	}
	b := &BlockState{Index: ev.Index, Kind: ev.Kind, ID: ev.ID, Name: ev.Name, order: d.started}
	d.started++
	if ev.Kind == llm.KindThinking {
		b.started = d.now()
	}
	d.open[ev.Index] = b
}

func (d *Demux) delta(ev llm.Event) {
	b, ok := d.open[ev.Index]
	if !ok {
		d.anomaly(ev, "delta for unopened index")
		return
	}
	if ev.Kind != "" && ev.Kind != b.Kind {
		d.anomaly(ev, "delta kind does not match block kind "+string(b.Kind))
		return
	}

	switch b.Kind {
	case llm.KindText:
		if ev.Payload == "" {
			return
		}
		b.buf.WriteString(ev.Payload)
		d.obs.TextAppended(ev.Payload)
	case llm.KindThinking:
		if ev.Signature != "" {
			b.signature += ev.Signature
		}
		if ev.Payload == "" {
			return
		}
		b.buf.WriteString(ev.Payload)
		st := d.classifier.Classify(b.buf.String())
		switch {
		case !b.reasoning:
			b.reasoning = true
			b.stage = st
			b.stages = []stage.Stage{st}
			d.obs.ReasoningStarted(st)
		case st != b.stage:
			d.obs.ReasoningStageChanged(b.stage, st)
			b.stage = st
			b.stages = append(b.stages, st)
		}
		d.obs.ReasoningAppended(ev.Payload, st)
	case llm.KindToolUse:
		b.buf.WriteString(ev.Payload)
	}
}

func (d *Demux) finalize(b *BlockState) {
	delete(d.open, b.Index)
	d.closed[b.Index] = true

	switch b.Kind {
	case llm.KindText:
		if b.buf.Len() > 0 {
			d.blocks = append(d.blocks, finalized{b.order, session.TextBlock(b.buf.String())})
		}
	case llm.KindThinking:
		if b.buf.Len() > 0 || b.signature != "" {
			d.reasoning = append(d.reasoning, session.ReasoningTrace{Text: b.buf.String(), Signature: b.signature})
		}
		if b.reasoning {
			d.obs.ReasoningEnded(d.now().Sub(b.started), append([]stage.Stage(nil), b.stages...))
		}
	case llm.KindToolUse:
		d.blocks = append(d.blocks, finalized{b.order, d.toolUse(b)})
	}
}

// toolUse parses the accumulated partial JSON. Empty input is an empty
// object; input that does not parse as an object is kept raw and marked so
// dispatch reports it to the model.
func (d *Demux) toolUse(b *BlockState) session.ContentBlock {
	raw := bytes.TrimSpace([]byte(b.buf.String()))
	if len(raw) == 0 {
		return session.ToolUseBlock(b.ID, b.Name, json.RawMessage(`{}`))
	}
	block := session.ToolUseBlock(b.ID, b.Name, json.RawMessage(raw))
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		block.InputError = err.Error()
		d.log.Debug().Err(err).Str("tool", b.Name).Str("id", b.ID).Msg("tool input did not parse")
	}
	return block
}

// finish finalizes blocks the stream left open, in start order.
func (d *Demux) finish() {
	open := make([]*BlockState, 0, len(d.open))
	for _, b := range d.open {
		open = append(open, b)
	}
	sort.Slice(open, func(i, j int) bool { return open[i].order < open[j].order })
	for _, b := range open {
		d.anomaly(llm.Event{Type: llm.EventBlockStop, Index: b.Index, Kind: b.Kind}, "block still open at end of stream")
		d.finalize(b)
	}
}

// Result finalizes any open blocks and returns the assembled output.
func (d *Demux) Result() Result {
	d.finish()
	blocks := append([]finalized(nil), d.blocks...)
	sort.SliceStable(blocks, func(i, j int) bool { return blocks[i].order < blocks[j].order })

	r := Result{
		Reasoning:  append([]session.ReasoningTrace(nil), d.reasoning...),
		StopReason: d.stopReason,
		Usage:      d.usage,
		Anomalies:  append([]error(nil), d.anomalies...),
	}
	var text strings.Builder
	for _, f := range blocks {
		r.Blocks = append(r.Blocks, f.block)
		if f.block.Type == session.BlockText {
			text.WriteString(f.block.Text)
		}
	}
	r.Text = text.String()
	return r
}

// Reasoning returns snapshots of the open reasoning blocks in start order.
func (d *Demux) Reasoning() []ReasoningSnapshot {
	var open []*BlockState
	for _, b := range d.open {
		if b.Kind == llm.KindThinking {
			open = append(open, b)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].order < open[j].order })
	snaps := make([]ReasoningSnapshot, 0, len(open))
	for _, b := range open {
		snaps = append(snaps, ReasoningSnapshot{Stage: b.stage, Text: b.buf.String(), Active: true, Collapsed: d.Collapsed})
	}
	return snaps
}

// Block returns the state of an open block.
func (d *Demux) Block(index int) (*BlockState, bool) {
	b, ok := d.open[index]
	return b, ok
}

func (d *Demux) anomaly(ev llm.Event, msg string) {
	err := errors.Protocol("%s", msg)
	d.anomalies = append(d.anomalies, err)
	d.log.Warn().Err(err).Str("event", string(ev.Type)).Int("index", ev.Index).Str("kind", string(ev.Kind)).Msg("dropping stream event")
}
