package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/m4xw311/ponder/stage"
)

// BannerInfo describes the session shown when an interaction mode starts.
type BannerInfo struct {
	ConversationID string
	LLM            string
	Model          string
	Tools          []string
	Reasoning      bool
	Collapsed      bool
}

// Presenter is the presentation sink an interaction mode implements.
// Notifications arrive on the agent's goroutine in order.
type Presenter interface {
	BannerShown(info BannerInfo)
	// LabelPrinted fires once per turn, immediately before the first text
	// delta.
	LabelPrinted()
	TextAppended(delta string)
	ReasoningStarted(s stage.Stage)
	ReasoningAppended(delta string, s stage.Stage)
	ReasoningStageChanged(old, next stage.Stage)
	ReasoningEnded(duration time.Duration, stages []stage.Stage)
	ToolStarted(name string)
	ToolFinished(name string, success bool)
	TurnFinished()
	ErrorRaised(message string)
}

// TurnPresentation is the per-turn display state. It is reset whenever the
// user is prompted for input.
type TurnPresentation struct {
	LabelPrinted       bool
	ReasoningBlockOpen bool
}

func (t *TurnPresentation) Reset() {
	*t = TurnPresentation{}
}

// turnPresenter applies the turn state and the reasoning display mode in
// front of the configured Presenter.
type turnPresenter struct {
	Presenter
	state     *TurnPresentation
	collapsed bool
}

func (p *turnPresenter) TextAppended(delta string) {
	if !p.state.LabelPrinted {
		p.state.LabelPrinted = true
		p.Presenter.LabelPrinted()
	}
	p.Presenter.TextAppended(delta)
}

func (p *turnPresenter) ReasoningStarted(s stage.Stage) {
	p.state.ReasoningBlockOpen = true
	if !p.collapsed {
		p.Presenter.ReasoningStarted(s)
	}
}

func (p *turnPresenter) ReasoningAppended(delta string, s stage.Stage) {
	if !p.collapsed {
		p.Presenter.ReasoningAppended(delta, s)
	}
}

func (p *turnPresenter) ReasoningStageChanged(old, next stage.Stage) {
	if !p.collapsed {
		p.Presenter.ReasoningStageChanged(old, next)
	}
}

func (p *turnPresenter) ReasoningEnded(duration time.Duration, stages []stage.Stage) {
	p.state.ReasoningBlockOpen = false
	p.Presenter.ReasoningEnded(duration, stages)
}

// NopPresenter discards every notification.
type NopPresenter struct{}

func (NopPresenter) BannerShown(BannerInfo)                         {}
func (NopPresenter) LabelPrinted()                                  {}
func (NopPresenter) TextAppended(string)                            {}
func (NopPresenter) ReasoningStarted(stage.Stage)                   {}
func (NopPresenter) ReasoningAppended(string, stage.Stage)          {}
func (NopPresenter) ReasoningStageChanged(stage.Stage, stage.Stage) {}
func (NopPresenter) ReasoningEnded(time.Duration, []stage.Stage)    {}
func (NopPresenter) ToolStarted(string)                             {}
func (NopPresenter) ToolFinished(string, bool)                      {}
func (NopPresenter) TurnFinished()                                  {}
func (NopPresenter) ErrorRaised(string)                             {}

// RecordingPresenter records notifications as short strings, for tests and
// transcripts. Durations are not recorded.
type RecordingPresenter struct {
	Calls []string
	Text  strings.Builder
}

func (r *RecordingPresenter) record(format string, a ...any) {
	r.Calls = append(r.Calls, fmt.Sprintf(format, a...))
}

func (r *RecordingPresenter) BannerShown(info BannerInfo) {
	r.record("banner:%s/%s", info.LLM, info.Model)
}

func (r *RecordingPresenter) LabelPrinted() { r.record("label") }

func (r *RecordingPresenter) TextAppended(delta string) {
	r.Text.WriteString(delta)
	r.record("text:%s", delta)
}

func (r *RecordingPresenter) ReasoningStarted(s stage.Stage) { r.record("reasoning_started:%s", s) }

func (r *RecordingPresenter) ReasoningAppended(delta string, s stage.Stage) {
	r.record("reasoning:%s:%s", s, delta)
}

func (r *RecordingPresenter) ReasoningStageChanged(old, next stage.Stage) {
	r.record("stage_changed:%s->%s", old, next)
}

func (r *RecordingPresenter) ReasoningEnded(_ time.Duration, stages []stage.Stage) {
	r.record("reasoning_ended:%v", stages)
}

func (r *RecordingPresenter) ToolStarted(name string) { r.record("tool_started:%s", name) }

func (r *RecordingPresenter) ToolFinished(name string, success bool) {
	r.record("tool_finished:%s:%t", name, success)
}

func (r *RecordingPresenter) TurnFinished() { r.record("turn_finished") }

func (r *RecordingPresenter) ErrorRaised(message string) { r.record("error:%s", message) }

// Count returns how many recorded calls start with prefix.
func (r *RecordingPresenter) Count(prefix string) int {
	n := 0
	for _, c := range r.Calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}
