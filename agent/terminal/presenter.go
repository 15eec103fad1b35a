package terminal

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/m4xw311/ponder/agent"
	"github.com/m4xw311/ponder/stage"
	"github.com/muesli/termenv"
)

const label = "Ponder:"

var stageColors = map[stage.Stage]lipgloss.Color{
	stage.Analyzing:  lipgloss.Color("#61AFEF"),
	stage.Planning:   lipgloss.Color("#56B6C2"),
	stage.Deciding:   lipgloss.Color("#E5C07B"),
	stage.Executing:  lipgloss.Color("#C678DD"),
	stage.Evaluating: lipgloss.Color("#98C379"),
}

// Options configure a Presenter.
type Options struct {
	// Collapsed prints a one-line summary per reasoning block instead of
	// the live stream.
	Collapsed bool
	// Profile overrides colour detection.
	Profile *termenv.Profile
}

type styles struct {
	label   lipgloss.Style
	banner  lipgloss.Style
	muted   lipgloss.Style
	tool    lipgloss.Style
	ok      lipgloss.Style
	failed  lipgloss.Style
	stages  map[stage.Stage]lipgloss.Style
	heading map[stage.Stage]lipgloss.Style
}

// Presenter renders a turn to a terminal.
type Presenter struct {
	out       io.Writer
	styles    styles
	collapsed bool
	midLine   bool
}

var _ agent.Presenter = (*Presenter)(nil)

// NewPresenter returns a Presenter writing to w.
func NewPresenter(w io.Writer, opts Options) *Presenter {
	r := lipgloss.NewRenderer(w)
	switch {
	case opts.Profile != nil:
		r.SetColorProfile(*opts.Profile)
	case termenv.EnvNoColor():
		r.SetColorProfile(termenv.Ascii)
	}

	s := styles{
		label:   r.NewStyle().Foreground(lipgloss.Color("#E06C75")).Bold(true),
		banner:  r.NewStyle().Foreground(lipgloss.Color("#C678DD")).Bold(true),
		muted:   r.NewStyle().Foreground(lipgloss.Color("#636B78")),
		tool:    r.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
		ok:      r.NewStyle().Foreground(lipgloss.Color("#98C379")),
		failed:  r.NewStyle().Foreground(lipgloss.Color("#E06C75")),
		stages:  make(map[stage.Stage]lipgloss.Style),
		heading: make(map[stage.Stage]lipgloss.Style),
	}
	for st, c := range stageColors {
		s.stages[st] = r.NewStyle().Foreground(c).Faint(true)
		s.heading[st] = r.NewStyle().Foreground(c).Bold(true)
	}
	return &Presenter{out: w, styles: s, collapsed: opts.Collapsed}
}

func (p *Presenter) write(s string) {
	if s == "" {
		return
	}
	fmt.Fprint(p.out, s)
	p.midLine = !strings.HasSuffix(s, "\n")
}

// line ends the current line, if any, then writes s and a newline.
func (p *Presenter) line(s string) {
	p.endLine()
	p.write(s + "\n")
}

func (p *Presenter) endLine() {
	if p.midLine {
		p.write("\n")
	}
}

func (p *Presenter) BannerShown(info agent.BannerInfo) {
	p.line(p.styles.banner.Render("ponder") + " " + p.styles.muted.Render(fmt.Sprintf("%s/%s · conversation %s", info.LLM, info.Model, info.ConversationID)))
	if len(info.Tools) > 0 {
		p.line(p.styles.muted.Render("tools: " + strings.Join(info.Tools, ", ")))
	} else {
		p.line(p.styles.muted.Render("tools: none"))
	}
	if info.Reasoning {
		mode := "expanded"
		if info.Collapsed {
			mode = "collapsed"
		}
		p.line(p.styles.muted.Render("reasoning: " + mode))
	}
	p.line(p.styles.muted.Render("Type /quit to exit, /reset to start a new conversation."))
}

func (p *Presenter) LabelPrinted() {
	p.endLine()
	p.write(p.styles.label.Render(label) + " ")
}

func (p *Presenter) TextAppended(delta string) {
	p.write(delta)
}

func (p *Presenter) ReasoningStarted(s stage.Stage) {
	p.line(p.styles.heading[s].Render(s.Icon() + " " + s.String()))
}

func (p *Presenter) ReasoningAppended(delta string, s stage.Stage) {
	p.write(renderLines(p.styles.stages[s], delta))
}

// renderLines styles each line of s separately so multi-line deltas are
// not padded into a block.
func renderLines(st lipgloss.Style, s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = st.Render(l)
		}
	}
	return strings.Join(lines, "\n")
}

func (p *Presenter) ReasoningStageChanged(old, next stage.Stage) {
	p.line(p.styles.heading[next].Render(next.Icon() + " " + next.String()))
}

func (p *Presenter) ReasoningEnded(d time.Duration, stages []stage.Stage) {
	elapsed := d.Round(100 * time.Millisecond)
	if !p.collapsed {
		p.line(p.styles.muted.Render(fmt.Sprintf("(reasoned for %s)", elapsed)))
		return
	}
	parts := make([]string, 0, len(stages))
	for _, s := range stages {
		parts = append(parts, p.styles.heading[s].Render(s.String()))
	}
	p.line(p.styles.muted.Render(fmt.Sprintf("💭 thought for %s: ", elapsed)) + strings.Join(parts, p.styles.muted.Render(" → ")))
}

func (p *Presenter) ToolStarted(name string) {
	p.line(p.styles.tool.Render("⚙ " + name))
}

func (p *Presenter) ToolFinished(name string, success bool) {
	if success {
		p.line(p.styles.ok.Render("  ✓ " + name))
		return
	}
	p.line(p.styles.failed.Render("  ✗ " + name + " failed"))
}

func (p *Presenter) TurnFinished() {
	p.endLine()
}

func (p *Presenter) ErrorRaised(message string) {
	p.line(p.styles.failed.Render("Error: " + message))
}
