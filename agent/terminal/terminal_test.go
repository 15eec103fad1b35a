package terminal

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/m4xw311/ponder/agent"
	"github.com/m4xw311/ponder/llm"
	"github.com/m4xw311/ponder/logging"
	"github.com/m4xw311/ponder/stage"
	"github.com/m4xw311/ponder/tools"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plainPresenter(collapsed bool) (*Presenter, *bytes.Buffer) {
	var out bytes.Buffer
	ascii := termenv.Ascii
	return NewPresenter(&out, Options{Collapsed: collapsed, Profile: &ascii}), &out
}

func newTestTerminal(t *testing.T, client llm.Client, input string, opts agent.Options) (*Terminal, *agent.Agent, *bytes.Buffer) {
	t.Helper()
	p, out := plainPresenter(opts.CollapseReasoning)
	a := agent.New(client, tools.NewRegistry(), p, opts, logging.Nop())
	return New(a, strings.NewReader(input), out), a, out
}

func TestPresenterText(t *testing.T) {
	p, out := plainPresenter(false)
	p.LabelPrinted()
	p.TextAppended("Hello")
	p.TextAppended(" world")
	p.TurnFinished()
	assert.Equal(t, "Ponder: Hello world\n", out.String())
}

func TestPresenterReasoningExpanded(t *testing.T) {
	p, out := plainPresenter(false)
	p.ReasoningStarted(stage.Planning)
	p.ReasoningAppended("let me plan", stage.Planning)
	p.ReasoningStageChanged(stage.Planning, stage.Executing)
	p.ReasoningAppended("executing now", stage.Executing)
	p.ReasoningEnded(1500*time.Millisecond, []stage.Stage{stage.Planning, stage.Executing})

	want := "📋 Planning\nlet me plan\n⚙ Executing\nexecuting now\n(reasoned for 1.5s)\n"
	assert.Equal(t, want, out.String())
}

func TestPresenterReasoningCollapsed(t *testing.T) {
	p, out := plainPresenter(true)
	p.ReasoningEnded(2*time.Second, []stage.Stage{stage.Analyzing, stage.Evaluating})
	assert.Equal(t, "💭 thought for 2s: Analyzing → Evaluating\n", out.String())
}

func TestPresenterToolsAndErrors(t *testing.T) {
	p, out := plainPresenter(false)
	p.LabelPrinted()
	p.TextAppended("Checking.")
	p.ToolStarted("read_file")
	p.ToolFinished("read_file", true)
	p.ToolStarted("frobnicate")
	p.ToolFinished("frobnicate", false)
	p.ErrorRaised("request failed: boom")

	assert.Equal(t, strings.Join([]string{
		"Ponder: Checking.",
		"⚙ read_file",
		"  ✓ read_file",
		"⚙ frobnicate",
		"  ✗ frobnicate failed",
		"Error: request failed: boom",
		"",
	}, "\n"), out.String())
}

func TestPresenterBanner(t *testing.T) {
	p, out := plainPresenter(false)
	p.BannerShown(agent.BannerInfo{ConversationID: "c1", LLM: "mock", Model: "m", Tools: []string{"read_file", "list_files"}, Reasoning: true})
	assert.Contains(t, out.String(), "ponder mock/m · conversation c1\n")
	assert.Contains(t, out.String(), "tools: read_file, list_files\n")
	assert.Contains(t, out.String(), "reasoning: expanded\n")
}

func TestRunSession(t *testing.T) {
	client := &llm.MockLLMClient{Responses: []llm.MockResponse{
		{Events: llm.NewScript().Text("First", " answer.").Events()},
		{Events: llm.NewScript().Text("Second answer.").Events()},
	}}
	term, a, out := newTestTerminal(t, client, "hello\n\n   \nagain\n/quit\nignored\n", agent.Options{LLM: "mock", Model: "m"})

	require.NoError(t, term.Run(context.Background(), ""))
	assert.Equal(t, 2, client.Calls())
	assert.Equal(t, 4, a.Conversation().Len())

	s := out.String()
	assert.Contains(t, s, "You: Ponder: First answer.\n")
	assert.Contains(t, s, "You: Ponder: Second answer.\n")
	assert.Equal(t, 2, strings.Count(s, "Ponder:"), "label printed once per turn")
	assert.NotContains(t, s, "ignored")
}

func TestRunInitialPromptAndReset(t *testing.T) {
	client := &llm.MockLLMClient{Responses: []llm.MockResponse{
		{Events: llm.NewScript().Text("Hi.").Events()},
	}}
	term, a, out := newTestTerminal(t, client, "/reset\n", agent.Options{Verbose: true})

	require.NoError(t, term.Run(context.Background(), "start here"))
	assert.Contains(t, out.String(), "You: start here\nPonder: Hi.\n")
	assert.Contains(t, out.String(), "[tokens: 0 in, 0 out]")
	assert.Contains(t, out.String(), fmt.Sprintf("Started conversation %s", a.Conversation().ID))
	assert.Equal(t, 0, a.Conversation().Len())
}

func TestRunSurvivesTransportError(t *testing.T) {
	client := &llm.MockLLMClient{Responses: []llm.MockResponse{
		{Err: fmt.Errorf("connection refused")},
		{Events: llm.NewScript().Text("Recovered.").Events()},
	}}
	term, a, out := newTestTerminal(t, client, "one\ntwo\n", agent.Options{})

	require.NoError(t, term.Run(context.Background(), ""))
	assert.Contains(t, out.String(), "Error: request failed: connection refused\n")
	assert.Contains(t, out.String(), "Ponder: Recovered.\n")
	assert.Equal(t, 2, a.Conversation().Len())
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	term, _, _ := newTestTerminal(t, &llm.MockLLMClient{}, "hello\n", agent.Options{})
	assert.ErrorIs(t, term.Run(ctx, ""), context.Canceled)
}
