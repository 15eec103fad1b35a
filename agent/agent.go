package agent

import (
	"context"
	"strings"

	"github.com/m4xw311/ponder/config"
	"github.com/m4xw311/ponder/errors"
	"github.com/m4xw311/ponder/llm"
	"github.com/m4xw311/ponder/session"
	"github.com/m4xw311/ponder/stream"
	"github.com/m4xw311/ponder/tools"
	"github.com/rs/zerolog"
)

// Options are fixed for the lifetime of an Agent.
type Options struct {
	LLM                   string
	Model                 string
	SystemPrompt          string
	MaxOutputTokens       int
	EnableReasoning       bool
	CollapseReasoning     bool
	ReasoningBudgetTokens int
	Verbose               bool
}

// OptionsFromConfig maps a validated configuration onto agent options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		LLM:                   cfg.LLMClient,
		Model:                 cfg.Model,
		SystemPrompt:          cfg.SystemPrompt,
		MaxOutputTokens:       cfg.MaxOutputTokens,
		EnableReasoning:       cfg.Reasoning.Enabled,
		CollapseReasoning:     cfg.Reasoning.Collapsed,
		ReasoningBudgetTokens: cfg.Reasoning.BudgetTokens,
		Verbose:               cfg.Verbose,
	}
}

// Agent runs the conversation loop for one session. It is driven from a
// single goroutine and is not safe for concurrent use.
type Agent struct {
	client    llm.Client
	registry  *tools.Registry
	presenter Presenter
	opts      Options
	log       zerolog.Logger

	conv  *session.Conversation
	turn  TurnPresentation
	usage llm.Usage
}

func New(client llm.Client, registry *tools.Registry, presenter Presenter, opts Options, log zerolog.Logger) *Agent {
	if registry == nil {
		registry = tools.NewRegistry()
	}
	if presenter == nil {
		presenter = NopPresenter{}
	}
	return &Agent{
		client:    client,
		registry:  registry,
		presenter: presenter,
		opts:      opts,
		log:       log,
		conv:      session.New(),
	}
}

// ShowBanner announces the session to the presenter.
func (a *Agent) ShowBanner() {
	var names []string
	for _, t := range a.registry.Tools() {
		names = append(names, t.Name())
	}
	a.presenter.BannerShown(BannerInfo{
		ConversationID: a.conv.ID,
		LLM:            a.opts.LLM,
		Model:          a.opts.Model,
		Tools:          names,
		Reasoning:      a.opts.EnableReasoning,
		Collapsed:      a.opts.CollapseReasoning,
	})
}

// AwaitInput resets the per-turn presentation state. Interaction modes call
// it each time they prompt the user.
func (a *Agent) AwaitInput() {
	a.turn.Reset()
}

// Options returns the options the agent was built with.
func (a *Agent) Options() Options {
	return a.opts
}

// Presentation returns the current per-turn display state.
func (a *Agent) Presentation() TurnPresentation {
	return a.turn
}

// Conversation returns the session history.
func (a *Agent) Conversation() *session.Conversation {
	return a.conv
}

// Reset starts a new conversation.
func (a *Agent) Reset() {
	a.conv = session.New()
	a.turn.Reset()
	a.log.Debug().Str("conversation", a.conv.ID).Msg("conversation reset")
}

// Usage returns the token usage accumulated over the session.
func (a *Agent) Usage() llm.Usage {
	return a.usage
}

// ProcessUserInput runs one user turn to completion: request, stream, and
// dispatch repeat until the model answers without calling a tool.
//
// A failure to reach the model or read its stream aborts the turn. It is
// reported through ErrorRaised and returned; the conversation is left as it
// was before the failed request. Tool failures never abort the turn.
func (a *Agent) ProcessUserInput(ctx context.Context, input string) error {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil
	}

	p := &turnPresenter{Presenter: a.presenter, state: &a.turn, collapsed: a.opts.CollapseReasoning}
	dispatcher := tools.NewDispatcher(a.registry, p, a.log)
	pending := &session.Turn{Role: session.RoleUser, Blocks: []session.ContentBlock{session.TextBlock(input)}}

	for cycle := 1; ; cycle++ {
		res, err := a.request(ctx, p, pending)
		if err != nil {
			return a.fail(err)
		}
		a.log.Debug().Int("cycle", cycle).Str("stop_reason", res.StopReason).
			Int64("input_tokens", res.Usage.InputTokens).Int64("output_tokens", res.Usage.OutputTokens).
			Int("blocks", len(res.Blocks)).Int("anomalies", len(res.Anomalies)).Msg("response")

		if len(res.Blocks) == 0 {
			// Nothing to record as an assistant turn; the model chose not to answer.
			a.log.Warn().Str("stop_reason", res.StopReason).Msg("empty response from model")
			if pending != nil {
				a.conv.AppendUserText(input)
			}
			a.presenter.TurnFinished()
			return nil
		}
		if err := session.ValidateAssistant(res.Blocks); err != nil {
			return a.fail(err)
		}
		if pending != nil {
			a.conv.AppendUserText(input)
			pending = nil
		}
		if err := a.conv.AppendAssistant(res.Blocks, res.Reasoning); err != nil {
			return a.fail(err)
		}

		uses := res.ToolUses()
		if len(uses) == 0 {
			a.presenter.TurnFinished()
			return nil
		}

		outcomes := dispatcher.DispatchAll(ctx, uses)
		results := make([]session.ContentBlock, 0, len(outcomes))
		for _, o := range outcomes {
			results = append(results, o.Block())
		}
		if err := a.conv.AppendToolResults(results); err != nil {
			return a.fail(err)
		}
	}
}

// request issues one inference request over the conversation plus the
// pending user turn, if any, and folds the response.
func (a *Agent) request(ctx context.Context, obs stream.Observer, pending *session.Turn) (stream.Result, error) {
	messages := a.conv.Turns()
	if pending != nil {
		messages = append(messages, *pending)
	}
	req := llm.Request{
		Model:           a.opts.Model,
		System:          a.opts.SystemPrompt,
		MaxOutputTokens: a.opts.MaxOutputTokens,
		Messages:        messages,
		Tools:           a.registry.Schemas(),
	}
	if a.opts.EnableReasoning {
		req.ReasoningBudget = a.opts.ReasoningBudgetTokens
	}

	s, err := a.client.Stream(ctx, req)
	if err != nil {
		if errors.KindOf(err) == "" {
			err = errors.Transport(err, "request failed")
		}
		return stream.Result{}, err
	}
	d := stream.New(obs, a.log)
	d.Collapsed = a.opts.CollapseReasoning
	res, err := d.Run(s)
	if err != nil {
		return stream.Result{}, err
	}
	a.usage.InputTokens += res.Usage.InputTokens
	a.usage.OutputTokens += res.Usage.OutputTokens
	return res, nil
}

func (a *Agent) fail(err error) error {
	a.log.Debug().Err(err).Str("kind", string(errors.KindOf(err))).Msg("turn aborted")
	a.presenter.ErrorRaised(err.Error())
	return err
}
