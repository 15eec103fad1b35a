// Package agent runs the conversation loop shared by every interaction mode.
//
// An Agent owns one conversation. ProcessUserInput sends the conversation to
// the model, folds the streamed response with a stream.Demux, records the
// assistant turn, dispatches any requested tools in order and sends their
// results back, repeating until the model answers without calling a tool.
//
// Interaction modes render the turn by implementing Presenter:
//
//	p := terminal.NewPresenter(os.Stdout, terminal.Options{})
//	a := agent.New(client, registry, p, agent.OptionsFromConfig(cfg), log)
//	err := a.ProcessUserInput(ctx, "list the files here")
//
// The speaker label is printed at most once per user turn, before the first
// text delta, and is re-armed when the mode calls AwaitInput. With
// CollapseReasoning set, live reasoning is withheld and only the
// ReasoningEnded summary reaches the Presenter.
//
// Failures reaching the model abort the user turn and leave the conversation
// as it was; tool failures are returned to the model as error results.
//
// # Subpackages
//
// agent/terminal renders to a terminal and reads prompts from stdin.
//
// agent/acp serves the Agent Client Protocol over stdio for editor
// integration.
package agent
