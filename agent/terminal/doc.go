// Package terminal is the interactive command-line mode.
//
// Presenter streams the assistant's text, reasoning and tool activity to a
// writer, styled with lipgloss. Colour follows the output's capabilities and
// is disabled when NO_COLOR is set or the writer is not a terminal.
//
// Terminal reads prompts line by line. Besides ordinary prompts it accepts:
//
//   - /quit, /exit: end the session
//   - /reset: start a new conversation
//
// Usage:
//
//	p := terminal.NewPresenter(os.Stdout, terminal.Options{Collapsed: cfg.Reasoning.Collapsed})
//	a := agent.New(client, registry, p, opts, log)
//	err := terminal.New(a, os.Stdin, os.Stdout).Run(ctx, initialPrompt)
package terminal
