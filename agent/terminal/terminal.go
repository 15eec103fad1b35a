package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/m4xw311/ponder/agent"
)

// Terminal handles the terminal/CLI interaction mode for the agent.
type Terminal struct {
	agent *agent.Agent
	in    io.Reader
	out   io.Writer
}

// New creates a Terminal reading prompts from in and writing prompts to out.
// A verbose agent also gets its token usage printed after each turn.
func New(a *agent.Agent, in io.Reader, out io.Writer) *Terminal {
	return &Terminal{agent: a, in: in, out: out}
}

// Run starts the interactive session. It returns when input is exhausted,
// the user quits, or ctx is cancelled.
func (t *Terminal) Run(ctx context.Context, initialPrompt string) error {
	t.agent.ShowBanner()

	if initialPrompt != "" {
		fmt.Fprintf(t.out, "You: %s\n", initialPrompt)
		t.processTurn(ctx, initialPrompt)
	}

	scanner := bufio.NewScanner(t.in)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		t.agent.AwaitInput()
		fmt.Fprint(t.out, "You: ")
		if !scanner.Scan() {
			fmt.Fprintln(t.out)
			break
		}

		input := strings.TrimSpace(scanner.Text())
		switch input {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			t.agent.Reset()
			fmt.Fprintf(t.out, "Started conversation %s\n", t.agent.Conversation().ID)
			continue
		}
		t.processTurn(ctx, input)
	}
	return scanner.Err()
}

// processTurn runs one user turn. Errors have already been shown by the
// presenter and do not end the session.
func (t *Terminal) processTurn(ctx context.Context, input string) {
	if err := t.agent.ProcessUserInput(ctx, input); err != nil {
		return
	}
	if t.agent.Options().Verbose {
		u := t.agent.Usage()
		fmt.Fprintf(t.out, "[tokens: %d in, %d out]\n", u.InputTokens, u.OutputTokens)
	}
}
