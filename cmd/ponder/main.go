package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/m4xw311/ponder/agent"
	"github.com/m4xw311/ponder/agent/acp"
	"github.com/m4xw311/ponder/agent/terminal"
	"github.com/m4xw311/ponder/config"
	"github.com/m4xw311/ponder/errors"
	"github.com/m4xw311/ponder/llm"
	"github.com/m4xw311/ponder/logging"
	"github.com/m4xw311/ponder/tools"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const defaultTraceFile = "ponder.trace"

type options struct {
	configDir      string
	llmName        string
	model          string
	toolset        string
	verbose        bool
	thinking       bool
	collapse       bool
	thinkingBudget int
	maxTokens      int
	acp            bool
	trace          string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "ponder [prompt...]",
		Short: "An interactive assistant that streams its reasoning and uses tools",
		Long: `ponder talks to an LLM in a streaming loop, showing the model's reasoning
as it happens and running the tools it asks for.

Configuration is read from ~/.ponder/config.yaml and then ./.ponder/config.yaml.
API keys may be placed in a .env file in the working directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, strings.Join(args, " "), stdin, stdout, stderr)
		},
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configDir, "config-dir", "", "directory holding an additional config.yaml")
	pf.StringVar(&opts.llmName, "llm", "", "LLM provider: anthropic, bedrock, openai, gemini or mock")
	pf.StringVar(&opts.model, "model", "", "model name")
	pf.StringVarP(&opts.toolset, "toolset", "t", "default", "toolset to enable")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging and token usage")

	f := root.Flags()
	f.BoolVar(&opts.thinking, "thinking", true, "request model reasoning")
	f.BoolVar(&opts.collapse, "collapse", false, "summarize reasoning instead of streaming it")
	f.IntVar(&opts.thinkingBudget, "thinking-budget", 0, "reasoning token budget")
	f.IntVar(&opts.maxTokens, "max-tokens", 0, "maximum output tokens per request")
	f.BoolVar(&opts.acp, "acp", false, "serve the Agent Client Protocol over stdio")
	f.StringVar(&opts.trace, "trace", "", "write logs to this file (ACP mode)")
	f.Lookup("trace").NoOptDefVal = defaultTraceFile

	root.AddCommand(newToolsCmd(opts, stdout, stderr))
	return root
}

func newToolsCmd(opts *options, stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools enabled by the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			log := logging.New(stderr, opts.verbose)
			registry, err := tools.NewDefaultRegistry(cmd.Context(), cfg, opts.toolset, log)
			if err != nil {
				return err
			}
			defer registry.Close()
			for _, t := range registry.Tools() {
				fmt.Fprintf(stdout, "%-16s %s\n", t.Name(), firstLine(t.Description()))
			}
			return nil
		},
	}
}

// loadConfig layers the config files, then flags the user set explicitly.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if opts.configDir != "" {
		if err := cfg.LoadFile(filepath.Join(opts.configDir, "config.yaml")); err != nil {
			return nil, err
		}
	}

	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}
	if opts.llmName != "" {
		cfg.LLMClient = opts.llmName
	}
	if opts.model != "" {
		cfg.Model = opts.model
	}
	if opts.verbose {
		cfg.Verbose = true
	}
	if changed("thinking") {
		cfg.Reasoning.Enabled = opts.thinking
	}
	if changed("collapse") {
		cfg.Reasoning.Collapsed = opts.collapse
	}
	if changed("thinking-budget") {
		cfg.Reasoning.BudgetTokens = opts.thinkingBudget
	}
	if changed("max-tokens") {
		cfg.MaxOutputTokens = opts.maxTokens
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid configuration")
	}
	return cfg, nil
}

func run(cmd *cobra.Command, opts *options, prompt string, stdin io.Reader, stdout, stderr io.Writer) error {
	ctx := cmd.Context()
	envErr := godotenv.Load()

	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}

	// stdout belongs to the protocol peer in ACP mode.
	logOut := stderr
	if opts.acp {
		logOut = io.Discard
		if opts.trace != "" {
			f, err := logging.OpenTrace(opts.trace)
			if err != nil {
				return err
			}
			defer f.Close()
			logOut = f
		}
	}
	log := logging.New(logOut, cfg.Verbose)
	logging.Install(log)
	if envErr != nil {
		log.Debug().Err(envErr).Msg("no .env file loaded")
	}

	client, err := llm.New(ctx, cfg.LLMClient, cfg.Model, log)
	if err != nil {
		return err
	}
	registry, err := tools.NewDefaultRegistry(ctx, cfg, opts.toolset, log)
	if err != nil {
		return err
	}
	defer registry.Close()

	agentOpts := agent.OptionsFromConfig(cfg)
	log.Debug().Str("llm", cfg.LLMClient).Str("model", cfg.Model).Bool("reasoning", cfg.Reasoning.Enabled).
		Bool("collapsed", cfg.Reasoning.Collapsed).Msg("starting")

	if opts.acp {
		return runACP(ctx, client, registry, agentOpts, stdin, stdout, log)
	}
	p := terminal.NewPresenter(stdout, terminal.Options{Collapsed: agentOpts.CollapseReasoning})
	a := agent.New(client, registry, p, agentOpts, log)
	return terminal.New(a, stdin, stdout).Run(ctx, prompt)
}

func runACP(ctx context.Context, client llm.Client, registry *tools.Registry, opts agent.Options, stdin io.Reader, stdout io.Writer, log zerolog.Logger) error {
	newAgent := func(p agent.Presenter) *agent.Agent {
		return agent.New(client, registry, p, opts, log)
	}
	return acp.NewServer(newAgent, stdin, stdout, opts.CollapseReasoning, log).Run(ctx)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
