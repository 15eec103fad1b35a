package tools

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/m4xw311/ponder/config"
	"github.com/m4xw311/ponder/errors"
	"github.com/m4xw311/ponder/llm"
	"github.com/m4xw311/ponder/tools/mcp"
	"github.com/rs/zerolog"
)

// Tool defines the interface for any action the agent can take. Execute must
// not prompt the user; a returned error becomes an error tool_result.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	Execute(ctx context.Context, input map[string]any) (string, error)
}

// Registry holds the available tools in registration order.
type Registry struct {
	tools   map[string]Tool
	order   []string
	servers []*mcp.Client
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// NewDefaultRegistry registers the built-in tools allowed by the named
// toolset, then the tools of every configured MCP server. A missing toolset
// (and no default) enables every built-in and every MCP tool.
func NewDefaultRegistry(ctx context.Context, cfg *config.Config, toolset string, log zerolog.Logger) (*Registry, error) {
	ts, restricted := cfg.GetToolset(toolset)
	allowed := func(name string) bool {
		if !restricted {
			return true
		}
		for _, pattern := range ts.Tools {
			if pattern == name {
				return true
			}
			if ok, _ := doublestar.Match(pattern, name); ok {
				return true
			}
		}
		return false
	}

	r := NewRegistry()
	fs := &cfg.FilesystemAccess
	builtins := []Tool{
		&ReadFileTool{fsAccess: fs},
		&ListFilesTool{fsAccess: fs},
		&SearchFilesTool{fsAccess: fs},
		&WriteFileTool{fsAccess: fs},
		&EditFileTool{fsAccess: fs},
		&ExecuteCommandTool{allowedCommands: cfg.AllowedCommands},
	}
	for _, t := range builtins {
		if !allowed(t.Name()) {
			continue
		}
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}

	for _, server := range cfg.AdditionalMCPServers {
		client, err := mcp.NewClient(ctx, server.Name, server.Command, server.Args, log)
		if err != nil {
			r.Close()
			return nil, errors.Wrapf(err, "could not start MCP server %s", server.Name)
		}
		r.servers = append(r.servers, client)
		for _, t := range client.Tools() {
			// Toolsets address MCP tools as <server>.<tool>.
			if !allowed(server.Name+"."+t.Name()) && !allowed(t.Name()) {
				continue
			}
			if err := r.Register(t); err != nil {
				log.Warn().Err(err).Str("server", server.Name).Msg("skipping MCP tool")
			}
		}
	}

	if restricted {
		for _, name := range ts.Tools {
			if !strings.ContainsAny(name, "*.?[") {
				if _, ok := r.Get(name); !ok {
					r.Close()
					return nil, errors.New("tool '%s' from toolset '%s' is not available", name, ts.Name)
				}
			}
		}
	}
	log.Debug().Int("tools", len(r.order)).Str("toolset", toolset).Msg("tool registry ready")
	return r, nil
}

// Register adds t. Names must be unique. The zero Registry is ready to use.
func (r *Registry) Register(t Tool) error {
	if r.tools == nil {
		r.tools = make(map[string]Tool)
	}
	if _, exists := r.tools[t.Name()]; exists {
		return errors.New("tool %s is already registered", t.Name())
	}
	r.tools[t.Name()] = t
	r.order = append(r.order, t.Name())
	return nil
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Tools returns the registered tools in registration order.
func (r *Registry) Tools() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Schemas describes the registered tools to the model.
func (r *Registry) Schemas() []llm.ToolSchema {
	out := make([]llm.ToolSchema, 0, len(r.order))
	for _, t := range r.Tools() {
		out = append(out, llm.ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return out
}

// Close stops every MCP server the registry started.
func (r *Registry) Close() error {
	var firstErr error
	for _, s := range r.servers {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.servers = nil
	return firstErr
}

// objectSchema builds the JSON schema of an object input.
func objectSchema(required []string, props map[string]map[string]any) map[string]any {
	properties := make(map[string]any, len(props))
	for name, p := range props {
		properties[name] = p
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

// isPathRestricted checks if a path matches any of the glob patterns.
// Patterns are relative to the working directory.
func isPathRestricted(path string, patterns []string) (bool, error) {
	clean := filepath.ToSlash(relativePath(path))
	for _, pattern := range patterns {
		if !doublestar.ValidatePathPattern(pattern) {
			return false, errors.New("invalid glob pattern '%s'", pattern)
		}
		match, err := doublestar.PathMatch(pattern, clean)
		if err != nil {
			return false, errors.Wrapf(err, "invalid glob pattern '%s'", pattern)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

func relativePath(path string) string {
	clean := filepath.Clean(path)
	if !filepath.IsAbs(clean) {
		return clean
	}
	wd, err := os.Getwd()
	if err != nil {
		return clean
	}
	if rel, err := filepath.Rel(wd, clean); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return clean
}

// isCommandAllowed checks if a command is in the allowlist. Each entry is a
// regex that must match the whole command.
func isCommandAllowed(command string, allowed []string) bool {
	if len(strings.Fields(command)) == 0 {
		return false
	}
	for _, pattern := range allowed {
		re, err := regexp.Compile("^(?:" + pattern + ")$")
		if err != nil {
			// Fall back to an exact comparison for patterns that are not valid regexes.
			if command == pattern {
				return true
			}
			continue
		}
		if re.MatchString(command) {
			return true
		}
	}
	return false
}
