package config

import (
	"os"
	"path/filepath"

	"github.com/m4xw311/ponder/errors"
	"gopkg.in/yaml.v3"
)

// DirName is the per-user and per-project configuration directory.
const DirName = ".ponder"

const (
	DefaultLLM             = "anthropic"
	DefaultModel           = "claude-sonnet-4-5"
	DefaultMaxOutputTokens = 8192
	DefaultReasoningBudget = 4096

	// MinReasoningBudget is the smallest thinking budget the inference
	// service accepts.
	MinReasoningBudget = 1024
)

type FilesystemAccess struct {
	Hidden   []string `yaml:"hidden"`
	ReadOnly []string `yaml:"read_only"`
}

type MCPServer struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

type Toolset struct {
	Name  string   `yaml:"name"`
	Tools []string `yaml:"tools"`
}

type Reasoning struct {
	Enabled      bool `yaml:"enabled"`
	Collapsed    bool `yaml:"collapsed"`
	BudgetTokens int  `yaml:"budget_tokens"`
}

type Config struct {
	LLMClient            string           `yaml:"llm"`
	Model                string           `yaml:"model"`
	SystemPrompt         string           `yaml:"system_prompt"`
	MaxOutputTokens      int              `yaml:"max_output_tokens"`
	Reasoning            Reasoning        `yaml:"reasoning"`
	Verbose              bool             `yaml:"verbose"`
	Toolsets             []Toolset        `yaml:"toolsets"`
	AdditionalMCPServers []MCPServer      `yaml:"additional_mcp_servers"`
	AllowedCommands      []string         `yaml:"allowed_commands"`
	FilesystemAccess     FilesystemAccess `yaml:"filesystem_access"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	cfg := &Config{
		LLMClient:       DefaultLLM,
		Model:           DefaultModel,
		MaxOutputTokens: DefaultMaxOutputTokens,
		Reasoning: Reasoning{
			Enabled:      true,
			BudgetTokens: DefaultReasoningBudget,
		},
	}
	// The config directory itself is never visible to tools.
	cfg.FilesystemAccess.Hidden = append(cfg.FilesystemAccess.Hidden, DirName, DirName+"/**")
	return cfg
}

// LoadConfig loads configuration from the user's home directory and the current
// working directory, with the latter taking precedence.
func LoadConfig() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	home, _ := os.UserHomeDir()
	return LoadFrom(home, wd)
}

// LoadFrom layers <homeDir>/.ponder/config.yaml and then
// <projectDir>/.ponder/config.yaml over Default. Either directory may be
// empty or lack a config file.
func LoadFrom(homeDir, projectDir string) (*Config, error) {
	cfg := Default()
	hidden := cfg.FilesystemAccess.Hidden

	if homeDir != "" {
		userConfigPath := filepath.Join(homeDir, DirName, "config.yaml")
		if _, err := os.Stat(userConfigPath); err == nil {
			if err := loadFromFile(userConfigPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading user config")
			}
		}
	}

	if projectDir != "" {
		projectConfigPath := filepath.Join(projectDir, DirName, "config.yaml")
		if _, err := os.Stat(projectConfigPath); err == nil {
			if err := loadFromFile(projectConfigPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading project config")
			}
		}
	}

	cfg.FilesystemAccess.Hidden = mergeUnique(hidden, cfg.FilesystemAccess.Hidden)
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Unmarshal only overwrites fields present in the YAML, so a project file
	// replaces the user-level values it mentions and keeps the rest.
	return yaml.Unmarshal(data, cfg)
}

// LoadFile layers an explicit config file over c. Hidden paths from the
// file are added to the existing ones.
func (c *Config) LoadFile(path string) error {
	hidden := c.FilesystemAccess.Hidden
	if err := loadFromFile(path, c); err != nil {
		return errors.Wrapf(err, "error loading config %s", path)
	}
	c.FilesystemAccess.Hidden = mergeUnique(hidden, c.FilesystemAccess.Hidden)
	return nil
}

func mergeUnique(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	var out []string
	for _, s := range append(append([]string(nil), base...), extra...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// Validate checks provider selection and token budgets.
func (c *Config) Validate() error {
	switch c.LLMClient {
	case "anthropic", "bedrock", "openai", "gemini", "mock":
	default:
		return errors.New("unknown llm %q: must be one of anthropic, bedrock, openai, gemini, mock", c.LLMClient)
	}
	if c.Model == "" && c.LLMClient != "mock" {
		return errors.New("model must be set")
	}
	if c.MaxOutputTokens <= 0 {
		return errors.New("max_output_tokens must be positive, got %d", c.MaxOutputTokens)
	}
	if c.Reasoning.Enabled {
		if c.Reasoning.BudgetTokens < MinReasoningBudget {
			return errors.New("reasoning budget_tokens must be at least %d, got %d", MinReasoningBudget, c.Reasoning.BudgetTokens)
		}
		if c.Reasoning.BudgetTokens >= c.MaxOutputTokens {
			return errors.New("reasoning budget_tokens (%d) must be below max_output_tokens (%d)", c.Reasoning.BudgetTokens, c.MaxOutputTokens)
		}
	}
	return nil
}

// GetToolset finds a toolset by name. Returns the "default" toolset if the
// named one is not found or if an empty name is provided. With no "default"
// toolset configured, ok is false and every built-in tool is available.
func (c *Config) GetToolset(name string) (ts *Toolset, ok bool) {
	if name == "" {
		name = "default"
	}
	for i := range c.Toolsets {
		if c.Toolsets[i].Name == name {
			return &c.Toolsets[i], true
		}
	}
	if name == "default" {
		return nil, false
	}
	return c.GetToolset("default")
}
