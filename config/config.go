package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML decodes either a duration string or a bare number of
// nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("config: invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("config: invalid duration value")
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML renders the duration back as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Provider configures one tool provider process.
type Provider struct {
	ID      string            `yaml:"id"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	Dir     string            `yaml:"dir,omitempty"`
}

// Model configures the planner backend.
type Model struct {
	Endpoint     string `yaml:"endpoint,omitempty"`
	Name         string `yaml:"name,omitempty"`
	SystemPrompt string `yaml:"system_prompt,omitempty"`
}

// Session tunes the orchestration loop and provider lifecycle timeouts.
type Session struct {
	MaxIterations    int      `yaml:"max_iterations,omitempty"`
	CallTimeout      Duration `yaml:"call_timeout,omitempty"`
	HandshakeTimeout Duration `yaml:"handshake_timeout,omitempty"`
	GraceTimeout     Duration `yaml:"grace_timeout,omitempty"`
}

// Config is the full runtime configuration.
type Config struct {
	Model          Model      `yaml:"model"`
	Session        Session    `yaml:"session"`
	Providers      []Provider `yaml:"providers"`
	TranscriptPath string     `yaml:"transcript_path,omitempty"`
}

// Default returns the built-in provider set: local filesystem access and
// web fetch always; web search, code execution and Obsidian vault access
// when their environment (API key, executor path, vault path) is present.
func Default() *Config {
	cfg := &Config{
		Model: Model{
			Endpoint: "http://localhost:11434",
			Name:     "qwen2.5",
		},
		Session: Session{
			MaxIterations:    8,
			CallTimeout:      Duration(30 * time.Second),
			HandshakeTimeout: Duration(15 * time.Second),
			GraceTimeout:     Duration(5 * time.Second),
		},
		Providers: []Provider{
			{
				ID:      "filesystem",
				Command: "npx",
				Args:    []string{"-y", "@modelcontextprotocol/server-filesystem", "./samples"},
				Env:     map[string]string{"NODE_NO_WARNINGS": "1"},
			},
			{
				ID:      "fetch",
				Command: "uvx",
				Args:    []string{"mcp-server-fetch"},
			},
		},
	}
	if os.Getenv("BRAVE_API_KEY") != "" {
		cfg.Providers = append(cfg.Providers, Provider{
			ID:      "brave-search",
			Command: "npx",
			Args:    []string{"-y", "@modelcontextprotocol/server-brave-search"},
			Env: map[string]string{
				"BRAVE_API_KEY":    "${BRAVE_API_KEY}",
				"NODE_NO_WARNINGS": "1",
			},
		})
	}
	if executor := os.Getenv("MCP_CODE_EXECUTOR"); executor != "" {
		cfg.Providers = append(cfg.Providers, Provider{
			ID:      "code-executor",
			Command: "node",
			Args:    []string{executor},
			Env: map[string]string{
				"CODE_STORAGE_DIR": "./samples",
				"ENV_TYPE":         "venv",
				"VENV_PATH":        "./samples/venv",
				"NODE_NO_WARNINGS": "1",
			},
		})
	}
	if vault := os.Getenv("OBSIDIAN_VAULT"); vault != "" {
		cfg.Providers = append(cfg.Providers, Provider{
			ID:      "obsidian",
			Command: "npx",
			Args:    []string{"-y", "mcp-obsidian", vault},
			Env:     map[string]string{"NODE_NO_WARNINGS": "1"},
		})
	}
	return cfg
}

// Load reads a YAML config, expanding ${VAR} references in provider args,
// env values, working directories and the transcript path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.expand()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path when given, otherwise the built-in defaults.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		cfg.expand()
		return cfg, nil
	}
	return Load(path)
}

func (c *Config) expand() {
	for i := range c.Providers {
		p := &c.Providers[i]
		for j, arg := range p.Args {
			p.Args[j] = os.ExpandEnv(arg)
		}
		for k, v := range p.Env {
			p.Env[k] = os.ExpandEnv(v)
		}
		p.Dir = os.ExpandEnv(p.Dir)
	}
	c.TranscriptPath = os.ExpandEnv(c.TranscriptPath)
}

// Validate rejects configs the runtime could not start.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("config: provider with empty id")
		}
		if p.Command == "" {
			return fmt.Errorf("config: provider %s has no command", p.ID)
		}
		if seen[p.ID] {
			return fmt.Errorf("config: duplicate provider id %s", p.ID)
		}
		seen[p.ID] = true
	}
	if c.Session.MaxIterations < 0 {
		return fmt.Errorf("config: max_iterations must not be negative")
	}
	return nil
}
