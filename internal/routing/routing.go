// Package routing maps work-item tiers to agents and holds per-agent
// execution settings loaded from the project config file (.herd/config.yaml).
package routing

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/herdctl/herd/pkg/models"
)

// DefaultMaxConcurrent applies when an agent entry sets no ceiling.
const DefaultMaxConcurrent = 2

// AgentConfig holds the execution settings for one agent.
type AgentConfig struct {
	// Command is the argv used to launch the agent. The work item ID is
	// appended as the final argument at spawn time.
	Command []string `mapstructure:"command" yaml:"command"`
	// MaxConcurrent is the agent's concurrency ceiling.
	MaxConcurrent int `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	// Tiers lists the work-item tiers this agent handles.
	Tiers []string `mapstructure:"tiers" yaml:"tiers"`
}

// Config holds the full routing configuration.
type Config struct {
	// Agents maps agent name to its settings.
	Agents map[string]AgentConfig `mapstructure:"agents" yaml:"agents"`
	// ReviewCommand, when set, is run once for each item entering review.
	ReviewCommand []string `mapstructure:"review_command" yaml:"review_command,omitempty"`
	// PollInterval is the scheduler's completion-wait bound, e.g. "2s".
	PollInterval string `mapstructure:"poll_interval" yaml:"poll_interval,omitempty"`
}

// Table resolves tiers to agents. It is safe for concurrent use and
// swappable as a whole on config reload.
type Table struct {
	mu   sync.RWMutex
	cfg  Config
	path string
}

// ConfigPath returns the path to the project routing config.
func ConfigPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".herd", "config.yaml")
}

// Load reads the routing config from path.
func Load(path string) (*Table, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}
	return &Table{cfg: cfg, path: path}, nil
}

// Reload re-reads the config file and swaps the table atomically. On
// error the previous table is kept.
func (t *Table) Reload() error {
	cfg, err := read(t.path)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.cfg = cfg
	t.mu.Unlock()
	return nil
}

// Path returns the config file path backing this table.
func (t *Table) Path() string {
	return t.path
}

// AgentForTier returns the agent responsible for the tier. When several
// agents claim a tier the lexically first name wins, so resolution is
// deterministic across reloads.
func (t *Table) AgentForTier(tier models.Tier) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.cfg.Agents))
	for name := range t.cfg.Agents {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, tt := range t.cfg.Agents[name].Tiers {
			if tt == string(tier) {
				return name, nil
			}
		}
	}
	return "", fmt.Errorf("no agent routes tier %q", tier)
}

// CommandFor returns the launch argv for the agent.
func (t *Table) CommandFor(agent string) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ac, ok := t.cfg.Agents[agent]
	if !ok {
		return nil, fmt.Errorf("unknown agent %q", agent)
	}
	if len(ac.Command) == 0 {
		return nil, fmt.Errorf("agent %q has no command configured", agent)
	}
	out := make([]string, len(ac.Command))
	copy(out, ac.Command)
	return out, nil
}

// ConcurrencyLimit returns the agent's ceiling, defaulting when unset.
func (t *Table) ConcurrencyLimit(agent string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ac, ok := t.cfg.Agents[agent]
	if !ok || ac.MaxConcurrent <= 0 {
		return DefaultMaxConcurrent
	}
	return ac.MaxConcurrent
}

// Agents returns the configured agent names, sorted.
func (t *Table) Agents() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.cfg.Agents))
	for name := range t.cfg.Agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ReviewCommand returns the configured review hook argv, or nil.
func (t *Table) ReviewCommand() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.cfg.ReviewCommand) == 0 {
		return nil
	}
	out := make([]string, len(t.cfg.ReviewCommand))
	copy(out, t.cfg.ReviewCommand)
	return out
}

// PollInterval returns the configured scheduler wait bound, or "".
func (t *Table) PollInterval() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cfg.PollInterval
}

// read loads and validates a config file.
func read(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading routing config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshaling routing config: %w", err)
	}

	if len(cfg.Agents) == 0 {
		return Config{}, fmt.Errorf("routing config %s declares no agents", path)
	}
	for name, ac := range cfg.Agents {
		if len(ac.Command) == 0 {
			return Config{}, fmt.Errorf("agent %q has no command", name)
		}
		for _, tier := range ac.Tiers {
			if !models.Tier(tier).Valid() {
				return Config{}, fmt.Errorf("agent %q routes unknown tier %q", name, tier)
			}
		}
	}
	return cfg, nil
}

// WriteDefault writes a starter config to path if none exists.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	cfg := Config{
		Agents: map[string]AgentConfig{
			"claude": {
				Command:       []string{"claude", "-p"},
				MaxConcurrent: 2,
				Tiers:         []string{"simple", "standard", "complex"},
			},
		},
		PollInterval: "2s",
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}
