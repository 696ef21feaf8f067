package runtime

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/nexus-runtime/internal/agent"
	"github.com/haasonsaas/nexus-runtime/internal/composition"
	"github.com/haasonsaas/nexus-runtime/internal/compress"
)

// Config is the Runtime Coordinator's on-disk configuration shape
// (§4.10), following the teacher's YAML-backed config-file convention
// (`gopkg.in/yaml.v3`, §10 AMBIENT STACK).
type Config struct {
	Model              string             `yaml:"model"`
	MaxIterations      int                `yaml:"max_iterations"`
	MaxTokens          int                `yaml:"max_tokens"`
	RalphMaxIterations int                `yaml:"ralph_max_iterations"`
	PersistSessions    bool               `yaml:"persist_sessions"`
	Composition        composition.Config `yaml:"composition"`
	Compression        compress.Config    `yaml:"compression"`
}

// DefaultConfig returns the Coordinator's defaults, assembled from each
// component's own Default*Config(), following
// internal/agent/options.go's mergeRuntimeOptions() convention.
func DefaultConfig() Config {
	loop := agent.DefaultLoopConfig()
	verified := agent.DefaultVerifiedLoopConfig()
	return Config{
		Model:              "claude-sonnet-4-5",
		MaxIterations:      loop.MaxIterations,
		MaxTokens:          loop.MaxTokens,
		RalphMaxIterations: verified.MaxIterations,
		PersistSessions:    false,
		Composition:        composition.DefaultConfig(),
		Compression:        *compress.DefaultConfig(),
	}
}

func (c Config) sanitize() Config {
	defaults := DefaultConfig()
	if c.Model == "" {
		c.Model = defaults.Model
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = defaults.MaxIterations
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaults.MaxTokens
	}
	if c.RalphMaxIterations <= 0 {
		c.RalphMaxIterations = defaults.RalphMaxIterations
	}
	return c
}

// LoadConfig reads and parses a YAML runtime configuration file, falling
// back to DefaultConfig() for any field the file omits.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg.sanitize(), nil
}
