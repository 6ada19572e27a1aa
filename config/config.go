package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agentweave/core"
	"github.com/hupe1980/agentweave/logging"
)

// Agent types.
const (
	TypeModel        = "model"
	TypeSequential   = "sequential"
	TypeParallel     = "parallel"
	TypeRouter       = "router"
	TypeOrchestrator = "orchestrator"
	TypeTransfer     = "transfer"
	TypeRemote       = "remote"
)

// Model providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderMock      = "mock"
)

// Memory backends.
const (
	MemoryBackendInMemory = "memory"
	MemoryBackendSQLite   = "sqlite"
)

// Config is the root of the configuration file.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
	Engine  EngineConfig  `yaml:"engine"`
	Memory  MemoryConfig  `yaml:"memory"`
	Models  []ModelConfig `yaml:"models"`
	Agents  []AgentConfig `yaml:"agents"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	Burst             int           `yaml:"burst"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
	// Format is json, text or console.
	Format string `yaml:"format"`
	// Backend is slog or zerolog.
	Backend string `yaml:"backend"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint"`
	Insecure     bool    `yaml:"insecure"`
	ServiceName  string  `yaml:"serviceName"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// EngineConfig configures the engine.
type EngineConfig struct {
	MaxConcurrentInvocations int64       `yaml:"maxConcurrentInvocations"`
	MaxHistory               int         `yaml:"maxHistory"`
	Limits                   core.Limits `yaml:"limits"`
}

// MemoryConfig selects the memory store shared by agents with memory enabled.
type MemoryConfig struct {
	Backend string `yaml:"backend"`
	DSN     string `yaml:"dsn"`
	Limit   int    `yaml:"limit"`
}

// ModelConfig declares a chat model.
type ModelConfig struct {
	Name        string  `yaml:"name"`
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"apiKey"`
	BaseURL     string  `yaml:"baseURL"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int64   `yaml:"maxTokens"`
	// RateLimit bounds requests per second to the provider (0 = unlimited).
	RateLimit float64 `yaml:"rateLimit"`
	Burst     int     `yaml:"burst"`
	// Responses are the canned answers of a mock model keyed by prompt.
	Responses map[string]string `yaml:"responses"`
}

// AgentConfig declares an agent. Which fields apply depends on Type.
type AgentConfig struct {
	Name         string         `yaml:"name"`
	Type         string         `yaml:"type"`
	Description  string         `yaml:"description"`
	OutputKey    string         `yaml:"outputKey"`
	InputSchema  map[string]any `yaml:"inputSchema"`
	OutputSchema map[string]any `yaml:"outputSchema"`
	GuideRails   []string       `yaml:"guideRails"`
	// Memory attaches the shared memory store; MemorySearchKey names the
	// input field used as the query.
	Memory          bool   `yaml:"memory"`
	MemorySearchKey string `yaml:"memorySearchKey"`

	// model
	Model         string        `yaml:"model"`
	Instruction   string        `yaml:"instruction"`
	MaxToolRounds int           `yaml:"maxToolRounds"`
	ToolTimeout   time.Duration `yaml:"toolTimeout"`

	// Skills are tools (model), steps (sequential), branches (parallel),
	// routes (router) or workers (orchestrator).
	Skills []string `yaml:"skills"`

	// parallel
	MaxConcurrency int `yaml:"maxConcurrency"`

	// router
	Triage   string `yaml:"triage"`
	Fallback string `yaml:"fallback"`

	// orchestrator
	Planner       string `yaml:"planner"`
	Completer     string `yaml:"completer"`
	MaxIterations int    `yaml:"maxIterations"`

	// transfer
	Target string `yaml:"target"`

	// remote
	URL        string `yaml:"url"`
	RemoteName string `yaml:"remoteName"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)

	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}

	if cfg.Server.Burst == 0 {
		cfg.Server.Burst = 1
	}

	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Logging.Backend == "" {
		cfg.Logging.Backend = "slog"
	}

	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "agentweave"
	}

	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1
	}

	if cfg.Engine.MaxConcurrentInvocations == 0 {
		cfg.Engine.MaxConcurrentInvocations = 10
	}

	if cfg.Memory.Backend == "" {
		cfg.Memory.Backend = MemoryBackendInMemory
	}
}

// Load reads, expands and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse expands environment variables in data, decodes it strictly and
// applies defaults. The result is validated.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config

	decoder := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	decoder.KnownFields(true)

	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}

	switch c.Memory.Backend {
	case MemoryBackendInMemory:
	case MemoryBackendSQLite:
		if c.Memory.DSN == "" {
			errs = append(errs, errors.New("memory.dsn: required for the sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("memory.backend: unknown backend %q", c.Memory.Backend))
	}

	models := make(map[string]bool, len(c.Models))

	for i, m := range c.Models {
		if m.Name == "" {
			errs = append(errs, fmt.Errorf("models[%d].name: required", i))
		} else if models[m.Name] {
			errs = append(errs, fmt.Errorf("models[%d].name: duplicate model %q", i, m.Name))
		}

		models[m.Name] = true

		switch m.Provider {
		case ProviderOpenAI, ProviderAnthropic, ProviderMock:
		default:
			errs = append(errs, fmt.Errorf("models[%d].provider: unknown provider %q", i, m.Provider))
		}
	}

	agents := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		agents[a.Name] = true
	}

	seen := make(map[string]bool, len(c.Agents))

	for i, a := range c.Agents {
		path := fmt.Sprintf("agents[%d]", i)

		if a.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name: required", path))
		} else if seen[a.Name] {
			errs = append(errs, fmt.Errorf("%s.name: duplicate agent %q", path, a.Name))
		}

		seen[a.Name] = true

		ref := func(field, name string) {
			if name != "" && !agents[name] {
				errs = append(errs, fmt.Errorf("%s.%s: unknown agent %q", path, field, name))
			}
		}

		for _, s := range a.Skills {
			ref("skills", s)
		}

		for _, g := range a.GuideRails {
			ref("guideRails", g)
		}

		switch a.Type {
		case TypeModel:
			if !models[a.Model] {
				errs = append(errs, fmt.Errorf("%s.model: unknown model %q", path, a.Model))
			}
		case TypeSequential, TypeParallel:
			if len(a.Skills) == 0 {
				errs = append(errs, fmt.Errorf("%s.skills: required for %s agents", path, a.Type))
			}
		case TypeRouter:
			if a.Triage == "" {
				errs = append(errs, fmt.Errorf("%s.triage: required", path))
			}

			ref("triage", a.Triage)
			ref("fallback", a.Fallback)
		case TypeOrchestrator:
			if a.Planner == "" {
				errs = append(errs, fmt.Errorf("%s.planner: required", path))
			}

			ref("planner", a.Planner)
			ref("completer", a.Completer)
		case TypeTransfer:
			if a.Target == "" {
				errs = append(errs, fmt.Errorf("%s.target: required", path))
			}

			ref("target", a.Target)
		case TypeRemote:
			if a.URL == "" {
				errs = append(errs, fmt.Errorf("%s.url: required", path))
			}
		default:
			errs = append(errs, fmt.Errorf("%s.type: unknown agent type %q", path, a.Type))
		}
	}

	return errors.Join(errs...)
}

// LoggerConfig converts the logging section.
func (l LoggingConfig) LoggerConfig() *logging.LoggerConfig {
	level, _ := logging.ParseLevel(l.Level)

	return &logging.LoggerConfig{
		Level:     level,
		Format:    l.Format,
		Backend:   l.Backend,
		Output:    os.Stderr,
		Component: "agentweave",
	}
}
