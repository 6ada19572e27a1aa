package config

import (
	"context"
	"errors"
	"fmt"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"
	"golang.org/x/time/rate"

	"github.com/hupe1980/agentweave/agent"
	"github.com/hupe1980/agentweave/core"
	"github.com/hupe1980/agentweave/memory"
	"github.com/hupe1980/agentweave/memory/sqlite"
	"github.com/hupe1980/agentweave/model"
	"github.com/hupe1980/agentweave/model/anthropic"
	"github.com/hupe1980/agentweave/model/openai"
	"github.com/hupe1980/agentweave/server"
)

// ErrCycle is returned when agent declarations reference each other in a
// loop.
var ErrCycle = errors.New("agent reference cycle")

// Runtime holds what Build created.
type Runtime struct {
	// Agents in declaration order.
	Agents []core.Agent
	Models map[string]model.ChatModel
	Memory memory.Store

	closers []func() error
}

// Agent returns the built agent called name.
func (r *Runtime) Agent(name string) (core.Agent, bool) {
	for _, a := range r.Agents {
		if a.Name() == name {
			return a, true
		}
	}

	return nil, false
}

// Close shuts the agents down and releases the memory store.
func (r *Runtime) Close() error {
	var errs []error

	for _, a := range r.Agents {
		if err := a.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s: %w", a.Name(), err))
		}
	}

	for _, c := range r.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Build creates the models, memory store and agents declared in cfg.
func Build(ctx context.Context, cfg *Config) (*Runtime, error) {
	rt := &Runtime{Models: make(map[string]model.ChatModel, len(cfg.Models))}

	for _, mc := range cfg.Models {
		rt.Models[mc.Name] = buildModel(mc)
	}

	store, closer, err := buildMemory(ctx, cfg.Memory)
	if err != nil {
		return nil, err
	}

	rt.Memory = store
	if closer != nil {
		rt.closers = append(rt.closers, closer)
	}

	b := &builder{
		cfg:      cfg,
		rt:       rt,
		decls:    make(map[string]AgentConfig, len(cfg.Agents)),
		built:    make(map[string]core.Agent, len(cfg.Agents)),
		visiting: make(map[string]bool),
	}

	for _, ac := range cfg.Agents {
		b.decls[ac.Name] = ac
	}

	for _, ac := range cfg.Agents {
		a, err := b.agent(ac.Name)
		if err != nil {
			_ = rt.Close()
			return nil, err
		}

		rt.Agents = append(rt.Agents, a)
	}

	return rt, nil
}

func buildModel(mc ModelConfig) model.ChatModel {
	var m model.ChatModel

	switch mc.Provider {
	case ProviderOpenAI:
		m = openai.NewModel(func(o *openai.Options) {
			o.APIKey = mc.APIKey
			o.BaseURL = mc.BaseURL

			if mc.Model != "" {
				o.Model = mc.Model
			}

			if mc.Temperature != 0 {
				o.Temperature = mc.Temperature
			}

			if mc.MaxTokens != 0 {
				o.MaxCompletionTokens = mc.MaxTokens
			}
		})
	case ProviderAnthropic:
		m = anthropic.NewModel(func(o *anthropic.Options) {
			o.APIKey = mc.APIKey
			o.BaseURL = mc.BaseURL

			if mc.Model != "" {
				o.Model = sdkanthropic.Model(mc.Model)
			}

			if mc.Temperature != 0 {
				o.Temperature = mc.Temperature
			}

			if mc.MaxTokens != 0 {
				o.MaxTokens = mc.MaxTokens
			}
		})
	default:
		name := mc.Model
		if name == "" {
			name = mc.Name
		}

		mock := model.NewMockModel(name, ProviderMock)
		for prompt, response := range mc.Responses {
			mock.AddResponse(prompt, response)
		}

		m = mock
	}

	if mc.RateLimit > 0 {
		m = model.NewRateLimited(m, rate.Limit(mc.RateLimit), mc.Burst)
	}

	return m
}

func buildMemory(ctx context.Context, mc MemoryConfig) (memory.Store, func() error, error) {
	if mc.Backend == MemoryBackendSQLite {
		store, err := sqlite.New(ctx, mc.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open memory store: %w", err)
		}

		return store, store.Close, nil
	}

	return memory.NewInMemoryStore(), nil, nil
}

type builder struct {
	cfg      *Config
	rt       *Runtime
	decls    map[string]AgentConfig
	built    map[string]core.Agent
	visiting map[string]bool

	retriever core.Agent
	recorder  core.Agent
}

// agent builds the agent called name after the agents it references.
func (b *builder) agent(name string) (core.Agent, error) {
	if a, ok := b.built[name]; ok {
		return a, nil
	}

	ac, ok := b.decls[name]
	if !ok {
		return nil, &core.AgentNotFoundError{Name: name}
	}

	if b.visiting[name] {
		return nil, fmt.Errorf("%w: %s", ErrCycle, name)
	}

	b.visiting[name] = true
	defer delete(b.visiting, name)

	a, err := b.build(ac)
	if err != nil {
		return nil, fmt.Errorf("build agent %s: %w", name, err)
	}

	b.built[name] = a

	return a, nil
}

func (b *builder) agents(names []string) ([]core.Agent, error) {
	out := make([]core.Agent, 0, len(names))

	for _, n := range names {
		a, err := b.agent(n)
		if err != nil {
			return nil, err
		}

		out = append(out, a)
	}

	return out, nil
}

func (b *builder) optional(name string) (core.Agent, error) {
	if name == "" {
		return nil, nil
	}

	return b.agent(name)
}

func (b *builder) base(ac AgentConfig) (agent.BaseOptions, error) {
	rails, err := b.agents(ac.GuideRails)
	if err != nil {
		return agent.BaseOptions{}, err
	}

	opts := agent.BaseOptions{
		Description:  ac.Description,
		OutputKey:    ac.OutputKey,
		InputSchema:  ac.InputSchema,
		OutputSchema: ac.OutputSchema,
		GuideRails:   rails,
	}

	if ac.Memory {
		if b.retriever == nil {
			b.retriever = memory.NewRetrieverAgent(b.rt.Memory, func(o *memory.AgentOptions) { o.Limit = b.cfg.Memory.Limit })
			b.recorder = memory.NewRecorderAgent(b.rt.Memory)
		}

		opts.Memory = &core.MemoryConfig{
			Retriever: b.retriever,
			Recorder:  b.recorder,
			Limit:     b.cfg.Memory.Limit,
			SearchKey: ac.MemorySearchKey,
		}
	}

	return opts, nil
}

func (b *builder) build(ac AgentConfig) (core.Agent, error) {
	base, err := b.base(ac)
	if err != nil {
		return nil, err
	}

	skills, err := b.agents(ac.Skills)
	if err != nil {
		return nil, err
	}

	switch ac.Type {
	case TypeModel:
		m, ok := b.rt.Models[ac.Model]
		if !ok {
			return nil, fmt.Errorf("unknown model %q", ac.Model)
		}

		return agent.NewModelAgent(ac.Name, m, func(o *agent.ModelAgentOptions) {
			o.BaseOptions = base
			o.Skills = skills
			o.MaxToolRounds = ac.MaxToolRounds
			o.ToolTimeout = ac.ToolTimeout

			if ac.Instruction != "" {
				o.Instruction = agent.NewInstructionFromText(ac.Instruction)
			}
		}), nil
	case TypeSequential:
		return agent.NewSequentialAgent(ac.Name, skills, func(o *agent.SequentialAgentOptions) {
			o.BaseOptions = base
		}), nil
	case TypeParallel:
		return agent.NewParallelAgent(ac.Name, skills, func(o *agent.ParallelAgentOptions) {
			o.BaseOptions = base
			o.MaxConcurrency = ac.MaxConcurrency
		})
	case TypeRouter:
		triage, err := b.agent(ac.Triage)
		if err != nil {
			return nil, err
		}

		return agent.NewRouterAgent(ac.Name, triage, skills, func(o *agent.RouterOptions) {
			o.BaseOptions = base
			o.Fallback = ac.Fallback
		}), nil
	case TypeOrchestrator:
		planner, err := b.agent(ac.Planner)
		if err != nil {
			return nil, err
		}

		completer, err := b.optional(ac.Completer)
		if err != nil {
			return nil, err
		}

		return agent.NewOrchestratorAgent(ac.Name, planner, skills, func(o *agent.OrchestratorOptions) {
			o.BaseOptions = base
			o.MaxIterations = ac.MaxIterations
			o.Completer = completer
		}), nil
	case TypeTransfer:
		target, err := b.agent(ac.Target)
		if err != nil {
			return nil, err
		}

		return agent.NewTransferAgent(target, func(o *agent.TransferAgentOptions) {
			o.Name = ac.Name

			if base.Description == "" {
				base.Description = o.Description
			}

			o.BaseOptions = base
		}), nil
	case TypeRemote:
		return server.NewRemoteAgent(ac.Name, ac.URL, func(o *server.RemoteAgentOptions) {
			if ac.RemoteName != "" {
				o.RemoteName = ac.RemoteName
			}

			o.Description = ac.Description
		}), nil
	default:
		return nil, fmt.Errorf("unknown agent type %q", ac.Type)
	}
}
