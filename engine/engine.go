package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/agentweave/core"
	"github.com/hupe1980/agentweave/logging"
	"github.com/hupe1980/agentweave/session"
)

// ErrDuplicateAgent is returned when an agent name is registered twice.
var ErrDuplicateAgent = errors.New("agent already registered")

// Config defines tuning parameters for the Engine.
type Config struct {
	// MaxConcurrentInvocations bounds the top level invocations running at
	// the same time. Callers beyond it wait. 0 means unlimited.
	MaxConcurrentInvocations int64

	// Limits apply to every root invocation started by the engine.
	Limits core.Limits

	// MaxHistory bounds the turns kept per session (0 keeps all).
	MaxHistory int
}

// DefaultConfig provides the default configuration values.
var DefaultConfig = Config{
	MaxConcurrentInvocations: 10,
}

// Options configures an Engine.
type Options struct {
	Config Config

	// SessionStore persists conversation sessions. Defaults to an in-memory
	// store.
	SessionStore session.Store

	// Observers receive the lifecycle events of every invocation.
	Observers []core.Observer

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Engine is a registry of named agents. Every invocation runs under a fresh
// root context carrying the engine's limits, observers and logger.
type Engine struct {
	config    Config
	observers []core.Observer
	logger    logging.Logger
	store     session.Store
	sem       *semaphore.Weighted

	mu       sync.RWMutex
	agents   map[string]core.Agent
	sessions map[string]*session.Manager
}

// New creates an Engine.
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{Config: DefaultConfig}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	if opts.SessionStore == nil {
		opts.SessionStore = session.NewInMemoryStore()
	}

	e := &Engine{
		config:    opts.Config,
		observers: opts.Observers,
		logger:    opts.Logger,
		store:     opts.SessionStore,
		agents:    make(map[string]core.Agent),
		sessions:  make(map[string]*session.Manager),
	}

	if n := opts.Config.MaxConcurrentInvocations; n > 0 {
		e.sem = semaphore.NewWeighted(n)
	}

	return e
}

// WithConfig sets the engine configuration.
func WithConfig(cfg Config) func(o *Options) {
	return func(o *Options) { o.Config = cfg }
}

// WithObservers adds lifecycle observers.
func WithObservers(obs ...core.Observer) func(o *Options) {
	return func(o *Options) { o.Observers = append(o.Observers, obs...) }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// WithSessionStore sets the session store.
func WithSessionStore(s session.Store) func(o *Options) {
	return func(o *Options) { o.SessionStore = s }
}

// Register adds agents to the registry. Names must be unique.
func (e *Engine) Register(agents ...core.Agent) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, a := range agents {
		if _, exists := e.agents[a.Name()]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateAgent, a.Name())
		}

		e.agents[a.Name()] = a
		e.logger.Debug("agent registered", "agent", a.Name())
	}

	return nil
}

// Agent returns the registered agent called name.
func (e *Engine) Agent(name string) (core.Agent, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	a, ok := e.agents[name]
	if !ok {
		return nil, &core.AgentNotFoundError{Name: name}
	}

	return a, nil
}

// Agents describes the registered agents sorted by name.
func (e *Engine) Agents() []core.AgentInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()

	infos := make([]core.AgentInfo, 0, len(e.agents))
	for _, a := range e.agents {
		infos = append(infos, core.InfoOf(a))
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	return infos
}

// NewContext creates a root context configured like the engine's own.
func (e *Engine) NewContext(ctx context.Context, optFns ...func(o *core.ContextOptions)) *core.ExecutionContext {
	base := []func(o *core.ContextOptions){
		core.WithLimits(e.config.Limits),
		core.WithObservers(e.observers...),
		core.WithLogger(e.logger),
	}

	return core.NewContext(ctx, append(base, optFns...)...)
}

// Invoke runs the agent called name and returns its final message.
func (e *Engine) Invoke(ctx context.Context, name string, input core.Message, optFns ...func(o *core.ContextOptions)) (core.Message, error) {
	a, err := e.Agent(name)
	if err != nil {
		return core.Message{}, err
	}

	release, err := e.acquire(ctx)
	if err != nil {
		return core.Message{}, err
	}
	defer release()

	root := e.NewContext(ctx, optFns...)
	defer root.Close() //nolint:errcheck

	return root.Invoke(a, input)
}

// InvokeStream runs the agent called name in streaming mode. The invocation
// slot and the root context are released once the stream is drained.
func (e *Engine) InvokeStream(ctx context.Context, name string, input core.Message, optFns ...func(o *core.ContextOptions)) (core.Stream, error) {
	a, err := e.Agent(name)
	if err != nil {
		return nil, err
	}

	release, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}

	root := e.NewContext(ctx, optFns...)

	s, err := root.InvokeStream(a, input)
	if err != nil {
		_ = root.Close()

		release()

		return nil, err
	}

	return core.Tap(ctx, s, nil, func(error) {
		_ = root.Close()

		release()
	}), nil
}

// Session opens (or creates) the session id whose conversation starts at
// the agent called name. An empty id creates a new session.
func (e *Engine) Session(ctx context.Context, name, id string) (*session.Session, error) {
	m, err := e.manager(name)
	if err != nil {
		return nil, err
	}

	return m.Open(ctx, id)
}

// InvokeSession runs one conversation turn.
func (e *Engine) InvokeSession(ctx context.Context, name, id string, input core.Message) (core.Message, string, error) {
	s, err := e.Session(ctx, name, id)
	if err != nil {
		return core.Message{}, "", err
	}

	release, err := e.acquire(ctx)
	if err != nil {
		return core.Message{}, "", err
	}
	defer release()

	out, err := s.Invoke(ctx, input)

	return out, s.ID(), err
}

// InvokeSessionStream runs one conversation turn in streaming mode.
func (e *Engine) InvokeSessionStream(ctx context.Context, name, id string, input core.Message) (core.Stream, string, error) {
	s, err := e.Session(ctx, name, id)
	if err != nil {
		return nil, "", err
	}

	release, err := e.acquire(ctx)
	if err != nil {
		return nil, "", err
	}

	stream, err := s.InvokeStream(ctx, input)
	if err != nil {
		release()
		return nil, "", err
	}

	return core.Tap(ctx, stream, nil, func(error) { release() }), s.ID(), nil
}

// Shutdown releases every registered agent.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error

	for name, a := range e.agents {
		if err := a.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

func (e *Engine) manager(name string) (*session.Manager, error) {
	a, err := e.Agent(name)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.sessions[name]
	if !ok {
		m = session.NewManager(a, func(o *session.ManagerOptions) {
			o.Store = e.store
			o.Limits = e.config.Limits
			o.Observers = e.observers
			o.Logger = e.logger
			o.MaxHistory = e.config.MaxHistory
		})
		e.sessions[name] = m
	}

	return m, nil
}

func (e *Engine) acquire(ctx context.Context) (func(), error) {
	if e.sem == nil {
		return func() {}, nil
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire invocation slot: %w", err)
	}

	var once sync.Once

	return func() { once.Do(func() { e.sem.Release(1) }) }, nil
}
