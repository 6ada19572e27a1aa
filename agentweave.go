// Package agentweave is the high-level façade over the engine and its
// collaborators. Most applications:
//  1. create a Weave with New (in-memory stores by default),
//  2. register agents built with the agent package,
//  3. invoke them by name, stream them, or hold conversations through sessions,
//  4. optionally serve them over HTTP with Serve.
//
// Composition, limits, lifecycle events and memory hooks live in core and
// agent; this package only wires the ambient pieces together.
package agentweave

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/agentweave/core"
	"github.com/hupe1980/agentweave/engine"
	"github.com/hupe1980/agentweave/logging"
	"github.com/hupe1980/agentweave/memory"
	"github.com/hupe1980/agentweave/observer"
	"github.com/hupe1980/agentweave/server"
	"github.com/hupe1980/agentweave/session"
)

// Options configures a Weave.
type Options struct {
	// EngineConfig tunes concurrency, limits and session history.
	EngineConfig engine.Config

	// SessionStore defaults to an in-memory store.
	SessionStore session.Store
	// MemoryStore backs MemoryConfig; defaults to an in-memory store.
	MemoryStore memory.Store

	// Observers receive lifecycle events in addition to the logging observer.
	Observers []core.Observer

	// Registry enables Prometheus metrics when set; it also backs /metrics
	// of Serve.
	Registry *prometheus.Registry

	// Tracing adds an OpenTelemetry observer using the global tracer provider.
	Tracing bool

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Weave aggregates the engine and its stores.
type Weave struct {
	opts   Options
	engine *engine.Engine
}

// New creates a Weave.
func New(optFns ...func(o *Options)) *Weave {
	opts := Options{
		EngineConfig: engine.DefaultConfig,
		SessionStore: session.NewInMemoryStore(),
		MemoryStore:  memory.NewInMemoryStore(),
		Logger:       logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	observers := append([]core.Observer{observer.NewLogging(opts.Logger)}, opts.Observers...)

	if opts.Registry != nil {
		observers = append(observers, observer.NewMetrics(opts.Registry))
	}

	if opts.Tracing {
		observers = append(observers, observer.NewTracing())
	}

	e := engine.New(
		engine.WithConfig(opts.EngineConfig),
		engine.WithSessionStore(opts.SessionStore),
		engine.WithObservers(observers...),
		engine.WithLogger(opts.Logger),
	)

	return &Weave{opts: opts, engine: e}
}

// Engine returns the underlying engine.
func (w *Weave) Engine() *engine.Engine { return w.engine }

// Memory returns the memory store.
func (w *Weave) Memory() memory.Store { return w.opts.MemoryStore }

// MemoryConfig returns a retriever/recorder pair over the memory store,
// ready to be set as BaseOptions.Memory.
func (w *Weave) MemoryConfig(searchKey string, limit int) *core.MemoryConfig {
	return &core.MemoryConfig{
		Retriever: memory.NewRetrieverAgent(w.opts.MemoryStore, func(o *memory.AgentOptions) { o.Limit = limit }),
		Recorder:  memory.NewRecorderAgent(w.opts.MemoryStore),
		Limit:     limit,
		SearchKey: searchKey,
	}
}

// Register adds agents to the registry.
func (w *Weave) Register(agents ...core.Agent) error { return w.engine.Register(agents...) }

// Invoke runs the agent called name.
func (w *Weave) Invoke(ctx context.Context, name string, input core.Message) (core.Message, error) {
	return w.engine.Invoke(ctx, name, input)
}

// InvokeStream runs the agent called name in streaming mode.
func (w *Weave) InvokeStream(ctx context.Context, name string, input core.Message) (core.Stream, error) {
	return w.engine.InvokeStream(ctx, name, input)
}

// Session opens a conversation with the agent called name. An empty id
// starts a new one.
func (w *Weave) Session(ctx context.Context, name, id string) (*session.Session, error) {
	return w.engine.Session(ctx, name, id)
}

// Serve exposes the registered agents over HTTP on addr until ctx is done.
func (w *Weave) Serve(ctx context.Context, addr string) error {
	srv := server.New(w.engine, func(o *server.Options) {
		o.Addr = addr
		o.Registry = w.opts.Registry
		o.Logger = w.opts.Logger
	})

	return srv.ListenAndServe(ctx)
}

// Shutdown releases every registered agent.
func (w *Weave) Shutdown() error { return w.engine.Shutdown() }
