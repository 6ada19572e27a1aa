package core

import (
	"context"
	"errors"
	"maps"
	"sync"

	"github.com/hupe1980/agentweave/logging"
)

// ContextOptions configures a root ExecutionContext.
type ContextOptions struct {
	// Limits bound the whole tree rooted at the new context.
	Limits Limits
	// UserContext is ambient data visible to every descendant.
	UserContext map[string]any
	// Memories are visible to every descendant.
	Memories []Memory
	// Observers receive the lifecycle events of the tree.
	Observers []Observer
	// EventBuffer bounds the event channel (default 256).
	EventBuffer int
	// Logger receives engine diagnostics. Nil disables logging.
	Logger logging.Logger
}

// rootState is shared by every node of one execution tree.
type rootState struct {
	id      string
	limits  Limits
	ctx     context.Context // carries the root deadline
	cancel  context.CancelFunc
	emitter *emitter
	// ownsEmitter is false for roots created by NewChildContext(true), which
	// keep publishing to the emitter of the tree they were derived from.
	ownsEmitter bool
	closeOnce   sync.Once

	mu sync.Mutex // guards nodeState.usage of every node in the tree
}

// nodeState is shared by all views of one node.
type nodeState struct {
	usage Usage
}

// ExecutionContext is one node of the invocation tree. Every call to Invoke
// creates a child node; usage recorded on a node rolls up into all of its
// ancestors and limits are checked against the root's aggregate.
//
// The methods WithUserContext, WithMemories and WithContext return views:
// they share identity and usage with the receiver but carry their own
// ambient data. An ExecutionContext is safe for concurrent use.
type ExecutionContext struct {
	id       string
	parentID string
	parent   *ExecutionContext
	root     *rootState
	node     *nodeState
	ctx      context.Context
	agent    AgentInfo

	userContext map[string]any
	memories    []Memory

	*loggerAdapter
}

// NewContext creates the root of a new execution tree. The root owns the
// event dispatcher and the timeout; callers must Close it once every
// invocation and stream started under it has settled.
func NewContext(parent context.Context, optFns ...func(o *ContextOptions)) *ExecutionContext {
	opts := ContextOptions{}

	for _, fn := range optFns {
		fn(&opts)
	}

	if parent == nil {
		parent = context.Background()
	}

	base := newLoggerAdapter(opts.Logger)

	root := newRootState(parent, opts.Limits, newEmitter(opts.EventBuffer, base, opts.Observers), true)
	logger := base.forRoot(root.id)

	return &ExecutionContext{
		id:            root.id,
		root:          root,
		node:          &nodeState{},
		ctx:           root.ctx,
		userContext:   maps.Clone(opts.UserContext),
		memories:      append([]Memory(nil), opts.Memories...),
		loggerAdapter: logger,
	}
}

func newRootState(parent context.Context, limits Limits, em *emitter, owns bool) *rootState {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)

	if limits.Timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, limits.Timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}

	return &rootState{
		id:          NewID(),
		limits:      limits,
		ctx:         ctx,
		cancel:      cancel,
		emitter:     em,
		ownsEmitter: owns,
	}
}

// WithLimits sets the limits of a root context.
func WithLimits(l Limits) func(o *ContextOptions) {
	return func(o *ContextOptions) { o.Limits = l }
}

// WithObservers registers observers on a root context.
func WithObservers(obs ...Observer) func(o *ContextOptions) {
	return func(o *ContextOptions) { o.Observers = append(o.Observers, obs...) }
}

// WithLogger sets the logger of a root context.
func WithLogger(l logging.Logger) func(o *ContextOptions) {
	return func(o *ContextOptions) { o.Logger = l }
}

// WithInitialUserContext seeds the user context of a root context.
func WithInitialUserContext(uc map[string]any) func(o *ContextOptions) {
	return func(o *ContextOptions) { o.UserContext = uc }
}

// ID returns the node identifier.
func (c *ExecutionContext) ID() string { return c.id }

// ParentID returns the parent node identifier ("" for roots).
func (c *ExecutionContext) ParentID() string { return c.parentID }

// RootID returns the identifier of the tree's root.
func (c *ExecutionContext) RootID() string { return c.root.id }

// IsRoot reports whether c is the root of its tree.
func (c *ExecutionContext) IsRoot() bool { return c.parent == nil }

// Agent describes the agent running on this node (zero for roots).
func (c *ExecutionContext) Agent() AgentInfo { return c.agent }

// Context returns the cancellation context of this node.
func (c *ExecutionContext) Context() context.Context { return c.ctx }

// Done returns a channel closed when the node is cancelled.
func (c *ExecutionContext) Done() <-chan struct{} { return c.ctx.Done() }

// Err returns the node's cancellation error, if any.
func (c *ExecutionContext) Err() error { return c.ctx.Err() }

// Limits returns the limits of the tree.
func (c *ExecutionContext) Limits() Limits { return c.root.limits }

// Usage returns this node's aggregated usage (itself plus descendants).
func (c *ExecutionContext) Usage() Usage {
	c.root.mu.Lock()
	defer c.root.mu.Unlock()

	return c.node.usage
}

// RootUsage returns the aggregated usage of the whole tree.
func (c *ExecutionContext) RootUsage() Usage {
	c.root.mu.Lock()
	defer c.root.mu.Unlock()

	return c.rootNode().node.usage
}

// AddUsage records usage on this node and every ancestor up to the root.
func (c *ExecutionContext) AddUsage(u Usage) {
	c.root.mu.Lock()
	defer c.root.mu.Unlock()

	for n := c; n != nil; n = n.parent {
		n.node.usage = n.node.usage.Add(u)
	}
}

// reserveInvoke checks the limits against the root aggregate and, when the
// invocation may proceed, counts it on c and its ancestors in the same
// critical section.
func (c *ExecutionContext) reserveInvoke() error {
	c.root.mu.Lock()
	defer c.root.mu.Unlock()

	if err := c.root.limits.checkDispatch(c.rootNode().node.usage); err != nil {
		return err
	}

	for n := c; n != nil; n = n.parent {
		n.node.usage.AgentInvokes++
	}

	return nil
}

func (c *ExecutionContext) rootNode() *ExecutionContext {
	n := c
	for n.parent != nil {
		n = n.parent
	}

	return n
}

// UserContext returns the ambient user data. The map must not be modified;
// use WithUserContext to derive a view with more data.
func (c *ExecutionContext) UserContext() map[string]any { return c.userContext }

// UserValue returns one user context value.
func (c *ExecutionContext) UserValue(key string) (any, bool) {
	v, ok := c.userContext[key]
	return v, ok
}

// Memories returns the memories visible to this node.
func (c *ExecutionContext) Memories() []Memory { return c.memories }

// WithUserContext returns a view of c whose user context also holds kv.
// Later keys win.
func (c *ExecutionContext) WithUserContext(kv map[string]any) *ExecutionContext {
	v := c.view()

	merged := make(map[string]any, len(c.userContext)+len(kv))
	maps.Copy(merged, c.userContext)
	maps.Copy(merged, kv)
	v.userContext = merged

	return v
}

// WithMemories returns a view of c that additionally sees mems.
func (c *ExecutionContext) WithMemories(mems ...Memory) *ExecutionContext {
	v := c.view()
	v.memories = append(append(make([]Memory, 0, len(c.memories)+len(mems)), c.memories...), mems...)

	return v
}

// WithContext returns a view of c bound to ctx, which must derive from
// c.Context(). Composites use it to cancel a group of children together.
func (c *ExecutionContext) WithContext(ctx context.Context) *ExecutionContext {
	v := c.view()
	v.ctx = ctx

	return v
}

func (c *ExecutionContext) view() *ExecutionContext {
	v := *c
	return &v
}

// NewChildContext derives a node below c without running an agent on it.
// With reset the node becomes the root of a fresh tree: usage, limits
// accounting and the timeout start over while events keep flowing to the
// same observers and cancellation of c still applies.
func (c *ExecutionContext) NewChildContext(reset bool) *ExecutionContext {
	if reset {
		root := newRootState(c.ctx, c.root.limits, c.root.emitter, false)

		return &ExecutionContext{
			id:            root.id,
			parentID:      c.id,
			root:          root,
			node:          &nodeState{},
			ctx:           root.ctx,
			userContext:   c.userContext,
			memories:      c.memories,
			loggerAdapter: c.loggerAdapter.forRoot(root.id),
		}
	}

	return c.child(AgentInfo{})
}

// child creates a node below c sharing its tree.
func (c *ExecutionContext) child(agent AgentInfo) *ExecutionContext {
	return &ExecutionContext{
		id:            NewID(),
		parentID:      c.id,
		parent:        c,
		root:          c.root,
		node:          &nodeState{},
		ctx:           c.ctx,
		agent:         agent,
		userContext:   c.userContext,
		memories:      c.memories,
		loggerAdapter: c.loggerAdapter,
	}
}

// Subscribe registers an additional observer on the tree.
func (c *ExecutionContext) Subscribe(o Observer) { c.root.emitter.subscribe(o) }

// emit publishes an event for this node.
func (c *ExecutionContext) emit(ev Event) { c.root.emitter.emit(ev) }

// Close releases the root of c: pending events are flushed to observers and
// the root's context is cancelled. It is idempotent.
func (c *ExecutionContext) Close() error {
	c.root.closeOnce.Do(func() {
		if c.root.ownsEmitter {
			c.root.emitter.close()
		}

		c.root.cancel()
	})

	return nil
}

// normalizeErr maps cancellation caused by the root deadline to a
// TimeoutError; other errors are returned unchanged.
func (c *ExecutionContext) normalizeErr(err error, agent string) error {
	if err == nil {
		return nil
	}

	var te *TimeoutError
	if errors.As(err, &te) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) && c.deadlinePassed() {
		return &TimeoutError{Timeout: c.root.limits.Timeout, Agent: agent}
	}

	return err
}

func (c *ExecutionContext) deadlinePassed() bool {
	return c.root.limits.Timeout > 0 && errors.Is(c.root.ctx.Err(), context.DeadlineExceeded)
}
