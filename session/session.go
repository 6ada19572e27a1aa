package session

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/hupe1980/agentweave/core"
	"github.com/hupe1980/agentweave/logging"
)

// KeySessionID is the user context key carrying the session id. Memory
// agents use it as their default scope.
const KeySessionID = "sessionId"

// ManagerOptions configure a Manager.
type ManagerOptions struct {
	Store     Store
	Limits    core.Limits
	Observers []core.Observer
	Logger    logging.Logger
	// MaxHistory bounds the turns kept per session (0 keeps all).
	MaxHistory int
}

// Manager runs conversations against an entry agent.
//
// Each turn runs under its own root context; limits therefore apply per
// turn. Agents reached by handoff are remembered by name so a session can
// resume with them on the next turn.
type Manager struct {
	entry      core.Agent
	store      Store
	limits     core.Limits
	observers  []core.Observer
	logger     logging.Logger
	maxHistory int

	mu    sync.RWMutex
	known map[string]core.Agent

	locks sync.Map // session id -> *sync.Mutex
}

// NewManager creates a manager whose sessions start at entry.
func NewManager(entry core.Agent, optFns ...func(o *ManagerOptions)) *Manager {
	opts := ManagerOptions{}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Store == nil {
		opts.Store = NewInMemoryStore()
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	return &Manager{
		entry:      entry,
		store:      opts.Store,
		limits:     opts.Limits,
		observers:  opts.Observers,
		logger:     opts.Logger,
		maxHistory: opts.MaxHistory,
		known:      map[string]core.Agent{entry.Name(): entry},
	}
}

// Entry returns the agent new sessions start with.
func (m *Manager) Entry() core.Agent { return m.entry }

// Open returns the session id, creating its state on first use.
func (m *Manager) Open(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		id = core.NewID()
	}

	st, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		now := time.Now().UTC()
		st = &State{ID: id, CreatedAt: now, UpdatedAt: now}
		err = m.store.Save(ctx, st)
	}

	if err != nil {
		return nil, err
	}

	return &Session{manager: m, id: id}, nil
}

// Delete forgets a session.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.locks.Delete(id)
	return m.store.Delete(ctx, id)
}

// resolve finds the agent named name among the entry tree and previous
// handoff targets.
func (m *Manager) resolve(name string) core.Agent {
	if name == "" {
		return m.entry
	}

	m.mu.RLock()
	a, ok := m.known[name]
	m.mu.RUnlock()

	if ok {
		return a
	}

	if a := core.FindSkill(m.entry, name); a != nil {
		return a
	}

	m.logger.Warn("active agent unknown, falling back to entry", "agent", name, "entry", m.entry.Name())

	return m.entry
}

func (m *Manager) remember(a core.Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.known[a.Name()] = a
}

func (m *Manager) lock(id string) *sync.Mutex {
	mu, _ := m.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Session is a handle on one conversation. Turns of the same session are
// serialized.
type Session struct {
	manager *Manager
	id      string
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// State returns a snapshot of the persisted state.
func (s *Session) State(ctx context.Context) (*State, error) {
	return s.manager.store.Get(ctx, s.id)
}

// Invoke runs one turn and returns the answer of the agent that produced it.
func (s *Session) Invoke(ctx context.Context, input core.Message) (core.Message, error) {
	mu := s.manager.lock(s.id)
	mu.Lock()
	defer mu.Unlock()

	st, root, err := s.begin(ctx)
	if err != nil {
		return core.Message{}, err
	}
	defer root.Close() //nolint:errcheck

	res, err := s.follow(root, st, input)
	if err != nil {
		return core.Message{}, err
	}

	if err := s.finish(ctx, st, res.Agent, input, res.Message, root.Usage()); err != nil {
		return core.Message{}, err
	}

	return res.Message, nil
}

// InvokeStream runs one turn in streaming mode. The turn is recorded once
// the stream has been drained; the session stays locked until then.
func (s *Session) InvokeStream(ctx context.Context, input core.Message) (core.Stream, error) {
	mu := s.manager.lock(s.id)
	mu.Lock()

	st, root, err := s.begin(ctx)
	if err != nil {
		mu.Unlock()
		return nil, err
	}

	res, err := s.follow(root, st, input, core.Streaming)
	if err != nil {
		_ = root.Close()

		mu.Unlock()

		return nil, err
	}

	acc := core.NewMessage()

	return core.Tap(ctx, res.Stream, func(c core.Chunk) {
		_ = core.Merge(&acc, c)
	}, func(streamErr error) {
		defer mu.Unlock()
		defer root.Close() //nolint:errcheck

		if streamErr != nil {
			return
		}

		if err := s.finish(ctx, st, res.Agent, input, acc, root.Usage()); err != nil {
			s.manager.logger.Error("session turn not recorded", "session_id", s.id, "error", err)
		}
	}), nil
}

func (s *Session) begin(ctx context.Context) (*State, *core.ExecutionContext, error) {
	st, err := s.manager.store.Get(ctx, s.id)
	if err != nil {
		return nil, nil, err
	}

	uc := maps.Clone(st.UserContext)
	if uc == nil {
		uc = make(map[string]any, 1)
	}

	uc[KeySessionID] = s.id

	root := core.NewContext(ctx,
		core.WithLimits(s.manager.limits),
		core.WithObservers(s.manager.observers...),
		core.WithLogger(s.manager.logger),
		core.WithInitialUserContext(uc),
	)

	return st, root, nil
}

// follow invokes the active agent and moves the session along handoffs.
func (s *Session) follow(root *core.ExecutionContext, st *State, input core.Message, optFns ...func(o *core.InvokeOptions)) (*core.Result, error) {
	active := s.manager.resolve(st.ActiveAgent)

	for hops := 0; ; hops++ {
		res, err := root.InvokeResult(active, input, optFns...)
		if err != nil {
			return nil, err
		}

		if res.Handoff == nil {
			return res, nil
		}

		if hops >= core.MaxHandoffs {
			return nil, &core.LimitExceededError{Kind: core.LimitHandoffs, Used: int64(hops + 1), Max: core.MaxHandoffs}
		}

		s.manager.logger.Info("session handoff", "session_id", s.id, "from", active.Name(), "to", res.Handoff.Name())
		s.manager.remember(res.Handoff)

		active = res.Handoff
		st.ActiveAgent = active.Name()
	}
}

func (s *Session) finish(ctx context.Context, st *State, agent core.Agent, input, output core.Message, usage core.Usage) error {
	now := time.Now().UTC()

	st.History = append(st.History, Turn{
		Agent:     agent.Name(),
		Input:     input,
		Output:    output,
		Usage:     usage,
		Timestamp: now,
	})

	if limit := s.manager.maxHistory; limit > 0 && len(st.History) > limit {
		st.History = st.History[len(st.History)-limit:]
	}

	st.UpdatedAt = now

	return s.manager.store.Save(ctx, st)
}
