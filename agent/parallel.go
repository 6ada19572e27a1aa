package agent

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentweave/core"
)

// ErrOutputKeyCollision is returned when two skills of a parallel team
// would store their results under the same key.
var ErrOutputKeyCollision = errors.New("output key collision")

// ParallelAgentOptions configure a ParallelAgent.
type ParallelAgentOptions struct {
	BaseOptions
	// MaxConcurrency bounds the number of skills running at once (0 = all).
	MaxConcurrency int
}

// ParallelAgent runs its skills concurrently on the same input.
//
// Every result lands in the aggregate under the skill's output key, or its
// name when it declares none. The first failure cancels the siblings; the
// team waits for them to settle and returns that error without partial
// results.
//
// ParallelAgent is ideal for:
//   - Independent lookups that can run side by side
//   - Gathering several perspectives on the same input
type ParallelAgent struct {
	BaseAgent
	maxConcurrency int
}

// NewParallelAgent creates a new parallel team. Two skills resolving to the
// same result key are rejected with ErrOutputKeyCollision.
func NewParallelAgent(name string, skills []core.Agent, optFns ...func(o *ParallelAgentOptions)) (*ParallelAgent, error) {
	opts := ParallelAgentOptions{}

	for _, fn := range optFns {
		fn(&opts)
	}

	seen := make(map[string]string, len(skills))

	for _, s := range skills {
		key := resultKey(s)
		if prev, ok := seen[key]; ok {
			return nil, fmt.Errorf("%w: agents %s and %s both write %q", ErrOutputKeyCollision, prev, s.Name(), key)
		}

		seen[key] = s.Name()
	}

	a := &ParallelAgent{maxConcurrency: opts.MaxConcurrency}
	a.init(name, opts.BaseOptions, skills)

	return a, nil
}

func resultKey(a core.Agent) string {
	if key := core.OutputKeyOf(a); key != "" {
		return key
	}

	return a.Name()
}

// Process implements core.Agent.
func (p *ParallelAgent) Process(ctx *core.ExecutionContext, input core.Message, opts core.ProcessOptions) (core.Response, error) {
	if opts.Streaming {
		return p.stream(ctx, input)
	}

	g, gctx := errgroup.WithContext(ctx.Context())
	if p.maxConcurrency > 0 {
		g.SetLimit(p.maxConcurrency)
	}

	group := ctx.WithContext(gctx)

	// Each goroutine owns one slot; skills may share a name.
	results := make([]core.Message, len(p.skills))

	for i, skill := range p.skills {
		i, skill := i, skill
		g.Go(func() error {
			out, err := group.Invoke(skill, input)
			if err != nil {
				return fmt.Errorf("parallel execution failed for agent %s: %w", skill.Name(), err)
			}

			results[i] = out

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return core.Response{}, err
	}

	// Assemble in declaration order so the aggregate is deterministic.
	acc := core.NewMessage()
	for i, skill := range p.skills {
		storeResult(&acc, resultKey(skill), results[i])
	}

	return core.MessageResponse(acc), nil
}

// stream starts every skill in streaming mode and interleaves their chunks.
// Skills are started from their own producers so slow non-streaming skills
// do not delay each other.
func (p *ParallelAgent) stream(ctx *core.ExecutionContext, input core.Message) (core.Response, error) {
	sctx, cancel := context.WithCancel(ctx.Context())
	group := ctx.WithContext(sctx)

	streams := make([]core.Stream, 0, len(p.skills))
	for _, skill := range p.skills {
		skill := skill
		streams = append(streams, core.Generate(sctx, func(_ context.Context, yield core.YieldFunc) error {
			return readdress(group, skill, input, yield)
		}))
	}

	merged := core.MergeStreams(sctx, streams...)

	return core.StreamResponse(core.Tap(sctx, merged, nil, func(error) { cancel() })), nil
}

// readdress runs one skill and nests its chunks under the skill's result
// key. Text deltas keep streaming when the skill writes its key directly;
// everything else is published as one json chunk at the end.
func readdress(ctx *core.ExecutionContext, skill core.Agent, input core.Message, yield core.YieldFunc) error {
	key := resultKey(skill)

	s, err := ctx.InvokeStream(skill, input)
	if err != nil {
		return fmt.Errorf("parallel execution failed for agent %s: %w", skill.Name(), err)
	}

	out := core.NewMessage()

	for c := range s {
		if err := core.Merge(&out, c); err != nil {
			go drainStream(s)
			return fmt.Errorf("parallel execution failed for agent %s: %w", skill.Name(), err)
		}

		if delta, ok := c.Text[key]; ok {
			if err := yield(core.TextChunk(key, delta)); err != nil {
				go drainStream(s)
				return err
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	acc := core.NewMessage()
	storeResult(&acc, key, out)

	return yield(core.Chunk{JSON: acc})
}
