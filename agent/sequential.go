package agent

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentweave/core"
)

// SequentialAgentOptions configure a SequentialAgent.
type SequentialAgentOptions struct {
	BaseOptions
}

// SequentialAgent runs its skills one after another.
//
// Each skill receives the team input merged with the results gathered so far
// and its output is stored in the running result under the skill's output
// key (or merged flat when the skill declares none). The first failure stops
// the pipeline.
//
// SequentialAgent is ideal for:
//   - Multi-step content pipelines (outline, draft, edit)
//   - Workflows where later steps build on earlier outputs
type SequentialAgent struct {
	BaseAgent
}

// NewSequentialAgent creates a new sequential team.
func NewSequentialAgent(name string, skills []core.Agent, optFns ...func(o *SequentialAgentOptions)) *SequentialAgent {
	opts := SequentialAgentOptions{}

	for _, fn := range optFns {
		fn(&opts)
	}

	a := &SequentialAgent{}
	a.init(name, opts.BaseOptions, skills)

	return a
}

// Process implements core.Agent.
func (s *SequentialAgent) Process(ctx *core.ExecutionContext, input core.Message, opts core.ProcessOptions) (core.Response, error) {
	if opts.Streaming {
		return core.StreamResponse(core.Generate(ctx.Context(), func(_ context.Context, yield core.YieldFunc) error {
			return s.stream(ctx, input, yield)
		})), nil
	}

	acc := core.NewMessage()

	for _, skill := range s.skills {
		out, err := ctx.Invoke(skill, input.Merged(acc))
		if err != nil {
			return core.Response{}, fmt.Errorf("sequential execution failed at agent %s: %w", skill.Name(), err)
		}

		storeResult(&acc, core.OutputKeyOf(skill), out)
	}

	return core.MessageResponse(acc), nil
}

// stream forwards the text deltas of each skill live and closes every step
// with a json chunk holding the stored result, so the merged stream equals
// the non-streaming output.
func (s *SequentialAgent) stream(ctx *core.ExecutionContext, input core.Message, yield core.YieldFunc) error {
	acc := core.NewMessage()

	for _, skill := range s.skills {
		key := core.OutputKeyOf(skill)

		st, err := ctx.InvokeStream(skill, input.Merged(acc))
		if err != nil {
			return fmt.Errorf("sequential execution failed at agent %s: %w", skill.Name(), err)
		}

		out := core.NewMessage()

		for c := range st {
			if err := core.Merge(&out, c); err != nil {
				go drainStream(st)
				return fmt.Errorf("sequential execution failed at agent %s: %w", skill.Name(), err)
			}

			if live := liveText(acc, key, c); live != nil {
				if err := yield(core.Chunk{Text: live}); err != nil {
					go drainStream(st)
					return err
				}
			}
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		storeResult(&acc, key, out)

		final := out
		if key != "" {
			final = core.NewMessage(key, acc.Value(key))
		}

		if err := yield(core.Chunk{JSON: final}); err != nil {
			return err
		}
	}

	return nil
}

// liveText selects the text deltas of c that can be shown while a step is
// running: those addressed to a field no earlier step produced.
func liveText(acc core.Message, key string, c core.Chunk) map[string]string {
	var out map[string]string

	for field, delta := range c.Text {
		if key != "" && field != key {
			continue
		}

		if acc.Has(field) {
			continue
		}

		if out == nil {
			out = make(map[string]string, len(c.Text))
		}

		out[field] = delta
	}

	return out
}

func drainStream(s core.Stream) {
	for range s { //nolint:revive
	}
}
