package core

import (
	"context"
	"fmt"
	"time"
)

// MaxHandoffs bounds how many consecutive handoffs Invoke follows.
const MaxHandoffs = 10

// KeyTransferTo is the output key recorded for an agent that handed off.
const KeyTransferTo = "transferTo"

// InvokeOptions are per-call flags of Invoke and friends.
type InvokeOptions struct {
	// Streaming asks for a streamed result.
	Streaming bool
	// UserContext is merged into the child node's user context.
	UserContext map[string]any
}

// Streaming requests a streamed result.
func Streaming(o *InvokeOptions) { o.Streaming = true }

// Result is the raw outcome of a single invocation step.
type Result struct {
	// Message is set for non-streaming results.
	Message Message
	// Stream is set for streaming results.
	Stream Stream
	// Handoff is the agent control was transferred to, if any.
	Handoff Agent
	// Agent is the agent that produced Message or Stream.
	Agent Agent
	// ContextID identifies the node the agent ran on.
	ContextID string
}

// InvokeResult runs agent as a child of c through the full pipeline and
// returns what it produced without following handoffs.
func (c *ExecutionContext) InvokeResult(agent Agent, input Message, optFns ...func(o *InvokeOptions)) (*Result, error) {
	opts := InvokeOptions{}

	for _, fn := range optFns {
		fn(&opts)
	}

	node := c.child(InfoOf(agent))

	if len(opts.UserContext) > 0 {
		node = node.WithUserContext(opts.UserContext)
	}

	inv := &invocation{node: node, agent: agent, input: input, opts: opts, started: time.Now()}

	return inv.run()
}

// Follow invokes agent and keeps invoking handoff targets with the same
// input until one produces output. At most MaxHandoffs transfers are
// followed. The returned Result names the agent that produced the output.
func (c *ExecutionContext) Follow(agent Agent, input Message, optFns ...func(o *InvokeOptions)) (*Result, error) {
	active := agent

	for hops := 0; ; hops++ {
		res, err := c.InvokeResult(active, input, optFns...)
		if err != nil {
			return nil, err
		}

		if res.Handoff == nil {
			return res, nil
		}

		if hops >= MaxHandoffs {
			return nil, &LimitExceededError{Kind: LimitHandoffs, Used: int64(hops + 1), Max: MaxHandoffs}
		}

		c.LogDebug("following handoff", "from", active.Name(), "to", res.Handoff.Name(), "context_id", c.id)

		active = res.Handoff
	}
}

// Invoke runs agent as a child of c and returns its complete output,
// following handoffs.
func (c *ExecutionContext) Invoke(agent Agent, input Message, optFns ...func(o *InvokeOptions)) (Message, error) {
	res, err := c.Follow(agent, input, append(optFns, func(o *InvokeOptions) { o.Streaming = false })...)
	if err != nil {
		return Message{}, err
	}

	return res.Message, nil
}

// InvokeStream runs agent as a child of c and returns its output as a
// stream, following handoffs. Agents that do not stream are normalized with
// ToStream.
func (c *ExecutionContext) InvokeStream(agent Agent, input Message, optFns ...func(o *InvokeOptions)) (Stream, error) {
	res, err := c.Follow(agent, input, append(optFns, Streaming)...)
	if err != nil {
		return nil, err
	}

	return res.Stream, nil
}

// Invoke runs agent under an implicit root context that is closed once the
// call returned. Root options configure limits, observers and logging.
func Invoke(ctx context.Context, agent Agent, input Message, optFns ...func(o *ContextOptions)) (Message, error) {
	root := NewContext(ctx, optFns...)
	defer root.Close() //nolint:errcheck

	return root.Invoke(agent, input)
}

// InvokeStream runs agent under an implicit root context that is closed once
// the returned stream has been drained.
func InvokeStream(ctx context.Context, agent Agent, input Message, optFns ...func(o *ContextOptions)) (Stream, error) {
	root := NewContext(ctx, optFns...)

	s, err := root.InvokeStream(agent, input)
	if err != nil {
		_ = root.Close()
		return nil, err
	}

	return Tap(ctx, s, nil, func(error) { _ = root.Close() }), nil
}

// invocation is the state of one pass through the pipeline.
type invocation struct {
	node    *ExecutionContext
	agent   Agent
	input   Message
	opts    InvokeOptions
	started time.Time
}

type processResult struct {
	resp Response
	err  error
}

func (inv *invocation) run() (*Result, error) {
	node, agent := inv.node, inv.agent

	ev := newEvent(EventAgentStarted, node, agent)
	ev.Input = inv.input
	node.emit(ev)

	node.LogDebug("agent started", "agent", agent.Name(), "context_id", node.id, "parent_context_id", node.parentID)

	if err := inv.prepare(); err != nil {
		return nil, inv.fail(err)
	}

	resp, err := inv.process()
	if err != nil {
		return nil, inv.fail(err)
	}

	res := &Result{Agent: agent, ContextID: node.id}

	switch {
	case resp.Handoff != nil:
		inv.succeed(NewMessage(KeyTransferTo, resp.Handoff.Name()))
		res.Handoff = resp.Handoff

		return res, nil
	case inv.opts.Streaming && len(guideRailsOf(agent)) == 0:
		s := resp.Stream
		if s == nil {
			s = ToStream(resp.Message)
		}

		res.Stream = inv.finishStream(s)

		return res, nil
	}

	out := resp.Message
	if resp.Stream != nil {
		if out, err = ToObject(node.ctx, resp.Stream); err != nil {
			return nil, inv.fail(err)
		}
	}

	final, err := inv.finalize(out)
	if err != nil {
		return nil, inv.fail(err)
	}

	inv.succeed(final)

	if inv.opts.Streaming {
		res.Stream = ToStream(final)
	} else {
		res.Message = final
	}

	return res, nil
}

// prepare runs the checks and hooks preceding Process.
func (inv *invocation) prepare() error {
	node := inv.node

	if err := node.ctx.Err(); err != nil {
		return err
	}

	if err := node.reserveInvoke(); err != nil {
		return err
	}

	if err := ValidateInput(inv.agent, inv.input); err != nil {
		return err
	}

	if p, ok := inv.agent.(MemoryProvider); ok {
		mems, err := p.Memory().retrieve(node, inv.input)
		if err != nil {
			return err
		}

		if len(mems) > 0 {
			inv.node = node.WithMemories(mems...)
		}
	}

	return nil
}

// process calls the agent, racing it against cancellation of the node.
func (inv *invocation) process() (Response, error) {
	node := inv.node
	done := make(chan processResult, 1)

	go func() {
		var pr processResult

		defer func() {
			if r := recover(); r != nil {
				pr = processResult{err: fmt.Errorf("agent %s panicked: %v", inv.agent.Name(), r)}
			}

			done <- pr
		}()

		pr.resp, pr.err = inv.agent.Process(node, inv.input, ProcessOptions{Streaming: inv.opts.Streaming})
	}()

	select {
	case pr := <-done:
		if pr.err != nil {
			return Response{}, pr.err
		}

		return pr.resp, nil
	case <-node.ctx.Done():
		go func() {
			if pr := <-done; pr.resp.Stream != nil {
				drain(pr.resp.Stream)
			}
		}()

		return Response{}, node.ctx.Err()
	}
}

// finalize runs the hooks following Process on a complete output.
func (inv *invocation) finalize(out Message) (Message, error) {
	if err := ValidateOutput(inv.agent, out); err != nil {
		return Message{}, err
	}

	out, err := applyGuideRails(inv.node, guideRailsOf(inv.agent), inv.input, out)
	if err != nil {
		return Message{}, err
	}

	if p, ok := inv.agent.(MemoryProvider); ok {
		if err := p.Memory().record(inv.node, inv.agent.Name(), inv.input, out); err != nil {
			return Message{}, err
		}
	}

	return out, nil
}

// finishStream forwards s while accumulating it so the node can be
// finalized and its terminal event emitted once the stream ends.
func (inv *invocation) finishStream(s Stream) Stream {
	node := inv.node

	return Generate(node.ctx, func(ctx context.Context, yield YieldFunc) error {
		acc := NewMessage()

		fail := func(err error) error {
			go drain(s)
			return inv.fail(err)
		}

		for {
			select {
			case <-ctx.Done():
				return fail(ctx.Err())
			case c, ok := <-s:
				if !ok {
					if err := ctx.Err(); err != nil {
						return inv.fail(err)
					}

					final, err := inv.finalize(acc)
					if err != nil {
						return inv.fail(err)
					}

					inv.succeed(final)

					return nil
				}

				if c.Err != nil {
					return fail(asStreamError(c.Err))
				}

				if err := Merge(&acc, c); err != nil {
					return fail(err)
				}

				if err := yield(c); err != nil {
					return fail(err)
				}
			}
		}
	})
}

func (inv *invocation) succeed(out Message) {
	node := inv.node

	ev := newEvent(EventAgentSucceed, node, inv.agent)
	ev.Output = out
	node.emit(ev)

	node.LogDebug("agent succeeded", "agent", inv.agent.Name(), "context_id", node.id, "duration", time.Since(inv.started))
}

// fail emits the failure event and returns the error the caller sees.
func (inv *invocation) fail(err error) error {
	node := inv.node
	err = node.normalizeErr(err, inv.agent.Name())

	ev := newEvent(EventAgentFailed, node, inv.agent)
	ev.Err = err
	node.emit(ev)

	node.LogDebug("agent failed", "agent", inv.agent.Name(), "context_id", node.id, "error", err, "type", ErrorType(err))

	return err
}
