package observer

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agentweave/core"
)

// TracerName is the instrumentation name used when no tracer is given.
const TracerName = "github.com/hupe1980/agentweave"

// Tracing turns every invocation into a span. Spans of nested invocations
// are children of their caller's span; the root of a tree is a span of its
// own named after the root id.
type Tracing struct {
	tracer trace.Tracer
	parent context.Context

	mu    sync.Mutex
	spans map[string]trace.Span
	// ctxs maps a context id to the span context its children attach to.
	ctxs map[string]spanRef
	// open counts the running invocations of each root.
	open map[string]int
}

type spanRef struct {
	ctx  context.Context
	root string
}

// TracingOptions configures NewTracing.
type TracingOptions struct {
	// Tracer defaults to otel.Tracer(TracerName).
	Tracer trace.Tracer
	// Parent is the context top level spans derive from, e.g. an incoming
	// request's context.
	Parent context.Context
}

// NewTracing creates a tracing observer.
func NewTracing(optFns ...func(o *TracingOptions)) *Tracing {
	opts := TracingOptions{}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(TracerName)
	}

	if opts.Parent == nil {
		opts.Parent = context.Background()
	}

	return &Tracing{
		tracer: opts.Tracer,
		parent: opts.Parent,
		spans:  make(map[string]trace.Span),
		ctxs:   make(map[string]spanRef),
		open:   make(map[string]int),
	}
}

// OnEvent implements core.Observer.
func (t *Tracing) OnEvent(ev core.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Type {
	case core.EventAgentStarted:
		t.start(ev)
	case core.EventAgentSucceed, core.EventAgentFailed:
		t.end(ev)
	}
}

func (t *Tracing) start(ev core.Event) {
	parent := t.parent
	if ref, ok := t.ctxs[ev.ParentContextID]; ok {
		parent = ref.ctx
	}

	ctx, span := t.tracer.Start(parent, "agent "+ev.Agent.Name,
		trace.WithTimestamp(ev.Timestamp),
		trace.WithAttributes(
			attribute.String("agent.name", ev.Agent.Name),
			attribute.String("agentweave.context_id", ev.ContextID),
			attribute.String("agentweave.root_id", ev.RootID),
		),
	)

	t.spans[ev.ContextID] = span
	t.ctxs[ev.ContextID] = spanRef{ctx: ctx, root: ev.RootID}
	t.open[ev.RootID]++
}

func (t *Tracing) end(ev core.Event) {
	span, ok := t.spans[ev.ContextID]
	if !ok {
		return
	}

	span.SetAttributes(
		attribute.Int64("agentweave.usage.agent_invokes", ev.Usage.AgentInvokes),
		attribute.Int64("agentweave.usage.input_tokens", ev.Usage.InputTokens),
		attribute.Int64("agentweave.usage.output_tokens", ev.Usage.OutputTokens),
	)

	if ev.Type == core.EventAgentFailed && ev.Err != nil {
		span.RecordError(ev.Err)
		span.SetAttributes(attribute.String("error.type", core.ErrorType(ev.Err)))
		span.SetStatus(codes.Error, ev.Err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End(trace.WithTimestamp(ev.Timestamp))

	delete(t.spans, ev.ContextID)

	// Children of a finished span may still be started by streams that
	// outlive their producer, so span contexts are kept until the whole
	// root has settled.
	t.open[ev.RootID]--
	if t.open[ev.RootID] <= 0 {
		delete(t.open, ev.RootID)

		for id, ref := range t.ctxs {
			if ref.root == ev.RootID {
				delete(t.ctxs, id)
			}
		}
	}
}
