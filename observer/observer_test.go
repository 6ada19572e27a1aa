package observer_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hupe1980/agentweave/agent"
	"github.com/hupe1980/agentweave/core"
	tu "github.com/hupe1980/agentweave/internal/testutil"
	"github.com/hupe1980/agentweave/logging"
	"github.com/hupe1980/agentweave/observer"
)

func echo(name string) *agent.FunctionAgent {
	return agent.NewFunctionAgent(name, func(_ *core.ExecutionContext, input core.Message) (core.Message, error) {
		return core.NewMessage(name, input.String("topic")), nil
	})
}

func failing(name string) *agent.FunctionAgent {
	return agent.NewFunctionAgent(name, func(*core.ExecutionContext, core.Message) (core.Message, error) {
		return core.Message{}, errors.New("boom")
	})
}

func pipeline() core.Agent {
	return agent.NewSequentialAgent("pipeline", []core.Agent{echo("a"), echo("b")})
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observer.NewMetrics(reg)

	_, err := core.Invoke(context.Background(), pipeline(), core.NewMessage("topic", "go"), core.WithObservers(m))
	require.NoError(t, err)

	_, err = core.Invoke(context.Background(), failing("broken"), core.NewMessage(), core.WithObservers(m))
	require.Error(t, err)

	assert.InDelta(t, 1, testutil.ToFloat64(m.Invocations.WithLabelValues("pipeline", observer.StatusSuccess, "")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Invocations.WithLabelValues("a", observer.StatusSuccess, "")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Invocations.WithLabelValues("b", observer.StatusSuccess, "")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Invocations.WithLabelValues("broken", observer.StatusError, "Error")), 0)

	assert.InDelta(t, 0, testutil.ToFloat64(m.InFlight.WithLabelValues("pipeline")), 0)
	assert.Equal(t, 4, testutil.CollectAndCount(m.Duration, "agentweave_agent_invocation_duration_seconds"))

	n, err := testutil.GatherAndCount(reg, "agentweave_agent_invocations_total")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestMetrics_TokensCountedOnce(t *testing.T) {
	m := observer.NewMetrics(nil)

	writer := agent.NewModelAgent("writer", tu.NewScriptedModel("gpt",
		tu.NewCompletion().Text("hello there").Usage(10, 5).Build(),
	))

	_, err := core.Invoke(context.Background(), writer, core.NewMessage("message", "hi"), core.WithObservers(m))
	require.NoError(t, err)

	assert.InDelta(t, 10, testutil.ToFloat64(m.Tokens.WithLabelValues("writer", "input")), 0)
	assert.InDelta(t, 5, testutil.ToFloat64(m.Tokens.WithLabelValues("writer", "output")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.Tokens.WithLabelValues("model:gpt", "input")), 0)
}

func TestTracing(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	tr := observer.NewTracing(func(o *observer.TracingOptions) { o.Tracer = tp.Tracer("test") })

	_, err := core.Invoke(context.Background(), pipeline(), core.NewMessage("topic", "go"), core.WithObservers(tr))
	require.NoError(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 3)

	byName := make(map[string]tracetest.SpanStub, len(spans))
	for _, s := range spans {
		byName[s.Name] = s
	}

	root := byName["agent pipeline"]
	require.True(t, root.SpanContext.IsValid())
	assert.False(t, root.Parent.IsValid())
	assert.Equal(t, codes.Ok, root.Status.Code)

	for _, name := range []string{"agent a", "agent b"} {
		child := byName[name]
		assert.Equal(t, root.SpanContext.SpanID(), child.Parent.SpanID(), name)
		assert.Equal(t, root.SpanContext.TraceID(), child.SpanContext.TraceID(), name)
	}
}

func TestTracing_Failure(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	tr := observer.NewTracing(func(o *observer.TracingOptions) { o.Tracer = tp.Tracer("test") })

	_, err := core.Invoke(context.Background(), failing("broken"), core.NewMessage(), core.WithObservers(tr))
	require.Error(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	require.Len(t, spans[0].Events, 1)
	assert.Equal(t, "exception", spans[0].Events[0].Name)
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer

	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelDebug, Format: "json", Output: &buf})

	_, err := core.Invoke(context.Background(), failing("broken"), core.NewMessage(), core.WithObservers(observer.NewLogging(logger)))
	require.Error(t, err)

	out := buf.String()
	assert.Contains(t, out, `"msg":"agent.started"`)
	assert.Contains(t, out, `"msg":"agent.failed"`)
	assert.Contains(t, out, `"agent":"broken"`)
}

func TestHooks(t *testing.T) {
	var started, failed []string

	hooks := observer.NewHooks().
		OnStarted(func(ev core.Event) { started = append(started, ev.Agent.Name) }).
		OnFailed(func(ev core.Event) { failed = append(failed, ev.Agent.Name) })

	_, err := core.Invoke(context.Background(), pipeline(), core.NewMessage(), core.WithObservers(hooks))
	require.NoError(t, err)

	_, err = core.Invoke(context.Background(), failing("broken"), core.NewMessage(), core.WithObservers(hooks))
	require.Error(t, err)

	assert.Equal(t, []string{"pipeline", "a", "b", "broken"}, started)
	assert.Equal(t, []string{"broken"}, failed)
}
