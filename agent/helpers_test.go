package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentweave/core"
)

func constant(name string, out core.Message, optFns ...func(o *FunctionAgentOptions)) *FunctionAgent {
	return NewFunctionAgent(name, func(*core.ExecutionContext, core.Message) (core.Message, error) {
		return out.Clone(), nil
	}, optFns...)
}

func withOutputKey(key string) func(o *FunctionAgentOptions) {
	return func(o *FunctionAgentOptions) { o.OutputKey = key }
}

func toJSON(t *testing.T, m core.Message) string {
	t.Helper()

	raw, err := json.Marshal(m)
	require.NoError(t, err)

	return string(raw)
}

func invoke(t *testing.T, a core.Agent, input core.Message, optFns ...func(o *core.ContextOptions)) (core.Message, error) {
	t.Helper()

	return core.Invoke(context.Background(), a, input, optFns...)
}

func invokeStream(t *testing.T, a core.Agent, input core.Message) (core.Message, error) {
	t.Helper()

	s, err := core.InvokeStream(context.Background(), a, input)
	if err != nil {
		return core.Message{}, err
	}

	return core.ToObject(context.Background(), s)
}
