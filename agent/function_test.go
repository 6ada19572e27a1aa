package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentweave/core"
)

func TestFunctionAgent(t *testing.T) {
	a := NewFunctionAgent("greeter", func(_ *core.ExecutionContext, input core.Message) (core.Message, error) {
		return core.NewMessage("greeting", "Hello "+input.String("name")), nil
	}, func(o *FunctionAgentOptions) { o.Description = "greets people" })

	assert.Equal(t, "greeter", a.Name())
	assert.Equal(t, "greets people", a.Description())

	out, err := invoke(t, a, core.NewMessage("name", "Ada"))
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada", out.String("greeting"))
}

func TestFunctionAgent_DefaultDescription(t *testing.T) {
	a := constant("c", core.NewMessage())
	assert.Equal(t, "Agent c", a.Description())
}

func TestFunctionAgent_Error(t *testing.T) {
	boom := errors.New("boom")
	a := NewFunctionAgent("failing", func(*core.ExecutionContext, core.Message) (core.Message, error) {
		return core.Message{}, boom
	})

	_, err := invoke(t, a, core.NewMessage())
	assert.ErrorIs(t, err, boom)
}

func TestStreamFunctionAgent(t *testing.T) {
	a := NewStreamFunctionAgent("writer", func(_ *core.ExecutionContext, _ core.Message, yield core.YieldFunc) error {
		for _, w := range []string{"Hello", ", ", "world"} {
			if err := yield(core.TextChunk("text", w)); err != nil {
				return err
			}
		}

		return yield(core.JSONChunk("done", true))
	})

	t.Run("streaming", func(t *testing.T) {
		s, err := core.InvokeStream(context.Background(), a, core.NewMessage())
		require.NoError(t, err)

		var chunks int
		acc := core.NewMessage()

		for c := range s {
			require.NoError(t, core.Merge(&acc, c))
			chunks++
		}

		assert.Equal(t, 4, chunks)
		assert.Equal(t, "Hello, world", acc.String("text"))
	})

	t.Run("merged", func(t *testing.T) {
		out, err := invoke(t, a, core.NewMessage())
		require.NoError(t, err)
		assert.Equal(t, "Hello, world", out.String("text"))
		assert.Equal(t, true, out.Value("done"))
	})
}

type addInput struct {
	A int `json:"a"`
	B int `json:"b"`
}

type addOutput struct {
	Sum int `json:"sum"`
}

func TestTypedFunctionAgent(t *testing.T) {
	a := NewTypedFunctionAgent("add", func(_ *core.ExecutionContext, in addInput) (addOutput, error) {
		return addOutput{Sum: in.A + in.B}, nil
	})

	require.NotNil(t, a.InputSchema())

	out, err := invoke(t, a, core.NewMessage("a", 2, "b", 3))
	require.NoError(t, err)
	assert.EqualValues(t, 5, out.Value("sum"))

	_, err = invoke(t, a, core.NewMessage("a", "two", "b", 3))
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestTypedFunctionAgent_InterfaceInput(t *testing.T) {
	a := NewTypedFunctionAgent("passthrough", func(_ *core.ExecutionContext, in any) (any, error) {
		return in, nil
	})

	assert.Equal(t, "object", a.InputSchema()["type"])

	out, err := invoke(t, a, core.NewMessage("city", "Berlin"))
	require.NoError(t, err)
	assert.Equal(t, "Berlin", out.String("city"))
}

func TestTransferAgent(t *testing.T) {
	target := constant("billing", core.NewMessage("answer", "billing here"))
	transfer := NewTransferAgent(target)

	assert.Equal(t, "transfer_to_billing", transfer.Name())
	assert.Same(t, target, transfer.Target())

	root := newTestContext(t)

	res, err := root.InvokeResult(transfer, core.NewMessage())
	require.NoError(t, err)
	assert.Same(t, target, res.Handoff)

	out, err := root.Invoke(transfer, core.NewMessage())
	require.NoError(t, err)
	assert.Equal(t, "billing here", out.String("answer"))
}

func TestTransferByNameAgent(t *testing.T) {
	billing := constant("billing", core.NewMessage("answer", "billing"))
	support := constant("support", core.NewMessage("answer", "support"))
	transfer := NewTransferByNameAgent([]core.Agent{billing, support})

	out, err := invoke(t, transfer, core.NewMessage("agent", "support"))
	require.NoError(t, err)
	assert.Equal(t, "support", out.String("answer"))

	_, err = invoke(t, transfer, core.NewMessage("agent", "sales"))
	assert.ErrorIs(t, err, core.ErrValidation)
}
