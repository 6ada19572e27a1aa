package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentweave/core"
)

type staticProvider struct {
	text string
	err  error
}

func (p staticProvider) Instruction(*core.ExecutionContext, core.Message) (string, error) {
	return p.text, p.err
}

func newTestContext(t *testing.T) *core.ExecutionContext {
	t.Helper()

	ctx := core.NewContext(context.Background(), core.WithInitialUserContext(map[string]any{"tenant": "acme"}))
	t.Cleanup(func() { _ = ctx.Close() })

	return ctx
}

func TestInstruction_Static(t *testing.T) {
	inst := NewInstructionFromText("static instruction")
	assert.True(t, inst.IsStatic())
	assert.False(t, inst.IsZero())

	got, err := inst.Resolve(newTestContext(t), core.NewMessage())
	require.NoError(t, err)
	assert.Equal(t, "static instruction", got)
}

func TestInstruction_RendersInputAndUserContext(t *testing.T) {
	inst := NewInstructionFromText("Write about {{.product}} for {{.userContext.tenant}}")

	got, err := inst.Resolve(newTestContext(t), core.NewMessage("product", "X"))
	require.NoError(t, err)
	assert.Equal(t, "Write about X for acme", got)
}

func TestInstruction_FromFunc(t *testing.T) {
	inst := NewInstructionFromFunc(func(_ *core.ExecutionContext, input core.Message) (string, error) {
		return "dynamic {{upper .name}}", nil
	})
	assert.False(t, inst.IsStatic())

	got, err := inst.Resolve(newTestContext(t), core.NewMessage("name", "go"))
	require.NoError(t, err)
	assert.Equal(t, "dynamic GO", got)
}

func TestInstruction_FromProvider(t *testing.T) {
	got, err := NewInstructionFromProvider(staticProvider{text: "provider text"}).Resolve(newTestContext(t), core.NewMessage())
	require.NoError(t, err)
	assert.Equal(t, "provider text", got)
}

func TestInstruction_ErrorPropagation(t *testing.T) {
	boom := errors.New("boom")

	_, err := NewInstructionFromProvider(staticProvider{err: boom}).Resolve(newTestContext(t), core.NewMessage())
	assert.ErrorIs(t, err, boom)
}

func TestInstruction_Zero(t *testing.T) {
	assert.True(t, Instruction{}.IsZero())
}
