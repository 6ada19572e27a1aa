package agent

import (
	"github.com/hupe1980/agentweave/core"
	"github.com/hupe1980/agentweave/internal/util"
)

// Provider supplies dynamic instruction text at runtime.
// Implementations can derive instructions from user context, memories, etc.
type Provider interface {
	Instruction(ctx *core.ExecutionContext, input core.Message) (string, error)
}

// Func is a functional adapter to allow ordinary functions to be used as Providers.
type Func func(ctx *core.ExecutionContext, input core.Message) (string, error)

// Instruction implements Provider.
func (f Func) Instruction(ctx *core.ExecutionContext, input core.Message) (string, error) {
	return f(ctx, input)
}

// Instruction represents either a static instruction template or a dynamic
// provider. Both are rendered as Go templates over the input fields, with
// the user context available as .userContext.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates an Instruction from a static string.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(ctx *core.ExecutionContext, input core.Message) (string, error)) Instruction {
	return Instruction{provider: Func(f)}
}

// IsStatic returns true if the instruction is backed by a static string.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// IsZero reports whether no instruction was configured.
func (i Instruction) IsZero() bool { return i.provider == nil && i.text == "" }

// Resolve returns the rendered instruction text, invoking the provider if needed.
func (i Instruction) Resolve(ctx *core.ExecutionContext, input core.Message) (string, error) {
	text := i.text

	if i.provider != nil {
		var err error
		if text, err = i.provider.Instruction(ctx, input); err != nil {
			return "", err
		}
	}

	return util.RenderTemplate(text, templateData(ctx, input))
}

func templateData(ctx *core.ExecutionContext, input core.Message) map[string]any {
	data := input.ToMap()

	if ctx != nil {
		if _, taken := data["userContext"]; !taken {
			data["userContext"] = ctx.UserContext()
		}
	}

	return data
}
