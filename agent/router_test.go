package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentweave/core"
)

func triageTo(route string) *FunctionAgent {
	return constant("triage", core.NewMessage(KeyRoute, route))
}

func helpdesk(route string, optFns ...func(o *RouterOptions)) *RouterAgent {
	billing := NewFunctionAgent("billing", func(_ *core.ExecutionContext, input core.Message) (core.Message, error) {
		return core.NewMessage("team", "billing", "question", input.String("question")), nil
	}, func(o *FunctionAgentOptions) { o.Description = "Invoices and payments" })

	support := NewFunctionAgent("support", func(_ *core.ExecutionContext, input core.Message) (core.Message, error) {
		return core.NewMessage("team", "support", "question", input.String("question")), nil
	}, func(o *FunctionAgentOptions) { o.Description = "Technical problems" })

	return NewRouterAgent("helpdesk", triageTo(route), []core.Agent{billing, support}, optFns...)
}

func TestRouterAgent_ReturnsSelectedSkillOutput(t *testing.T) {
	router := helpdesk("support")
	input := core.NewMessage("question", "my app crashes")

	got, err := invoke(t, router, input)
	require.NoError(t, err)

	want, err := invoke(t, router.FindAgent("support"), input)
	require.NoError(t, err)

	assert.Equal(t, toJSON(t, want), toJSON(t, got))
}

func TestRouterAgent_TriageSeesCatalog(t *testing.T) {
	var seen core.Message

	triage := NewFunctionAgent("triage", func(_ *core.ExecutionContext, input core.Message) (core.Message, error) {
		seen = input
		return core.NewMessage(KeyRoute, "billing"), nil
	})

	router := NewRouterAgent("helpdesk", triage, []core.Agent{
		constant("billing", core.NewMessage(), func(o *FunctionAgentOptions) { o.Description = "Invoices" }),
	})

	_, err := invoke(t, router, core.NewMessage("question", "refund?"))
	require.NoError(t, err)

	assert.Equal(t, "refund?", seen.String("question"))
	assert.Equal(t, []map[string]any{{"name": "billing", "description": "Invoices"}}, seen.Value(KeySkills))
}

func TestRouterAgent_DeclineUsesFallback(t *testing.T) {
	for _, route := range []string{"", "none", "NONE"} {
		router := NewRouterAgent("helpdesk", triageTo(route), []core.Agent{
			constant("billing", core.NewMessage("team", "billing")),
			constant("other", core.NewMessage("team", "other")),
		})

		out, err := invoke(t, router, core.NewMessage())
		require.NoError(t, err)
		assert.Equal(t, "other", out.String("team"), "route %q", route)
	}
}

func TestRouterAgent_DeclineWithoutFallback(t *testing.T) {
	_, err := invoke(t, helpdesk("none"), core.NewMessage())

	var re *core.RoutingError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "helpdesk", re.Router)
	assert.Empty(t, re.Selected)
}

func TestRouterAgent_UnknownRoute(t *testing.T) {
	_, err := invoke(t, helpdesk("sales"), core.NewMessage())

	var re *core.RoutingError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "sales", re.Selected)
	assert.Equal(t, []string{"billing", "support"}, re.Available)
}

func TestRouterAgent_Transform(t *testing.T) {
	router := helpdesk("billing", func(o *RouterOptions) {
		o.Transform = func(input core.Message, route string) core.Message {
			return input.Merged(core.NewMessage("question", route+": "+input.String("question")))
		}
	})

	out, err := invoke(t, router, core.NewMessage("question", "refund?"))
	require.NoError(t, err)
	assert.Equal(t, "billing: refund?", out.String("question"))
}

func TestRouterAgent_Streaming(t *testing.T) {
	out, err := invokeStream(t, helpdesk("billing"), core.NewMessage("question", "refund?"))
	require.NoError(t, err)
	assert.Equal(t, "billing", out.String("team"))
}
