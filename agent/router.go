package agent

import (
	"strings"

	"github.com/hupe1980/agentweave/core"
)

// Router message keys.
const (
	KeyRoute  = "route"
	KeySkills = "skills"
)

// DefaultFallback names the skill a router uses when triage declines.
const DefaultFallback = "other"

// RouterOptions configure a RouterAgent.
type RouterOptions struct {
	BaseOptions
	// Fallback names the skill used when triage declines ("" or "none").
	Fallback string
	// Transform rewrites the input handed to the selected skill.
	Transform func(input core.Message, route string) core.Message
}

// RouterAgent delegates each input to exactly one of its skills. A triage
// agent receives the input plus a catalog of the skills and answers
// {route: name}; only the selected skill's output is returned.
type RouterAgent struct {
	BaseAgent
	triage    core.Agent
	fallback  string
	transform func(input core.Message, route string) core.Message
}

// NewRouterAgent creates a router over skills.
func NewRouterAgent(name string, triage core.Agent, skills []core.Agent, optFns ...func(o *RouterOptions)) *RouterAgent {
	opts := RouterOptions{Fallback: DefaultFallback}

	for _, fn := range optFns {
		fn(&opts)
	}

	a := &RouterAgent{triage: triage, fallback: opts.Fallback, transform: opts.Transform}
	a.init(name, opts.BaseOptions, skills)
	a.adopt(triage)

	return a
}

// Triage returns the agent selecting the route.
func (r *RouterAgent) Triage() core.Agent { return r.triage }

// Process implements core.Agent.
func (r *RouterAgent) Process(ctx *core.ExecutionContext, input core.Message, opts core.ProcessOptions) (core.Response, error) {
	verdict, err := ctx.Invoke(r.triage, input.Merged(core.NewMessage(KeySkills, catalog(r.skills))))
	if err != nil {
		return core.Response{}, err
	}

	skill, err := r.selectSkill(verdict.String(KeyRoute))
	if err != nil {
		return core.Response{}, err
	}

	ctx.LogDebug("route selected", "router", r.name, "skill", skill.Name())

	next := input
	if r.transform != nil {
		next = r.transform(input, skill.Name())
	}

	var invokeOpts []func(o *core.InvokeOptions)
	if opts.Streaming {
		invokeOpts = append(invokeOpts, core.Streaming)
	}

	res, err := ctx.InvokeResult(skill, next, invokeOpts...)
	if err != nil {
		return core.Response{}, err
	}

	switch {
	case res.Handoff != nil:
		return core.HandoffResponse(res.Handoff), nil
	case res.Stream != nil:
		return core.StreamResponse(res.Stream), nil
	default:
		return core.MessageResponse(res.Message), nil
	}
}

func (r *RouterAgent) selectSkill(route string) (core.Agent, error) {
	route = strings.TrimSpace(route)

	if route == "" || strings.EqualFold(route, "none") {
		if s := r.skill(r.fallback); s != nil && r.fallback != "" {
			return s, nil
		}

		return nil, &core.RoutingError{Router: r.name, Available: r.available()}
	}

	if s := r.skill(route); s != nil {
		return s, nil
	}

	return nil, &core.RoutingError{Router: r.name, Selected: route, Available: r.available()}
}

func (r *RouterAgent) skill(name string) core.Agent {
	for _, s := range r.skills {
		if s.Name() == name {
			return s
		}
	}

	return nil
}

func (r *RouterAgent) available() []string {
	out := make([]string, 0, len(r.skills))
	for _, s := range r.skills {
		out = append(out, s.Name())
	}

	return out
}
