package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hupe1980/agentweave/core"
)

// DefaultMaxIterations bounds the plan-execute loop of an orchestrator.
const DefaultMaxIterations = 30

// Orchestrator message keys.
const (
	KeyObjective  = "objective"
	KeyResults    = "results"
	KeyAgents     = "agents"
	KeyPlan       = "plan"
	KeyIsComplete = "isComplete"
	KeySteps      = "steps"
	KeyTask       = "task"
	KeyPrompt     = "prompt"
)

// Plan is the planner's answer for one iteration.
type Plan struct {
	IsComplete bool   `json:"isComplete"`
	Steps      []Step `json:"steps"`
}

// Step groups tasks that run one after another.
type Step struct {
	Description string `json:"description"`
	Tasks       []Task `json:"tasks"`
}

// Task assigns a piece of work to a skill.
type Task struct {
	Description string `json:"description"`
	AgentName   string `json:"agentName"`
}

// TaskResult records what a task produced.
type TaskResult struct {
	Description string       `json:"description"`
	Agent       string       `json:"agent"`
	Result      core.Message `json:"result"`
}

// StepResult records the results of one executed step.
type StepResult struct {
	Description string       `json:"description"`
	Tasks       []TaskResult `json:"tasks"`
}

// OrchestratorOptions configure an OrchestratorAgent.
type OrchestratorOptions struct {
	BaseOptions
	// MaxIterations caps planner calls (default 30).
	MaxIterations int
	// Completer turns the accumulated results into the final output. When
	// nil the output is {objective, results}.
	Completer core.Agent
}

// OrchestratorAgent runs an iterative plan-execute loop. Each iteration the
// planner sees the objective, the results so far and the skill catalog and
// either declares the objective complete or plans further steps, whose tasks
// are executed by the named skills in order.
type OrchestratorAgent struct {
	BaseAgent
	planner       core.Agent
	completer     core.Agent
	maxIterations int
}

// NewOrchestratorAgent creates an orchestrator.
func NewOrchestratorAgent(name string, planner core.Agent, skills []core.Agent, optFns ...func(o *OrchestratorOptions)) *OrchestratorAgent {
	opts := OrchestratorOptions{MaxIterations: DefaultMaxIterations}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}

	a := &OrchestratorAgent{planner: planner, completer: opts.Completer, maxIterations: opts.MaxIterations}
	a.init(name, opts.BaseOptions, skills)
	a.adopt(planner, opts.Completer)

	return a
}

// Process implements core.Agent.
func (o *OrchestratorAgent) Process(ctx *core.ExecutionContext, input core.Message, _ core.ProcessOptions) (core.Response, error) {
	objective := objectiveOf(input)

	var results []StepResult

	for iteration := 1; iteration <= o.maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return core.Response{}, err
		}

		out, err := ctx.Invoke(o.planner, core.NewMessage(
			KeyObjective, objective,
			KeyResults, formatResults(results),
			KeyAgents, catalog(o.skills),
		))
		if err != nil {
			return core.Response{}, fmt.Errorf("planning iteration %d: %w", iteration, err)
		}

		plan, err := planFrom(out)
		if err != nil {
			return core.Response{}, fmt.Errorf("planning iteration %d: %w", iteration, err)
		}

		ctx.LogDebug("plan received", "orchestrator", o.name, "iteration", iteration, "complete", plan.IsComplete, "steps", len(plan.Steps))

		if plan.IsComplete {
			return o.complete(ctx, objective, results)
		}

		for _, step := range plan.Steps {
			sr, err := o.runStep(ctx, objective, results, step)
			if err != nil {
				return core.Response{}, err
			}

			results = append(results, sr)
		}
	}

	return core.Response{}, &core.MaxIterationsExceededError{Agent: o.name, MaxIterations: o.maxIterations}
}

func (o *OrchestratorAgent) runStep(ctx *core.ExecutionContext, objective string, prior []StepResult, step Step) (StepResult, error) {
	sr := StepResult{Description: step.Description}

	for _, task := range step.Tasks {
		skill := core.FindSkill(o, task.AgentName)
		if skill == nil {
			return StepResult{}, &core.AgentNotFoundError{Name: task.AgentName}
		}

		// Results of earlier tasks of this step are part of the running context.
		running := append(append([]StepResult(nil), prior...), sr)

		out, err := ctx.Invoke(skill, core.NewMessage(
			KeyObjective, objective,
			KeyTask, task.Description,
			KeyResults, formatResults(running),
			KeyPrompt, taskPrompt(objective, running, task),
		))
		if err != nil {
			return StepResult{}, fmt.Errorf("task %q on agent %s: %w", task.Description, skill.Name(), err)
		}

		sr.Tasks = append(sr.Tasks, TaskResult{Description: task.Description, Agent: skill.Name(), Result: out})
	}

	return sr, nil
}

func (o *OrchestratorAgent) complete(ctx *core.ExecutionContext, objective string, results []StepResult) (core.Response, error) {
	if o.completer == nil {
		return core.MessageResponse(core.NewMessage(KeyObjective, objective, KeyResults, results)), nil
	}

	out, err := ctx.Invoke(o.completer, core.NewMessage(KeyObjective, objective, KeyResults, formatResults(results)))
	if err != nil {
		return core.Response{}, fmt.Errorf("completing objective: %w", err)
	}

	return core.MessageResponse(out), nil
}

// objectiveOf reads the objective field or renders the whole input.
func objectiveOf(input core.Message) string {
	if s := input.String(KeyObjective); s != "" {
		return s
	}

	b, err := json.Marshal(input)
	if err != nil {
		return ""
	}

	return string(b)
}

// planFrom accepts the plan as message fields or as a JSON document under
// the plan key.
func planFrom(m core.Message) (Plan, error) {
	var plan Plan

	if raw := m.String(KeyPlan); raw != "" {
		if err := json.Unmarshal([]byte(raw), &plan); err != nil {
			return Plan{}, fmt.Errorf("decode plan: %w", err)
		}

		return plan, nil
	}

	if nested, ok := m.Get(KeyPlan); ok && nested != nil {
		b, err := json.Marshal(nested)
		if err != nil {
			return Plan{}, fmt.Errorf("encode plan: %w", err)
		}

		if err := json.Unmarshal(b, &plan); err != nil {
			return Plan{}, fmt.Errorf("decode plan: %w", err)
		}

		return plan, nil
	}

	if err := m.Decode(&plan); err != nil {
		return Plan{}, fmt.Errorf("decode plan: %w", err)
	}

	return plan, nil
}

// formatResults renders step results as numbered plain text.
func formatResults(results []StepResult) string {
	if len(results) == 0 {
		return "No results yet."
	}

	var sb strings.Builder

	for i, sr := range results {
		fmt.Fprintf(&sb, "Step %d: %s\n", i+1, sr.Description)

		for _, tr := range sr.Tasks {
			b, err := json.Marshal(tr.Result)
			if err != nil {
				b = []byte(fmt.Sprint(tr.Result.ToMap()))
			}

			fmt.Fprintf(&sb, "- %s (%s): %s\n", tr.Description, tr.Agent, b)
		}
	}

	return strings.TrimRight(sb.String(), "\n")
}

func taskPrompt(objective string, results []StepResult, task Task) string {
	return fmt.Sprintf("Objective: %s\n\nResults so far:\n%s\n\nYour task: %s", objective, formatResults(results), task.Description)
}
