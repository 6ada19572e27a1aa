// Package agent contains the concrete agent kinds of agentweave and the
// composition patterns built from them:
//
//  1. Leaf agents: FunctionAgent, ModelAgent and the transfer helpers
//  2. Teams: SequentialAgent and ParallelAgent
//  3. Dispatch: RouterAgent (triage) and OrchestratorAgent (plan-execute)
//
// Every kind embeds BaseAgent, which carries the optional capabilities the
// invocation pipeline looks for (schemas, output key, guard rails, memory)
// and an idempotent Shutdown that releases owned agents.
//
// Agents never call each other directly. Nested work goes through the
// *core.ExecutionContext handed to Process, so usage accounting, limits and
// lifecycle events cover the whole call tree.
package agent
