package observer

import (
	"github.com/hupe1980/agentweave/core"
	"github.com/hupe1980/agentweave/logging"
)

// Logging writes one log entry per lifecycle event. Starts are logged at
// debug level, successes at info and failures at error level.
type Logging struct {
	logger logging.Logger
}

// NewLogging creates a logging observer. A nil logger discards everything.
func NewLogging(logger logging.Logger) *Logging {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}

	return &Logging{logger: logger}
}

// OnEvent implements core.Observer.
func (l *Logging) OnEvent(ev core.Event) {
	args := []any{
		"agent", ev.Agent.Name,
		"context_id", ev.ContextID,
		"parent_context_id", ev.ParentContextID,
		"root_id", ev.RootID,
	}

	switch ev.Type {
	case core.EventAgentStarted:
		l.logger.Debug("agent.started", args...)
	case core.EventAgentSucceed:
		l.logger.Info("agent.succeeded", append(args,
			"agent_invokes", ev.Usage.AgentInvokes,
			"input_tokens", ev.Usage.InputTokens,
			"output_tokens", ev.Usage.OutputTokens,
		)...)
	case core.EventAgentFailed:
		l.logger.Error("agent.failed", append(args, "error_type", core.ErrorType(ev.Err), "error", ev.Err)...)
	}
}
