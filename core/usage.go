package core

import "time"

// Usage counts the work done by a context node and all its descendants.
// Counters only grow.
type Usage struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
	AgentInvokes int64 `json:"agentInvokes"`
}

// TotalTokens returns input plus output tokens.
func (u Usage) TotalTokens() int64 { return u.InputTokens + u.OutputTokens }

// Add returns the element-wise sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
		AgentInvokes: u.AgentInvokes + o.AgentInvokes,
	}
}

// Limits bounds a root invocation. Zero values mean unlimited.
type Limits struct {
	MaxAgentInvokes int64         `json:"maxAgentInvokes,omitempty" yaml:"maxAgentInvokes"`
	MaxTokens       int64         `json:"maxTokens,omitempty" yaml:"maxTokens"`
	Timeout         time.Duration `json:"timeout,omitempty" yaml:"timeout"`
}

// checkDispatch decides whether one more agent invocation may start given
// the root's aggregated usage. Tokens are only known after a model call, so
// the call that crosses MaxTokens still succeeds and the next one is refused.
func (l Limits) checkDispatch(root Usage) error {
	if l.MaxTokens > 0 && root.TotalTokens() > l.MaxTokens {
		return &LimitExceededError{Kind: LimitTokens, Used: root.TotalTokens(), Max: l.MaxTokens}
	}

	if l.MaxAgentInvokes > 0 && root.AgentInvokes+1 > l.MaxAgentInvokes {
		return &LimitExceededError{Kind: LimitAgentInvokes, Used: root.AgentInvokes, Max: l.MaxAgentInvokes}
	}

	return nil
}
