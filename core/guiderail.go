package core

// Message keys used by the guard rail contract.
const (
	GuideRailKeyInput  = "input"
	GuideRailKeyOutput = "output"
	GuideRailKeyAbort  = "abort"
	GuideRailKeyReason = "reason"
	KeyAborted         = "aborted"
)

// AbortVerdict is what a guard rail returns to replace the guarded output.
func AbortVerdict(reason string) Message {
	return NewMessage(GuideRailKeyAbort, true, GuideRailKeyReason, reason)
}

// PassVerdict is what a guard rail returns to accept the guarded output.
func PassVerdict() Message {
	return NewMessage(GuideRailKeyAbort, false)
}

// AbortedOutput is the output substituted for an aborted one.
func AbortedOutput(reason string) Message {
	return NewMessage(KeyAborted, true, GuideRailKeyReason, reason)
}

// IsAborted reports whether m is an aborted output.
func IsAborted(m Message) bool {
	v, _ := m.Value(KeyAborted).(bool)
	return v
}

// applyGuideRails runs rails in order under node. The first verdict with
// abort=true replaces output and stops evaluation.
func applyGuideRails(node *ExecutionContext, rails []Agent, input, output Message) (Message, error) {
	for _, rail := range rails {
		verdict, err := node.Invoke(rail, NewMessage(GuideRailKeyInput, input, GuideRailKeyOutput, output))
		if err != nil {
			return Message{}, err
		}

		if abort, _ := verdict.Value(GuideRailKeyAbort).(bool); abort {
			reason := verdict.String(GuideRailKeyReason)

			node.LogInfo("guard rail aborted output", "agent", node.agent.Name, "rail", rail.Name(), "reason", reason)

			return AbortedOutput(reason), nil
		}
	}

	return output, nil
}

func guideRailsOf(a Agent) []Agent {
	if p, ok := a.(GuideRailProvider); ok {
		return p.GuideRails()
	}

	return nil
}
