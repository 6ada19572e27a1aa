package core

import (
	"github.com/hupe1980/agentweave/internal/util"
)

// Validation stages.
const (
	StageInput  = "input"
	StageOutput = "output"
)

// validate checks m against the schema a declares for stage. Agents without
// a schema accept everything.
func validate(a Agent, stage string, m Message) error {
	p, ok := a.(SchemaProvider)
	if !ok {
		return nil
	}

	schema := p.InputSchema()
	if stage == StageOutput {
		schema = p.OutputSchema()
	}

	if schema == nil {
		return nil
	}

	paths, err := util.ValidateSchema(schema, m)
	if err == nil {
		return nil
	}

	return &ValidationError{
		Agent:   a.Name(),
		Stage:   stage,
		Paths:   paths,
		Message: err.Error(),
		Cause:   err,
	}
}

// ValidateInput checks m against a's input schema.
func ValidateInput(a Agent, m Message) error { return validate(a, StageInput, m) }

// ValidateOutput checks m against a's output schema.
func ValidateOutput(a Agent, m Message) error { return validate(a, StageOutput, m) }
