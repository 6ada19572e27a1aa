// Package config loads the YAML configuration of an agentweave deployment and
// builds the declared models and agents.
//
// Environment variables are expanded before parsing, so secrets stay out of
// the file:
//
//	models:
//	  - name: gpt
//	    provider: openai
//	    model: gpt-4o-mini
//	    apiKey: ${OPENAI_API_KEY}
//	agents:
//	  - name: writer
//	    type: model
//	    model: gpt
//	    instruction: You write short stories about {{.topic}}.
package config
