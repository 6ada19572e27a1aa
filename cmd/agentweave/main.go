// Package main provides the agentweave CLI.
//
// Start the HTTP server:
//
//	agentweave serve --config agentweave.yaml
//
// Run one agent and print its output:
//
//	agentweave run --config agentweave.yaml --agent writer --input '{"message":"hello"}'
//
// Configuration values may reference environment variables such as
// OPENAI_API_KEY or ANTHROPIC_API_KEY with ${NAME}.
package main

import (
	"fmt"
	"os"
)

// Build information, set with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
