// Package testutil contains helpers used across tests: an event recorder
// observer, a scripted chat model and a fluent builder for the completions
// it replays. They are not intended for production usage.
package testutil
