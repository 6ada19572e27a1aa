// Package server exposes an engine over HTTP and provides RemoteAgent, an
// agent that invokes agents of another process through the same endpoint.
//
// Routes:
//
//	POST /api/invoke   {agent, input, options: {streaming}, sessionId?}
//	GET  /api/agents   registered agents
//	GET  /healthz      liveness
//	GET  /metrics      Prometheus metrics
//
// Non-streaming invocations answer {output, sessionId?}. Streaming ones answer
// text/event-stream where every event is `data: {"text":{...},"json":{...}}`
// and a failure ends the stream with `event: error`. Errors are encoded as
// {error: {message, type}}.
package server
