// Package observer provides core.Observer implementations for the lifecycle
// events of an execution tree: structured logging, Prometheus metrics,
// OpenTelemetry tracing and per event type hooks.
//
// Observers run on the dispatcher goroutine of their root context, one event
// at a time and in emission order, so they may keep per-context state without
// locking as long as they are attached to a single root. The observers in this
// package lock anyway and can be shared by many roots.
//
//	reg := prometheus.NewRegistry()
//	metrics := observer.NewMetrics(reg)
//
//	out, err := core.Invoke(ctx, agent, input,
//	    core.WithObservers(metrics, observer.NewLogging(logger)),
//	)
package observer
