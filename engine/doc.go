// Package engine is the registry of named agents behind the HTTP server and
// the CLI.
//
// An Engine owns the ambient configuration shared by every invocation:
// limits, lifecycle observers, the logger, a bound on concurrent top level
// invocations and the session store. Invoke and InvokeStream start a fresh
// root ExecutionContext per call; InvokeSession runs one turn of a
// conversation that remembers which agent is active after a handoff.
//
//	e := engine.New(engine.WithObservers(observer.NewLogging(logger)))
//	_ = e.Register(writer, reviewer)
//
//	out, err := e.Invoke(ctx, "writer", core.NewMessage("message", "hello"))
package engine
