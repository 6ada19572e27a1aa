// Package core provides the execution model of agentweave:
//
//   - Messages (ordered JSON-like objects) and Streams of Chunks
//   - The Agent contract and its optional capabilities
//   - ExecutionContext, the tree of invocation nodes threading usage,
//     limits, memories and user data through nested calls
//   - The invocation pipeline wrapping every Process call with validation,
//     memory hooks, guard rails and lifecycle events
//   - The error taxonomy shared by every package
//
// Concrete agents live in package agent; models, stores and transports in
// their own packages.
package core
