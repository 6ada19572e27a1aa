// Package memory contains the Store contract for remembered exchanges, an
// in-process implementation and the retriever and recorder agents that
// connect a Store to the invocation pipeline (see core.MemoryConfig).
//
// Memories are partitioned by scope. The agents derive the scope from the
// user context of the invocation, so one store can serve many sessions.
// Additional backends live in subpackages (sqlite).
package memory
