// Package session keeps conversations across invocations. A Session
// remembers which agent is active: when an agent hands off, the target is
// re-invoked with the same input and stays active for the following turns.
//
// State is persisted through the Store interface. InMemoryStore is the
// volatile implementation; add additional backends without changing any
// calling code, only the wiring decides which store to instantiate.
package session
