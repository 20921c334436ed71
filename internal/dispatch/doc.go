// Package dispatch implements the client-side request dispatcher: callers
// submit asynchronous fetch requests identified by a resource URI and a
// typed result sink, and the dispatcher serves them through a two-stage
// pipeline. A single cache-stage worker consults the cache store; misses
// fall through to a small pool of network-stage workers backed by an
// injected Executor. An in-flight ledger coalesces concurrent cacheable
// requests for the same resource into one network fetch: duplicates wait
// in the ledger and are replayed through the cache stage once the first
// fetch completes, so they resolve against the freshly written entry.
// Cancellation is cooperative and observed at worker pickup; a canceled
// request is dropped without ever invoking its sink.
package dispatch
