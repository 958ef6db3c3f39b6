// Package hub is the coordination core of ophub. It dispatches user
// queries to AI agents, either auto-routing through the coordination's
// assistant or directly to an explicitly chosen agent, then polls the
// resulting model run and reconciles the outcome into durable
// session/thread state.
//
// Dispatch is synchronous and returns a provisional snapshot before the
// model finishes; the poll-and-reconcile pass runs as a scheduled job.
// All durable state lives behind the Store interface, so concurrent
// dispatches against the same thread resolve by last-writer-wins upserts.
package hub
