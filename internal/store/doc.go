// Package store provides persistent storage for ophub using SQLite.
//
// # Data Models
//
//   - Coordination: routing context binding a business entity to an
//     assistant type/id (directory data, read-only to the dispatch core)
//   - Agent: configured persona (instructions, response format, tools)
//   - Session: one conversational engagement, owner of the thread list
//   - Thread: one assistant-side conversation, owner of the agent binding
//     and the routing status machine
//   - Connection: live push connection registered by the outer transport
//   - Job: durable record for the async job queue
//
// # Semantics
//
// Sessions and threads use last-writer-wins upsert semantics: UpsertSession
// generates a session UUID when none is supplied, UpsertThread creates a
// thread implicitly on the first reference to an unknown thread id. Thread
// upserts patch columns: nil pointer fields are left untouched, a pointer
// to the empty string clears the column. The store never deletes sessions
// or threads.
//
// SQLiteStore implements Store and JobStore in a single struct. MockStore
// provides an in-memory double for tests.
package store
