/*
Package history persists the diagnostic trace spec §3 and §7 call for:
per-component local/global state transitions and the Orchestrator's
steering command history. It is an append-only bbolt database. The
Orchestrator records every accepted command and reads the command history
back to log it at END; RecordTransition is called only from tests. The
authoritative in-memory state path never reads it.
*/
package history
