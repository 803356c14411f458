// Package stdoutparser implements the payload stdout contract (spec §6): a
// finite-state scanner that locates the two structured INIT-time responses
// — the simulator's LOCAL_MINIMUM_STEP_SIZE literal and the hub's
// per-rank MPI_CONNECTION_INFO literals — inside an otherwise unstructured
// stream of log noise, by keyword and brace matching. It is deliberately
// not a general-purpose literal evaluator (spec §9 design note).
package stdoutparser
