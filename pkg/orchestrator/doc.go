// Package orchestrator implements the Orchestrator (spec §4.7): the
// single-threaded steering command loop that validates global-state
// preconditions against the registry, forwards commands to Command &
// Control, aggregates companion replies, extracts the global minimum step
// size and spike-detector ids at INIT, and tears the workflow down on a
// fatal reply or a Health Status Monitor alarm.
package orchestrator
