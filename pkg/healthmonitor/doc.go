// Package healthmonitor implements the Health Status Monitor (spec §4.2): a
// background worker that runs inside the Registry's process and
// periodically re-validates the global-state invariants (C1: every
// descriptor UP, C2: every stateful descriptor shares one local state). A
// violation is retried a configurable number of times, on a network-delay
// sleep, to rule out transient skew before an alarm is published for the
// Orchestrator's health-monitor consumer to observe.
package healthmonitor
