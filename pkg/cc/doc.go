// Package cc implements the Command & Control Service (spec §4.4): a
// stateless relay between the Orchestrator and every Application
// Companion. It receives one control command at a time on the
// Orchestrator-facing reply socket, broadcasts it to every companion under
// the "steering" topic, pulls back exactly one reply per currently
// registered companion, and returns the aggregated list to the
// Orchestrator.
package cc
