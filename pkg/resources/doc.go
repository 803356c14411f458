// Package resources defines the Sampler/Writer collaborator interfaces the
// Application Manager uses for its ~1 Hz per-PID resource-usage monitor
// (spec §4.6), plus one concrete Sampler backed by gopsutil so the
// repository runs end-to-end without an external collector.
package resources
