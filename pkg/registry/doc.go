// Package registry implements the process-wide authoritative store of
// component descriptors, statuses, and local states (spec §4.1), plus the
// background health monitor that re-validates the global-state invariants
// on an interval (spec §4.2). The registry itself is a singleton per
// hosting process; Serve and Dial in rpc.go expose it to other processes
// over a transport.Fabric listener.
package registry
