/*
Package metrics defines and registers the control plane's Prometheus
metrics: registry descriptor counts and derived global state, steering
command throughput and latency, health monitor alarms, payload resource
gauges, and companion reply counts. Collector periodically snapshots a
DescriptorSource (pkg/registry.Registry) into the descriptor and
global-state gauges; the rest are updated inline by the package that owns
the event (pkg/orchestrator, pkg/cc, pkg/appmanager, pkg/resources,
pkg/healthmonitor, pkg/registry, pkg/transport). The companion reply
counter is registered, but nothing increments it.

	collector := metrics.NewCollector(reg)
	collector.Start()
	defer collector.Stop()

	http.Handle("/metrics", metrics.Handler())

HealthHandler/ReadyHandler/LivenessHandler expose the same component-health
model used by every binary's HTTP admin listener.
*/
package metrics
