// Package affinity defines the CPU pinning collaborator the Application
// Companion calls at startup (spec §4.5 step 1). Platform introspection is
// a Non-goal of the control plane itself; the repository ships one
// concrete implementation that shells out to taskset so the end-to-end
// path still runs without a separate project.
package affinity
