package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/multiscale/costeer/pkg/fsm"
	"github.com/multiscale/costeer/pkg/types"
)

var (
	instance *Registry
	once     sync.Once
)

// Registry holds the authoritative descriptor set for one process. Every
// exported method takes the internal mutex, which is the "single-threaded
// per request" guarantee spec §4.1 asks of the serving proxy: no two
// registry operations observe or mutate overlapping state concurrently.
type Registry struct {
	mu          sync.Mutex
	descriptors map[string]*types.ServiceDescriptor
	globalState types.LocalState
	startedAt   time.Time
	stopped     bool
	stopOnce    sync.Once
	stopCh      chan struct{}
}

// New returns the process-wide Registry singleton, constructing it on the
// first call and returning the same instance on every subsequent call
// regardless of arguments (spec §4.1 "Singleton guarantee").
func New() *Registry {
	once.Do(func() {
		instance = &Registry{
			descriptors: make(map[string]*types.ServiceDescriptor),
			globalState: types.StateError,
			startedAt:   time.Now(),
			stopCh:      make(chan struct{}),
		}
	})
	return instance
}

// Register adds descriptor to the set, failing if its ID is already taken.
func (r *Registry) Register(d *types.ServiceDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.descriptors[d.ID]; exists {
		return fmt.Errorf("registry: descriptor already registered: %s", d.ID)
	}
	r.descriptors[d.ID] = d.Clone()
	return nil
}

// FindByID returns a snapshot of the descriptor with the given ID.
func (r *Registry) FindByID(id string) (*types.ServiceDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.descriptors[id]
	if !ok {
		return nil, fmt.Errorf("registry: no descriptor with id %s", id)
	}
	return d.Clone(), nil
}

// FindByName returns a snapshot of the descriptor with the given name.
func (r *Registry) FindByName(name string) (*types.ServiceDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range r.descriptors {
		if d.Name == name {
			return d.Clone(), nil
		}
	}
	return nil, fmt.Errorf("registry: no descriptor named %s", name)
}

// FindAll returns a snapshot of every registered descriptor.
func (r *Registry) FindAll() []*types.ServiceDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(func(*types.ServiceDescriptor) bool { return true })
}

// FindAllByCategory returns a snapshot of every descriptor in category.
func (r *Registry) FindAllByCategory(category types.Category) []*types.ServiceDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(func(d *types.ServiceDescriptor) bool { return d.Category == category })
}

// FindAllByStatus returns a snapshot of every descriptor with status.
func (r *Registry) FindAllByStatus(status types.Status) []*types.ServiceDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(func(d *types.ServiceDescriptor) bool { return d.Status == status })
}

// FindAllByState returns a snapshot of every descriptor in local state.
func (r *Registry) FindAllByState(state types.LocalState) []*types.ServiceDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(func(d *types.ServiceDescriptor) bool { return d.State == state })
}

func (r *Registry) snapshotLocked(keep func(*types.ServiceDescriptor) bool) []*types.ServiceDescriptor {
	out := make([]*types.ServiceDescriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		if keep(d) {
			out = append(out, d.Clone())
		}
	}
	return out
}

// UpdateStatus flips the liveness flag of the descriptor with the given ID.
// Status mutation is not subject to the transition table; it reflects
// external observation (spec §3 "status flips to DOWN only by external
// observation").
func (r *Registry) UpdateStatus(id string, status types.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.descriptors[id]
	if !ok {
		return fmt.Errorf("registry: no descriptor with id %s", id)
	}
	d.Status = status
	return nil
}

// UpdateLocalState applies command to the descriptor with the given ID per
// the local transition table, returning the updated descriptor. An illegal
// transition still returns the (now ERROR) descriptor alongside its error,
// matching spec §4.1's "drives the descriptor to ERROR" rather than
// leaving it untouched.
func (r *Registry) UpdateLocalState(id string, command types.SteeringCommand) (*types.ServiceDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.descriptors[id]
	if !ok {
		return nil, fmt.Errorf("registry: no descriptor with id %s", id)
	}
	err := fsm.Apply(d, command)
	return d.Clone(), err
}

// UpdateGlobalState recomputes the global state from the current
// descriptor set (spec §4.1 C1/C2). Calling it twice with no intervening
// descriptor change is a no-op, since DeriveGlobalState is a pure function
// of the same inputs.
func (r *Registry) UpdateGlobalState() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make([]*types.ServiceDescriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		all = append(all, d)
	}
	r.globalState = fsm.DeriveGlobalState(all)
	return nil
}

// CurrentGlobalState returns the most recently computed global state.
func (r *Registry) CurrentGlobalState() types.LocalState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.globalState
}

// CurrentGlobalStatus reports StatusUp only when every registered
// descriptor is UP (C1), StatusDown otherwise.
func (r *Registry) CurrentGlobalStatus() types.Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range r.descriptors {
		if d.Status != types.StatusUp {
			return types.StatusDown
		}
	}
	return types.StatusUp
}

// SystemUptime returns how long this registry instance has been running.
func (r *Registry) SystemUptime() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Since(r.startedAt)
}

// Health returns the derived health record spec §3 names.
func (r *Registry) Health() types.HealthRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := types.StatusUp
	for _, d := range r.descriptors {
		if d.Status != types.StatusUp {
			status = types.StatusDown
			break
		}
	}
	return types.HealthRecord{
		Uptime:        r.startedAt,
		GlobalState:   r.globalState,
		GlobalStatus:  status,
		LastUpdatedAt: time.Now(),
	}
}

// Stop marks the registry as shut down. It does not clear the descriptor
// set; the registry is torn down only once, at workflow end (spec §3).
// Closing stopCh gives the hosting process (cmd/registry, cmd/launcher) an
// observable signal that the Orchestrator's remote stop actually arrived,
// rather than leaving Stopped() as a value nothing ever polls.
func (r *Registry) Stop() error {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
	r.stopOnce.Do(func() { close(r.stopCh) })
	return nil
}

// Stopped reports whether Stop has been called.
func (r *Registry) Stopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// Done returns a channel that closes the moment Stop is called, so a
// hosting process can react to a remote "stop" RPC rather than only to a
// local signal.
func (r *Registry) Done() <-chan struct{} {
	return r.stopCh
}

// ListDescriptors and GlobalState satisfy metrics.DescriptorSource.

func (r *Registry) ListDescriptors() []*types.ServiceDescriptor {
	return r.FindAll()
}

func (r *Registry) GlobalState() types.LocalState {
	return r.CurrentGlobalState()
}
