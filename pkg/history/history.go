// Package history is the bbolt-backed append-only trace store: local and
// global state transition records (spec §3) plus the Orchestrator's
// steering command history (spec §4.7, §7). Nothing in the authoritative
// control path reads from it; the registry's global state is always
// derived in memory (spec §9, "global state is derived, not stored"). This
// store exists purely for post-mortem diagnostics and tests.
package history

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/multiscale/costeer/pkg/types"
)

var (
	bucketTransitions = []byte("transitions")
	bucketCommands    = []byte("commands")
)

// TraceEntry is one local or global state transition record.
type TraceEntry struct {
	ID          uuid.UUID            `json:"id"`
	At          time.Time            `json:"at"`
	ComponentID string               `json:"component_id"`
	Before      types.LocalState     `json:"before"`
	Command     types.SteeringCommand `json:"command"`
	After       types.LocalState     `json:"after"`
}

// CommandEntry is one entry in the Orchestrator's steering command history.
type CommandEntry struct {
	ID      uuid.UUID             `json:"id"`
	At      time.Time             `json:"at"`
	Command types.SteeringCommand `json:"command"`
	Result  string                `json:"result"`
}

// Store is a bbolt-backed append-only log.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the trace database under dataDir.
func Open(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "history.db")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketTransitions, bucketCommands} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordTransition appends a transition record keyed by component ID plus
// the bucket's next sequence number, so every component's history is
// independently range-scannable while staying in one bucket. The entry
// itself carries a fresh UUID.
func (s *Store) RecordTransition(componentID string, before types.LocalState, command types.SteeringCommand, after types.LocalState) error {
	entry := TraceEntry{
		ID:          uuid.New(),
		At:          time.Now(),
		ComponentID: componentID,
		Before:      before,
		Command:     command,
		After:       after,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal transition: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTransitions)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put([]byte(fmt.Sprintf("%s/%020d", componentID, seq)), data)
	})
}

// Transitions returns every recorded transition for componentID, in
// insertion order.
func (s *Store) Transitions(componentID string) ([]TraceEntry, error) {
	var out []TraceEntry
	prefix := []byte(componentID + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketTransitions).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var entry TraceEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("unmarshal transition: %w", err)
			}
			out = append(out, entry)
		}
		return nil
	})
	return out, err
}

// RecordCommand appends a steering command outcome to the Orchestrator's
// history.
func (s *Store) RecordCommand(command types.SteeringCommand, result string) error {
	entry := CommandEntry{
		ID:      uuid.New(),
		At:      time.Now(),
		Command: command,
		Result:  result,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCommands)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put([]byte(fmt.Sprintf("%020d", seq)), data)
	})
}

// Commands returns the full steering command history in insertion order.
func (s *Store) Commands() ([]CommandEntry, error) {
	var out []CommandEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCommands).ForEach(func(_, v []byte) error {
			var entry CommandEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("unmarshal command: %w", err)
			}
			out = append(out, entry)
			return nil
		})
	})
	return out, err
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
