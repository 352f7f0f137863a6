package hydrator

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/authz-engine/rbac-core/pkg/types"
)

// Snapshot is one version of a loaded role set. Roles are shared with the
// hydrator that served them and must not be mutated.
type Snapshot struct {
	Version   int64        `json:"version"`
	Timestamp time.Time    `json:"timestamp"`
	Roles     []types.Role `json:"roles"`
	Checksum  string       `json:"checksum"`
	Comment   string       `json:"comment,omitempty"`
}

// SnapshotHistory keeps the most recent role set versions for rollback
type SnapshotHistory struct {
	mu          sync.RWMutex
	snapshots   []*Snapshot
	current     int64
	maxVersions int
}

// NewSnapshotHistory creates a history retaining at most maxVersions snapshots
func NewSnapshotHistory(maxVersions int) *SnapshotHistory {
	if maxVersions <= 0 {
		maxVersions = 10
	}
	return &SnapshotHistory{
		snapshots:   make([]*Snapshot, 0, maxVersions),
		maxVersions: maxVersions,
	}
}

// Save records roles as a new version. A role set identical to the latest
// version is not recorded again; the latest snapshot is returned instead.
func (h *SnapshotHistory) Save(roles []types.Role, comment string) (*Snapshot, error) {
	sorted := sortedRoles(roles)
	sum, err := checksum(sorted)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if n := len(h.snapshots); n > 0 && h.snapshots[n-1].Checksum == sum {
		return h.snapshots[n-1], nil
	}

	h.current++
	snap := &Snapshot{
		Version:   h.current,
		Timestamp: time.Now(),
		Roles:     sorted,
		Checksum:  sum,
		Comment:   comment,
	}
	h.snapshots = append(h.snapshots, snap)

	if len(h.snapshots) > h.maxVersions {
		h.snapshots = h.snapshots[len(h.snapshots)-h.maxVersions:]
	}
	return snap, nil
}

// Unchanged reports whether roles match the latest version
func (h *SnapshotHistory) Unchanged(roles []types.Role) (bool, error) {
	sum, err := checksum(sortedRoles(roles))
	if err != nil {
		return false, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	n := len(h.snapshots)
	return n > 0 && h.snapshots[n-1].Checksum == sum, nil
}

// Get returns a retained version
func (h *SnapshotHistory) Get(version int64) (*Snapshot, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, s := range h.snapshots {
		if s.Version == version {
			return s, nil
		}
	}
	return nil, fmt.Errorf("version %d not found", version)
}

// Current returns the latest version
func (h *SnapshotHistory) Current() (*Snapshot, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.snapshots) == 0 {
		return nil, fmt.Errorf("no versions available")
	}
	return h.snapshots[len(h.snapshots)-1], nil
}

// Previous returns the version before the latest one
func (h *SnapshotHistory) Previous() (*Snapshot, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.snapshots) < 2 {
		return nil, fmt.Errorf("no previous version available")
	}
	return h.snapshots[len(h.snapshots)-2], nil
}

// List returns retained versions, oldest first
func (h *SnapshotHistory) List() []*Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Snapshot, len(h.snapshots))
	copy(out, h.snapshots)
	return out
}

func sortedRoles(roles []types.Role) []types.Role {
	sorted := append([]types.Role(nil), roles...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return sorted
}

// checksum hashes the serialized role set; roles must be sorted by id
func checksum(roles []types.Role) (string, error) {
	data, err := json.Marshal(roles)
	if err != nil {
		return "", fmt.Errorf("failed to marshal roles: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
