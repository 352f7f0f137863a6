package hydrator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/authz-engine/rbac-core/internal/policy"
	"github.com/authz-engine/rbac-core/pkg/types"
)

// MemoryHydrator serves roles from an in-process snapshot. It backs file
// fixtures and tests; stored roles are validated on the way in.
type MemoryHydrator struct {
	mu    sync.RWMutex
	roles map[int64]types.Role
}

// NewMemoryHydrator creates a hydrator seeded with roles
func NewMemoryHydrator(roles ...types.Role) (*MemoryHydrator, error) {
	m := &MemoryHydrator{roles: make(map[int64]types.Role)}
	if err := m.Replace(roles); err != nil {
		return nil, err
	}
	return m, nil
}

// Hydrate returns the requested roles from the current snapshot
func (m *MemoryHydrator) Hydrate(ctx context.Context, refs []types.RoleRef, include types.Include) ([]types.Role, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return collect(uniqueIDs(refs), m.roles, include)
}

// Put adds or replaces a single role
func (m *MemoryHydrator) Put(role types.Role) error {
	if err := policy.NewValidator().ValidateRole(&role); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.roles[role.ID] = role
	return nil
}

// Remove deletes roles by id
func (m *MemoryHydrator) Remove(ids ...int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		delete(m.roles, id)
	}
}

// Replace atomically swaps the whole snapshot. On error the previous
// snapshot is kept.
func (m *MemoryHydrator) Replace(roles []types.Role) error {
	validator := policy.NewValidator()
	next := make(map[int64]types.Role, len(roles))

	for i := range roles {
		if err := validator.ValidateRole(&roles[i]); err != nil {
			return err
		}
		if _, dup := next[roles[i].ID]; dup {
			return fmt.Errorf("%w: duplicate role id %d", policy.ErrInvalidRole, roles[i].ID)
		}
		next[roles[i].ID] = roles[i]
	}

	m.mu.Lock()
	m.roles = next
	m.mu.Unlock()

	return nil
}

// Get returns a stored role
func (m *MemoryHydrator) Get(id int64) (types.Role, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	role, ok := m.roles[id]
	return role, ok
}

// IDs returns the stored role ids, sorted
func (m *MemoryHydrator) IDs() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]int64, 0, len(m.roles))
	for id := range m.roles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of stored roles
func (m *MemoryHydrator) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.roles)
}

// Roles returns the stored roles ordered by id
func (m *MemoryHydrator) Roles() []types.Role {
	m.mu.RLock()
	defer m.mu.RUnlock()

	roles := make([]types.Role, 0, len(m.roles))
	for _, role := range m.roles {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].ID < roles[j].ID })
	return roles
}
