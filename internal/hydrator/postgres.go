package hydrator

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/authz-engine/rbac-core/internal/policy"
	"github.com/authz-engine/rbac-core/pkg/condition"
	"github.com/authz-engine/rbac-core/pkg/types"
)

const (
	selectRolesQuery = `
		SELECT id, name, is_super_admin, is_default
		FROM roles
		WHERE id = ANY($1)
	`

	selectPermissionsQuery = `
		SELECT role_id, permission
		FROM role_permissions
		WHERE role_id = ANY($1)
	`

	selectPoliciesQuery = `
		SELECT id, role_id, effect, permission, condition
		FROM policies
		WHERE role_id = ANY($1)
		ORDER BY role_id, position, id
	`
)

// PostgresHydrator loads roles from the roles, role_permissions and
// policies tables. Each facet costs one query regardless of role count.
type PostgresHydrator struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresHydrator creates a new PostgreSQL-backed hydrator
func NewPostgresHydrator(ctx context.Context, db *sql.DB, logger *zap.Logger) (*PostgresHydrator, error) {
	if db == nil {
		return nil, errors.New("database connection is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// Verify connection
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresHydrator{db: db, logger: logger}, nil
}

// Hydrate fetches the requested roles and facets. Stored policies that fail
// validation abort the call, since skipping one could turn a deny into an allow.
func (h *PostgresHydrator) Hydrate(ctx context.Context, refs []types.RoleRef, include types.Include) ([]types.Role, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ids := uniqueIDs(refs)
	if len(ids) == 0 {
		return []types.Role{}, nil
	}

	roles, err := h.loadRoles(ctx, ids)
	if err != nil {
		return nil, err
	}

	if include.Has(types.IncludePermissions) {
		if err := h.loadPermissions(ctx, ids, roles); err != nil {
			return nil, err
		}
	}

	if include.Has(types.IncludePolicies) {
		if err := h.loadPolicies(ctx, ids, roles); err != nil {
			return nil, err
		}
	}

	byID := make(map[int64]types.Role, len(roles))
	for id, role := range roles {
		byID[id] = *role
	}
	return collect(ids, byID, include)
}

func (h *PostgresHydrator) loadRoles(ctx context.Context, ids []int64) (map[int64]*types.Role, error) {
	rows, err := h.db.QueryContext(ctx, selectRolesQuery, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("query roles: %w", err)
	}
	defer rows.Close()

	roles := make(map[int64]*types.Role, len(ids))
	for rows.Next() {
		role := &types.Role{}
		if err := rows.Scan(&role.ID, &role.Name, &role.IsSuperAdmin, &role.IsDefault); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		roles[role.ID] = role
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}

	return roles, nil
}

func (h *PostgresHydrator) loadPermissions(ctx context.Context, ids []int64, roles map[int64]*types.Role) error {
	for _, role := range roles {
		role.Permissions = types.NewPermissionSet()
	}

	rows, err := h.db.QueryContext(ctx, selectPermissionsQuery, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("query role permissions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			roleID int64
			perm   string
		)
		if err := rows.Scan(&roleID, &perm); err != nil {
			return fmt.Errorf("scan role permission: %w", err)
		}
		if role, ok := roles[roleID]; ok {
			role.Permissions[types.Permission(perm)] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate role permissions: %w", err)
	}

	return nil
}

func (h *PostgresHydrator) loadPolicies(ctx context.Context, ids []int64, roles map[int64]*types.Role) error {
	rows, err := h.db.QueryContext(ctx, selectPoliciesQuery, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("query policies: %w", err)
	}
	defer rows.Close()

	validator := policy.NewValidator()
	for rows.Next() {
		var (
			pol        types.Policy
			effect     string
			permission sql.NullString
			condJSON   []byte
		)
		if err := rows.Scan(&pol.ID, &pol.RoleID, &effect, &permission, &condJSON); err != nil {
			return fmt.Errorf("scan policy: %w", err)
		}

		pol.Effect = types.Effect(effect)
		if permission.Valid {
			p := types.Permission(permission.String)
			pol.Permission = &p
		}
		if len(condJSON) > 0 && !bytes.Equal(condJSON, []byte("null")) {
			cond, err := decodeCondition(condJSON)
			if err != nil {
				cond = condition.Unparsed{Raw: string(condJSON), Err: err}
			}
			pol.Condition = cond
		}

		// Bad stored data stays attached to its policy and fails closed in
		// the matcher, only for checks that reach it
		if err := validator.ValidatePolicy(&pol); err != nil {
			h.logger.Warn("Invalid stored policy",
				zap.Int64("policy_id", pol.ID),
				zap.Int64("role_id", pol.RoleID),
				zap.Error(err),
			)
		}

		if role, ok := roles[pol.RoleID]; ok {
			role.Policies = append(role.Policies, pol)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate policies: %w", err)
	}

	return nil
}

// decodeCondition parses a jsonb condition column
func decodeCondition(data []byte) (condition.Condition, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", condition.ErrMalformedCondition, err)
	}
	return condition.Parse(raw)
}
