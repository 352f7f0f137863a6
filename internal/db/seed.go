package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/authz-engine/rbac-core/pkg/condition"
	"github.com/authz-engine/rbac-core/pkg/types"
)

// SeedRoles upserts roles with their permissions and policies in one
// transaction. A role's existing permissions and policies are replaced;
// policy order is stored in the position column. Policies without an id
// take the next value of the policies sequence.
func SeedRoles(ctx context.Context, db *sql.DB, roles []types.Role) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var unnumbered []policyRow
	for i := range roles {
		rows, serr := seedRole(ctx, tx, &roles[i])
		if serr != nil {
			err = fmt.Errorf("seed role %d: %w", roles[i].ID, serr)
			return err
		}
		unnumbered = append(unnumbered, rows...)
	}

	// Keep BIGSERIAL ahead of explicitly inserted ids
	if _, err = tx.ExecContext(ctx,
		`SELECT setval(pg_get_serial_sequence('roles', 'id'), GREATEST((SELECT MAX(id) FROM roles), 1))`); err != nil {
		return fmt.Errorf("sync roles sequence: %w", err)
	}
	if _, err = tx.ExecContext(ctx,
		`SELECT setval(pg_get_serial_sequence('policies', 'id'), GREATEST((SELECT MAX(id) FROM policies), 1))`); err != nil {
		return fmt.Errorf("sync policies sequence: %w", err)
	}

	for _, row := range unnumbered {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO policies (role_id, position, effect, permission, condition)
			VALUES ($1, $2, $3, $4, $5)
		`, row.roleID, row.position, row.effect, row.permission, row.condition); err != nil {
			err = fmt.Errorf("seed role %d: insert policy at position %d: %w", row.roleID, row.position, err)
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// policyRow is a policy ready for insertion
type policyRow struct {
	id         int64
	roleID     int64
	position   int
	effect     string
	permission sql.NullString
	// nil stores SQL NULL
	condition any
}

func newPolicyRow(roleID int64, position int, pol *types.Policy) (policyRow, error) {
	row := policyRow{id: pol.ID, roleID: roleID, position: position, effect: string(pol.Effect)}
	if pol.Permission != nil {
		row.permission = sql.NullString{String: string(*pol.Permission), Valid: true}
	}
	if pol.Condition != nil {
		encoded, err := condition.Encode(pol.Condition)
		if err != nil {
			return row, err
		}
		data, err := json.Marshal(encoded)
		if err != nil {
			return row, err
		}
		row.condition = string(data)
	}
	return row, nil
}

// seedRole writes the role, its permissions and its numbered policies. Policies
// without an id are returned for insertion once the sequence is synced.
func seedRole(ctx context.Context, tx *sql.Tx, role *types.Role) ([]policyRow, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO roles (id, name, is_super_admin, is_default)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    is_super_admin = EXCLUDED.is_super_admin,
		    is_default = EXCLUDED.is_default,
		    updated_at = NOW()
	`, role.ID, role.Name, role.IsSuperAdmin, role.IsDefault)
	if err != nil {
		return nil, fmt.Errorf("upsert role: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, role.ID); err != nil {
		return nil, fmt.Errorf("clear permissions: %w", err)
	}
	for _, perm := range role.Permissions.Slice() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO role_permissions (role_id, permission) VALUES ($1, $2)`,
			role.ID, string(perm)); err != nil {
			return nil, fmt.Errorf("insert permission %q: %w", perm, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM policies WHERE role_id = $1`, role.ID); err != nil {
		return nil, fmt.Errorf("clear policies: %w", err)
	}

	var unnumbered []policyRow
	for pos := range role.Policies {
		row, err := newPolicyRow(role.ID, pos, &role.Policies[pos])
		if err != nil {
			return nil, fmt.Errorf("policy at position %d: %w", pos, err)
		}
		if row.id == 0 {
			unnumbered = append(unnumbered, row)
			continue
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO policies (id, role_id, position, effect, permission, condition)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, row.id, row.roleID, row.position, row.effect, row.permission, row.condition); err != nil {
			return nil, fmt.Errorf("insert policy %d: %w", row.id, err)
		}
	}

	return unnumbered, nil
}
