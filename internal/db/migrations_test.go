package db

import (
	"context"
	"database/sql"
	"os"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authz-engine/rbac-core/internal/hydrator"
	"github.com/authz-engine/rbac-core/pkg/condition"
	"github.com/authz-engine/rbac-core/pkg/types"
)

func TestListMigrations(t *testing.T) {
	migrations, err := ListMigrations()
	require.NoError(t, err)

	assert.Contains(t, migrations, "000001_create_roles.up.sql")
	assert.Contains(t, migrations, "000001_create_roles.down.sql")

	for _, name := range migrations {
		assert.True(t, strings.HasSuffix(name, ".up.sql") || strings.HasSuffix(name, ".down.sql"), name)
	}
}

func TestMigrationSchemaMatchesHydratorQueries(t *testing.T) {
	up, err := migrationsFS.ReadFile("migrations/000001_create_roles.up.sql")
	require.NoError(t, err)

	schema := string(up)
	for _, column := range []string{"is_super_admin", "is_default", "role_id", "position", "effect", "permission", "condition"} {
		assert.Contains(t, schema, column)
	}
}

func ownerPolicyRole() types.Role {
	update := types.Permission("user:update")
	return types.Role{
		RoleRef:     types.RoleRef{ID: 2, Name: "member"},
		Permissions: types.NewPermissionSet("post:create"),
		Policies: []types.Policy{
			{ID: 20, RoleID: 2, Effect: types.EffectAllow, Permission: &update,
				Condition: condition.Eq(condition.User("id"), condition.Resource("id"))},
			{ID: 21, RoleID: 2, Effect: types.EffectDeny},
		},
	}
}

func TestSeedRoles_Statements(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO roles").
		WithArgs(int64(2), "member", false, false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM role_permissions").WithArgs(int64(2)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO role_permissions").
		WithArgs(int64(2), "post:create").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM policies").WithArgs(int64(2)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO policies").
		WithArgs(int64(20), int64(2), 0, "allow", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO policies").
		WithArgs(int64(21), int64(2), 1, "deny", nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("setval").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("setval").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, SeedRoles(context.Background(), conn, []types.Role{ownerPolicyRole()}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeedRoles_PoliciesWithoutIDs(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	editor := types.Role{
		RoleRef: types.RoleRef{ID: 4, Name: "editor"},
		Policies: []types.Policy{
			{Effect: types.EffectAllow},
			{ID: 40, Effect: types.EffectDeny},
			{Effect: types.EffectDeny},
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO roles").WithArgs(int64(4), "editor", false, false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM role_permissions").WithArgs(int64(4)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM policies").WithArgs(int64(4)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO policies (id, role_id")).
		WithArgs(int64(40), int64(4), 1, "deny", nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("setval").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("setval").WillReturnResult(sqlmock.NewResult(0, 0))
	// Unnumbered policies draw from the synced sequence
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO policies (role_id, position")).
		WithArgs(int64(4), 0, "allow", nil, nil).
		WillReturnResult(sqlmock.NewResult(41, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO policies (role_id, position")).
		WithArgs(int64(4), 2, "deny", nil, nil).
		WillReturnResult(sqlmock.NewResult(42, 1))
	mock.ExpectCommit()

	require.NoError(t, SeedRoles(context.Background(), conn, []types.Role{editor}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeedRoles_RollsBackOnError(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO roles").WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err = SeedRoles(context.Background(), conn, []types.Role{ownerPolicyRole()})
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestMigrationsAndHydrator runs against a real database when TEST_DATABASE_URL is set
func TestMigrationsAndHydrator(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping database integration test")
	}

	conn, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	defer conn.Close()
	if err := conn.Ping(); err != nil {
		t.Skipf("database not reachable: %v", err)
	}

	runner, err := NewMigrationRunner(conn, nil)
	require.NoError(t, err)

	require.NoError(t, runner.Up())
	t.Cleanup(func() {
		_ = runner.Down()
	})

	version, dirty, err := runner.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	ctx := context.Background()
	require.NoError(t, SeedRoles(ctx, conn, []types.Role{ownerPolicyRole()}))

	h, err := hydrator.NewPostgresHydrator(ctx, conn, nil)
	require.NoError(t, err)

	roles, err := h.Hydrate(ctx, []types.RoleRef{{ID: 2}}, types.IncludeAll)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.True(t, roles[0].Permissions.Has("post:create"))
	require.Len(t, roles[0].Policies, 2)
	assert.Equal(t, int64(20), roles[0].Policies[0].ID)
	assert.Equal(t, types.EffectDeny, roles[0].Policies[1].Effect)

	ok, err := condition.Evaluate(roles[0].Policies[0].Condition, &types.User{ID: "7"}, types.Resource{"id": "7"})
	require.NoError(t, err)
	assert.True(t, ok)
}
