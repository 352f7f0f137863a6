// Package engine provides the core decision engine for authorization
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/authz-engine/rbac-core/internal/audit"
	"github.com/authz-engine/rbac-core/internal/hydrator"
	"github.com/authz-engine/rbac-core/internal/metrics"
	"github.com/authz-engine/rbac-core/internal/policy"
	"github.com/authz-engine/rbac-core/pkg/types"
)

// Engine decides whether a user may exercise a permission, optionally on a
// resource. It holds no mutable state; concurrent calls are independent.
type Engine struct {
	hydrator hydrator.Hydrator
	logger   *zap.Logger
	metrics  metrics.Metrics
	audit    audit.Logger
	config   Config
}

// Config configures the decision engine
type Config struct {
	// Logger receives decision, policy-data and hydration logs. Nil disables logging.
	Logger *zap.Logger
	// Metrics records decision outcomes. Nil disables metrics.
	Metrics metrics.Metrics
	// Audit receives one event per decided check. Nil disables the trail.
	Audit audit.Logger
	// DecisionIDs tags every decision's log lines with a random id
	DecisionIDs bool
}

// DefaultConfig returns a default engine configuration
func DefaultConfig() Config {
	return Config{
		DecisionIDs: true,
	}
}

// New creates a new decision engine on top of a role hydrator
func New(cfg Config, h hydrator.Hydrator) (*Engine, error) {
	if h == nil {
		return nil, ErrNilHydrator
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}
	trail := cfg.Audit
	if trail == nil {
		trail = audit.NewNoopLogger()
	}

	return &Engine{
		hydrator: h,
		logger:   logger,
		metrics:  m,
		audit:    trail,
		config:   cfg,
	}, nil
}

// Authorize reports whether user may exercise perm on resource. A nil
// resource means the check targets no particular record.
//
// Hydration failures are returned as *HydrationError. Bad policy data fails
// closed: the result is false and the error matches
// condition.ErrMalformedCondition or policy.ErrInvalidEffect.
func (e *Engine) Authorize(ctx context.Context, perm types.Permission, user *types.User, resource types.Resource) (bool, error) {
	start := time.Now()
	if user == nil {
		return false, ErrNilUser
	}

	d := e.begin(ctx, user)
	check := types.Check{Permission: perm, Resource: resource}

	// Super-admin short-circuit, no hydration
	if user.IsSuperAdmin() {
		e.metrics.RecordSuperAdminBypass()
		e.record(d, -1, check, true, nil, start)
		return true, nil
	}

	roles, err := e.hydrate(ctx, d.log, user)
	if err != nil {
		e.record(d, -1, check, false, err, start)
		return false, err
	}

	allowed, err := decide(roles, perm, user, resource)
	e.record(d, -1, check, allowed, err, start)
	if err != nil {
		return false, err
	}
	return allowed, nil
}

// hydrate loads the user's roles once and returns them in the user's role order
func (e *Engine) hydrate(ctx context.Context, log *zap.Logger, user *types.User) ([]types.Role, error) {
	if err := ctx.Err(); err != nil {
		e.metrics.RecordHydration(metrics.HydrationCanceled, 0)
		return nil, &HydrationError{UserID: user.ID, Err: err}
	}
	if len(user.Roles) == 0 {
		return nil, nil
	}

	start := time.Now()
	hydrated, err := e.hydrator.Hydrate(ctx, user.Roles, types.IncludeAll)
	if err == nil {
		// Do not proceed on data fetched for a caller that has gone away
		err = ctx.Err()
	}
	if err != nil {
		status := metrics.HydrationError
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = metrics.HydrationCanceled
		}
		e.metrics.RecordHydration(status, time.Since(start))
		log.Error("Role hydration failed",
			zap.Int("roles", len(user.Roles)),
			zap.Error(err),
		)
		return nil, &HydrationError{UserID: user.ID, Err: err}
	}
	e.metrics.RecordHydration(metrics.HydrationOK, time.Since(start))

	byID := make(map[int64]types.Role, len(hydrated))
	for _, role := range hydrated {
		byID[role.ID] = role
	}

	roles := make([]types.Role, 0, len(user.Roles))
	seen := make(map[int64]bool, len(user.Roles))
	for _, ref := range user.Roles {
		if seen[ref.ID] {
			continue
		}
		seen[ref.ID] = true

		role, ok := byID[ref.ID]
		if !ok {
			err := fmt.Errorf("%w: %d missing from hydration result", hydrator.ErrRoleNotFound, ref.ID)
			log.Error("Role hydration incomplete", zap.Int64("role_id", ref.ID))
			return nil, &HydrationError{UserID: user.ID, Err: err}
		}
		roles = append(roles, role)
	}

	return roles, nil
}

// decide runs the per-role evaluation over an already hydrated role set.
// A policy deny is local to its role: it suppresses that role's plain grant
// and evaluation moves on to the next role.
func decide(roles []types.Role, perm types.Permission, user *types.User, resource types.Resource) (bool, error) {
	for i := range roles {
		role := &roles[i]

		decision, err := policy.Match(role.Policies, perm, user, resource)
		if err != nil {
			return false, fmt.Errorf("role %d: %w", role.ID, err)
		}

		switch decision {
		case types.DecisionAllow:
			return true, nil
		case types.DecisionDeny:
			continue
		}

		if role.Permissions.Has(perm) {
			return true, nil
		}
	}

	return false, nil
}

// decision carries the per-call context shared by the checks it decides
type decision struct {
	ctx  context.Context
	id   string
	user *types.User
	log  *zap.Logger
}

func (e *Engine) begin(ctx context.Context, user *types.User) *decision {
	d := &decision{ctx: ctx, user: user}

	fields := []zap.Field{zap.String("user_id", user.ID)}
	if e.config.DecisionIDs {
		d.id = uuid.NewString()
		fields = append(fields, zap.String("decision_id", d.id))
	}
	d.log = e.logger.With(fields...)
	return d
}

// record logs, counts and audits one finished check. index is the position
// within a batch, or -1 for a single check.
func (e *Engine) record(d *decision, index int, check types.Check, allowed bool, err error, start time.Time) {
	elapsed := time.Since(start)
	log := d.log
	if index >= 0 {
		log = log.With(zap.Int("check", index))
	}

	result := metrics.ResultDeny
	switch {
	case err != nil:
		result = metrics.ResultError
		// Hydration failures are logged once by hydrate
		if !errors.Is(err, ErrHydration) {
			e.metrics.RecordConditionError()
			log.Warn("Invalid policy data, denying",
				zap.String("permission", string(check.Permission)),
				zap.Error(err),
			)
		}
	case allowed:
		result = metrics.ResultAllow
	}
	e.metrics.RecordDecision(result, elapsed)

	if err == nil {
		if ce := log.Check(zap.DebugLevel, "Authorization decision"); ce != nil {
			ce.Write(
				zap.String("permission", string(check.Permission)),
				zap.String("result", result),
				zap.Duration("duration", elapsed),
			)
		}
	}

	event := &audit.DecisionEvent{
		DecisionID: d.id,
		UserID:     d.user.ID,
		RoleIDs:    roleIDs(d.user.Roles),
		SuperAdmin: d.user.IsSuperAdmin(),
		Permission: string(check.Permission),
		Resource:   check.Resource,
		Check:      index,
		Decision:   audit.Decision(result),
		DurationUs: elapsed.Microseconds(),
	}
	if err != nil {
		event.Error = err.Error()
	}
	e.audit.LogDecision(d.ctx, event)
}

func roleIDs(refs []types.RoleRef) []int64 {
	if len(refs) == 0 {
		return nil
	}
	ids := make([]int64, len(refs))
	for i, ref := range refs {
		ids[i] = ref.ID
	}
	return ids
}
