package engine

import (
	"context"
	"time"

	"github.com/authz-engine/rbac-core/pkg/types"
)

// EvaluateBatch runs independent checks for one user against a single role
// hydration. results[i] always equals what Authorize would report for
// checks[i]. A hydration failure aborts the batch and returns nil results;
// bad policy data fails only the affected check, whose Err is set.
func (e *Engine) EvaluateBatch(ctx context.Context, checks []types.Check, user *types.User) ([]types.CheckResult, error) {
	if user == nil {
		return nil, ErrNilUser
	}

	e.metrics.RecordBatch(len(checks))
	results := make([]types.CheckResult, len(checks))
	if len(checks) == 0 {
		return results, nil
	}

	d := e.begin(ctx, user)

	if user.IsSuperAdmin() {
		e.metrics.RecordSuperAdminBypass()
		now := time.Now()
		for i := range checks {
			results[i].Allowed = true
			e.record(d, i, checks[i], true, nil, now)
		}
		return results, nil
	}

	start := time.Now()
	roles, err := e.hydrate(ctx, d.log, user)
	if err != nil {
		for i := range checks {
			e.record(d, i, checks[i], false, err, start)
		}
		return nil, err
	}

	for i := range checks {
		start := time.Now()
		allowed, err := decide(roles, checks[i].Permission, user, checks[i].Resource)
		e.record(d, i, checks[i], allowed, err, start)

		results[i] = types.CheckResult{Allowed: allowed && err == nil, Err: err}
	}

	return results, nil
}

// AuthorizeBatch is EvaluateBatch reduced to booleans. Checks that failed on
// bad policy data report false; the error is logged and counted.
func (e *Engine) AuthorizeBatch(ctx context.Context, checks []types.Check, user *types.User) ([]bool, error) {
	results, err := e.EvaluateBatch(ctx, checks, user)
	if err != nil {
		return nil, err
	}

	allowed := make([]bool, len(results))
	for i, r := range results {
		allowed[i] = r.Allowed
	}
	return allowed, nil
}
