package rbac

import (
	"context"
	"log/slog"
)

// PermissionCache memoizes per-user permission names. Entries are grouped
// under a generation counter so a single Invalidate drops every entry.
type PermissionCache interface {
	Get(ctx context.Context, userID int64) (names []string, generation int64, hit bool, err error)
	Set(ctx context.Context, generation, userID int64, names []string) error
	Invalidate(ctx context.Context) error
}

// Evaluator answers authorization questions against the live RBAC store.
type Evaluator struct {
	repo   EvaluatorRepository
	cache  PermissionCache
	logger *slog.Logger
}

// NewEvaluator builds an evaluator. cache may be nil.
func NewEvaluator(repo EvaluatorRepository, cache PermissionCache, logger *slog.Logger) *Evaluator {
	return &Evaluator{repo: repo, cache: cache, logger: logger}
}

// PermissionsOf returns the union of the active permissions of the active
// roles held by the subject. Superusers hold every permission.
func (e *Evaluator) PermissionsOf(ctx context.Context, subject Subject) (PermissionSet, error) {
	if subject.IsSuperuser {
		names, err := e.repo.ActivePermissionNames(ctx)
		if err != nil {
			return PermissionSet{}, err
		}
		return superuserSet(names...), nil
	}

	var generation int64
	if e.cache != nil {
		names, gen, hit, err := e.cache.Get(ctx, subject.UserID)
		if err != nil {
			e.logger.Warn("permission cache read failed", "user_id", subject.UserID, "error", err)
		} else if hit {
			return NewPermissionSet(names...), nil
		}
		generation = gen
	}

	names, err := e.repo.PermissionNamesForUser(ctx, subject.UserID)
	if err != nil {
		return PermissionSet{}, err
	}

	if e.cache != nil {
		if err := e.cache.Set(ctx, generation, subject.UserID, names); err != nil {
			e.logger.Warn("permission cache write failed", "user_id", subject.UserID, "error", err)
		}
	}

	return NewPermissionSet(names...), nil
}

func (e *Evaluator) HasPermission(ctx context.Context, subject Subject, permission string) (bool, error) {
	if subject.IsSuperuser {
		return true, nil
	}
	set, err := e.PermissionsOf(ctx, subject)
	if err != nil {
		return false, err
	}
	return set.Has(permission), nil
}

func (e *Evaluator) HasRole(ctx context.Context, subject Subject, role string) (bool, error) {
	if subject.IsSuperuser {
		return true, nil
	}
	names, err := e.repo.RoleNamesForUser(ctx, subject.UserID)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == role {
			return true, nil
		}
	}
	return false, nil
}

// RolesOf lists the names of the active roles held by the subject.
func (e *Evaluator) RolesOf(ctx context.Context, subject Subject) ([]string, error) {
	names, err := e.repo.RoleNamesForUser(ctx, subject.UserID)
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// ServiceAccess returns the highest level granted to the subject on the
// service across all active roles. Unknown stored levels count as none.
func (e *Evaluator) ServiceAccess(ctx context.Context, subject Subject, serviceKey string) (AccessLevel, error) {
	if subject.IsSuperuser {
		return AccessManage, nil
	}
	raw, err := e.repo.ServiceAccessLevelsForUser(ctx, subject.UserID, serviceKey)
	if err != nil {
		return AccessNone, err
	}

	levels := make([]AccessLevel, 0, len(raw))
	for _, r := range raw {
		l, err := ParseAccessLevel(r)
		if err != nil {
			e.logger.Warn("ignoring unknown stored access level",
				"user_id", subject.UserID, "service", serviceKey, "level", r)
			continue
		}
		levels = append(levels, l)
	}
	return MaxAccessLevel(levels...), nil
}

// Invalidate drops every cached permission set.
func (e *Evaluator) Invalidate(ctx context.Context) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Invalidate(ctx); err != nil {
		e.logger.Warn("permission cache invalidation failed", "error", err)
	}
}
