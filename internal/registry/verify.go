package registry

import (
	"context"
	"fmt"
	"sync"

	compasserrors "compass/internal/errors"

	"golang.org/x/sync/errgroup"
)

const verifyConcurrency = 8

// ExistenceChecker is the slice of a directive repository Verify needs.
type ExistenceChecker interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// Verify checks that every referenced directive id exists in repo. Missing ids
// come back as a ConfigurationError; a repository failure is returned as is.
func (r *Registry) Verify(ctx context.Context, repo ExistenceChecker) error {
	var (
		mu      sync.Mutex
		missing = make(map[string]bool)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(verifyConcurrency)
	for _, id := range r.directiveOrder {
		g.Go(func() error {
			ok, err := repo.Exists(gctx, id)
			if err != nil {
				return compasserrors.FromRepository(id, err)
			}
			if !ok {
				mu.Lock()
				missing[id] = true
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var issues []compasserrors.Issue
	for _, id := range r.directiveOrder {
		if !missing[id] {
			continue
		}
		d := r.directives[id]
		issues = append(issues, compasserrors.Issue{
			ID:      "missing-directive",
			Message: fmt.Sprintf("directive %q (used by %v) is not in the repository", id, d.Contexts),
			Hint:    "add the directive or remove the reference",
		})
	}
	return compasserrors.NewConfigurationError(r.source, issues)
}
