package strategy

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// RunConcurrently runs independent strategies side by side, at most limit at a time (no limit
// when limit <= 0). One failing run never cancels the others. Summaries come back in input
// order; the error joins every run's error.
func RunConcurrently(ctx context.Context, runners []*Runner, limit int) ([]Summary, error) {
	summaries := make([]Summary, len(runners))
	errs := make([]error, len(runners))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, r := range runners {
		g.Go(func() error {
			summaries[i], errs[i] = r.Run(ctx)
			return nil
		})
	}
	_ = g.Wait()
	return summaries, errors.Join(errs...)
}
