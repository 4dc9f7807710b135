package dispatch

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/reporoute/internal/repository"
	"github.com/tonimelisma/reporoute/internal/session"
)

// DefaultPrewarmConcurrency bounds parallel session builds in Prewarm.
const DefaultPrewarmConcurrency = 4

// PrewarmResult reports the session build for one repository.
type PrewarmResult struct {
	Repository repository.Repository
	Session    *session.Config
	Err        error
}

// Prewarm builds sessions for every registered repository that has
// credentials, at most concurrency at a time (DefaultPrewarmConcurrency
// when <= 0). Results are in registry order. Per-repository failures are
// reported in the results; the returned error is only ctx's.
func (d *Dispatcher) Prewarm(ctx context.Context, concurrency int) ([]PrewarmResult, error) {
	if concurrency <= 0 {
		concurrency = DefaultPrewarmConcurrency
	}

	var repos []repository.Repository

	for _, r := range d.registry.List() {
		if r.Authenticated() {
			repos = append(repos, r)
		}
	}

	results := make([]PrewarmResult, len(repos))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, r := range repos {
		i, r := i, r

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = PrewarmResult{Repository: r, Err: err}
				return nil
			}

			sess, err := d.sessions.Session(gctx, r)
			results[i] = PrewarmResult{Repository: r, Session: sess, Err: err}

			if err != nil {
				d.logger.Warn("session prewarm failed",
					slog.String("path", r.Path),
					slog.String("error", err.Error()),
				)
			}

			return nil
		})
	}

	_ = g.Wait()

	return results, ctx.Err()
}
