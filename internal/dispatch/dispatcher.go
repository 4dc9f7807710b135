// Package dispatch is the entry point file-operation callers use: it maps a
// path to its repository, obtains the authenticated session and hands both
// to the transport provider registered for the repository type.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tonimelisma/reporoute/internal/repopath"
	"github.com/tonimelisma/reporoute/internal/repository"
	"github.com/tonimelisma/reporoute/internal/session"
)

// Sentinel errors.
var (
	// ErrNoRepository means no registered repository owns the path.
	ErrNoRepository = errors.New("dispatch: no repository registered for path")

	// ErrNoProvider means the repository type has no transport provider.
	ErrNoProvider = errors.New("dispatch: no provider for repository type")

	// ErrAuthFailed is wrapped by providers and operations when the remote
	// end rejects the session (HTTP 401/403 and equivalents).
	ErrAuthFailed = errors.New("dispatch: remote rejected credentials")
)

// FileHandle is a transport-specific reference to one file or directory.
type FileHandle interface {
	// URI is the location without credentials.
	URI() string
}

// Base identifies the repository root a FileHandle is resolved against.
type Base struct {
	Repository repository.Repository
	Root       repopath.Name
}

// Provider creates file handles for one repository type. Implementations
// do not perform I/O in FindFile beyond what is needed to build a client.
type Provider interface {
	FindFile(ctx context.Context, base Base, name repopath.Name, sess *session.Config) (FileHandle, error)
}

// Sessions supplies authenticated sessions. *session.Factory implements it.
// Refresh replaces stale, the session the remote end rejected; concurrent
// refreshes of the same stale session must share one rebuild.
type Sessions interface {
	Session(ctx context.Context, repo repository.Repository) (*session.Config, error)
	Refresh(ctx context.Context, repo repository.Repository, stale *session.Config) (*session.Config, error)
}

// Dispatcher routes paths to providers. Safe for concurrent use.
type Dispatcher struct {
	registry  *repository.Registry
	sessions  Sessions
	providers map[repository.Type]Provider
	logger    *slog.Logger
	metrics   *Metrics
}

// New creates a Dispatcher. providers is copied.
func New(
	registry *repository.Registry, sessions Sessions, providers map[repository.Type]Provider,
	logger *slog.Logger, metrics *Metrics,
) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	p := make(map[repository.Type]Provider, len(providers))
	for k, v := range providers {
		p[k] = v
	}

	return &Dispatcher{
		registry:  registry,
		sessions:  sessions,
		providers: p,
		logger:    logger,
		metrics:   metrics,
	}
}

// Registry returns the dispatcher's repository registry.
func (d *Dispatcher) Registry() *repository.Registry {
	return d.registry
}

// Resolution is the outcome of resolving a path.
type Resolution struct {
	Repository repository.Repository
	Session    *session.Config
	Handle     FileHandle
}

// Resolve returns the transport handle for path.
func (d *Dispatcher) Resolve(ctx context.Context, path string) (FileHandle, error) {
	res, err := d.resolve(ctx, path)
	if err != nil {
		return nil, err
	}

	return res.Handle, nil
}

// ResolveDetail is Resolve that also reports the repository and session.
func (d *Dispatcher) ResolveDetail(ctx context.Context, path string) (Resolution, error) {
	return d.resolve(ctx, path)
}

// ResolveWith registers path as a repository of typ with creds, then
// resolves it. creds may be nil.
func (d *Dispatcher) ResolveWith(
	ctx context.Context, path string, typ repository.Type, creds *repository.Credentials,
) (FileHandle, error) {
	if _, err := d.registry.Add(path, typ, creds); err != nil {
		return nil, err
	}

	return d.Resolve(ctx, path)
}

func (d *Dispatcher) resolve(ctx context.Context, path string) (Resolution, error) {
	start := time.Now()

	res, err := d.resolveUntimed(ctx, path)
	d.metrics.recordResolve(res.Repository.Type, err, time.Since(start))

	return res, err
}

func (d *Dispatcher) resolveUntimed(ctx context.Context, path string) (Resolution, error) {
	canonical, err := repopath.Canonicalize(path)
	if err != nil {
		return Resolution{}, err
	}

	repo, ok := d.registry.Lookup(canonical)
	if !ok {
		return Resolution{}, fmt.Errorf("%w: %s", ErrNoRepository, path)
	}

	sess, err := d.sessions.Session(ctx, repo)
	if err != nil {
		return Resolution{Repository: repo}, err
	}

	handle, err := d.findFile(ctx, repo, path, sess)
	if err != nil {
		return Resolution{Repository: repo}, err
	}

	return Resolution{Repository: repo, Session: sess, Handle: handle}, nil
}

func (d *Dispatcher) findFile(
	ctx context.Context, repo repository.Repository, path string, sess *session.Config,
) (FileHandle, error) {
	provider, ok := d.providers[repo.Type]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrNoProvider, repo.Type)
	}

	root, err := repopath.Parse(repo.Path)
	if err != nil {
		return nil, err
	}

	name, err := repopath.Parse(path)
	if err != nil {
		return nil, err
	}

	handle, err := provider.FindFile(ctx, Base{Repository: repo, Root: root}, name, sess)
	if err != nil {
		return nil, fmt.Errorf("dispatch: %s provider: %w", repo.Type.DisplayName(), err)
	}

	return handle, nil
}

// Op is a file operation run against a resolved handle.
type Op func(ctx context.Context, h FileHandle) error

// Do resolves path and runs op. When op fails with ErrAuthFailed on a
// SharePoint Online repository, the rejected session is replaced (through
// the token exchange retry loop) and op is retried once with a fresh
// handle. Concurrent failures on one session trigger a single token
// exchange. Other auth kinds surface ErrAuthFailed unchanged.
func (d *Dispatcher) Do(ctx context.Context, path string, op Op) error {
	res, err := d.resolve(ctx, path)
	if err != nil {
		return err
	}

	err = op(ctx, res.Handle)
	if err == nil || !errors.Is(err, ErrAuthFailed) || !reauthenticates(res.Repository) {
		return err
	}

	d.logger.Warn("remote rejected session, reauthenticating",
		slog.String("path", res.Repository.Path),
		slog.String("error", err.Error()),
	)

	sess, rerr := d.sessions.Refresh(ctx, res.Repository, res.Session)
	if rerr != nil {
		d.metrics.recordReauth(false)
		d.logger.Error("reauthentication failed",
			slog.String("path", res.Repository.Path),
			slog.String("error", rerr.Error()),
		)

		return fmt.Errorf("dispatch: reauthenticating %s: %w", res.Repository.Path, rerr)
	}

	d.metrics.recordReauth(true)

	handle, err := d.findFile(ctx, res.Repository, path, sess)
	if err != nil {
		return err
	}

	return op(ctx, handle)
}

func reauthenticates(repo repository.Repository) bool {
	return repo.Creds != nil && repo.Creds.Kind == repository.AuthSharePointOnline
}
