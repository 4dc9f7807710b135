package repository

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/tonimelisma/reporoute/internal/repopath"
)

// ErrUnknownRepository is returned when credentials are set on a path that
// has no repository registered at exactly that canonical path.
var ErrUnknownRepository = errors.New("repository: no repository registered at path")

// ErrNilCredentials is returned when SetCredentials or SetAllCredentials is
// given nil credentials. A repository without credentials is registered
// with Add.
var ErrNilCredentials = errors.New("repository: credentials are nil")

// Registry maps canonical repository paths to their type and credentials.
// Safe for concurrent use; resolves take a read lock for the duration of a
// single lookup.
type Registry struct {
	mu     sync.RWMutex
	repos  map[string]Repository
	logger *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		repos:  make(map[string]Repository),
		logger: logger,
	}
}

// Add registers a repository at path, replacing any repository already
// registered at the same canonical path. creds may be nil.
func (r *Registry) Add(path string, typ Type, creds *Credentials) (Repository, error) {
	canonical, err := repopath.Canonicalize(path)
	if err != nil {
		return Repository{}, err
	}

	if !typ.Valid() {
		return Repository{}, fmt.Errorf("repository: %s: unknown repository type %q", canonical, typ)
	}

	repo := Repository{Path: canonical, Type: typ, Creds: cloneCreds(creds)}

	r.mu.Lock()
	_, replaced := r.repos[canonical]
	r.repos[canonical] = repo
	r.mu.Unlock()

	r.logger.Debug("repository registered",
		slog.String("path", canonical),
		slog.String("type", string(typ)),
		slog.Bool("replaced", replaced),
		slog.Bool("authenticated", creds != nil),
	)

	return repo, nil
}

// Unregister removes the repository registered at exactly path's canonical
// form. Reports whether one was removed.
func (r *Registry) Unregister(path string) bool {
	canonical, err := repopath.Canonicalize(path)
	if err != nil {
		return false
	}

	r.mu.Lock()
	_, ok := r.repos[canonical]
	delete(r.repos, canonical)
	r.mu.Unlock()

	if ok {
		r.logger.Debug("repository unregistered", slog.String("path", canonical))
	}

	return ok
}

// SetCredentials replaces the credentials of the repository registered at
// exactly path (no prefix matching). creds must not be nil; re-register with
// Add to make a repository unauthenticated.
func (r *Registry) SetCredentials(path string, creds *Credentials) error {
	if creds == nil {
		return ErrNilCredentials
	}

	canonical, err := repopath.Canonicalize(path)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	repo, ok := r.repos[canonical]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRepository, canonical)
	}

	repo.Creds = cloneCreds(creds)
	r.repos[canonical] = repo

	return nil
}

// SetAllCredentials replaces credentials for several repositories at once.
// Either every path is known and all credentials are applied, or nothing is
// changed and the error lists each unknown path.
func (r *Registry) SetAllCredentials(creds map[string]*Credentials) error {
	canonical := make(map[string]*Credentials, len(creds))

	var errs []error

	for path, c := range creds {
		if c == nil {
			errs = append(errs, fmt.Errorf("%w: %s", ErrNilCredentials, path))
			continue
		}

		cp, err := repopath.Canonicalize(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		canonical[cp] = c
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for cp := range canonical {
		if _, ok := r.repos[cp]; !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownRepository, cp))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	for cp, c := range canonical {
		repo := r.repos[cp]
		repo.Creds = cloneCreds(c)
		r.repos[cp] = repo
	}

	return nil
}

// Resolve canonicalizes path and returns the repository whose canonical
// path is the longest string prefix of it. The second result is false when
// no repository matches or the path is invalid.
func (r *Registry) Resolve(path string) (Repository, bool) {
	canonical, err := repopath.Canonicalize(path)
	if err != nil {
		return Repository{}, false
	}

	return r.Lookup(canonical)
}

// Lookup is Resolve for a path that is already canonical. Longest prefix
// wins; distinct keys of equal length cannot both be prefixes of the same
// string, so the result is deterministic.
func (r *Registry) Lookup(canonical string) (Repository, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		best  Repository
		found bool
	)

	for root, repo := range r.repos {
		if !repopath.HasPrefix(canonical, root) {
			continue
		}

		if !found || len(root) > len(best.Path) {
			best = repo
			found = true
		}
	}

	if found {
		best.Creds = cloneCreds(best.Creds)
	}

	return best, found
}

// Credentials returns the credentials of the repository that owns path, or
// nil if no repository matches or it has none.
func (r *Registry) Credentials(path string) *Credentials {
	repo, ok := r.Resolve(path)
	if !ok {
		return nil
	}

	return repo.Creds
}

// List returns every registered repository sorted by canonical path.
func (r *Registry) List() []Repository {
	r.mu.RLock()
	out := make([]Repository, 0, len(r.repos))

	for _, repo := range r.repos {
		repo.Creds = cloneCreds(repo.Creds)
		out = append(out, repo)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })

	return out
}

// Len returns the number of registered repositories.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.repos)
}

// cloneCreds keeps callers from mutating registry state through a shared
// pointer.
func cloneCreds(c *Credentials) *Credentials {
	if c == nil {
		return nil
	}

	cp := *c

	return &cp
}
