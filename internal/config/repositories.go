package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/tonimelisma/reporoute/internal/repopath"
	"github.com/tonimelisma/reporoute/internal/repository"
)

// ErrSecretEnvUnset means a repository names a secret_env variable that is
// not set.
var ErrSecretEnvUnset = errors.New("config: secret_env variable not set")

// Entry is a repository entry converted to registry form.
type Entry struct {
	Path  string
	Type  repository.Type
	Creds *repository.Credentials
}

// LookupEnvFunc matches os.LookupEnv.
type LookupEnvFunc func(key string) (string, bool)

// Entries converts the [[repository]] entries, reading secret_env
// variables through lookup (os.LookupEnv when nil). An entry without auth
// is registered without credentials.
func (c *Config) Entries(lookup LookupEnvFunc) ([]Entry, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	var errs []error

	out := make([]Entry, 0, len(c.Repositories))

	for i, r := range c.Repositories {
		e, err := r.entry(lookup)
		if err != nil {
			errs = append(errs, fmt.Errorf("repository[%d] (%s): %w", i, r.Path, err))
			continue
		}

		out = append(out, e)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return out, nil
}

func (r RepositoryConfig) entry(lookup LookupEnvFunc) (Entry, error) {
	typ, err := repository.ParseType(r.Type)
	if err != nil {
		return Entry{}, err
	}

	e := Entry{Path: r.Path, Type: typ}

	if r.Auth == "" {
		return e, nil
	}

	kind, err := repository.ParseAuthKind(r.Auth)
	if err != nil {
		return Entry{}, err
	}

	secret := r.Secret
	if r.SecretEnv != "" {
		v, ok := lookup(r.SecretEnv)
		if !ok {
			return Entry{}, fmt.Errorf("%w: %s", ErrSecretEnvUnset, r.SecretEnv)
		}

		secret = v
	}

	e.Creds = &repository.Credentials{
		Domain:   r.Domain,
		Username: r.Username,
		Secret:   secret,
		Kind:     kind,
	}

	return e, nil
}

// SyncReport summarizes one RegistrySync.Apply.
type SyncReport struct {
	Added     int
	Updated   int
	Removed   int
	Unchanged int
}

// RegistrySync keeps a registry in step with successive config snapshots.
// Repositories registered by other means (one-shot CLI registration) are
// never removed. Not safe for concurrent Apply calls.
type RegistrySync struct {
	registry *repository.Registry
	managed  map[string]Entry // canonical path -> entry last applied
	logger   *slog.Logger
}

// NewRegistrySync creates a RegistrySync for reg.
func NewRegistrySync(reg *repository.Registry, logger *slog.Logger) *RegistrySync {
	if logger == nil {
		logger = slog.Default()
	}

	return &RegistrySync{
		registry: reg,
		managed:  make(map[string]Entry),
		logger:   logger,
	}
}

// Apply registers new and changed entries and unregisters entries that
// disappeared since the previous call. Entries that fail to register are
// reported in the joined error; the rest are still applied.
func (s *RegistrySync) Apply(entries []Entry) (SyncReport, error) {
	var (
		report SyncReport
		errs   []error
	)

	next := make(map[string]Entry, len(entries))

	for _, e := range entries {
		canonical, err := repopath.Canonicalize(e.Path)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		next[canonical] = e

		prev, had := s.managed[canonical]
		if had && sameEntry(prev, e) {
			report.Unchanged++
			continue
		}

		if _, err := s.registry.Add(e.Path, e.Type, e.Creds); err != nil {
			errs = append(errs, err)
			delete(next, canonical)

			continue
		}

		if had {
			report.Updated++
		} else {
			report.Added++
		}
	}

	for canonical, prev := range s.managed {
		if _, keep := next[canonical]; keep {
			continue
		}

		if s.registry.Unregister(prev.Path) {
			report.Removed++
		}
	}

	s.managed = next

	s.logger.Info("repositories synced",
		slog.Int("added", report.Added),
		slog.Int("updated", report.Updated),
		slog.Int("removed", report.Removed),
		slog.Int("unchanged", report.Unchanged),
	)

	return report, errors.Join(errs...)
}

func sameEntry(a, b Entry) bool {
	if a.Type != b.Type {
		return false
	}

	if a.Creds == nil || b.Creds == nil {
		return a.Creds == nil && b.Creds == nil
	}

	return *a.Creds == *b.Creds
}
