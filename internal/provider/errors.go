// Package provider contains the transport providers the dispatcher hands
// resolved paths to. Each provider turns a repository root, a parsed file
// name and a session into a FileHandle for its transport; handles expose a
// single metadata call so callers can verify that a session is accepted.
package provider

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tonimelisma/reporoute/internal/dispatch"
)

// Sentinel errors. Authentication rejections wrap dispatch.ErrAuthFailed so
// the dispatcher can reauthenticate.
var (
	ErrNotFound       = errors.New("provider: not found")
	ErrServerError    = errors.New("provider: server error")
	ErrUnexpected     = errors.New("provider: unexpected response")
	ErrMissingShare   = errors.New("provider: path has no share or container")
	ErrSessionKind    = errors.New("provider: session kind not usable by transport")
	ErrUnsupportedURI = errors.New("provider: unsupported URI scheme")
)

// StatusError wraps a sentinel with the HTTP status of a remote response.
type StatusError struct {
	Op         string
	URI        string
	StatusCode int
	Err        error // sentinel, for errors.Is()
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider: %s %s: HTTP %d", e.Op, e.URI, e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx and 207 codes.
func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return dispatch.ErrAuthFailed
	case code == http.StatusNotFound:
		return ErrNotFound
	case code >= http.StatusInternalServerError:
		return ErrServerError
	default:
		return ErrUnexpected
	}
}

func statusError(op, uri string, code int) error {
	sentinel := classifyStatus(code)
	if sentinel == nil {
		return nil
	}

	return &StatusError{Op: op, URI: uri, StatusCode: code, Err: sentinel}
}
