// Package repopath turns the many ways a caller can spell a repository
// location (UNC paths, Windows separators, URLs with or without trailing
// slashes) into one comparable canonical string, and parses locations into
// a structured Name for transport providers.
package repopath

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrInvalidPath is returned for paths that cannot be canonicalized.
var ErrInvalidPath = errors.New("repopath: invalid path")

// LocalScheme is prepended to scheme-less network paths ("//host/share").
const LocalScheme = "file:"

// schemePrefix matches an RFC 3986 scheme followed by its colon. A single
// letter also matches, which keeps Windows drive roots ("c:/") intact.
var schemePrefix = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.\-]*:`)

// Canonicalize returns the canonical form of a repository path or URI:
//
//  1. backslashes become forward slashes
//  2. trailing slashes are removed (a path made only of slashes is kept)
//  3. a leading "//" without a scheme gets the "file:" scheme
//  4. the whole string is lower-cased and NFC-composed
//
// Canonicalize is idempotent. Step 2 strips every trailing slash rather
// than exactly one so that "a//" and "a/" agree after a single pass.
func Canonicalize(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}

	s := strings.ReplaceAll(path, `\`, "/")
	s = stripTrailingSlashes(s)

	if strings.HasPrefix(s, "//") {
		s = LocalScheme + s
	}

	return norm.NFC.String(strings.ToLower(s)), nil
}

// MustCanonicalize is like Canonicalize but panics on invalid input.
// Use only in tests and for compile-time constant paths.
func MustCanonicalize(path string) string {
	c, err := Canonicalize(path)
	if err != nil {
		panic(err)
	}

	return c
}

// HasPrefix reports whether canonical path p falls under canonical
// repository path root. It is a plain string-prefix test on canonical
// forms, so "//host/share" also covers "//host/shared".
func HasPrefix(p, root string) bool {
	return strings.HasPrefix(p, root)
}

// stripTrailingSlashes removes trailing slashes after any scheme prefix.
// If nothing but slashes would remain ("/", "//", "file://"), the input is
// returned unchanged so the authority marker survives.
func stripTrailingSlashes(s string) string {
	prefix := schemePrefix.FindString(s)
	rest := s[len(prefix):]

	trimmed := strings.TrimRight(rest, "/")
	if trimmed == "" {
		return s
	}

	return prefix + trimmed
}
