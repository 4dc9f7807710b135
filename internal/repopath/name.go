package repopath

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Well-known schemes.
const (
	SchemeFile    = "file"
	SchemeHTTP    = "http"
	SchemeHTTPS   = "https"
	SchemeSMB     = "smb"
	SchemeAzBlob  = "azsb"
	SchemeAzFiles = "azsf"
)

var defaultPorts = map[string]int{
	SchemeHTTP:    80,
	SchemeHTTPS:   443,
	"webdav":      80,
	"webdavs":     443,
	SchemeSMB:     445,
	SchemeAzBlob:  443,
	SchemeAzFiles: 443,
}

// Name is a parsed repository location. It carries everything a transport
// provider needs to address a file and is built directly by Parse.
// Passwords embedded in URIs are discarded; credentials come from the
// registry only.
type Name struct {
	Scheme string
	User   string
	Host   string
	Port   int // 0 when the URI does not specify one
	Path   string
	Query  string
}

// Parse parses a path or URI into a Name. Windows separators are accepted,
// scheme-less network paths ("//host/share") and local paths ("/tmp/x",
// "C:\x") get the file scheme. The original case is preserved.
func Parse(raw string) (Name, error) {
	if strings.TrimSpace(raw) == "" {
		return Name{}, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}

	s := strings.ReplaceAll(raw, `\`, "/")

	// Windows drive letter ("C:/x"): url.Parse would read "C" as a scheme.
	if len(s) >= 2 && s[1] == ':' && isLetter(s[0]) {
		return Name{Scheme: SchemeFile, Path: s}, nil
	}

	u, err := url.Parse(s)
	if err != nil {
		return Name{}, fmt.Errorf("%w: %q: %w", ErrInvalidPath, raw, err)
	}

	n := Name{
		Scheme: strings.ToLower(u.Scheme),
		Host:   u.Hostname(),
		Path:   u.Path,
		Query:  u.RawQuery,
	}

	if n.Scheme == "" {
		n.Scheme = SchemeFile
	}

	if u.User != nil {
		n.User = u.User.Username()
	}

	if p := u.Port(); p != "" {
		port, convErr := strconv.Atoi(p)
		if convErr != nil {
			return Name{}, fmt.Errorf("%w: %q: bad port %q", ErrInvalidPath, raw, p)
		}

		n.Port = port
	}

	return n, nil
}

// DefaultPort returns the well-known port for the scheme, or 0.
func (n Name) DefaultPort() int {
	return defaultPorts[n.Scheme]
}

// EffectivePort returns Port, falling back to DefaultPort.
func (n Name) EffectivePort() int {
	if n.Port != 0 {
		return n.Port
	}

	return n.DefaultPort()
}

// Authority returns host[:port], omitting the port when it is the default.
func (n Name) Authority() string {
	if n.Port == 0 || n.Port == n.DefaultPort() {
		return n.Host
	}

	return n.Host + ":" + strconv.Itoa(n.Port)
}

// Segments returns the non-empty path segments.
func (n Name) Segments() []string {
	var out []string

	for _, seg := range strings.Split(n.Path, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}

	return out
}

// URL returns the Name as a *url.URL. The path is escaped on output, the
// query is passed through raw. User info is never included.
func (n Name) URL() *url.URL {
	return &url.URL{
		Scheme:   n.Scheme,
		Host:     n.Authority(),
		Path:     n.Path,
		RawQuery: n.Query,
	}
}

// String renders the Name as a URI with an escaped path.
func (n Name) String() string {
	if n.Scheme == SchemeFile && n.Host == "" {
		return n.Path
	}

	return n.URL().String()
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
