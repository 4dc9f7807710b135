package provider

import (
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/tonimelisma/reporoute/internal/dispatch"
	"github.com/tonimelisma/reporoute/internal/repopath"
	"github.com/tonimelisma/reporoute/internal/session"
)

// Local serves LOCAL repositories from the host filesystem.
type Local struct{}

// LocalFile is a file on the host filesystem.
type LocalFile struct {
	Path string // OS-native
}

// FindFile maps name onto the local filesystem. Sessions are ignored.
func (Local) FindFile(_ context.Context, _ dispatch.Base, name repopath.Name, _ *session.Config) (dispatch.FileHandle, error) {
	if name.Scheme != repopath.SchemeFile {
		return nil, fmt.Errorf("%w: %q for local file", ErrUnsupportedURI, name.Scheme)
	}

	p := name.Path
	if name.Host != "" {
		p = "//" + name.Host + p
	}

	return LocalFile{Path: filepath.FromSlash(p)}, nil
}

// URI returns a file URL.
func (f LocalFile) URI() string {
	p := filepath.ToSlash(f.Path)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}

	return (&url.URL{Scheme: "file", Path: p}).String()
}

// Stat returns the file's metadata. A missing file wraps ErrNotFound.
func (f LocalFile) Stat(_ context.Context) (fs.FileInfo, error) {
	fi, err := os.Stat(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		}

		return nil, err
	}

	return fi, nil
}
