package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/tonimelisma/reporoute/internal/dispatch"
	"github.com/tonimelisma/reporoute/internal/repopath"
	"github.com/tonimelisma/reporoute/internal/session"
)

// AzureFile serves AUZREFS repositories. Handles carry the shared-key
// credential for an Azure Files client.
type AzureFile struct{}

// FileShareFile addresses one file in an Azure file share.
type FileShareFile struct {
	Host     string
	Share    string
	Path     string
	CloudKey *session.CloudKey
}

// FindFile accepts azsf:// and https:// URIs.
func (AzureFile) FindFile(
	_ context.Context, _ dispatch.Base, name repopath.Name, sess *session.Config,
) (dispatch.FileHandle, error) {
	if name.Scheme != repopath.SchemeAzFiles && name.Scheme != repopath.SchemeHTTPS {
		return nil, fmt.Errorf("%w: %q for Azure Files", ErrUnsupportedURI, name.Scheme)
	}

	segs := name.Segments()
	if len(segs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingShare, name.String())
	}

	f := FileShareFile{
		Host:  name.Authority(),
		Share: segs[0],
		Path:  strings.Join(segs[1:], "/"),
	}

	switch {
	case sess == nil || sess.Anonymous():
	case sess.CloudKey != nil:
		f.CloudKey = sess.CloudKey
	default:
		return nil, fmt.Errorf("%w: %s for Azure Files", ErrSessionKind, sess.Kind)
	}

	return f, nil
}

// URI returns the https URL of the file.
func (f FileShareFile) URI() string {
	name := repopath.Name{Scheme: repopath.SchemeHTTPS, Host: f.Host, Path: "/" + f.Share}
	if f.Path != "" {
		name.Path += "/" + f.Path
	}

	return name.String()
}
