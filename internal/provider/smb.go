package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tonimelisma/reporoute/internal/dispatch"
	"github.com/tonimelisma/reporoute/internal/repopath"
	"github.com/tonimelisma/reporoute/internal/session"
)

const smbPort = 445

// SharedFolder serves SHARED FOLDER repositories. It produces handles
// carrying the native CIFS credential; an SMB client library consumes them.
type SharedFolder struct{}

// SMBFile addresses one file on an SMB share.
type SMBFile struct {
	Server     string
	Port       int
	Share      string
	Path       string // share-relative, forward slashes, no leading slash
	Credential *session.CIFSCredential
}

// FindFile accepts UNC paths ("//host/share/x") and smb:// URIs.
func (SharedFolder) FindFile(
	_ context.Context, _ dispatch.Base, name repopath.Name, sess *session.Config,
) (dispatch.FileHandle, error) {
	if name.Scheme != repopath.SchemeFile && name.Scheme != repopath.SchemeSMB {
		return nil, fmt.Errorf("%w: %q for shared folder", ErrUnsupportedURI, name.Scheme)
	}

	segs := name.Segments()
	if name.Host == "" || len(segs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingShare, name.String())
	}

	f := SMBFile{
		Server: name.Host,
		Port:   smbPort,
		Share:  segs[0],
		Path:   strings.Join(segs[1:], "/"),
	}

	if name.Port != 0 {
		f.Port = name.Port
	}

	switch {
	case sess == nil || sess.Anonymous():
	case sess.CIFS != nil:
		c := *sess.CIFS
		f.Credential = &c
	default:
		return nil, fmt.Errorf("%w: %s for shared folder", ErrSessionKind, sess.Kind)
	}

	return f, nil
}

// URI returns an smb:// URL without credentials.
func (f SMBFile) URI() string {
	name := repopath.Name{Scheme: repopath.SchemeSMB, Host: f.Server, Port: f.Port, Path: "/" + f.Share}
	if f.Path != "" {
		name.Path += "/" + f.Path
	}

	return name.String()
}

// UNC returns the Windows form \\server\share\path.
func (f SMBFile) UNC() string {
	s := `\\` + f.Server + `\` + f.Share
	if f.Path != "" {
		s += `\` + strings.ReplaceAll(f.Path, "/", `\`)
	}

	return s
}

// LogValue omits the password.
func (f SMBFile) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("uri", f.URI())}
	if f.Credential != nil {
		attrs = append(attrs, slog.Any("credential", *f.Credential))
	}

	return slog.GroupValue(attrs...)
}
