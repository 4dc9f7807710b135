package provider

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/reporoute/internal/dispatch"
	"github.com/tonimelisma/reporoute/internal/repopath"
	"github.com/tonimelisma/reporoute/internal/repository"
	"github.com/tonimelisma/reporoute/internal/session"
)

const validAccountKey = "MDEyMzQ1Njc4OWFiY2RlZg=="

func mustParse(t *testing.T, raw string) repopath.Name {
	t.Helper()

	n, err := repopath.Parse(raw)
	require.NoError(t, err)

	return n
}

func TestLocal(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(p, []byte("hello"), 0o600))

	h, err := Local{}.FindFile(context.Background(), dispatch.Base{}, mustParse(t, p), nil)
	require.NoError(t, err)

	f := h.(LocalFile)
	assert.True(t, strings.HasPrefix(f.URI(), "file:///"), f.URI())

	fi, err := f.Stat(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), fi.Size())

	missing, err := Local{}.FindFile(context.Background(), dispatch.Base{}, mustParse(t, filepath.Join(dir, "nope")), nil)
	require.NoError(t, err)

	_, err = missing.(LocalFile).Stat(context.Background())
	require.ErrorIs(t, err, ErrNotFound)

	_, err = Local{}.FindFile(context.Background(), dispatch.Base{}, mustParse(t, "https://x/y"), nil)
	require.ErrorIs(t, err, ErrUnsupportedURI)
}

func TestSharedFolder(t *testing.T) {
	cifs := &session.Config{
		Kind: repository.AuthCIFS,
		CIFS: &session.CIFSCredential{Domain: "CORP", Username: "alice", Password: "pw"},
	}

	t.Run("unc with credential", func(t *testing.T) {
		h, err := SharedFolder{}.FindFile(context.Background(), dispatch.Base{}, mustParse(t, `\\nas\media\movies\a b.mkv`), cifs)
		require.NoError(t, err)

		f := h.(SMBFile)
		assert.Equal(t, "nas", f.Server)
		assert.Equal(t, 445, f.Port)
		assert.Equal(t, "media", f.Share)
		assert.Equal(t, "movies/a b.mkv", f.Path)
		assert.Equal(t, "smb://nas/media/movies/a%20b.mkv", f.URI())
		assert.Equal(t, `\\nas\media\movies\a b.mkv`, f.UNC())
		require.NotNil(t, f.Credential)
		assert.Equal(t, "alice", f.Credential.Username)
	})

	t.Run("smb uri with port", func(t *testing.T) {
		h, err := SharedFolder{}.FindFile(context.Background(), dispatch.Base{}, mustParse(t, "smb://nas:1445/share"), nil)
		require.NoError(t, err)

		f := h.(SMBFile)
		assert.Equal(t, 1445, f.Port)
		assert.Empty(t, f.Path)
		assert.Nil(t, f.Credential)
		assert.Equal(t, "smb://nas:1445/share", f.URI())
	})

	t.Run("errors", func(t *testing.T) {
		_, err := SharedFolder{}.FindFile(context.Background(), dispatch.Base{}, mustParse(t, "//nas"), nil)
		require.ErrorIs(t, err, ErrMissingShare)

		basic := &session.Config{Kind: repository.AuthBasic, Basic: &session.BasicAuth{Username: "u"}}
		_, err = SharedFolder{}.FindFile(context.Background(), dispatch.Base{}, mustParse(t, "//nas/share"), basic)
		require.ErrorIs(t, err, ErrSessionKind)
	})
}

const multistatusBody = `<?xml version="1.0" encoding="utf-8"?>
<D:multistatus xmlns:D="DAV:">
  <D:response>
    <D:href>/sites/a/doc.docx</D:href>
    <D:propstat>
      <D:prop>
        <D:resourcetype/>
        <D:getcontentlength>1234</D:getcontentlength>
        <D:getlastmodified>Mon, 12 Jan 2026 10:00:00 GMT</D:getlastmodified>
        <D:getetag>"abc"</D:getetag>
      </D:prop>
      <D:status>HTTP/1.1 200 OK</D:status>
    </D:propstat>
  </D:response>
</D:multistatus>`

func TestWebDAV_Stat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PROPFIND", r.Method)
		assert.Equal(t, "0", r.Header.Get("Depth"))
		assert.Equal(t, "no-cache", r.Header.Get("Cache-Control"))

		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "propfind")

		user, pass, ok := r.BasicAuth()
		if !ok || user != `CORP\alice` {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		switch {
		case pass != "pw":
			w.WriteHeader(http.StatusForbidden)
		case strings.HasSuffix(r.URL.Path, "/missing"):
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusMultiStatus)
			_, _ = io.WriteString(w, multistatusBody)
		}
	}))
	defer srv.Close()

	p := NewWebDAV(srv.Client())
	stat := func(path string, sess *session.Config) (Resource, error) {
		h, err := p.FindFile(context.Background(), dispatch.Base{}, mustParse(t, srv.URL+path), sess)
		require.NoError(t, err)

		return h.(WebDAVFile).Stat(context.Background())
	}

	good := &session.Config{Kind: repository.AuthBasic, Basic: &session.BasicAuth{Username: `CORP\alice`, Password: "pw"}}
	bad := &session.Config{Kind: repository.AuthBasic, Basic: &session.BasicAuth{Username: `CORP\alice`, Password: "wrong"}}

	res, err := stat("/sites/a/doc.docx", good)
	require.NoError(t, err)
	assert.Equal(t, "/sites/a/doc.docx", res.Href)
	assert.Equal(t, int64(1234), res.ContentLength)
	assert.False(t, res.IsCollection)
	assert.Equal(t, `"abc"`, res.ETag)
	assert.Equal(t, 2026, res.LastModified.Year())

	_, err = stat("/sites/a/doc.docx", bad)
	require.ErrorIs(t, err, dispatch.ErrAuthFailed)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.StatusCode)

	_, err = stat("/sites/a/doc.docx", nil)
	require.ErrorIs(t, err, dispatch.ErrAuthFailed)

	_, err = stat("/sites/a/missing", good)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestWebDAV_FindFile(t *testing.T) {
	p := NewWebDAV(nil)

	h, err := p.FindFile(context.Background(), dispatch.Base{}, mustParse(t, "webdavs://dav.example.com/a b"), nil)
	require.NoError(t, err)
	assert.Equal(t, "https://dav.example.com/a%20b", h.URI())

	_, err = p.FindFile(context.Background(), dispatch.Base{}, mustParse(t, "//nas/share"), nil)
	require.ErrorIs(t, err, ErrUnsupportedURI)

	cifs := &session.Config{Kind: repository.AuthCIFS, CIFS: &session.CIFSCredential{}}
	_, err = p.FindFile(context.Background(), dispatch.Base{}, mustParse(t, "https://dav.example.com/x"), cifs)
	require.ErrorIs(t, err, ErrSessionKind)
}

func TestAzureBlob_Exists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)

		if !strings.HasPrefix(r.Header.Get("Authorization"), "SharedKey acct:") {
			w.Header().Set("x-ms-error-code", "NoAuthenticationInformation")
			w.WriteHeader(http.StatusUnauthorized)

			return
		}

		switch r.URL.Path {
		case "/docs/report.pdf":
			w.Header().Set("Content-Type", "application/pdf")
			w.Header().Set("Content-Length", "42")
			w.WriteHeader(http.StatusOK)
		case "/docs/denied.pdf":
			w.Header().Set("x-ms-error-code", "AuthorizationPermissionMismatch")
			w.WriteHeader(http.StatusForbidden)
		default:
			w.Header().Set("x-ms-error-code", "BlobNotFound")
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	cred, err := azblob.NewSharedKeyCredential("acct", validAccountKey)
	require.NoError(t, err)

	sess := &session.Config{
		Kind:     repository.AuthCloudKey,
		CloudKey: &session.CloudKey{Account: "acct", Credential: cred},
	}

	p := NewAzureBlob(nil)
	find := func(path string, s *session.Config) BlobFile {
		h, ferr := p.FindFile(context.Background(), dispatch.Base{}, mustParse(t, srv.URL+path), s)
		require.NoError(t, ferr)

		return h.(BlobFile)
	}

	f := find("/docs/report.pdf", sess)
	assert.Equal(t, "docs", f.Container)
	assert.Equal(t, "report.pdf", f.Blob)
	assert.Equal(t, srv.URL+"/docs/report.pdf", f.URI())

	ok, props, err := f.Exists(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "application/pdf", props.ContentType)
	assert.Equal(t, int64(42), props.ContentLength)

	ok, _, err = find("/docs/gone.pdf", sess).Exists(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = find("/docs/denied.pdf", sess).Exists(context.Background())
	require.ErrorIs(t, err, dispatch.ErrAuthFailed)

	_, _, err = find("/docs/report.pdf", nil).Exists(context.Background())
	require.ErrorIs(t, err, dispatch.ErrAuthFailed)
}

func TestAzureBlob_FindFile(t *testing.T) {
	p := NewAzureBlob(nil)

	h, err := p.FindFile(context.Background(), dispatch.Base{}, mustParse(t, "azsb://acct.blob.core.windows.net/c/dir/x.bin"), nil)
	require.NoError(t, err)

	f := h.(BlobFile)
	assert.Equal(t, "https://acct.blob.core.windows.net/", f.ServiceURL)
	assert.Equal(t, "dir/x.bin", f.Blob)

	_, err = p.FindFile(context.Background(), dispatch.Base{}, mustParse(t, "https://acct.blob.core.windows.net/"), nil)
	require.ErrorIs(t, err, ErrMissingShare)

	ntlmSess := &session.Config{Kind: repository.AuthNTLM}
	_, err = p.FindFile(context.Background(), dispatch.Base{}, mustParse(t, "https://acct.blob.core.windows.net/c"), ntlmSess)
	require.ErrorIs(t, err, ErrSessionKind)
}

func TestAzureFile(t *testing.T) {
	cred, err := azblob.NewSharedKeyCredential("acct", validAccountKey)
	require.NoError(t, err)

	sess := &session.Config{Kind: repository.AuthCloudKey, CloudKey: &session.CloudKey{Account: "acct", Credential: cred}}

	h, err := AzureFile{}.FindFile(context.Background(), dispatch.Base{}, mustParse(t, "azsf://acct.file.core.windows.net/share/a/b.txt"), sess)
	require.NoError(t, err)

	f := h.(FileShareFile)
	assert.Equal(t, "share", f.Share)
	assert.Equal(t, "a/b.txt", f.Path)
	assert.Same(t, sess.CloudKey, f.CloudKey)
	assert.Equal(t, "https://acct.file.core.windows.net/share/a/b.txt", f.URI())
}

func TestDefaults_CoversEveryType(t *testing.T) {
	providers := Defaults(nil, nil)

	for _, typ := range repository.Types() {
		assert.Contains(t, providers, typ)
	}
}
