package provider

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tonimelisma/reporoute/internal/dispatch"
	"github.com/tonimelisma/reporoute/internal/repopath"
	"github.com/tonimelisma/reporoute/internal/session"
)

// maxPropfindBody caps how much of a multistatus response is read.
const maxPropfindBody = 1 << 20

const propfindBody = `<?xml version="1.0" encoding="utf-8"?>` +
	`<D:propfind xmlns:D="DAV:"><D:prop>` +
	`<D:resourcetype/><D:getcontentlength/><D:getlastmodified/><D:getetag/>` +
	`</D:prop></D:propfind>`

// WebDAV serves SHAREPOINT repositories (and plain WebDAV servers) over
// HTTP. Every handle gets a client built from the base client and the
// session's authentication.
type WebDAV struct {
	base *http.Client
}

// NewWebDAV creates a WebDAV provider. base may be nil.
func NewWebDAV(base *http.Client) *WebDAV {
	return &WebDAV{base: base}
}

// WebDAVFile addresses one WebDAV resource.
type WebDAVFile struct {
	URL    *url.URL
	Client *http.Client
}

// FindFile builds the resource URL. webdav:// and webdavs:// map onto
// http and https.
func (p *WebDAV) FindFile(
	_ context.Context, _ dispatch.Base, name repopath.Name, sess *session.Config,
) (dispatch.FileHandle, error) {
	switch name.Scheme {
	case repopath.SchemeHTTP, repopath.SchemeHTTPS:
	case "webdav":
		name.Scheme = repopath.SchemeHTTP
	case "webdavs":
		name.Scheme = repopath.SchemeHTTPS
	default:
		return nil, fmt.Errorf("%w: %q for WebDAV", ErrUnsupportedURI, name.Scheme)
	}

	if sess != nil && (sess.CIFS != nil || sess.CloudKey != nil) {
		return nil, fmt.Errorf("%w: %s for WebDAV", ErrSessionKind, sess.Kind)
	}

	if sess == nil {
		sess = &session.Config{}
	}

	return WebDAVFile{URL: name.URL(), Client: sess.HTTPClient(p.base)}, nil
}

// URI returns the resource URL.
func (f WebDAVFile) URI() string {
	return f.URL.String()
}

// Resource is the metadata returned by a depth-0 PROPFIND.
type Resource struct {
	Href          string
	IsCollection  bool
	ContentLength int64
	LastModified  time.Time
	ETag          string
}

type multistatus struct {
	Responses []struct {
		Href     string `xml:"href"`
		Propstat []struct {
			Status string `xml:"status"`
			Prop   struct {
				ResourceType struct {
					Collection *struct{} `xml:"collection"`
				} `xml:"resourcetype"`
				ContentLength string `xml:"getcontentlength"`
				LastModified  string `xml:"getlastmodified"`
				ETag          string `xml:"getetag"`
			} `xml:"prop"`
		} `xml:"propstat"`
	} `xml:"response"`
}

// Stat issues a depth-0 PROPFIND. 401 and 403 wrap dispatch.ErrAuthFailed;
// 404 wraps ErrNotFound.
func (f WebDAVFile) Stat(ctx context.Context) (Resource, error) {
	req, err := http.NewRequestWithContext(ctx, "PROPFIND", f.URI(), strings.NewReader(propfindBody))
	if err != nil {
		return Resource{}, fmt.Errorf("provider: building PROPFIND: %w", err)
	}

	req.Header.Set("Depth", "0")
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")

	resp, err := f.Client.Do(req)
	if err != nil {
		return Resource{}, fmt.Errorf("provider: PROPFIND %s: %w", f.URI(), err)
	}
	defer resp.Body.Close()

	if serr := statusError("PROPFIND", f.URI(), resp.StatusCode); serr != nil {
		return Resource{}, serr
	}

	var ms multistatus
	if err := xml.NewDecoder(io.LimitReader(resp.Body, maxPropfindBody)).Decode(&ms); err != nil {
		return Resource{}, fmt.Errorf("%w: PROPFIND %s: decoding multistatus: %w", ErrUnexpected, f.URI(), err)
	}

	if len(ms.Responses) == 0 {
		return Resource{}, fmt.Errorf("%w: PROPFIND %s: empty multistatus", ErrUnexpected, f.URI())
	}

	r := ms.Responses[0]
	res := Resource{Href: r.Href}

	for _, ps := range r.Propstat {
		if !strings.Contains(ps.Status, " 200 ") {
			continue
		}

		res.IsCollection = ps.Prop.ResourceType.Collection != nil
		res.ETag = ps.Prop.ETag

		if ps.Prop.ContentLength != "" {
			if n, perr := strconv.ParseInt(strings.TrimSpace(ps.Prop.ContentLength), 10, 64); perr == nil {
				res.ContentLength = n
			}
		}

		if ps.Prop.LastModified != "" {
			if t, perr := http.ParseTime(ps.Prop.LastModified); perr == nil {
				res.LastModified = t
			}
		}
	}

	return res, nil
}
