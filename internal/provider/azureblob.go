package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/tonimelisma/reporoute/internal/dispatch"
	"github.com/tonimelisma/reporoute/internal/repopath"
	"github.com/tonimelisma/reporoute/internal/session"
)

// AzureBlob serves AZUREBS repositories through the Azure Blob SDK.
type AzureBlob struct {
	opts *azblob.ClientOptions
}

// NewAzureBlob creates an Azure Blob provider. opts may be nil.
func NewAzureBlob(opts *azblob.ClientOptions) *AzureBlob {
	return &AzureBlob{opts: opts}
}

// BlobFile addresses one blob. The first path segment is the container.
type BlobFile struct {
	ServiceURL string
	Container  string
	Blob       string
	Client     *azblob.Client
}

// BlobProperties is the subset of blob metadata Exists reports.
type BlobProperties struct {
	ContentLength int64
	ContentType   string
	LastModified  time.Time
}

// FindFile builds a blob client for name. azsb:// maps onto https; http
// is kept for storage emulators. Anonymous sessions get a client without
// credentials (public containers).
func (p *AzureBlob) FindFile(
	_ context.Context, _ dispatch.Base, name repopath.Name, sess *session.Config,
) (dispatch.FileHandle, error) {
	switch name.Scheme {
	case repopath.SchemeHTTPS, repopath.SchemeHTTP:
	case repopath.SchemeAzBlob:
		name.Scheme = repopath.SchemeHTTPS
	default:
		return nil, fmt.Errorf("%w: %q for Azure Blob", ErrUnsupportedURI, name.Scheme)
	}

	segs := name.Segments()
	if len(segs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingShare, name.String())
	}

	serviceURL := name.Scheme + "://" + name.Authority() + "/"

	var (
		client *azblob.Client
		err    error
	)

	switch {
	case sess == nil || sess.Anonymous():
		client, err = azblob.NewClientWithNoCredential(serviceURL, p.opts)
	case sess.CloudKey != nil:
		client, err = azblob.NewClientWithSharedKeyCredential(serviceURL, sess.CloudKey.Credential, p.opts)
	default:
		return nil, fmt.Errorf("%w: %s for Azure Blob", ErrSessionKind, sess.Kind)
	}

	if err != nil {
		return nil, fmt.Errorf("provider: creating azure blob client: %w", err)
	}

	return BlobFile{
		ServiceURL: serviceURL,
		Container:  segs[0],
		Blob:       strings.Join(segs[1:], "/"),
		Client:     client,
	}, nil
}

// URI returns the blob URL.
func (f BlobFile) URI() string {
	u := f.ServiceURL + f.Container
	if f.Blob != "" {
		u += "/" + f.Blob
	}

	return u
}

// Exists fetches the blob properties. A missing blob or container is
// (false, nil); a rejected credential wraps dispatch.ErrAuthFailed.
func (f BlobFile) Exists(ctx context.Context) (bool, BlobProperties, error) {
	if f.Blob == "" {
		_, err := f.Client.ServiceClient().NewContainerClient(f.Container).GetProperties(ctx, nil)
		if err != nil {
			return mapBlobError("container properties", f.URI(), err)
		}

		return true, BlobProperties{}, nil
	}

	props, err := f.Client.ServiceClient().NewContainerClient(f.Container).NewBlobClient(f.Blob).GetProperties(ctx, nil)
	if err != nil {
		return mapBlobError("blob properties", f.URI(), err)
	}

	var out BlobProperties
	if props.ContentLength != nil {
		out.ContentLength = *props.ContentLength
	}

	if props.ContentType != nil {
		out.ContentType = *props.ContentType
	}

	if props.LastModified != nil {
		out.LastModified = *props.LastModified
	}

	return true, out, nil
}

func mapBlobError(op, uri string, err error) (bool, BlobProperties, error) {
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return false, BlobProperties{}, nil
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		if respErr.StatusCode == http.StatusNotFound {
			return false, BlobProperties{}, nil
		}

		return false, BlobProperties{}, fmt.Errorf("%w: %w", statusError(op, uri, respErr.StatusCode), err)
	}

	return false, BlobProperties{}, fmt.Errorf("provider: %s %s: %w", op, uri, err)
}
