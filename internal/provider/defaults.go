package provider

import (
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/tonimelisma/reporoute/internal/dispatch"
	"github.com/tonimelisma/reporoute/internal/repository"
)

// Defaults returns a provider for every repository type.
func Defaults(base *http.Client, blobOpts *azblob.ClientOptions) map[repository.Type]dispatch.Provider {
	return map[repository.Type]dispatch.Provider{
		repository.TypeLocal:            Local{},
		repository.TypeSharedFolder:     SharedFolder{},
		repository.TypeSharePoint:       NewWebDAV(base),
		repository.TypeAzureBlobStorage: NewAzureBlob(blobOpts),
		repository.TypeAzureFileStorage: AzureFile{},
	}
}
