package azure

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/anirudhbiyani/crossfed/pkg/cloudauth"
)

// BlobStore implements cloudauth.Store over one storage account. The
// bucket part of a path is the container.
type BlobStore struct {
	client *azblob.Client
}

// NewBlobStore wraps client.
func NewBlobStore(client *azblob.Client) *BlobStore {
	return &BlobStore{client: client}
}

// AccountURL returns the blob service URL of account.
func AccountURL(account string) string {
	return fmt.Sprintf("https://%s.blob.core.windows.net/", account)
}

// List implements cloudauth.Store.
func (s *BlobStore) List(ctx context.Context, path string) ([]string, error) {
	container, prefix, err := cloudauth.SplitPath(path)
	if err != nil {
		return nil, err
	}
	var opts azblob.ListBlobsFlatOptions
	if prefix != "" {
		opts.Prefix = &prefix
	}
	var names []string
	pager := s.client.NewListBlobsFlatPager(container, &opts)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		if page.Segment == nil {
			continue
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil {
				names = append(names, *item.Name)
			}
		}
	}
	return names, nil
}

// Get implements cloudauth.Store.
func (s *BlobStore) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	container, blob, err := cloudauth.SplitObjectPath(path)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.DownloadStream(ctx, container, blob, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Put implements cloudauth.Store.
func (s *BlobStore) Put(ctx context.Context, path string, r io.Reader) error {
	container, blob, err := cloudauth.SplitObjectPath(path)
	if err != nil {
		return err
	}
	_, err = s.client.UploadStream(ctx, container, blob, r, nil)
	return err
}

// Exists implements cloudauth.Store.
func (s *BlobStore) Exists(ctx context.Context, path string) (bool, error) {
	container, blob, err := cloudauth.SplitObjectPath(path)
	if err != nil {
		return false, err
	}
	_, err = s.client.ServiceClient().NewContainerClient(container).NewBlobClient(blob).GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Remove implements cloudauth.Store.
func (s *BlobStore) Remove(ctx context.Context, path string) error {
	container, blob, err := cloudauth.SplitObjectPath(path)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteBlob(ctx, container, blob, nil)
	return err
}

// newBackend builds a blob client for the record's account from its current
// token. The caller has already ensured the token is fresh.
func newBackend(_ context.Context, rec *cloudauth.CredentialRecord, opts cloudauth.BackendOptions) (cloudauth.Store, error) {
	info, ok := rec.Info().(*cloudauth.AzureCredInfo)
	if !ok {
		return nil, cloudauth.ErrConfiguration("blob storage requires an azure credential").WithProvider(cloudauth.ProviderAzure)
	}

	serviceURL := opts.Endpoint
	if serviceURL == "" {
		serviceURL = AccountURL(info.AccountName)
	}
	var copts azblob.ClientOptions
	if opts.HTTPClient != nil {
		copts.ClientOptions = azcore.ClientOptions{Transport: opts.HTTPClient}
	}

	client, err := azblob.NewClient(serviceURL, NewStaticCredential(rec.Current()), &copts)
	if err != nil {
		return nil, cloudauth.ErrConfiguration("failed to create blob client").
			WithProvider(cloudauth.ProviderAzure).
			WithCause(err)
	}
	return NewBlobStore(client), nil
}

func init() {
	cloudauth.DefaultRegistry.MustRegister(cloudauth.ProviderAzure, newBackend)
}

var _ cloudauth.Store = (*BlobStore)(nil)
