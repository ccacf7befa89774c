package gcp

import (
	"context"
	"io"

	storage "google.golang.org/api/storage/v1"

	"github.com/anirudhbiyani/crossfed/pkg/cloudauth"
)

// GCSStore implements cloudauth.Store over the GCS JSON API.
type GCSStore struct {
	svc *storage.Service
}

// NewGCSStore wraps svc.
func NewGCSStore(svc *storage.Service) *GCSStore {
	return &GCSStore{svc: svc}
}

// List implements cloudauth.Store.
func (s *GCSStore) List(ctx context.Context, path string) ([]string, error) {
	bucket, prefix, err := cloudauth.SplitPath(path)
	if err != nil {
		return nil, err
	}
	var names []string
	call := s.svc.Objects.List(bucket).Fields("nextPageToken", "items/name")
	if prefix != "" {
		call = call.Prefix(prefix)
	}
	err = call.Pages(ctx, func(page *storage.Objects) error {
		for _, obj := range page.Items {
			names = append(names, obj.Name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// Get implements cloudauth.Store.
func (s *GCSStore) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	bucket, key, err := cloudauth.SplitObjectPath(path)
	if err != nil {
		return nil, err
	}
	resp, err := s.svc.Objects.Get(bucket, key).Context(ctx).Download()
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Put implements cloudauth.Store.
func (s *GCSStore) Put(ctx context.Context, path string, r io.Reader) error {
	bucket, key, err := cloudauth.SplitObjectPath(path)
	if err != nil {
		return err
	}
	_, err = s.svc.Objects.Insert(bucket, &storage.Object{Name: key}).Media(r).Context(ctx).Do()
	return err
}

// Exists implements cloudauth.Store.
func (s *GCSStore) Exists(ctx context.Context, path string) (bool, error) {
	bucket, key, err := cloudauth.SplitObjectPath(path)
	if err != nil {
		return false, err
	}
	_, err = s.svc.Objects.Get(bucket, key).Fields("name").Context(ctx).Do()
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Remove implements cloudauth.Store.
func (s *GCSStore) Remove(ctx context.Context, path string) error {
	bucket, key, err := cloudauth.SplitObjectPath(path)
	if err != nil {
		return err
	}
	return s.svc.Objects.Delete(bucket, key).Context(ctx).Do()
}

// newBackend builds a GCS client authenticated with the record's current
// token. The caller has already ensured the token is fresh.
func newBackend(ctx context.Context, rec *cloudauth.CredentialRecord, opts cloudauth.BackendOptions) (cloudauth.Store, error) {
	if rec.Vendor() != cloudauth.ProviderGCP {
		return nil, cloudauth.ErrConfiguration("GCS requires a gcp credential").WithProvider(cloudauth.ProviderGCP)
	}
	tok := rec.Current()
	svc, err := storage.NewService(ctx, clientOptions(bearerClient(opts.HTTPClient, tok.AccessToken), opts.Endpoint)...)
	if err != nil {
		return nil, cloudauth.ErrInternal("failed to create GCS client").WithCause(err)
	}
	return NewGCSStore(svc), nil
}

func init() {
	cloudauth.DefaultRegistry.MustRegister(cloudauth.ProviderGCP, newBackend)
}

var _ cloudauth.Store = (*GCSStore)(nil)
