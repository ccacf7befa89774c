package cloudauth

import (
	"context"
	"io"
)

// Refresher runs a vendor's federation pipeline and returns the new token.
// Implementations must not touch the record; the gate commits the result.
type Refresher interface {
	Refresh(ctx context.Context, info CredInfo) (Token, error)
}

// RefresherFunc adapts a function to the Refresher interface.
type RefresherFunc func(ctx context.Context, info CredInfo) (Token, error)

// Refresh implements Refresher.
func (f RefresherFunc) Refresh(ctx context.Context, info CredInfo) (Token, error) {
	return f(ctx, info)
}

// Store is the set of storage operations a session exposes. Paths are
// "bucket/key" for every vendor; for Azure the bucket is the container.
type Store interface {
	// List returns the object names under path.
	List(ctx context.Context, path string) ([]string, error)

	// Get opens the object at path. The caller closes the reader.
	Get(ctx context.Context, path string) (io.ReadCloser, error)

	// Put writes r to the object at path.
	Put(ctx context.Context, path string, r io.Reader) error

	// Exists reports whether an object exists at path.
	Exists(ctx context.Context, path string) (bool, error)

	// Remove deletes the object at path.
	Remove(ctx context.Context, path string) error
}

// SecretGetter fetches a named secret's plaintext value.
type SecretGetter interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SecretGetterFunc adapts a function to the SecretGetter interface.
type SecretGetterFunc func(ctx context.Context, name string) (string, error)

// GetSecret implements SecretGetter.
func (f SecretGetterFunc) GetSecret(ctx context.Context, name string) (string, error) {
	return f(ctx, name)
}
