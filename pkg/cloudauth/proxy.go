package cloudauth

import (
	"context"
	"io"
	"sync"
)

// StoreBuilder constructs a storage handle from the record's current
// credential.
type StoreBuilder func(ctx context.Context, rec *CredentialRecord) (Store, error)

// LazyRefreshProxy is a Store that runs the refresh gate before every
// operation and rebuilds the wrapped handle whenever the record's token
// has changed since the handle was built.
type LazyRefreshProxy struct {
	gate  *RefreshGate
	rec   *CredentialRecord
	build StoreBuilder

	mu    sync.Mutex
	inner Store
	gen   uint64
	built bool
}

// NewLazyRefreshProxy wraps the handle produced by build.
func NewLazyRefreshProxy(gate *RefreshGate, rec *CredentialRecord, build StoreBuilder) *LazyRefreshProxy {
	return &LazyRefreshProxy{gate: gate, rec: rec, build: build}
}

// handle returns a store built against a fresh token.
func (p *LazyRefreshProxy) handle(ctx context.Context) (Store, error) {
	if _, err := p.gate.Ensure(ctx, p.rec); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	gen := p.rec.Generation()
	if p.built && gen == p.gen {
		return p.inner, nil
	}
	inner, err := p.build(ctx, p.rec)
	if err != nil {
		return nil, err
	}
	p.inner, p.gen, p.built = inner, gen, true
	return inner, nil
}

// List implements Store.
func (p *LazyRefreshProxy) List(ctx context.Context, path string) ([]string, error) {
	s, err := p.handle(ctx)
	if err != nil {
		return nil, err
	}
	return s.List(ctx, path)
}

// Get implements Store.
func (p *LazyRefreshProxy) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	s, err := p.handle(ctx)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, path)
}

// Put implements Store.
func (p *LazyRefreshProxy) Put(ctx context.Context, path string, r io.Reader) error {
	s, err := p.handle(ctx)
	if err != nil {
		return err
	}
	return s.Put(ctx, path, r)
}

// Exists implements Store.
func (p *LazyRefreshProxy) Exists(ctx context.Context, path string) (bool, error) {
	s, err := p.handle(ctx)
	if err != nil {
		return false, err
	}
	return s.Exists(ctx, path)
}

// Remove implements Store.
func (p *LazyRefreshProxy) Remove(ctx context.Context, path string) error {
	s, err := p.handle(ctx)
	if err != nil {
		return err
	}
	return s.Remove(ctx, path)
}

var _ Store = (*LazyRefreshProxy)(nil)
