package cloudauth

import (
	"context"
	"fmt"
	"time"

	"github.com/anirudhbiyani/crossfed/pkg/logging"
)

const refreshKey = "refresh"

// RefreshGate decides whether a record's token is still valid and, when it
// is not, runs the vendor's pipeline exactly once for all waiting callers.
type RefreshGate struct {
	refreshers map[CloudProvider]Refresher
	now        func() time.Time
	logger     logging.Logger
}

// GateOption configures a RefreshGate.
type GateOption func(*RefreshGate)

// WithRefresher registers the pipeline for a vendor.
func WithRefresher(p CloudProvider, r Refresher) GateOption {
	return func(g *RefreshGate) {
		g.refreshers[p] = r
	}
}

// WithClock sets the time source used for expiry checks.
func WithClock(now func() time.Time) GateOption {
	return func(g *RefreshGate) {
		g.now = now
	}
}

// WithGateLogger sets the logger.
func WithGateLogger(l logging.Logger) GateOption {
	return func(g *RefreshGate) {
		g.logger = l
	}
}

// NewRefreshGate creates a gate with the given options.
func NewRefreshGate(opts ...GateOption) *RefreshGate {
	g := &RefreshGate{
		refreshers: make(map[CloudProvider]Refresher),
		now:        time.Now,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// State reports whether rec holds a usable token.
func (g *RefreshGate) State(rec *CredentialRecord) (State, error) {
	return g.stateOf(rec.Info())
}

func (g *RefreshGate) stateOf(info CredInfo) (State, error) {
	now := g.now().UTC()
	switch info := info.(type) {
	case *AWSCredInfo:
		return StateFresh, nil
	case *GCPCredInfo:
		// Reject before comparing; a non-UTC expiry must never be
		// silently reinterpreted.
		if err := requireUTC(info.TokenExpiry); err != nil {
			return StateExpired, err
		}
		if info.Token == "" || !info.TokenExpiry.After(now) {
			return StateExpired, nil
		}
		return StateFresh, nil
	case *AzureCredInfo:
		if info.Token == "" || info.ExpiresOn <= now.Unix() {
			return StateExpired, nil
		}
		return StateFresh, nil
	default:
		panic(fmt.Sprintf("cloudauth: unknown credential type %T", info))
	}
}

// Ensure refreshes rec if its token has expired. It reports whether the
// record's token changed while the caller waited.
//
// The refresh itself is detached from ctx so that a cancelled caller never
// abandons an impersonation chain halfway; ctx only bounds the wait.
func (g *RefreshGate) Ensure(ctx context.Context, rec *CredentialRecord) (bool, error) {
	state, err := g.State(rec)
	if err != nil {
		return false, err
	}
	if state == StateFresh {
		return false, nil
	}

	gen := rec.Generation()
	ch := rec.flight.DoChan(refreshKey, func() (interface{}, error) {
		return nil, g.refresh(context.WithoutCancel(ctx), rec)
	})

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return false, res.Err
		}
		return rec.Generation() != gen, nil
	}
}

// Token returns a token that is fresh at the time of the call.
func (g *RefreshGate) Token(ctx context.Context, rec *CredentialRecord) (Token, error) {
	if _, err := g.Ensure(ctx, rec); err != nil {
		return Token{}, err
	}
	return rec.Current(), nil
}

func (g *RefreshGate) refresh(ctx context.Context, rec *CredentialRecord) error {
	info := rec.Info()

	// Another flight may have committed since the caller looked.
	state, err := g.stateOf(info)
	if err != nil {
		return err
	}
	if state == StateFresh {
		return nil
	}

	vendor := info.Vendor()
	log := g.logger.With(logging.String("vendor", string(vendor)))

	switch info := info.(type) {
	case *AWSCredInfo:
		return nil
	case *GCPCredInfo:
		if info.RefreshMode == RefreshNone {
			return ErrConfiguration("token expired and refresh_mode is none").WithProvider(ProviderGCP)
		}
		log = log.With(logging.String("mode", string(info.RefreshMode)))
	case *AzureCredInfo:
	default:
		panic(fmt.Sprintf("cloudauth: unknown credential type %T", info))
	}

	r, ok := g.refreshers[vendor]
	if !ok {
		return ErrConfiguration("no refresh pipeline configured").WithProvider(vendor)
	}

	start := g.now()
	log.Debug("refreshing credential")
	tok, err := r.Refresh(ctx, info)
	if err != nil {
		log.Warn("credential refresh failed", logging.Err(err), logging.Duration("elapsed", g.now().Sub(start)))
		return err
	}
	if err := rec.commit(tok); err != nil {
		return err
	}
	log.Info("credential refreshed",
		logging.Uint64("generation", rec.Generation()),
		logging.Duration("elapsed", g.now().Sub(start)))
	return nil
}
