package cloudauth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// countingRefresher returns tok after an optional release signal.
type countingRefresher struct {
	calls   atomic.Int32
	tok     Token
	err     error
	release chan struct{}
}

func (c *countingRefresher) Refresh(ctx context.Context, _ CredInfo) (Token, error) {
	c.calls.Add(1)
	if c.release != nil {
		<-c.release
	}
	return c.tok, c.err
}

func gcpRecord(t *testing.T, token string, expiry time.Time) *CredentialRecord {
	t.Helper()
	rec, err := NewCredentialRecord(&GCPCredInfo{
		ServiceAccountEmail: testSA,
		Audience:            testAudience,
		RefreshMode:         RefreshInternal,
		Token:               token,
		TokenExpiry:         expiry,
	})
	require.NoError(t, err)
	return rec
}

func TestGateExpiryBoundary(t *testing.T) {
	tests := []struct {
		name        string
		expiry      time.Time
		wantRefresh bool
	}{
		{name: "one second ahead", expiry: testNow.Add(time.Second), wantRefresh: false},
		{name: "exactly now", expiry: testNow, wantRefresh: true},
		{name: "one second behind", expiry: testNow.Add(-time.Second), wantRefresh: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &countingRefresher{tok: Token{AccessToken: "new", Expiry: testNow.Add(time.Hour)}}
			gate := NewRefreshGate(WithRefresher(ProviderGCP, r), WithClock(fixedClock(testNow)))
			rec := gcpRecord(t, "old", tt.expiry)

			refreshed, err := gate.Ensure(context.Background(), rec)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRefresh, refreshed)
			if tt.wantRefresh {
				assert.Equal(t, int32(1), r.calls.Load())
				assert.Equal(t, "new", rec.Current().AccessToken)
			} else {
				assert.Zero(t, r.calls.Load())
				assert.Equal(t, "old", rec.Current().AccessToken)
			}
		})
	}
}

func TestGateEmptyTokenIsExpired(t *testing.T) {
	gate := NewRefreshGate(WithClock(fixedClock(testNow)))
	state, err := gate.State(gcpRecord(t, "", testNow.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, StateExpired, state)
}

func TestGateAzureExpiry(t *testing.T) {
	r := &countingRefresher{tok: Token{AccessToken: "az2", ExpiresOn: testNow.Unix() + 3600}}
	gate := NewRefreshGate(WithRefresher(ProviderAzure, r), WithClock(fixedClock(testNow)))

	rec, err := NewCredentialRecord(&AzureCredInfo{
		AccountName: "acct", TenantID: testTenant, ClientID: testClient,
		Token: "az1", ExpiresOn: testNow.Unix() + 1,
	})
	require.NoError(t, err)

	tok, err := gate.Token(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, "az1", tok.AccessToken)
	assert.Zero(t, r.calls.Load())

	expired, err := NewCredentialRecord(&AzureCredInfo{
		AccountName: "acct", TenantID: testTenant, ClientID: testClient,
		Token: "az1", ExpiresOn: testNow.Unix(),
	})
	require.NoError(t, err)

	tok, err = gate.Token(context.Background(), expired)
	require.NoError(t, err)
	assert.Equal(t, Token{AccessToken: "az2", ExpiresOn: testNow.Unix() + 3600}, tok)
	assert.Equal(t, int32(1), r.calls.Load())
}

func TestGateAWSNeverRefreshes(t *testing.T) {
	gate := NewRefreshGate()
	rec, err := NewCredentialRecord(&AWSCredInfo{AccessKeyID: "AKIA", SecretAccessKey: "s", SessionToken: "t"})
	require.NoError(t, err)

	refreshed, err := gate.Ensure(context.Background(), rec)
	require.NoError(t, err)
	assert.False(t, refreshed)
}

func TestGateSingleFlight(t *testing.T) {
	r := &countingRefresher{
		tok:     Token{AccessToken: "shared", Expiry: testNow.Add(time.Hour)},
		release: make(chan struct{}),
	}
	gate := NewRefreshGate(WithRefresher(ProviderGCP, r), WithClock(fixedClock(testNow)))
	rec := gcpRecord(t, "", time.Time{})

	const callers = 32
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := gate.Token(context.Background(), rec)
			tokens[i], errs[i] = tok.AccessToken, err
		}(i)
	}

	require.Eventually(t, func() bool { return r.calls.Load() == 1 }, time.Second, time.Millisecond)
	close(r.release)
	wg.Wait()

	assert.Equal(t, int32(1), r.calls.Load())
	assert.Equal(t, uint64(1), rec.Generation())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", tokens[i])
	}
}

func TestGateFailureLeavesRecordUntouched(t *testing.T) {
	upstream := ErrFederation("impersonation denied").WithResponse(403, "denied")
	r := &countingRefresher{err: upstream}
	gate := NewRefreshGate(WithRefresher(ProviderGCP, r), WithClock(fixedClock(testNow)))
	expiry := testNow.Add(-time.Minute)
	rec := gcpRecord(t, "stale", expiry)

	_, err := gate.Ensure(context.Background(), rec)
	require.Error(t, err)
	assert.True(t, IsFederation(err))
	assert.Equal(t, Token{AccessToken: "stale", Expiry: expiry}, rec.Current())
	assert.Zero(t, rec.Generation())

	// The failed flight is not cached; the next caller retries.
	_, err = gate.Ensure(context.Background(), rec)
	require.Error(t, err)
	assert.Equal(t, int32(2), r.calls.Load())
}

func TestGateRejectsNonUTCRefreshResult(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	r := &countingRefresher{tok: Token{AccessToken: "new", Expiry: testNow.Add(time.Hour).In(est)}}
	gate := NewRefreshGate(WithRefresher(ProviderGCP, r), WithClock(fixedClock(testNow)))
	rec := gcpRecord(t, "", time.Time{})

	_, err := gate.Ensure(context.Background(), rec)
	require.Error(t, err)
	assert.True(t, IsConfiguration(err))
	assert.Empty(t, rec.Current().AccessToken)
	assert.Zero(t, rec.Generation())
}

func TestGateRefreshModeNone(t *testing.T) {
	r := &countingRefresher{tok: Token{AccessToken: "new", Expiry: testNow.Add(time.Hour)}}
	gate := NewRefreshGate(WithRefresher(ProviderGCP, r), WithClock(fixedClock(testNow)))

	fresh, err := NewCredentialRecord(&GCPCredInfo{RefreshMode: RefreshNone, Token: "given", TokenExpiry: testNow.Add(time.Minute)})
	require.NoError(t, err)
	tok, err := gate.Token(context.Background(), fresh)
	require.NoError(t, err)
	assert.Equal(t, "given", tok.AccessToken)

	expired, err := NewCredentialRecord(&GCPCredInfo{RefreshMode: RefreshNone, Token: "given", TokenExpiry: testNow.Add(-time.Minute)})
	require.NoError(t, err)
	_, err = gate.Ensure(context.Background(), expired)
	require.Error(t, err)
	assert.True(t, IsConfiguration(err))
	assert.Zero(t, r.calls.Load())
}

func TestGateMissingRefresher(t *testing.T) {
	gate := NewRefreshGate(WithClock(fixedClock(testNow)))
	_, err := gate.Ensure(context.Background(), gcpRecord(t, "", time.Time{}))
	require.Error(t, err)
	assert.True(t, IsConfiguration(err))
	assert.Equal(t, ProviderGCP, GetErrorProvider(err))
}

func TestGateCancelledWaiterDoesNotAbortRefresh(t *testing.T) {
	r := &countingRefresher{
		tok:     Token{AccessToken: "late", Expiry: testNow.Add(time.Hour)},
		release: make(chan struct{}),
	}
	gate := NewRefreshGate(WithRefresher(ProviderGCP, r), WithClock(fixedClock(testNow)))
	rec := gcpRecord(t, "", time.Time{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := gate.Ensure(ctx, rec)
		done <- err
	}()

	require.Eventually(t, func() bool { return r.calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.True(t, errors.Is(<-done, context.Canceled))

	close(r.release)
	require.Eventually(t, func() bool { return rec.Generation() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "late", rec.Current().AccessToken)
}
