package cloudauth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunValidationExpiredTokenIsWarning(t *testing.T) {
	gate := NewRefreshGate(WithClock(fixedClock(testNow)))
	rec := gcpRecord(t, "old", testNow.Add(-time.Minute))

	report := RunValidation(context.Background(), rec, []Validator{
		CredentialConfigValidator{},
		NewTokenStateValidator(gate),
	})

	require.Len(t, report.Checks, 2)
	assert.Equal(t, ProviderGCP, report.Vendor)
	assert.Equal(t, CheckStatusPassed, report.Checks[0].Status)
	assert.Equal(t, CheckStatusFailed, report.Checks[1].Status)
	assert.Equal(t, "expired", report.Checks[1].Evidence["state"])
	assert.Equal(t, ValidationSummary{TotalChecks: 2, PassedChecks: 1, FailedChecks: 1, IsValid: true}, report.Summary)
	assert.Len(t, report.FailedChecks(), 1)
}

func TestTokenAcquisitionValidator(t *testing.T) {
	expiry := testNow.Add(time.Hour)
	ok := NewRefreshGate(
		WithRefresher(ProviderGCP, &countingRefresher{tok: Token{AccessToken: "secret-token", Expiry: expiry}}),
		WithClock(fixedClock(testNow)),
	)
	check := NewTokenAcquisitionValidator(ok).Validate(context.Background(), gcpRecord(t, "", time.Time{}))
	assert.Equal(t, CheckStatusPassed, check.Status)
	assert.Equal(t, true, check.Evidence["refreshed"])
	assert.Equal(t, expiry.Format(time.RFC3339), check.Evidence["expires_at"])
	for _, v := range check.Evidence {
		assert.NotEqual(t, "secret-token", v)
	}

	failing := NewRefreshGate(
		WithRefresher(ProviderGCP, &countingRefresher{err: ErrFederation("denied")}),
		WithClock(fixedClock(testNow)),
	)
	report := RunValidation(context.Background(), gcpRecord(t, "", time.Time{}), []Validator{
		CredentialConfigValidator{},
		NewTokenAcquisitionValidator(failing),
	})
	assert.False(t, report.IsValid())
	assert.False(t, report.Summary.IsValid)
	assert.Contains(t, report.Checks[1].Evidence["error"], "denied")
}

func TestDefaultValidatorsCoverEveryVendor(t *testing.T) {
	for _, p := range ValidVendors {
		ids := make([]string, 0)
		for _, v := range DefaultValidators.ForVendor(p) {
			ids = append(ids, v.ID())
		}
		assert.Contains(t, ids, "credential_config", p)
	}
}
