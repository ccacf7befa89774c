package cloudauth

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloudAuthErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "category only",
			err:  ErrInternal("boom"),
			want: "[internal] boom",
		},
		{
			name: "with provider",
			err:  ErrConfiguration("bad field").WithProvider(ProviderAzure),
			want: "[azure:configuration] bad field",
		},
		{
			name: "with response",
			err:  ErrFederation("exchange rejected").WithProvider(ProviderGCP).WithResponse(403, `{"error":"denied"}`),
			want: `[gcp:federation] exchange rejected (status 403): {"error":"denied"}`,
		},
		{
			name: "with cause",
			err:  ErrNetwork("dial failed").WithCause(io.ErrUnexpectedEOF),
			want: "[network] dial failed: unexpected EOF",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestCloudAuthErrorMatching(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", ErrFederation("rejected").WithCause(io.EOF))

	assert.True(t, errors.Is(err, ErrFederation("other message")))
	assert.False(t, errors.Is(err, ErrConfiguration("x")))
	assert.True(t, errors.Is(err, io.EOF))

	assert.True(t, IsFederation(err))
	assert.False(t, IsConfiguration(err))
	assert.False(t, IsTransient(err))
	assert.False(t, IsRetryable(err))

	assert.True(t, IsTransient(ErrNetwork("reset")))
	assert.True(t, IsRetryable(ErrNetwork("reset")))
	assert.False(t, IsCategory(errors.New("plain"), ErrCategoryInternal))
}

func TestErrNotFoundDetails(t *testing.T) {
	err := ErrNotFound("secret", "ACCOUNTS_API_KEY")

	assert.Equal(t, ErrCategoryNotFound, err.Category)
	assert.Equal(t, "secret not found: ACCOUNTS_API_KEY", err.Message)
	assert.Equal(t, "secret", err.Details["resource_type"])
	assert.Equal(t, "ACCOUNTS_API_KEY", err.Details["resource_id"])
}

func TestGetErrorProvider(t *testing.T) {
	err := fmt.Errorf("outer: %w", ErrFederation("x").WithProvider(ProviderGCP))
	assert.Equal(t, ProviderGCP, GetErrorProvider(err))
	assert.Empty(t, GetErrorProvider(errors.New("plain")))
}

func TestParseProvider(t *testing.T) {
	for _, in := range []string{"aws", "GCP", " azure "} {
		p, err := ParseProvider(in)
		require.NoError(t, err, in)
		assert.Contains(t, ValidVendors, p)
	}

	_, err := ParseProvider("bogus")
	require.Error(t, err)
	assert.True(t, IsConfiguration(err))
	assert.Contains(t, err.Error(), "{aws, gcp, azure}")
	assert.Contains(t, err.Error(), `"bogus"`)
}

func TestParseRefreshMode(t *testing.T) {
	tests := []struct {
		in      string
		want    RefreshMode
		wantErr bool
	}{
		{in: "internal", want: RefreshInternal},
		{in: "EXTERNAL", want: RefreshExternal},
		{in: "none", want: RefreshNone},
		{in: "", want: RefreshNone},
		{in: "sometimes", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRefreshMode(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsConfiguration(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
