package azure

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"

	"github.com/anirudhbiyani/crossfed/pkg/cloudauth"
)

// StaticCredential serves one already issued token. Storage clients are
// rebuilt with a new StaticCredential whenever the record refreshes.
type StaticCredential struct {
	token     string
	expiresOn int64
}

// NewStaticCredential snapshots tok.
func NewStaticCredential(tok cloudauth.Token) *StaticCredential {
	return &StaticCredential{token: tok.AccessToken, expiresOn: tok.ExpiresOn}
}

// GetToken implements azcore.TokenCredential.
func (c *StaticCredential) GetToken(_ context.Context, _ policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{Token: c.token, ExpiresOn: time.Unix(c.expiresOn, 0).UTC()}, nil
}

// ExpiresOnUnix returns the token's expiry in epoch seconds.
func (c *StaticCredential) ExpiresOnUnix() int64 {
	return c.expiresOn
}

var _ azcore.TokenCredential = (*StaticCredential)(nil)
