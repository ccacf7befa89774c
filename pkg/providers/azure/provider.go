// Package azure bridges workload identities into Azure AD tokens for blob
// storage and provides the Azure storage backend.
package azure

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/anirudhbiyani/crossfed/pkg/cloudauth"
	"github.com/anirudhbiyani/crossfed/pkg/logging"
)

// StorageScope is the only scope requested from Azure AD.
const StorageScope = "https://storage.azure.com/.default"

// AssertionSource supplies the client assertion presented to Azure AD.
type AssertionSource interface {
	OpenIDToken(ctx context.Context) (string, error)
}

// CredentialFactory builds the Azure AD credential for a record. assertion
// is nil when the record carries a client secret.
type CredentialFactory func(info *cloudauth.AzureCredInfo, assertion func(context.Context) (string, error)) (azcore.TokenCredential, error)

// Bridge obtains Azure AD storage tokens for Azure records. It implements
// cloudauth.Refresher.
type Bridge struct {
	assertions    AssertionSource
	newCredential CredentialFactory
	client        *http.Client
	logger        logging.Logger
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithCredentialFactory replaces the azidentity credential constructor.
func WithCredentialFactory(f CredentialFactory) BridgeOption {
	return func(b *Bridge) {
		b.newCredential = f
	}
}

// WithHTTPClient sets the client used to reach Azure AD.
func WithHTTPClient(c *http.Client) BridgeOption {
	return func(b *Bridge) {
		b.client = c
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) BridgeOption {
	return func(b *Bridge) {
		b.logger = l
	}
}

// NewBridge creates a Bridge that signs client assertions with assertions.
// assertions may be nil when every record carries a client secret.
func NewBridge(assertions AssertionSource, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		assertions: assertions,
		logger:     logging.NewNop(),
	}
	b.newCredential = b.defaultCredential
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Refresh implements cloudauth.Refresher.
func (b *Bridge) Refresh(ctx context.Context, info cloudauth.CredInfo) (cloudauth.Token, error) {
	az, ok := info.(*cloudauth.AzureCredInfo)
	if !ok {
		return cloudauth.Token{}, cloudauth.ErrInternal(fmt.Sprintf("azure bridge cannot refresh %s credentials", info.Vendor()))
	}
	return b.Token(ctx, az)
}

// Token requests a storage token for the record's tenant and client.
func (b *Bridge) Token(ctx context.Context, info *cloudauth.AzureCredInfo) (cloudauth.Token, error) {
	var assertion func(context.Context) (string, error)
	if info.ClientSecret == "" {
		if b.assertions == nil {
			return cloudauth.Token{}, cloudauth.ErrConfiguration("no client secret and no assertion source configured").
				WithProvider(cloudauth.ProviderAzure)
		}
		assertion = b.assertions.OpenIDToken
	}

	cred, err := b.newCredential(info, assertion)
	if err != nil {
		return cloudauth.Token{}, cloudauth.ErrConfiguration("failed to create Azure credential").
			WithProvider(cloudauth.ProviderAzure).
			WithCause(err)
	}

	start := time.Now()
	at, err := cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{StorageScope}})
	if err != nil {
		return cloudauth.Token{}, upstreamError(err)
	}

	b.logger.Debug("azure token issued",
		logging.String("tenant_id", info.TenantID),
		logging.String("client_id", info.ClientID),
		logging.Bool("client_secret", info.ClientSecret != ""),
		logging.Duration("elapsed", time.Since(start)))
	return cloudauth.Token{AccessToken: at.Token, ExpiresOn: at.ExpiresOn.Unix()}, nil
}

func (b *Bridge) defaultCredential(info *cloudauth.AzureCredInfo, assertion func(context.Context) (string, error)) (azcore.TokenCredential, error) {
	var copts azcore.ClientOptions
	if b.client != nil {
		copts.Transport = b.client
	}
	if assertion == nil {
		return azidentity.NewClientSecretCredential(info.TenantID, info.ClientID, info.ClientSecret,
			&azidentity.ClientSecretCredentialOptions{ClientOptions: copts})
	}
	return azidentity.NewClientAssertionCredential(info.TenantID, info.ClientID, assertion,
		&azidentity.ClientAssertionCredentialOptions{ClientOptions: copts})
}

// upstreamError keeps already classified errors, such as an identity pool
// failure raised by the assertion callback, and reports anything else as an
// Azure AD rejection carrying its text.
func upstreamError(err error) error {
	var cae *cloudauth.CloudAuthError
	if errors.As(err, &cae) {
		return cae
	}
	fe := cloudauth.ErrFederation("azure AD token request failed").
		WithProvider(cloudauth.ProviderAzure).
		WithOperation("GetToken").
		WithCause(err)
	var afe *azidentity.AuthenticationFailedError
	if errors.As(err, &afe) && afe.RawResponse != nil {
		return fe.WithResponse(afe.RawResponse.StatusCode, afe.Error())
	}
	return fe.WithResponse(0, err.Error())
}

var _ cloudauth.Refresher = (*Bridge)(nil)
