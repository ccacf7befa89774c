package gcp

import (
	"context"
	"net/http"

	iamcredentials "google.golang.org/api/iamcredentials/v1"

	"github.com/anirudhbiyani/crossfed/pkg/cloudauth"
	"github.com/anirudhbiyani/crossfed/pkg/logging"
)

// debugLifetime shortens impersonated tokens so that expiry paths are
// exercised quickly.
const debugLifetime = "10s"

// Impersonator mints service account access tokens with
// generateAccessToken, authenticating each call with a caller-supplied
// bearer token.
type Impersonator struct {
	client   *http.Client
	endpoint string
	debug    bool
	logger   logging.Logger
}

// ImpersonatorOption configures an Impersonator.
type ImpersonatorOption func(*Impersonator)

// WithIAMEndpoint overrides the IAM credentials base URL.
func WithIAMEndpoint(endpoint string) ImpersonatorOption {
	return func(i *Impersonator) {
		i.endpoint = endpoint
	}
}

// WithDebugLifetime requests short-lived tokens when debug is true.
func WithDebugLifetime(debug bool) ImpersonatorOption {
	return func(i *Impersonator) {
		i.debug = debug
	}
}

// WithImpersonatorLogger sets the logger.
func WithImpersonatorLogger(l logging.Logger) ImpersonatorOption {
	return func(i *Impersonator) {
		i.logger = l
	}
}

// NewImpersonator creates an Impersonator that sends requests through client.
func NewImpersonator(client *http.Client, opts ...ImpersonatorOption) *Impersonator {
	i := &Impersonator{
		client:   client,
		endpoint: DefaultIAMCredentialsEndpoint,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.client == nil {
		i.client = http.DefaultClient
	}
	return i
}

// GenerateAccessToken impersonates email using bearer and returns the new
// token with its UTC expiry.
func (i *Impersonator) GenerateAccessToken(ctx context.Context, bearer, email string) (cloudauth.Token, error) {
	if err := cloudauth.ValidateGCPServiceAccountEmail(email); err != nil {
		return cloudauth.Token{}, err
	}
	if bearer == "" {
		return cloudauth.Token{}, cloudauth.ErrConfiguration("bearer token is required").
			WithProvider(cloudauth.ProviderGCP)
	}

	svc, err := iamcredentials.NewService(ctx, clientOptions(bearerClient(i.client, bearer), i.endpoint)...)
	if err != nil {
		return cloudauth.Token{}, cloudauth.ErrInternal("failed to create IAM credentials client").WithCause(err)
	}

	req := &iamcredentials.GenerateAccessTokenRequest{Scope: []string{DefaultScope}}
	if i.debug {
		req.Lifetime = debugLifetime
	}
	resp, err := svc.Projects.ServiceAccounts.GenerateAccessToken("projects/-/serviceAccounts/"+email, req).
		Context(ctx).
		Do()
	if err != nil {
		return cloudauth.Token{}, classify("GenerateAccessToken", err)
	}
	if resp.AccessToken == "" {
		return cloudauth.Token{}, cloudauth.ErrFederation("generateAccessToken returned no access token").
			WithProvider(cloudauth.ProviderGCP).
			WithOperation("GenerateAccessToken").
			WithDetail("service_account", email)
	}

	expiry, err := cloudauth.ParseExpiry(resp.ExpireTime)
	if err != nil {
		// Any unusable expiry is an upstream fault here.
		return cloudauth.Token{}, cloudauth.ErrFederation("generateAccessToken returned a malformed expireTime").
			WithProvider(cloudauth.ProviderGCP).
			WithOperation("GenerateAccessToken").
			WithResponse(resp.HTTPStatusCode, resp.ExpireTime).
			WithCause(err)
	}

	i.logger.Debug("service account impersonated",
		logging.String("service_account", email),
		logging.Time("expiry", expiry))
	return cloudauth.Token{AccessToken: resp.AccessToken, Expiry: expiry}, nil
}
