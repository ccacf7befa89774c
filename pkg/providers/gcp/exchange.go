package gcp

import (
	"context"
	"net/http"

	stsv1 "google.golang.org/api/sts/v1"

	"github.com/anirudhbiyani/crossfed/pkg/cloudauth"
	"github.com/anirudhbiyani/crossfed/pkg/logging"
	awsfed "github.com/anirudhbiyani/crossfed/pkg/providers/aws"
)

const (
	grantTypeTokenExchange = "urn:ietf:params:oauth:grant-type:token-exchange"
	requestedTokenType     = "urn:ietf:params:oauth:token-type:access_token"
)

// Exchanger trades a signed AWS subject token for a GCP federated access
// token.
type Exchanger struct {
	client   *http.Client
	endpoint string
	logger   logging.Logger
}

// ExchangeOption configures an Exchanger.
type ExchangeOption func(*Exchanger)

// WithExchangeEndpoint overrides the STS base URL.
func WithExchangeEndpoint(endpoint string) ExchangeOption {
	return func(e *Exchanger) {
		e.endpoint = endpoint
	}
}

// WithExchangeLogger sets the logger.
func WithExchangeLogger(l logging.Logger) ExchangeOption {
	return func(e *Exchanger) {
		e.logger = l
	}
}

// NewExchanger creates an Exchanger that sends requests through client.
func NewExchanger(client *http.Client, opts ...ExchangeOption) *Exchanger {
	e := &Exchanger{
		client:   client,
		endpoint: DefaultSTSEndpoint,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.client == nil {
		e.client = http.DefaultClient
	}
	return e
}

// Exchange posts subjectToken to STS for audience and returns the federated
// access token. It does not retry.
func (e *Exchanger) Exchange(ctx context.Context, audience, subjectToken string) (string, error) {
	if audience == "" {
		return "", cloudauth.ErrConfiguration("audience is required").WithProvider(cloudauth.ProviderGCP)
	}
	if subjectToken == "" {
		return "", cloudauth.ErrConfiguration("subject token is required").WithProvider(cloudauth.ProviderGCP)
	}

	svc, err := stsv1.NewService(ctx, clientOptions(e.client, e.endpoint)...)
	if err != nil {
		return "", cloudauth.ErrInternal("failed to create STS client").WithCause(err)
	}

	resp, err := svc.V1.Token(&stsv1.GoogleIdentityStsV1ExchangeTokenRequest{
		Audience:           audience,
		GrantType:          grantTypeTokenExchange,
		RequestedTokenType: requestedTokenType,
		Scope:              DefaultScope,
		SubjectTokenType:   awsfed.SubjectTokenType,
		SubjectToken:       subjectToken,
	}).Context(ctx).Do()
	if err != nil {
		return "", classify("ExchangeToken", err)
	}
	if resp.AccessToken == "" {
		return "", cloudauth.ErrFederation("STS returned no access token").
			WithProvider(cloudauth.ProviderGCP).
			WithOperation("ExchangeToken").
			WithResponse(resp.HTTPStatusCode, "")
	}

	e.logger.Debug("federated token issued",
		logging.String("audience", audience),
		logging.Int64("expires_in", resp.ExpiresIn))
	return resp.AccessToken, nil
}
