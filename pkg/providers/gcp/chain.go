package gcp

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/anirudhbiyani/crossfed/pkg/cloudauth"
	"github.com/anirudhbiyani/crossfed/pkg/logging"
)

// SubjectSigner produces a signed GetCallerIdentity subject token.
type SubjectSigner interface {
	CallerIdentityToken(ctx context.Context, audience string, creds aws.CredentialsProvider) (string, error)
}

// TokenExchanger trades a subject token for a federated access token.
type TokenExchanger interface {
	Exchange(ctx context.Context, audience, subjectToken string) (string, error)
}

// AccessTokenGenerator impersonates a service account with a bearer token.
type AccessTokenGenerator interface {
	GenerateAccessToken(ctx context.Context, bearer, email string) (cloudauth.Token, error)
}

// ChainConfig holds the fixed accounts and audiences of the federation
// topology.
type ChainConfig struct {
	// InternalAudience is used when an internal record has no audience.
	InternalAudience string

	// InternalServiceAccount is the internal hop target when a record
	// names none.
	InternalServiceAccount string

	// BridgeServiceAccount is the first hop in external mode.
	BridgeServiceAccount string

	// ExternalAudience is the pool provider trusted for identity pool
	// credentials.
	ExternalAudience string
}

// Chain runs the AWS to GCP impersonation pipeline. It implements
// cloudauth.Refresher for GCP records.
type Chain struct {
	signer    SubjectSigner
	exchanger TokenExchanger
	generator AccessTokenGenerator
	cfg       ChainConfig

	// ambient signs internal subject tokens; pool signs external ones.
	ambient aws.CredentialsProvider
	pool    aws.CredentialsProvider

	logger logging.Logger
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithAmbientCredentials sets the workload's own AWS credentials.
func WithAmbientCredentials(p aws.CredentialsProvider) ChainOption {
	return func(c *Chain) {
		c.ambient = p
	}
}

// WithPoolCredentials sets the identity pool credentials used in external
// mode.
func WithPoolCredentials(p aws.CredentialsProvider) ChainOption {
	return func(c *Chain) {
		c.pool = p
	}
}

// WithChainLogger sets the logger.
func WithChainLogger(l logging.Logger) ChainOption {
	return func(c *Chain) {
		c.logger = l
	}
}

// NewChain creates a Chain from its three steps.
func NewChain(signer SubjectSigner, exchanger TokenExchanger, generator AccessTokenGenerator, cfg ChainConfig, opts ...ChainOption) *Chain {
	c := &Chain{
		signer:    signer,
		exchanger: exchanger,
		generator: generator,
		cfg:       cfg,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Refresh implements cloudauth.Refresher by dispatching on the record's
// refresh mode.
func (c *Chain) Refresh(ctx context.Context, info cloudauth.CredInfo) (cloudauth.Token, error) {
	g, ok := info.(*cloudauth.GCPCredInfo)
	if !ok {
		return cloudauth.Token{}, cloudauth.ErrInternal(fmt.Sprintf("gcp pipeline cannot refresh %s credentials", info.Vendor()))
	}
	switch g.RefreshMode {
	case cloudauth.RefreshInternal:
		return c.Internal(ctx, g)
	case cloudauth.RefreshExternal:
		return c.External(ctx, g)
	default:
		return cloudauth.Token{}, cloudauth.ErrConfiguration(fmt.Sprintf("refresh mode %q cannot mint tokens", g.RefreshMode)).
			WithProvider(cloudauth.ProviderGCP)
	}
}

// Internal signs with the workload credentials, exchanges, and makes one
// hop to the record's service account.
func (c *Chain) Internal(ctx context.Context, info *cloudauth.GCPCredInfo) (cloudauth.Token, error) {
	audience := info.Audience
	if audience == "" {
		audience = c.cfg.InternalAudience
	}
	target := info.ServiceAccountEmail
	if target == "" {
		target = c.cfg.InternalServiceAccount
	}
	if audience == "" {
		return cloudauth.Token{}, cloudauth.ErrConfiguration("internal refresh needs an audience").
			WithProvider(cloudauth.ProviderGCP)
	}
	if target == "" {
		return cloudauth.Token{}, cloudauth.ErrConfiguration("internal refresh needs a service account").
			WithProvider(cloudauth.ProviderGCP)
	}
	if c.ambient == nil {
		return cloudauth.Token{}, cloudauth.ErrConfiguration("workload AWS credentials not configured").
			WithProvider(cloudauth.ProviderGCP)
	}

	federated, err := c.federate(ctx, audience, c.ambient)
	if err != nil {
		return cloudauth.Token{}, err
	}
	c.logger.Debug("impersonating", logging.String("service_account", target))
	return c.generator.GenerateAccessToken(ctx, federated, target)
}

// External obtains identity pool credentials, exchanges them against the
// external audience, hops to the bridge account and then to the record's
// service account. It makes no call when the record has no target.
func (c *Chain) External(ctx context.Context, info *cloudauth.GCPCredInfo) (cloudauth.Token, error) {
	if info.ServiceAccountEmail == "" {
		return cloudauth.Token{}, cloudauth.ErrConfiguration("service account email is not set").
			WithProvider(cloudauth.ProviderGCP).
			WithDetail("refresh_mode", string(cloudauth.RefreshExternal))
	}
	bridge := info.BridgeServiceAccount
	if bridge == "" {
		bridge = c.cfg.BridgeServiceAccount
	}
	if bridge == "" || c.cfg.ExternalAudience == "" {
		return cloudauth.Token{}, cloudauth.ErrConfiguration("external federation is not configured").
			WithProvider(cloudauth.ProviderGCP)
	}
	if c.pool == nil {
		return cloudauth.Token{}, cloudauth.ErrConfiguration("identity pool credentials not configured").
			WithProvider(cloudauth.ProviderGCP)
	}

	federated, err := c.federate(ctx, c.cfg.ExternalAudience, c.pool)
	if err != nil {
		return cloudauth.Token{}, err
	}
	c.logger.Debug("impersonating bridge", logging.String("service_account", bridge))
	bridgeTok, err := c.generator.GenerateAccessToken(ctx, federated, bridge)
	if err != nil {
		return cloudauth.Token{}, err
	}
	c.logger.Debug("impersonating", logging.String("service_account", info.ServiceAccountEmail))
	return c.generator.GenerateAccessToken(ctx, bridgeTok.AccessToken, info.ServiceAccountEmail)
}

func (c *Chain) federate(ctx context.Context, audience string, creds aws.CredentialsProvider) (string, error) {
	subject, err := c.signer.CallerIdentityToken(ctx, audience, creds)
	if err != nil {
		return "", err
	}
	return c.exchanger.Exchange(ctx, audience, subject)
}

var _ cloudauth.Refresher = (*Chain)(nil)
