// Package federation wires configuration, secrets, refresh pipelines and
// storage backends into a single engine.
package federation

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentity"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/anirudhbiyani/crossfed/pkg/accounts"
	"github.com/anirudhbiyani/crossfed/pkg/cloudauth"
	"github.com/anirudhbiyani/crossfed/pkg/config"
	"github.com/anirudhbiyani/crossfed/pkg/logging"
	awsfed "github.com/anirudhbiyani/crossfed/pkg/providers/aws"
	"github.com/anirudhbiyani/crossfed/pkg/providers/azure"
	"github.com/anirudhbiyani/crossfed/pkg/providers/gcp"
	"github.com/anirudhbiyani/crossfed/pkg/secrets"
	"github.com/anirudhbiyani/crossfed/pkg/transport"
)

// Engine owns the credential lifecycle of one workload. Create it with
// NewEngine and call Setup before use.
type Engine struct {
	cfg    *config.Config
	logger logging.Logger
	http   *http.Client
	now    func() time.Time

	secrets    cloudauth.SecretGetter
	ambient    aws.CredentialsProvider
	cognito    awsfed.CognitoAPI
	refreshers map[cloudauth.CloudProvider]cloudauth.Refresher
	registry   *cloudauth.Registry

	gate     *cloudauth.RefreshGate
	factory  *cloudauth.StorageFactory
	accounts *accounts.Client

	descriptor *cloudauth.InfraDescriptor
	internal   *cloudauth.CredentialRecord
}

// Option configures an Engine.
type Option func(*Engine)

// WithHTTPClient sets the client used for every federation call.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) {
		e.http = c
	}
}

// WithSecrets replaces the configured secret source.
func WithSecrets(s cloudauth.SecretGetter) Option {
	return func(e *Engine) {
		e.secrets = s
	}
}

// WithAmbientCredentials sets the workload AWS credentials instead of
// resolving them from the default chain.
func WithAmbientCredentials(p aws.CredentialsProvider) Option {
	return func(e *Engine) {
		e.ambient = p
	}
}

// WithCognitoClient sets the identity pool client.
func WithCognitoClient(c awsfed.CognitoAPI) Option {
	return func(e *Engine) {
		e.cognito = c
	}
}

// WithRefresher replaces a vendor's refresh pipeline.
func WithRefresher(p cloudauth.CloudProvider, r cloudauth.Refresher) Option {
	return func(e *Engine) {
		e.refreshers[p] = r
	}
}

// WithRegistry sets the storage backend registry.
func WithRegistry(r *cloudauth.Registry) Option {
	return func(e *Engine) {
		e.registry = r
	}
}

// WithClock sets the time source for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine builds an engine from cfg. No network call is made until Setup
// or a token is needed.
func NewEngine(cfg *config.Config, logger logging.Logger, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, cloudauth.ErrConfiguration("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	e := &Engine{
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		refreshers: make(map[cloudauth.CloudProvider]cloudauth.Refresher),
		registry:   cloudauth.DefaultRegistry,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.http == nil {
		e.http = transport.NewClient(cfg.HTTP.Timeout)
	}
	if e.cognito == nil {
		e.cognito = cognitoidentity.New(cognitoidentity.Options{
			Region:      cfg.Cognito.Region,
			Credentials: aws.CredentialsProviderFunc(e.ambientCredentials),
			HTTPClient:  e.http,
		})
	}

	pool := awsfed.NewIdentityPool(e.cognito, cloudauth.SecretGetterFunc(e.GetSecret),
		awsfed.WithPoolSecrets(cfg.Cognito.PoolIDSecret, cfg.Cognito.LoginsSecret),
		awsfed.WithPoolLogger(logger.With(logging.String("component", "identity_pool"))))

	if _, ok := e.refreshers[cloudauth.ProviderGCP]; !ok {
		e.refreshers[cloudauth.ProviderGCP] = gcp.NewChain(
			awsfed.NewSigner(awsfed.WithLogger(logger.With(logging.String("component", "signer")))),
			gcp.NewExchanger(e.http,
				gcp.WithExchangeEndpoint(cfg.Endpoints.GCPSTS),
				gcp.WithExchangeLogger(logger.With(logging.String("component", "sts")))),
			gcp.NewImpersonator(e.http,
				gcp.WithIAMEndpoint(cfg.Endpoints.IAMCredentials),
				gcp.WithDebugLifetime(cfg.Debug),
				gcp.WithImpersonatorLogger(logger.With(logging.String("component", "iamcredentials")))),
			gcp.ChainConfig{
				InternalServiceAccount: cfg.Federation.InternalServiceAccount,
				BridgeServiceAccount:   cfg.Federation.BridgeServiceAccount,
				ExternalAudience:       cfg.Federation.ExternalAudience,
			},
			gcp.WithAmbientCredentials(aws.CredentialsProviderFunc(e.ambientCredentials)),
			gcp.WithPoolCredentials(aws.NewCredentialsCache(pool.CredentialsProvider())),
			gcp.WithChainLogger(logger.With(logging.String("component", "chain"))),
		)
	}
	if _, ok := e.refreshers[cloudauth.ProviderAzure]; !ok {
		e.refreshers[cloudauth.ProviderAzure] = azure.NewBridge(pool,
			azure.WithHTTPClient(e.http),
			azure.WithLogger(logger.With(logging.String("component", "azure_bridge"))))
	}

	gateOpts := []cloudauth.GateOption{
		cloudauth.WithClock(e.now),
		cloudauth.WithGateLogger(logger.With(logging.String("component", "gate"))),
	}
	for p, r := range e.refreshers {
		gateOpts = append(gateOpts, cloudauth.WithRefresher(p, r))
	}
	e.gate = cloudauth.NewRefreshGate(gateOpts...)

	e.factory = cloudauth.NewStorageFactory(e.gate,
		cloudauth.WithRegistry(e.registry),
		cloudauth.WithHTTPClient(e.http),
		cloudauth.WithFactoryLogger(logger.With(logging.String("component", "storage"))))

	acctOpts := []accounts.Option{
		accounts.WithAPIKeySecret(cfg.Accounts.APIKeySecret),
		accounts.WithHTTPClient(transport.NewRetryingClient(cfg.HTTP.Timeout, cfg.Accounts.Retries, logger)),
		accounts.WithLogger(logger.With(logging.String("component", "accounts"))),
	}
	if cfg.Accounts.URL != "" {
		acctOpts = append(acctOpts, accounts.WithBaseURL(cfg.Accounts.URL))
	}
	e.accounts = accounts.NewClient(cloudauth.SecretGetterFunc(e.GetSecret), acctOpts...)

	return e, nil
}

// Setup reads the infra descriptor and, when present, builds and refreshes
// the internal GCP record that authenticates secret lookups. Without a
// descriptor the engine runs with ambient credentials only.
func (e *Engine) Setup(ctx context.Context) error {
	if e.ambient == nil {
		creds, err := awsfed.CredentialsFor(ctx, &cloudauth.AWSCredInfo{
			Profile: e.cfg.AWS.Profile,
			Region:  e.cfg.AWS.Region,
		})
		if err != nil {
			return err
		}
		e.ambient = creds
	}

	d, err := cloudauth.LoadInfraDescriptor(e.cfg.DescriptorPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		e.logger.Warn("no infra descriptor; internal federation disabled",
			logging.String("path", e.cfg.DescriptorPath))
	case err != nil:
		return err
	default:
		e.descriptor = d
		rec, err := cloudauth.NewCredentialRecord(&cloudauth.GCPCredInfo{
			Audience:            d.Audience(e.cfg.Federation.PoolProjectNumber, e.cfg.Federation.PoolID),
			ServiceAccountEmail: e.cfg.Federation.InternalServiceAccount,
			Project:             e.cfg.Secrets.Project,
			RefreshMode:         cloudauth.RefreshInternal,
		})
		if err != nil {
			return err
		}
		e.internal = rec
	}

	if e.secrets == nil {
		e.secrets = e.newSecretSource()
	}

	if e.internal != nil {
		if _, err := e.gate.Ensure(ctx, e.internal); err != nil {
			return err
		}
		e.logger.Info("engine ready",
			logging.String("infra", string(e.descriptor.InfraType)),
			logging.String("cloud", string(e.descriptor.Cloud)))
	}
	return nil
}

func (e *Engine) newSecretSource() cloudauth.SecretGetter {
	var src cloudauth.SecretGetter
	switch e.cfg.Secrets.Source {
	case "env":
		src = secrets.NewEnv()
	default:
		opts := []gcp.SecretManagerOption{
			gcp.WithSecretEndpoint(e.cfg.Endpoints.SecretManager),
			gcp.WithSecretLogger(e.logger.With(logging.String("component", "secrets"))),
		}
		if e.internal != nil {
			opts = append(opts,
				gcp.WithSecretRecord(e.gate, e.internal),
				gcp.WithSecretHTTPClient(e.http))
		}
		src = gcp.NewSecretManager(e.cfg.Secrets.Project, opts...)
	}
	return secrets.NewCached(src, e.cfg.Secrets.CacheSize, e.cfg.Secrets.CacheTTL, e.logger)
}

// GetSecret implements cloudauth.SecretGetter over the configured source.
func (e *Engine) GetSecret(ctx context.Context, name string) (string, error) {
	if e.secrets == nil {
		return "", cloudauth.ErrConfiguration("secret source is not set up; call Setup first")
	}
	return e.secrets.GetSecret(ctx, name)
}

// Descriptor returns the infra descriptor, or nil when none was found.
func (e *Engine) Descriptor() *cloudauth.InfraDescriptor {
	return e.descriptor
}

// Internal returns the internal GCP record, or nil without a descriptor.
func (e *Engine) Internal() *cloudauth.CredentialRecord {
	return e.internal
}

// Gate returns the engine's refresh gate.
func (e *Engine) Gate() *cloudauth.RefreshGate {
	return e.gate
}

// NewRecord validates info and wraps it in a record. Internal GCP records
// without an audience get the descriptor's.
func (e *Engine) NewRecord(info cloudauth.CredInfo) (*cloudauth.CredentialRecord, error) {
	if g, ok := info.(*cloudauth.GCPCredInfo); ok && g.RefreshMode == cloudauth.RefreshInternal && g.Audience == "" && e.descriptor != nil {
		cp := *g
		cp.Audience = e.descriptor.Audience(e.cfg.Federation.PoolProjectNumber, e.cfg.Federation.PoolID)
		info = &cp
	}
	return cloudauth.NewCredentialRecord(info)
}

// Token returns a fresh token for rec. A nil rec means the internal record.
func (e *Engine) Token(ctx context.Context, rec *cloudauth.CredentialRecord) (cloudauth.Token, error) {
	if rec == nil {
		rec = e.internal
	}
	if rec == nil {
		return cloudauth.Token{}, cloudauth.ErrConfiguration("no credential record and no internal record").
			WithProvider(cloudauth.ProviderGCP)
	}
	return e.gate.Token(ctx, rec)
}

// AzureToken obtains an Azure storage token for an application without
// tracking it in a record.
func (e *Engine) AzureToken(ctx context.Context, tenantID, clientID, clientSecret string) (cloudauth.Token, error) {
	if err := cloudauth.ValidateAzureUUID(tenantID); err != nil {
		return cloudauth.Token{}, err
	}
	if err := cloudauth.ValidateAzureUUID(clientID); err != nil {
		return cloudauth.Token{}, err
	}
	return e.refreshers[cloudauth.ProviderAzure].Refresh(ctx, &cloudauth.AzureCredInfo{
		TenantID:     tenantID,
		ClientID:     clientID,
		ClientSecret: clientSecret,
	})
}

// OpenStorage opens a storage session for rec.
func (e *Engine) OpenStorage(ctx context.Context, vendor string, rec *cloudauth.CredentialRecord) (*cloudauth.StorageSession, error) {
	return e.factory.New(ctx, vendor, rec)
}

// Whoami reports the AWS principal behind the workload credentials.
func (e *Engine) Whoami(ctx context.Context) (*awsfed.Identity, error) {
	client := sts.New(sts.Options{
		Region:      e.cfg.AWS.Region,
		Credentials: aws.CredentialsProviderFunc(e.ambientCredentials),
		HTTPClient:  e.http,
	})
	return awsfed.CallerIdentity(ctx, client)
}

// Validate runs the registered health checks plus the token checks on rec.
func (e *Engine) Validate(ctx context.Context, rec *cloudauth.CredentialRecord) *cloudauth.ValidationReport {
	validators := cloudauth.DefaultValidators.ForVendor(rec.Vendor())
	if rec.Vendor() != cloudauth.ProviderAWS {
		validators = append(validators,
			cloudauth.NewTokenStateValidator(e.gate),
			cloudauth.NewTokenAcquisitionValidator(e.gate))
	}
	return cloudauth.RunValidation(ctx, rec, validators)
}

func (e *Engine) ambientCredentials(ctx context.Context) (aws.Credentials, error) {
	if e.ambient == nil {
		return aws.Credentials{}, cloudauth.ErrConfiguration("workload AWS credentials are not set up; call Setup first").
			WithProvider(cloudauth.ProviderAWS)
	}
	return e.ambient.Retrieve(ctx)
}

var _ cloudauth.SecretGetter = (*Engine)(nil)
