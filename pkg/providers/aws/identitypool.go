package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentity"
	"github.com/aws/smithy-go"

	"github.com/anirudhbiyani/crossfed/pkg/cloudauth"
	"github.com/anirudhbiyani/crossfed/pkg/logging"
)

const cognitoLoginProvider = "cognito-identity.amazonaws.com"

// CognitoAPI abstracts the Cognito identity operations used by IdentityPool.
type CognitoAPI interface {
	GetOpenIdTokenForDeveloperIdentity(ctx context.Context, params *cognitoidentity.GetOpenIdTokenForDeveloperIdentityInput, optFns ...func(*cognitoidentity.Options)) (*cognitoidentity.GetOpenIdTokenForDeveloperIdentityOutput, error)
	GetCredentialsForIdentity(ctx context.Context, params *cognitoidentity.GetCredentialsForIdentityInput, optFns ...func(*cognitoidentity.Options)) (*cognitoidentity.GetCredentialsForIdentityOutput, error)
}

// IdentityPool exchanges the workload's developer identity for an OpenID
// token or for temporary AWS credentials.
type IdentityPool struct {
	client       CognitoAPI
	secrets      cloudauth.SecretGetter
	poolIDSecret string
	loginsSecret string
	logger       logging.Logger
}

// PoolOption configures an IdentityPool.
type PoolOption func(*IdentityPool)

// WithPoolSecrets names the secrets holding the pool ID and the login map.
func WithPoolSecrets(poolID, logins string) PoolOption {
	return func(p *IdentityPool) {
		p.poolIDSecret = poolID
		p.loginsSecret = logins
	}
}

// WithPoolLogger sets the logger.
func WithPoolLogger(l logging.Logger) PoolOption {
	return func(p *IdentityPool) {
		p.logger = l
	}
}

// NewIdentityPool creates an IdentityPool.
func NewIdentityPool(client CognitoAPI, secrets cloudauth.SecretGetter, opts ...PoolOption) *IdentityPool {
	p := &IdentityPool{
		client:       client,
		secrets:      secrets,
		poolIDSecret: "AWS_COGNITO_POOL_ID",
		loginsSecret: "AWS_COGNITO_LOGINS",
		logger:       logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewCognitoClient builds a Cognito client from cfg, overriding the region.
func NewCognitoClient(cfg aws.Config, region string) *cognitoidentity.Client {
	return cognitoidentity.NewFromConfig(cfg, func(o *cognitoidentity.Options) {
		if region != "" {
			o.Region = region
		}
	})
}

// OpenIDToken returns an OpenID token for the developer identity.
func (p *IdentityPool) OpenIDToken(ctx context.Context) (string, error) {
	_, token, err := p.openID(ctx)
	return token, err
}

// Credentials returns temporary AWS credentials for the developer identity.
func (p *IdentityPool) Credentials(ctx context.Context) (aws.Credentials, error) {
	identityID, token, err := p.openID(ctx)
	if err != nil {
		return aws.Credentials{}, err
	}

	out, err := p.client.GetCredentialsForIdentity(ctx, &cognitoidentity.GetCredentialsForIdentityInput{
		IdentityId: aws.String(identityID),
		Logins:     map[string]string{cognitoLoginProvider: token},
	})
	if err != nil {
		return aws.Credentials{}, upstreamError("GetCredentialsForIdentity", err)
	}
	c := out.Credentials
	if c == nil || aws.ToString(c.AccessKeyId) == "" || aws.ToString(c.SecretKey) == "" {
		return aws.Credentials{}, cloudauth.ErrFederation("identity pool returned no credentials").
			WithProvider(cloudauth.ProviderAWS).
			WithOperation("GetCredentialsForIdentity")
	}

	creds := aws.Credentials{
		AccessKeyID:     aws.ToString(c.AccessKeyId),
		SecretAccessKey: aws.ToString(c.SecretKey),
		SessionToken:    aws.ToString(c.SessionToken),
		Source:          "CognitoIdentity",
	}
	if c.Expiration != nil {
		creds.CanExpire = true
		creds.Expires = c.Expiration.UTC()
	}
	return creds, nil
}

// CredentialsProvider adapts Credentials to aws.CredentialsProvider.
func (p *IdentityPool) CredentialsProvider() aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(p.Credentials)
}

func (p *IdentityPool) openID(ctx context.Context) (identityID, token string, err error) {
	poolID, err := p.secrets.GetSecret(ctx, p.poolIDSecret)
	if err != nil {
		return "", "", err
	}
	rawLogins, err := p.secrets.GetSecret(ctx, p.loginsSecret)
	if err != nil {
		return "", "", err
	}
	var logins map[string]string
	if err := json.Unmarshal([]byte(rawLogins), &logins); err != nil || len(logins) == 0 {
		return "", "", cloudauth.ErrConfiguration("identity pool login map must be a non-empty JSON object").
			WithProvider(cloudauth.ProviderAWS).
			WithDetail("secret", p.loginsSecret)
	}

	out, err := p.client.GetOpenIdTokenForDeveloperIdentity(ctx, &cognitoidentity.GetOpenIdTokenForDeveloperIdentityInput{
		IdentityPoolId: aws.String(poolID),
		Logins:         logins,
	})
	if err != nil {
		return "", "", upstreamError("GetOpenIdTokenForDeveloperIdentity", err)
	}
	if aws.ToString(out.Token) == "" || aws.ToString(out.IdentityId) == "" {
		return "", "", cloudauth.ErrFederation("identity pool returned no token").
			WithProvider(cloudauth.ProviderAWS).
			WithOperation("GetOpenIdTokenForDeveloperIdentity")
	}

	p.logger.Debug("identity pool token issued", logging.String("identity_id", aws.ToString(out.IdentityId)))
	return aws.ToString(out.IdentityId), aws.ToString(out.Token), nil
}

// upstreamError classifies an SDK error. Service errors are federation
// failures carrying the service's message; anything else is transient.
func upstreamError(op string, err error) error {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return cloudauth.ErrFederation(fmt.Sprintf("%s failed", op)).
			WithProvider(cloudauth.ProviderAWS).
			WithOperation(op).
			WithResponse(0, fmt.Sprintf("%s: %s", ae.ErrorCode(), ae.ErrorMessage()))
	}
	return cloudauth.ErrNetwork(fmt.Sprintf("%s failed", op)).
		WithProvider(cloudauth.ProviderAWS).
		WithOperation(op).
		WithCause(err)
}
