package gcp

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	secretmanager "google.golang.org/api/secretmanager/v1"

	"github.com/anirudhbiyani/crossfed/pkg/cloudauth"
	"github.com/anirudhbiyani/crossfed/pkg/logging"
)

// SecretManager reads the latest version of named secrets from one project.
// When built with a credential record it authenticates with that record's
// token, refreshed through the gate; otherwise it uses application default
// credentials.
type SecretManager struct {
	project  string
	gate     *cloudauth.RefreshGate
	rec      *cloudauth.CredentialRecord
	client   *http.Client
	tokens   oauth2.TokenSource
	endpoint string
	logger   logging.Logger
}

// SecretManagerOption configures a SecretManager.
type SecretManagerOption func(*SecretManager)

// WithSecretRecord authenticates with rec, kept fresh by gate.
func WithSecretRecord(gate *cloudauth.RefreshGate, rec *cloudauth.CredentialRecord) SecretManagerOption {
	return func(s *SecretManager) {
		s.gate = gate
		s.rec = rec
	}
}

// WithSecretHTTPClient sets the base HTTP client.
func WithSecretHTTPClient(c *http.Client) SecretManagerOption {
	return func(s *SecretManager) {
		s.client = c
	}
}

// WithSecretTokenSource authenticates lookups made without a record.
// Defaults to application default credentials.
func WithSecretTokenSource(ts oauth2.TokenSource) SecretManagerOption {
	return func(s *SecretManager) {
		s.tokens = ts
	}
}

// WithSecretEndpoint overrides the Secret Manager base URL.
func WithSecretEndpoint(endpoint string) SecretManagerOption {
	return func(s *SecretManager) {
		s.endpoint = endpoint
	}
}

// WithSecretLogger sets the logger.
func WithSecretLogger(l logging.Logger) SecretManagerOption {
	return func(s *SecretManager) {
		s.logger = l
	}
}

// NewSecretManager creates a SecretManager for project.
func NewSecretManager(project string, opts ...SecretManagerOption) *SecretManager {
	s := &SecretManager{
		project: project,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetSecret implements cloudauth.SecretGetter.
func (s *SecretManager) GetSecret(ctx context.Context, name string) (string, error) {
	if s.project == "" {
		return "", cloudauth.ErrConfiguration("secret project is not set").WithProvider(cloudauth.ProviderGCP)
	}
	if name == "" {
		return "", cloudauth.ErrConfiguration("secret name is required").WithProvider(cloudauth.ProviderGCP)
	}

	svc, err := s.service(ctx)
	if err != nil {
		return "", err
	}

	path := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", s.project, name)
	resp, err := svc.Projects.Secrets.Versions.Access(path).Context(ctx).Do()
	if err != nil {
		if isNotFound(err) {
			return "", cloudauth.ErrNotFound("secret", name).WithProvider(cloudauth.ProviderGCP)
		}
		return "", classify("AccessSecretVersion", err)
	}
	if resp.Payload == nil {
		return "", cloudauth.ErrFederation("secret version has no payload").
			WithProvider(cloudauth.ProviderGCP).
			WithDetail("secret", name)
	}

	data, err := base64.StdEncoding.DecodeString(resp.Payload.Data)
	if err != nil {
		return "", cloudauth.ErrFederation("secret payload is not valid base64").
			WithProvider(cloudauth.ProviderGCP).
			WithDetail("secret", name).
			WithCause(err)
	}
	s.logger.Debug("secret read", logging.String("secret", name))
	return string(data), nil
}

func (s *SecretManager) service(ctx context.Context) (*secretmanager.Service, error) {
	var opts []option.ClientOption
	switch {
	case s.rec != nil:
		tok, err := s.gate.Token(ctx, s.rec)
		if err != nil {
			return nil, err
		}
		opts = clientOptions(bearerClient(s.client, tok.AccessToken), s.endpoint)
	case s.client != nil:
		// A caller supplied client carries no credentials of its own.
		ts := s.tokens
		if ts == nil {
			var err error
			if ts, err = google.DefaultTokenSource(ctx, DefaultScope); err != nil {
				return nil, cloudauth.ErrConfiguration("no credentials for Secret Manager").
					WithProvider(cloudauth.ProviderGCP).
					WithCause(err)
			}
		}
		opts = clientOptions(sourceClient(s.client, ts), s.endpoint)
	default:
		opts = []option.ClientOption{option.WithScopes(DefaultScope)}
		if s.tokens != nil {
			opts = []option.ClientOption{option.WithTokenSource(s.tokens)}
		}
		if s.endpoint != "" {
			opts = append(opts, option.WithEndpoint(s.endpoint))
		}
	}

	svc, err := secretmanager.NewService(ctx, opts...)
	if err != nil {
		return nil, cloudauth.ErrConfiguration("failed to create Secret Manager client").
			WithProvider(cloudauth.ProviderGCP).
			WithCause(err)
	}
	return svc, nil
}

var _ cloudauth.SecretGetter = (*SecretManager)(nil)
