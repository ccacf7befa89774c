// Package accounts looks up per-client cloud account metadata used to set up
// multi-cloud storage.
package accounts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/anirudhbiyani/crossfed/pkg/cloudauth"
	"github.com/anirudhbiyani/crossfed/pkg/logging"
)

const (
	// DefaultURLSecret holds the directory base URL when none is configured.
	DefaultURLSecret = "ACCOUNTS_BASE_URL"
	// DefaultAPIKeySecret holds the directory API key.
	DefaultAPIKeySecret = "ACCOUNTS_API_KEY"

	maxErrorBody = 4096
)

// Account is one cloud account entry for a client. Which fields are set
// depends on Type.
type Account struct {
	Type                string `json:"type"`
	ServiceAccountEmail string `json:"serviceAccountEmail,omitempty"`
	TenantID            string `json:"cloudProviderTenantId,omitempty"`
	ClientID            string `json:"cloudProviderClientId,omitempty"`
	// Prefix is the Azure storage account name.
	Prefix string `json:"prefix,omitempty"`
}

type accountsResponse struct {
	Data []Account `json:"data"`
}

// AzureAccount identifies a client's Azure application and storage account.
type AzureAccount struct {
	TenantID    string
	ClientID    string
	AccountName string
}

// Client queries the accounts directory.
type Client struct {
	baseURL      string
	urlSecret    string
	apiKeySecret string
	secrets      cloudauth.SecretGetter
	http         *http.Client
	logger       logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL fixes the directory URL instead of reading it from a secret.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithAPIKeySecret names the secret holding the API key.
func WithAPIKeySecret(name string) Option {
	return func(c *Client) {
		c.apiKeySecret = name
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a directory client that reads its credentials from
// secrets.
func NewClient(secrets cloudauth.SecretGetter, opts ...Option) *Client {
	c := &Client{
		urlSecret:    DefaultURLSecret,
		apiKeySecret: DefaultAPIKeySecret,
		secrets:      secrets,
		http:         http.DefaultClient,
		logger:       logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Accounts returns every cloud account registered for clientID.
func (c *Client) Accounts(ctx context.Context, clientID string) ([]Account, error) {
	if clientID == "" {
		return nil, cloudauth.ErrConfiguration("client id is required")
	}
	base, err := c.base(ctx)
	if err != nil {
		return nil, err
	}
	key, err := c.secrets.GetSecret(ctx, c.apiKeySecret)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/api/clients/%s/cloud-providers/info", base, url.PathEscape(clientID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, cloudauth.ErrConfiguration("invalid accounts URL").WithCause(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", key)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, cloudauth.ErrNetwork("accounts directory request failed").
			WithOperation("GetAccounts").
			WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if resp.StatusCode == http.StatusNotFound {
			return nil, cloudauth.ErrNotFound("client", clientID)
		}
		return nil, cloudauth.ErrFederation(fmt.Sprintf("accounts directory returned status %d", resp.StatusCode)).
			WithOperation("GetAccounts").
			WithResponse(resp.StatusCode, string(body))
	}

	var out accountsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, cloudauth.ErrFederation("accounts directory returned a malformed response").
			WithOperation("GetAccounts").
			WithCause(err)
	}
	c.logger.Debug("accounts fetched", logging.String("client_id", clientID), logging.Int("count", len(out.Data)))
	return out.Data, nil
}

// GCPServiceAccount returns the service account email registered for
// clientID.
func (c *Client) GCPServiceAccount(ctx context.Context, clientID string) (string, error) {
	accts, err := c.Accounts(ctx, clientID)
	if err != nil {
		return "", err
	}
	for _, a := range accts {
		if a.Type == string(cloudauth.ProviderGCP) && a.ServiceAccountEmail != "" {
			return a.ServiceAccountEmail, nil
		}
	}
	return "", cloudauth.ErrNotFound("gcp account", clientID).WithProvider(cloudauth.ProviderGCP)
}

// Azure returns the Azure application and storage account registered for
// clientID.
func (c *Client) Azure(ctx context.Context, clientID string) (*AzureAccount, error) {
	accts, err := c.Accounts(ctx, clientID)
	if err != nil {
		return nil, err
	}
	for _, a := range accts {
		if a.Type == string(cloudauth.ProviderAzure) {
			return &AzureAccount{TenantID: a.TenantID, ClientID: a.ClientID, AccountName: a.Prefix}, nil
		}
	}
	return nil, cloudauth.ErrNotFound("azure account", clientID).WithProvider(cloudauth.ProviderAzure)
}

func (c *Client) base(ctx context.Context) (string, error) {
	if c.baseURL != "" {
		return c.baseURL, nil
	}
	u, err := c.secrets.GetSecret(ctx, c.urlSecret)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(u, "/"), nil
}
