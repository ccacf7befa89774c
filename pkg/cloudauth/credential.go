package cloudauth

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// CredInfo is the per-vendor payload of a CredentialRecord. It is a closed
// set: *AWSCredInfo, *GCPCredInfo and *AzureCredInfo are the only
// implementations, and consumers switch over them exhaustively.
type CredInfo interface {
	// Vendor returns the cloud the credential belongs to.
	Vendor() CloudProvider

	// Validate checks the static fields.
	Validate() error

	clone() CredInfo
}

// AWSCredInfo holds static AWS credentials or a named profile. AWS
// credentials are not expiry tracked.
type AWSCredInfo struct {
	AccessKeyID     string `json:"access_key_id,omitempty" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty" yaml:"secret_access_key,omitempty"`
	// SessionToken marks temporary credentials. These expire even though
	// the record does not track them.
	SessionToken string `json:"session_token,omitempty" yaml:"session_token,omitempty"`
	Profile      string `json:"profile,omitempty" yaml:"profile,omitempty"`
	Region       string `json:"region,omitempty" yaml:"region,omitempty"`
}

// GCPCredInfo describes a federated GCP credential and the live token.
type GCPCredInfo struct {
	// ServiceAccountEmail is the final impersonation target.
	ServiceAccountEmail string `json:"service_account_email,omitempty" yaml:"service_account_email,omitempty"`

	// Audience is the workload identity provider resource name.
	Audience string `json:"audience,omitempty" yaml:"audience,omitempty"`

	// Project is used by storage clients that need a billing project.
	Project string `json:"project,omitempty" yaml:"project,omitempty"`

	RefreshMode RefreshMode `json:"refresh_mode" yaml:"refresh_mode"`

	// BridgeServiceAccount overrides the configured bridge account for
	// external mode.
	BridgeServiceAccount string `json:"bridge_service_account,omitempty" yaml:"bridge_service_account,omitempty"`

	Token       string    `json:"-" yaml:"-"`
	TokenExpiry time.Time `json:"-" yaml:"-"`
}

// AzureCredInfo describes an Azure storage credential.
type AzureCredInfo struct {
	AccountName  string `json:"account_name" yaml:"account_name"`
	TenantID     string `json:"tenant_id" yaml:"tenant_id"`
	ClientID     string `json:"client_id" yaml:"client_id"`
	ClientSecret string `json:"client_secret,omitempty" yaml:"client_secret,omitempty"`

	Token string `json:"-" yaml:"-"`
	// ExpiresOn is Unix epoch seconds.
	ExpiresOn int64 `json:"-" yaml:"-"`
}

// Vendor implements CredInfo.
func (*AWSCredInfo) Vendor() CloudProvider { return ProviderAWS }

// Vendor implements CredInfo.
func (*GCPCredInfo) Vendor() CloudProvider { return ProviderGCP }

// Vendor implements CredInfo.
func (*AzureCredInfo) Vendor() CloudProvider { return ProviderAzure }

func (c *AWSCredInfo) clone() CredInfo   { cp := *c; return &cp }
func (c *GCPCredInfo) clone() CredInfo   { cp := *c; return &cp }
func (c *AzureCredInfo) clone() CredInfo { cp := *c; return &cp }

// CredentialRecord owns one credential and its live token. The token and
// its expiry only change together, through a successful refresh.
type CredentialRecord struct {
	mu         sync.RWMutex
	info       CredInfo
	generation uint64

	// flight collapses concurrent refreshes of this record.
	flight singleflight.Group
}

// NewCredentialRecord validates info and wraps a private copy of it.
func NewCredentialRecord(info CredInfo) (*CredentialRecord, error) {
	if info == nil {
		return nil, ErrConfiguration("credential info is required")
	}
	if err := info.Validate(); err != nil {
		return nil, err
	}
	return &CredentialRecord{info: info.clone()}, nil
}

// Vendor returns the record's cloud.
func (r *CredentialRecord) Vendor() CloudProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.info.Vendor()
}

// Info returns a copy of the record's payload.
func (r *CredentialRecord) Info() CredInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.info.clone()
}

// Generation counts successful refreshes. Handles built from the record
// compare it to detect a token change.
func (r *CredentialRecord) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// Current returns the held token without checking freshness. AWS records
// return an empty token.
func (r *CredentialRecord) Current() Token {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch info := r.info.(type) {
	case *GCPCredInfo:
		return Token{AccessToken: info.Token, Expiry: info.TokenExpiry}
	case *AzureCredInfo:
		return Token{AccessToken: info.Token, ExpiresOn: info.ExpiresOn}
	case *AWSCredInfo:
		return Token{}
	default:
		panic(fmt.Sprintf("cloudauth: unknown credential type %T", info))
	}
}

// SetTargetServiceAccount sets the final impersonation target of a GCP
// record. It is the only field callers may change after construction.
func (r *CredentialRecord) SetTargetServiceAccount(email string) error {
	if err := ValidateGCPServiceAccountEmail(email); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.info.(*GCPCredInfo)
	if !ok {
		return ErrConfiguration("target service account only applies to gcp credentials").
			WithProvider(r.info.Vendor())
	}
	info.ServiceAccountEmail = email
	return nil
}

// commit writes a refreshed token. Nothing is written if tok is invalid
// for the vendor.
func (r *CredentialRecord) commit(tok Token) error {
	if tok.AccessToken == "" {
		return ErrFederation("refresh returned an empty access token")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	switch info := r.info.(type) {
	case *GCPCredInfo:
		if err := requireUTC(tok.Expiry); err != nil {
			return err
		}
		info.Token, info.TokenExpiry = tok.AccessToken, tok.Expiry
	case *AzureCredInfo:
		info.Token, info.ExpiresOn = tok.AccessToken, tok.ExpiresOn
	case *AWSCredInfo:
		return ErrInternal("aws credentials are not refreshed")
	default:
		panic(fmt.Sprintf("cloudauth: unknown credential type %T", info))
	}
	r.generation++
	return nil
}

// requireUTC rejects timestamps whose location is not UTC.
func requireUTC(t time.Time) error {
	if t.Location() != time.UTC {
		name, off := t.Zone()
		return ErrConfiguration("token expiry must be expressed in UTC").
			WithDetail("zone", name).
			WithDetail("offset_seconds", off)
	}
	return nil
}

// ParseExpiry parses an RFC 3339 expiry and requires a zero UTC offset.
func ParseExpiry(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, ErrFederation(fmt.Sprintf("malformed expiry %q", s)).WithCause(err)
	}
	if _, off := t.Zone(); off != 0 {
		return time.Time{}, ErrConfiguration(fmt.Sprintf("expiry %q is not in UTC", s))
	}
	return t.UTC(), nil
}
