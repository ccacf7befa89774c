package cloudauth

import (
	"fmt"
	"strings"
	"time"
)

// CloudProvider identifies a cloud service provider.
type CloudProvider string

const (
	ProviderAWS   CloudProvider = "aws"
	ProviderGCP   CloudProvider = "gcp"
	ProviderAzure CloudProvider = "azure"
)

// ValidVendors lists the vendors a credential record or storage session
// may be created for.
var ValidVendors = []CloudProvider{ProviderAWS, ProviderGCP, ProviderAzure}

// ParseProvider converts a vendor tag to a CloudProvider.
func ParseProvider(s string) (CloudProvider, error) {
	p := CloudProvider(strings.ToLower(strings.TrimSpace(s)))
	for _, v := range ValidVendors {
		if p == v {
			return p, nil
		}
	}
	return "", errInvalidVendor(s)
}

func errInvalidVendor(s string) *CloudAuthError {
	return ErrConfiguration(fmt.Sprintf("invalid cloud vendor %q, must be one of %s", s, vendorList())).
		WithDetail("valid", ValidVendors)
}

func vendorList() string {
	names := make([]string, len(ValidVendors))
	for i, v := range ValidVendors {
		names[i] = string(v)
	}
	return "{" + strings.Join(names, ", ") + "}"
}

// RefreshMode selects the GCP federation path.
type RefreshMode string

const (
	// RefreshInternal impersonates the target service account in one hop.
	RefreshInternal RefreshMode = "internal"
	// RefreshExternal impersonates a bridge service account, then the target.
	RefreshExternal RefreshMode = "external"
	// RefreshNone disables refresh; the caller-supplied token is used as is.
	RefreshNone RefreshMode = "none"
)

// ParseRefreshMode converts a string to a RefreshMode. Empty means none.
func ParseRefreshMode(s string) (RefreshMode, error) {
	switch RefreshMode(strings.ToLower(s)) {
	case RefreshInternal:
		return RefreshInternal, nil
	case RefreshExternal:
		return RefreshExternal, nil
	case RefreshNone, "":
		return RefreshNone, nil
	default:
		return "", ErrConfiguration(fmt.Sprintf("invalid refresh mode %q", s))
	}
}

// InfraType identifies the hosting infrastructure of the running workload.
type InfraType string

const (
	InfraNarwhal InfraType = "narwhal"
	InfraGiver   InfraType = "giver"
)

// Token is an access token together with its expiry.
//
// GCP tokens carry Expiry (UTC). Azure tokens carry ExpiresOn as Unix epoch
// seconds. The two conventions are kept apart on purpose; use the field that
// matches the vendor.
type Token struct {
	AccessToken string
	Expiry      time.Time
	ExpiresOn   int64
}

// State is the refresh state of a credential record.
type State int

const (
	StateFresh State = iota
	StateExpired
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

