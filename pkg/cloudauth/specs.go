package cloudauth

import (
	"fmt"
	"regexp"
	"strings"
)

// Validate implements CredInfo.
func (c *AWSCredInfo) Validate() error {
	hasKey := c.AccessKeyID != ""
	hasSecret := c.SecretAccessKey != ""
	if hasKey != hasSecret {
		return ErrConfiguration("access_key_id and secret_access_key must be set together").
			WithProvider(ProviderAWS)
	}
	if hasKey && c.Profile != "" {
		return ErrConfiguration("static keys and profile are mutually exclusive").
			WithProvider(ProviderAWS)
	}
	if c.SessionToken != "" && !hasKey {
		return ErrConfiguration("session_token requires access_key_id").
			WithProvider(ProviderAWS)
	}
	return nil
}

// Validate implements CredInfo.
func (c *GCPCredInfo) Validate() error {
	switch c.RefreshMode {
	case RefreshInternal, RefreshExternal, RefreshNone:
	default:
		return ErrConfiguration(fmt.Sprintf("invalid refresh mode %q", c.RefreshMode)).
			WithProvider(ProviderGCP)
	}
	if c.ServiceAccountEmail != "" {
		if err := ValidateGCPServiceAccountEmail(c.ServiceAccountEmail); err != nil {
			return err
		}
	}
	if c.BridgeServiceAccount != "" {
		if err := ValidateGCPServiceAccountEmail(c.BridgeServiceAccount); err != nil {
			return err
		}
	}
	if c.Audience != "" {
		if err := ValidateAudience(c.Audience); err != nil {
			return err
		}
	}
	if c.RefreshMode == RefreshNone && c.Token == "" {
		return ErrConfiguration("refresh_mode none requires a token").WithProvider(ProviderGCP)
	}
	return requireUTC(c.TokenExpiry)
}

// Validate implements CredInfo.
func (c *AzureCredInfo) Validate() error {
	if c.AccountName == "" {
		return ErrConfiguration("account_name is required").WithProvider(ProviderAzure)
	}
	if err := ValidateAzureUUID(c.TenantID); err != nil {
		return err
	}
	if err := ValidateAzureUUID(c.ClientID); err != nil {
		return err
	}
	return nil
}

// Helper functions for identity validation

var (
	gcpSAEmailRegex  = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.iam\.gserviceaccount\.com$`)
	azureUUIDRegex   = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	gcpAudienceRegex = regexp.MustCompile(`^//iam\.googleapis\.com/projects/\d+/locations/global/workloadIdentityPools/[a-z0-9-]+/providers/[a-z0-9-]+$`)
)

// ValidateGCPServiceAccountEmail validates a GCP service account email format.
func ValidateGCPServiceAccountEmail(email string) error {
	if !gcpSAEmailRegex.MatchString(email) {
		return ErrConfiguration(fmt.Sprintf("invalid GCP service account email format: %s", email)).
			WithProvider(ProviderGCP)
	}
	return nil
}

// ValidateAzureUUID validates an Azure UUID format.
func ValidateAzureUUID(id string) error {
	if !azureUUIDRegex.MatchString(id) {
		return ErrConfiguration(fmt.Sprintf("invalid Azure UUID format: %q", id)).
			WithProvider(ProviderAzure)
	}
	return nil
}

// ValidateAudience validates a workload identity provider audience.
func ValidateAudience(aud string) error {
	if !gcpAudienceRegex.MatchString(aud) {
		return ErrConfiguration(fmt.Sprintf("invalid workload identity audience: %s", aud)).
			WithProvider(ProviderGCP).
			WithDetail("hint", "Format: //iam.googleapis.com/projects/{project_number}/locations/global/workloadIdentityPools/{pool_id}/providers/{provider_id}")
	}
	return nil
}

// ValidateURL validates that a string is a valid HTTPS URL.
func ValidateURL(urlStr string) error {
	if !strings.HasPrefix(urlStr, "https://") {
		return ErrConfiguration(fmt.Sprintf("URL must use HTTPS: %s", urlStr))
	}
	return nil
}

// WorkloadAudience builds the audience of a workload identity provider.
func WorkloadAudience(projectNumber, poolID, providerID string) string {
	return fmt.Sprintf("//iam.googleapis.com/projects/%s/locations/global/workloadIdentityPools/%s/providers/%s",
		projectNumber, poolID, providerID)
}
