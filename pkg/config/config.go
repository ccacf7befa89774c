// Package config loads the engine configuration from a YAML file and
// CROSSFED_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/anirudhbiyani/crossfed/pkg/cloudauth"
)

// Config is the full engine configuration.
type Config struct {
	Log            LogConfig        `yaml:"log"`
	HTTP           HTTPConfig       `yaml:"http"`
	Debug          bool             `yaml:"debug"`
	DescriptorPath string           `yaml:"descriptor_path"`
	Federation     FederationConfig `yaml:"federation"`
	Endpoints      EndpointConfig   `yaml:"endpoints"`
	Cognito        CognitoConfig    `yaml:"cognito"`
	Secrets        SecretsConfig    `yaml:"secrets"`
	AWS            AWSConfig        `yaml:"aws"`
	Accounts       AccountsConfig   `yaml:"accounts"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// HTTPConfig bounds outbound calls.
type HTTPConfig struct {
	// Timeout applies to each HTTP call, not to a whole pipeline.
	Timeout time.Duration `yaml:"timeout"`
}

// FederationConfig names the pools and service accounts used for
// workload identity federation.
type FederationConfig struct {
	PoolProjectNumber      string `yaml:"pool_project_number"`
	PoolID                 string `yaml:"pool_id"`
	InternalServiceAccount string `yaml:"internal_service_account"`
	BridgeServiceAccount   string `yaml:"bridge_service_account"`
	ExternalAudience       string `yaml:"external_audience"`
}

// EndpointConfig overrides Google API base URLs. Empty means the library
// default.
type EndpointConfig struct {
	GCPSTS         string `yaml:"gcp_sts"`
	IAMCredentials string `yaml:"iam_credentials"`
	SecretManager  string `yaml:"secret_manager"`
}

// CognitoConfig configures the identity pool exchange.
type CognitoConfig struct {
	Region       string `yaml:"region"`
	PoolIDSecret string `yaml:"pool_id_secret"`
	LoginsSecret string `yaml:"logins_secret"`
}

// SecretsConfig selects and tunes the secret source.
type SecretsConfig struct {
	// Source is "gcp" for Secret Manager or "env" for CROSSFED_SECRET_*.
	Source    string        `yaml:"source"`
	Project   string        `yaml:"project"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	CacheSize int           `yaml:"cache_size"`
}

// AWSConfig configures workload AWS credentials.
type AWSConfig struct {
	Region  string `yaml:"region"`
	Profile string `yaml:"profile"`
	// KeysSecret holds {"id","key"} for narwhal infra.
	KeysSecret string `yaml:"keys_secret"`
}

// AccountsConfig configures the accounts directory. An empty URL is read
// from the ACCOUNTS_BASE_URL secret.
type AccountsConfig struct {
	URL          string `yaml:"url"`
	APIKeySecret string `yaml:"api_key_secret"`
	Retries      int    `yaml:"retries"`
}

// Default returns the production defaults.
func Default() *Config {
	return &Config{
		Log:            LogConfig{Level: "info", Format: "console"},
		HTTP:           HTTPConfig{Timeout: 30 * time.Second},
		DescriptorPath: cloudauth.DefaultDescriptorPath,
		Federation: FederationConfig{
			PoolProjectNumber:      "1024378210460",
			PoolID:                 "nps-pool",
			InternalServiceAccount: "narwhal-sa-smar@solution-eng-345114.iam.gserviceaccount.com",
			BridgeServiceAccount:   "sama-external@rd-prod-398911.iam.gserviceaccount.com",
			ExternalAudience:       "//iam.googleapis.com/projects/459623805419/locations/global/workloadIdentityPools/sama-external/providers/sama-external",
		},
		Cognito: CognitoConfig{
			Region:       "eu-west-1",
			PoolIDSecret: "AWS_COGNITO_POOL_ID",
			LoginsSecret: "AWS_COGNITO_LOGINS",
		},
		Secrets: SecretsConfig{
			Source:    "gcp",
			Project:   "solution-eng-345114",
			CacheTTL:  10 * time.Minute,
			CacheSize: 64,
		},
		AWS: AWSConfig{
			Region:     "us-east-1",
			KeysSecret: "AWS_SAMA_PROD",
		},
		Accounts: AccountsConfig{
			APIKeySecret: "ACCOUNTS_API_KEY",
			Retries:      3,
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, cloudauth.ErrConfiguration(fmt.Sprintf("read config %s", path)).WithCause(err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, cloudauth.ErrConfiguration(fmt.Sprintf("parse config %s", path)).WithCause(err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"CROSSFED_LOG_LEVEL":       &c.Log.Level,
		"CROSSFED_LOG_FORMAT":      &c.Log.Format,
		"CROSSFED_LOG_FILE":        &c.Log.File,
		"CROSSFED_DESCRIPTOR_PATH": &c.DescriptorPath,
		"CROSSFED_SECRETS_SOURCE":  &c.Secrets.Source,
		"CROSSFED_SECRETS_PROJECT": &c.Secrets.Project,
		"CROSSFED_AWS_PROFILE":     &c.AWS.Profile,
		"CROSSFED_AWS_REGION":      &c.AWS.Region,
		"CROSSFED_ACCOUNTS_URL":    &c.Accounts.URL,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	if v, ok := lookup("CROSSFED_DEBUG"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cloudauth.ErrConfiguration("CROSSFED_DEBUG must be a boolean").WithCause(err)
		}
		c.Debug = b
	}
	if v, ok := lookup("CROSSFED_HTTP_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cloudauth.ErrConfiguration("CROSSFED_HTTP_TIMEOUT must be a duration").WithCause(err)
		}
		c.HTTP.Timeout = d
	}
	return nil
}

// Validate checks required fields and formats.
func (c *Config) Validate() error {
	if c.HTTP.Timeout <= 0 {
		return cloudauth.ErrConfiguration("http.timeout must be positive")
	}
	if c.Federation.PoolProjectNumber == "" || c.Federation.PoolID == "" {
		return cloudauth.ErrConfiguration("federation.pool_project_number and federation.pool_id are required")
	}
	if err := cloudauth.ValidateGCPServiceAccountEmail(c.Federation.InternalServiceAccount); err != nil {
		return err
	}
	if err := cloudauth.ValidateGCPServiceAccountEmail(c.Federation.BridgeServiceAccount); err != nil {
		return err
	}
	if err := cloudauth.ValidateAudience(c.Federation.ExternalAudience); err != nil {
		return err
	}
	switch c.Secrets.Source {
	case "gcp", "env":
	default:
		return cloudauth.ErrConfiguration(fmt.Sprintf("secrets.source must be gcp or env, got %q", c.Secrets.Source))
	}
	if c.Accounts.URL != "" {
		if err := cloudauth.ValidateURL(c.Accounts.URL); err != nil {
			return err
		}
	}
	return nil
}
