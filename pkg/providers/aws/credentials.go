package aws

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/anirudhbiyani/crossfed/pkg/cloudauth"
)

const defaultRegion = "us-east-1"

// LoadConfig builds an SDK config for info. Static keys take precedence;
// otherwise the profile or the default chain is used.
func LoadConfig(ctx context.Context, info *cloudauth.AWSCredInfo, httpClient *http.Client) (aws.Config, error) {
	if err := info.Validate(); err != nil {
		return aws.Config{}, err
	}

	region := info.Region
	if region == "" {
		region = defaultRegion
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if httpClient != nil {
		opts = append(opts, config.WithHTTPClient(httpClient))
	}
	switch {
	case info.AccessKeyID != "":
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(info.AccessKeyID, info.SecretAccessKey, info.SessionToken)))
	case info.Profile != "":
		opts = append(opts, config.WithSharedConfigProfile(info.Profile))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, cloudauth.ErrConfiguration("failed to load AWS configuration").
			WithProvider(cloudauth.ProviderAWS).
			WithCause(err)
	}
	return cfg, nil
}

// CredentialsFor returns the credentials provider for info.
func CredentialsFor(ctx context.Context, info *cloudauth.AWSCredInfo) (aws.CredentialsProvider, error) {
	cfg, err := LoadConfig(ctx, info, nil)
	if err != nil {
		return nil, err
	}
	if cfg.Credentials == nil {
		return nil, cloudauth.ErrConfiguration("no AWS credentials found").WithProvider(cloudauth.ProviderAWS)
	}
	return cfg.Credentials, nil
}

type keyPair struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// KeysFromSecret reads an {"id","key"} document from the named secret.
func KeysFromSecret(ctx context.Context, secrets cloudauth.SecretGetter, name string) (*cloudauth.AWSCredInfo, error) {
	raw, err := secrets.GetSecret(ctx, name)
	if err != nil {
		return nil, err
	}
	var kp keyPair
	if err := json.Unmarshal([]byte(raw), &kp); err != nil {
		return nil, cloudauth.ErrConfiguration("AWS key secret is not valid JSON").
			WithProvider(cloudauth.ProviderAWS).
			WithDetail("secret", name)
	}
	if kp.ID == "" || kp.Key == "" {
		return nil, cloudauth.ErrConfiguration("AWS key secret must contain id and key").
			WithProvider(cloudauth.ProviderAWS).
			WithDetail("secret", name)
	}
	return &cloudauth.AWSCredInfo{AccessKeyID: kp.ID, SecretAccessKey: kp.Key}, nil
}
