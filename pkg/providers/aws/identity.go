package aws

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/anirudhbiyani/crossfed/pkg/cloudauth"
)

// STSAPI abstracts the STS operations used here.
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Identity is the AWS principal behind a set of credentials.
type Identity struct {
	Account string `json:"account"`
	ARN     string `json:"arn"`
	UserID  string `json:"user_id"`
}

// CallerIdentity asks STS who the client's credentials belong to.
func CallerIdentity(ctx context.Context, client STSAPI) (*Identity, error) {
	out, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, upstreamError("GetCallerIdentity", err)
	}
	return &Identity{
		Account: aws.ToString(out.Account),
		ARN:     aws.ToString(out.Arn),
		UserID:  aws.ToString(out.UserId),
	}, nil
}

// IdentityValidator checks that an AWS record resolves to a principal.
type IdentityValidator struct {
	newClient func(ctx context.Context, info *cloudauth.AWSCredInfo) (STSAPI, error)
}

// NewIdentityValidator creates an IdentityValidator. A nil newClient uses
// an STS client built from the record.
func NewIdentityValidator(newClient func(ctx context.Context, info *cloudauth.AWSCredInfo) (STSAPI, error)) *IdentityValidator {
	if newClient == nil {
		newClient = func(ctx context.Context, info *cloudauth.AWSCredInfo) (STSAPI, error) {
			cfg, err := LoadConfig(ctx, info, nil)
			if err != nil {
				return nil, err
			}
			return sts.NewFromConfig(cfg), nil
		}
	}
	return &IdentityValidator{newClient: newClient}
}

func (v *IdentityValidator) ID() string   { return "aws_identity" }
func (v *IdentityValidator) Name() string { return "AWS Caller Identity" }

func (v *IdentityValidator) Validate(ctx context.Context, rec *cloudauth.CredentialRecord) cloudauth.ValidationCheck {
	start := time.Now()
	check := cloudauth.ValidationCheck{
		ID:       v.ID(),
		Name:     v.Name(),
		Severity: cloudauth.SeverityCritical,
		Evidence: make(map[string]interface{}),
	}

	info, ok := rec.Info().(*cloudauth.AWSCredInfo)
	if !ok {
		check.Status = cloudauth.CheckStatusSkipped
		check.Duration = time.Since(start)
		return check
	}

	client, err := v.newClient(ctx, info)
	if err == nil {
		var id *Identity
		if id, err = CallerIdentity(ctx, client); err == nil {
			check.Status = cloudauth.CheckStatusPassed
			check.Evidence["account"] = id.Account
			check.Evidence["arn"] = id.ARN
		}
	}
	if err != nil {
		check.Status = cloudauth.CheckStatusFailed
		check.Evidence["error"] = err.Error()
		check.Remediation = "Verify the access keys or profile and that sts:GetCallerIdentity is reachable"
	}
	check.Duration = time.Since(start)
	return check
}

func init() {
	cloudauth.DefaultValidators.Register(NewIdentityValidator(nil), cloudauth.ProviderAWS)
}
