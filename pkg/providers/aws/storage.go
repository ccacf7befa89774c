package aws

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/anirudhbiyani/crossfed/pkg/cloudauth"
)

// S3API abstracts the S3 operations used by S3Store.
type S3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store implements cloudauth.Store over S3.
type S3Store struct {
	client S3API
}

// NewS3Store wraps client.
func NewS3Store(client S3API) *S3Store {
	return &S3Store{client: client}
}

// List implements cloudauth.Store.
func (s *S3Store) List(ctx context.Context, path string) ([]string, error) {
	bucket, prefix, err := cloudauth.SplitPath(path)
	if err != nil {
		return nil, err
	}
	var names []string
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			names = append(names, aws.ToString(obj.Key))
		}
	}
	return names, nil
}

// Get implements cloudauth.Store.
func (s *S3Store) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	bucket, key, err := cloudauth.SplitObjectPath(path)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

// Put implements cloudauth.Store.
func (s *S3Store) Put(ctx context.Context, path string, r io.Reader) error {
	bucket, key, err := cloudauth.SplitObjectPath(path)
	if err != nil {
		return err
	}
	// The SDK needs a seekable body to compute the payload hash.
	body, ok := r.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{Bucket: aws.String(bucket), Key: aws.String(key), Body: body})
	return err
}

// Exists implements cloudauth.Store.
func (s *S3Store) Exists(ctx context.Context, path string) (bool, error) {
	bucket, key, err := cloudauth.SplitObjectPath(path)
	if err != nil {
		return false, err
	}
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Remove implements cloudauth.Store.
func (s *S3Store) Remove(ctx context.Context, path string) error {
	bucket, key, err := cloudauth.SplitObjectPath(path)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	return err
}

func isNotFound(err error) bool {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

func newBackend(ctx context.Context, rec *cloudauth.CredentialRecord, opts cloudauth.BackendOptions) (cloudauth.Store, error) {
	info, ok := rec.Info().(*cloudauth.AWSCredInfo)
	if !ok {
		return nil, cloudauth.ErrConfiguration("S3 requires an aws credential").WithProvider(cloudauth.ProviderAWS)
	}
	cfg, err := LoadConfig(ctx, info, opts.HTTPClient)
	if err != nil {
		return nil, err
	}
	return NewS3Store(s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})), nil
}

func init() {
	cloudauth.DefaultRegistry.MustRegister(cloudauth.ProviderAWS, newBackend)
}

var _ cloudauth.Store = (*S3Store)(nil)
