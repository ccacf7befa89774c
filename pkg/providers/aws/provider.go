// Package aws provides the AWS side of federation: signed GetCallerIdentity
// subject tokens, Cognito identity pool exchanges, credential resolution and
// the S3 storage backend.
package aws

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"

	"github.com/anirudhbiyani/crossfed/pkg/cloudauth"
	"github.com/anirudhbiyani/crossfed/pkg/logging"
)

const (
	stsHost = "sts.amazonaws.com"
	// CallerIdentityURL is the request embedded in every subject token.
	CallerIdentityURL = "https://" + stsHost + "/?Action=GetCallerIdentity&Version=2011-06-15"

	signingService = "sts"
	signingRegion  = "us-east-1"

	// TargetResourceHeader binds the signature to the federation audience.
	TargetResourceHeader = "x-goog-cloud-target-resource"

	// SubjectTokenType identifies a signed GetCallerIdentity request.
	SubjectTokenType = "urn:ietf:params:aws:token-type:aws4_request"

	emptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
)

// SignedHeader is a header in the form expected by GCP STS.
type SignedHeader struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// callerIdentityRequest fields are declared in key order so that the
// encoding is canonical.
type callerIdentityRequest struct {
	Headers []SignedHeader `json:"headers"`
	Method  string         `json:"method"`
	URL     string         `json:"url"`
}

// Signer builds signed GetCallerIdentity subject tokens.
type Signer struct {
	signer *v4.Signer
	now    func() time.Time
	logger logging.Logger
}

// SignerOption configures a Signer.
type SignerOption func(*Signer)

// WithClock sets the signing time source.
func WithClock(now func() time.Time) SignerOption {
	return func(s *Signer) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) SignerOption {
	return func(s *Signer) {
		s.logger = l
	}
}

// NewSigner creates a Signer.
func NewSigner(opts ...SignerOption) *Signer {
	s := &Signer{
		signer: v4.NewSigner(),
		now:    time.Now,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CallerIdentityToken signs a GetCallerIdentity request for audience and
// returns it URL-encoded, ready to use as an STS subject token.
//
// The audience header is added before signing so that it is part of the
// signed header set.
func (s *Signer) CallerIdentityToken(ctx context.Context, audience string, creds aws.CredentialsProvider) (string, error) {
	if audience == "" {
		return "", cloudauth.ErrConfiguration("audience is required").WithProvider(cloudauth.ProviderAWS)
	}
	if creds == nil {
		return "", cloudauth.ErrConfiguration("AWS credentials not configured").
			WithProvider(cloudauth.ProviderAWS).
			WithDetail("hint", "Set static keys, a profile, or AWS_* environment variables")
	}

	c, err := creds.Retrieve(ctx)
	if err != nil {
		return "", cloudauth.ErrConfiguration("failed to retrieve AWS credentials").
			WithProvider(cloudauth.ProviderAWS).
			WithCause(err)
	}
	if !c.HasKeys() {
		return "", cloudauth.ErrConfiguration("AWS credentials are incomplete").WithProvider(cloudauth.ProviderAWS)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, CallerIdentityURL, nil)
	if err != nil {
		return "", cloudauth.ErrInternal("failed to build GetCallerIdentity request").WithCause(err)
	}
	req.Header.Set(TargetResourceHeader, audience)

	signingTime := s.now().UTC()
	if err := s.signer.SignHTTP(ctx, c, req, emptyPayloadHash, signingService, signingRegion, signingTime); err != nil {
		return "", cloudauth.ErrConfiguration("failed to sign GetCallerIdentity request").
			WithProvider(cloudauth.ProviderAWS).
			WithCause(err)
	}

	// The signer derives host from the URL; the token must carry it
	// explicitly.
	headers := []SignedHeader{{Key: "host", Value: stsHost}}
	for k, vs := range req.Header {
		headers = append(headers, SignedHeader{Key: k, Value: strings.Join(vs, ",")})
	}
	sort.Slice(headers, func(i, j int) bool {
		return strings.ToLower(headers[i].Key) < strings.ToLower(headers[j].Key)
	})

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(callerIdentityRequest{Headers: headers, Method: http.MethodPost, URL: CallerIdentityURL}); err != nil {
		return "", cloudauth.ErrInternal("failed to marshal subject token").WithCause(err)
	}

	s.logger.Debug("signed caller identity request",
		logging.String("audience", audience),
		logging.Time("signing_time", signingTime),
		logging.Bool("session_credentials", c.SessionToken != ""))

	return encodeToken(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// encodeToken percent-encodes every byte outside the unreserved set.
// Unlike a path quoter it also escapes "/"; STS decodes either form.
func encodeToken(raw []byte) string {
	return strings.ReplaceAll(url.QueryEscape(string(raw)), "+", "%20")
}

// DecodeToken reverses CallerIdentityToken's encoding. It is used by
// diagnostics and tests.
func DecodeToken(token string) (method, rawURL string, headers []SignedHeader, err error) {
	raw, err := url.QueryUnescape(token)
	if err != nil {
		return "", "", nil, err
	}
	var r callerIdentityRequest
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return "", "", nil, err
	}
	return r.Method, r.URL, r.Headers, nil
}
