// Package gcp provides the GCP side of federation: the STS token exchange,
// service account impersonation chains, Secret Manager lookups and the GCS
// storage backend.
package gcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/anirudhbiyani/crossfed/pkg/cloudauth"
)

const (
	// DefaultScope is requested for every exchanged and impersonated token.
	DefaultScope = "https://www.googleapis.com/auth/cloud-platform"

	// DefaultSTSEndpoint is the GCP Security Token Service base URL.
	DefaultSTSEndpoint = "https://sts.googleapis.com/"

	// DefaultIAMCredentialsEndpoint is the IAM credentials base URL.
	DefaultIAMCredentialsEndpoint = "https://iamcredentials.googleapis.com/"
)

// bearerClient returns a client that authenticates every request with
// token. It shares base's transport and timeout.
func bearerClient(base *http.Client, token string) *http.Client {
	return sourceClient(base, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
}

// sourceClient is bearerClient for tokens drawn from ts.
func sourceClient(base *http.Client, ts oauth2.TokenSource) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	return &http.Client{
		Transport: &oauth2.Transport{Source: ts, Base: base.Transport},
		Timeout:   base.Timeout,
	}
}

// clientOptions builds the API client options for client and an optional
// endpoint override.
func clientOptions(client *http.Client, endpoint string) []option.ClientOption {
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	return opts
}

// classify maps an API call failure to the error taxonomy. Upstream
// rejections and undecodable bodies are federation failures; everything
// else is a transport failure.
func classify(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return cloudauth.ErrFederation(fmt.Sprintf("%s rejected with status %d", op, gerr.Code)).
			WithProvider(cloudauth.ProviderGCP).
			WithOperation(op).
			WithResponse(gerr.Code, gerr.Body).
			WithCause(err)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return cloudauth.ErrFederation(fmt.Sprintf("%s returned a malformed response", op)).
			WithProvider(cloudauth.ProviderGCP).
			WithOperation(op).
			WithCause(err)
	}

	return cloudauth.ErrNetwork(fmt.Sprintf("%s failed", op)).
		WithProvider(cloudauth.ProviderGCP).
		WithOperation(op).
		WithCause(err)
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}
