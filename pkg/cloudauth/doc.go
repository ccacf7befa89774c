// Package cloudauth holds the credential lifecycle core: the per-vendor
// credential record, the refresh gate that keeps its token valid, and the
// storage factory that hands out handles bound to it.
//
// # Credential records
//
// A CredentialRecord wraps exactly one of *AWSCredInfo, *GCPCredInfo or
// *AzureCredInfo. Callers read it through Info and Current; only the
// RefreshGate writes the token, and it writes token and expiry together
// after a pipeline has fully succeeded. GCP expiries are UTC timestamps and
// anything else is rejected. Azure expiries are Unix epoch seconds.
//
// # Refresh
//
// The gate treats a record as Fresh or Expired. AWS records are always
// Fresh. On Expired, the vendor's Refresher runs once per record no matter
// how many callers are waiting:
//
//	gate := cloudauth.NewRefreshGate(
//	    cloudauth.WithRefresher(cloudauth.ProviderGCP, gcpPipeline),
//	    cloudauth.WithRefresher(cloudauth.ProviderAzure, azureBridge),
//	)
//	tok, err := gate.Token(ctx, rec)
//
// # Storage
//
// StorageFactory builds the backend registered for a vendor. GCP and Azure
// stores are wrapped in a LazyRefreshProxy, which checks the gate before
// each call and rebuilds the backend when the token has changed:
//
//	factory := cloudauth.NewStorageFactory(gate, cloudauth.WithHTTPClient(client))
//	session, err := factory.New(ctx, "gcp", rec)
//	names, err := session.List(ctx, "bucket/prefix")
//
// # Errors
//
// Every error is a *CloudAuthError. Configuration errors are fatal and never
// retried. Federation errors carry the upstream response. Network errors are
// left to the caller's retry policy; nothing in this module retries a
// federation call.
package cloudauth
