package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/gzip"

	"github.com/anirudhbiyani/crossfed/pkg/cloudauth"
	"github.com/anirudhbiyani/crossfed/pkg/logging"
	awsfed "github.com/anirudhbiyani/crossfed/pkg/providers/aws"
)

const (
	// DataStore is the bucket task documents live in unless a caller
	// opts out of the prefix.
	DataStore = "sama-narwhal-data-store"

	taskDelimiter = "--"
)

// RemoteStorage opens a client's storage on vendor. AWS uses the workload's
// own keys; GCP and Azure look the client up in the accounts directory and
// refresh the new record before returning. account overrides the Azure
// storage account name.
func (e *Engine) RemoteStorage(ctx context.Context, vendor, clientID, account string) (*cloudauth.StorageSession, error) {
	p, err := cloudauth.ParseProvider(vendor)
	if err != nil {
		return nil, err
	}
	log := e.logger.With(logging.String("vendor", vendor), logging.String("client_id", clientID))

	var info cloudauth.CredInfo
	switch p {
	case cloudauth.ProviderAWS:
		aws := &cloudauth.AWSCredInfo{Region: e.cfg.AWS.Region}
		// Giver infra injects credentials into the environment; narwhal
		// infra reads its keys from the secret store.
		if e.descriptor != nil && e.descriptor.InfraType == cloudauth.InfraNarwhal {
			keys, err := awsfed.KeysFromSecret(ctx, cloudauth.SecretGetterFunc(e.GetSecret), e.cfg.AWS.KeysSecret)
			if err != nil {
				return nil, err
			}
			keys.Region = e.cfg.AWS.Region
			aws = keys
		} else if e.cfg.AWS.Profile != "" {
			aws.Profile = e.cfg.AWS.Profile
		}
		info = aws

	case cloudauth.ProviderGCP:
		if clientID == "" {
			return nil, cloudauth.ErrConfiguration("client id is required for gcp remote storage").WithProvider(p)
		}
		email, err := e.accounts.GCPServiceAccount(ctx, clientID)
		if err != nil {
			return nil, err
		}
		info = &cloudauth.GCPCredInfo{ServiceAccountEmail: email, RefreshMode: cloudauth.RefreshExternal}

	case cloudauth.ProviderAzure:
		if clientID == "" {
			return nil, cloudauth.ErrConfiguration("client id is required for azure remote storage").WithProvider(p)
		}
		acct, err := e.accounts.Azure(ctx, clientID)
		if err != nil {
			return nil, err
		}
		if account == "" {
			account = acct.AccountName
		}
		info = &cloudauth.AzureCredInfo{AccountName: account, TenantID: acct.TenantID, ClientID: acct.ClientID}
	}

	rec, err := e.NewRecord(info)
	if err != nil {
		return nil, err
	}
	if p != cloudauth.ProviderAWS {
		if _, err := e.gate.Ensure(ctx, rec); err != nil {
			return nil, err
		}
	}
	log.Info("remote storage ready")
	return e.OpenStorage(ctx, vendor, rec)
}

// TaskName returns the object name of a task document. round may be empty
// and suffix defaults to "gz".
func TaskName(projectID, taskID, round, suffix string) string {
	if suffix == "" {
		suffix = "gz"
	}
	if round != "" {
		return fmt.Sprintf("%s%s%s%s%s.%s", projectID, taskDelimiter, taskID, taskDelimiter, round, suffix)
	}
	return fmt.Sprintf("%s%s%s.%s", projectID, taskDelimiter, taskID, suffix)
}

// TaskPath joins the data store bucket onto name when addPrefix is set.
func TaskPath(name string, addPrefix bool) string {
	if addPrefix {
		return DataStore + "/" + name
	}
	return name
}

// StoreTask writes v as gzipped JSON to path through store.
func StoreTask(ctx context.Context, store cloudauth.Store, path string, v interface{}, addPrefix bool) error {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(v); err != nil {
		return cloudauth.ErrInternal("failed to encode task").WithCause(err)
	}
	if err := zw.Close(); err != nil {
		return cloudauth.ErrInternal("failed to compress task").WithCause(err)
	}
	return store.Put(ctx, TaskPath(path, addPrefix), &buf)
}

// LoadTask reads the gzipped JSON document at path into v.
func LoadTask(ctx context.Context, store cloudauth.Store, path string, v interface{}, addPrefix bool) error {
	path = TaskPath(path, addPrefix)
	r, err := store.Get(ctx, path)
	if err != nil {
		return err
	}
	defer r.Close()

	zr, err := gzip.NewReader(r)
	if err != nil {
		return cloudauth.ErrInternal(fmt.Sprintf("task %s is not gzipped", path)).WithCause(err)
	}
	defer zr.Close()
	if err := json.NewDecoder(zr).Decode(v); err != nil {
		return cloudauth.ErrInternal(fmt.Sprintf("task %s is not valid JSON", path)).WithCause(err)
	}
	return nil
}
