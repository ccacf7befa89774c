package federation

import (
	"bytes"
	stdgzip "compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anirudhbiyani/crossfed/pkg/cloudauth"
	"github.com/anirudhbiyani/crossfed/pkg/config"
	"github.com/anirudhbiyani/crossfed/pkg/secrets"
)

var testNow = time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)

const clientEmail = "client-42@proj-1.iam.gserviceaccount.com"

// memStore is an in-memory cloudauth.Store shared by every session a
// harness opens.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memStore) List(_ context.Context, path string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.objects {
		if strings.HasPrefix(k, path) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memStore) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[path]
	if !ok {
		return nil, cloudauth.ErrNotFound("object", path)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStore) Put(_ context.Context, path string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = data
	return nil
}

func (m *memStore) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

func (m *memStore) Remove(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, path)
	return nil
}

// harness wires an engine to fake refreshers, an in-memory store and a
// fake accounts directory.
type harness struct {
	engine *Engine
	store  *memStore

	mu      sync.Mutex
	built   []cloudauth.CredInfo
	refresh []cloudauth.CredInfo
	calls   atomic.Int32
}

func (h *harness) refresher(token string) cloudauth.Refresher {
	return cloudauth.RefresherFunc(func(_ context.Context, info cloudauth.CredInfo) (cloudauth.Token, error) {
		h.calls.Add(1)
		h.mu.Lock()
		h.refresh = append(h.refresh, info)
		h.mu.Unlock()
		exp := testNow.Add(time.Hour)
		return cloudauth.Token{AccessToken: token, Expiry: exp, ExpiresOn: exp.Unix()}, nil
	})
}

func (h *harness) backend(_ context.Context, rec *cloudauth.CredentialRecord, _ cloudauth.BackendOptions) (cloudauth.Store, error) {
	h.mu.Lock()
	h.built = append(h.built, rec.Info())
	h.mu.Unlock()
	return h.store, nil
}

func (h *harness) Refreshed() []cloudauth.CredInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]cloudauth.CredInfo(nil), h.refresh...)
}

func (h *harness) Built() []cloudauth.CredInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]cloudauth.CredInfo(nil), h.built...)
}

// directoryServer answers the accounts lookup for client "42".
func directoryServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "api-key", r.Header.Get("X-API-Key"))
		if r.URL.Path != "/api/clients/42/cloud-providers/info" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[
			{"type":"gcp","serviceAccountEmail":"` + clientEmail + `"},
			{"type":"azure","cloudProviderTenantId":"11111111-2222-3333-4444-555555555555","cloudProviderClientId":"66666666-7777-8888-9999-000000000000","prefix":"clientstore"}
		]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// newHarness builds an engine. descriptor is written to a temp file when
// not empty.
func newHarness(t *testing.T, descriptor string) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.DescriptorPath = filepath.Join(t.TempDir(), "cred.json")
	if descriptor != "" {
		require.NoError(t, os.WriteFile(cfg.DescriptorPath, []byte(descriptor), 0o600))
	}

	dir := directoryServer(t)
	h := &harness{store: &memStore{objects: map[string][]byte{}}}
	registry := cloudauth.NewRegistry()
	for _, p := range []cloudauth.CloudProvider{cloudauth.ProviderAWS, cloudauth.ProviderGCP, cloudauth.ProviderAzure} {
		require.NoError(t, registry.Register(p, h.backend))
	}

	e, err := NewEngine(cfg, nil,
		WithSecrets(secrets.Static{
			"ACCOUNTS_BASE_URL": dir.URL,
			"ACCOUNTS_API_KEY":  "api-key",
			"AWS_SAMA_PROD":     `{"id":"AKIDNARWHAL","key":"narwhal-secret"}`,
		}),
		WithAmbientCredentials(credentials.NewStaticCredentialsProvider("AKID", "secret", "")),
		WithRefresher(cloudauth.ProviderGCP, h.refresher("GCP-TOKEN")),
		WithRefresher(cloudauth.ProviderAzure, h.refresher("AZ-TOKEN")),
		WithRegistry(registry),
		WithClock(func() time.Time { return testNow }),
	)
	require.NoError(t, err)
	h.engine = e
	return h
}

func TestNewEngineRejectsBadConfig(t *testing.T) {
	_, err := NewEngine(nil, nil)
	assert.True(t, cloudauth.IsConfiguration(err))

	cfg := config.Default()
	cfg.HTTP.Timeout = 0
	_, err = NewEngine(cfg, nil)
	assert.True(t, cloudauth.IsConfiguration(err))
}

func TestSetupWithDescriptor(t *testing.T) {
	h := newHarness(t, `{"infra_type":"narwhal","cloud":"aws"}`)
	ctx := context.Background()
	require.NoError(t, h.engine.Setup(ctx))

	require.NotNil(t, h.engine.Descriptor())
	assert.Equal(t, "narwhal-aws", h.engine.Descriptor().ProviderID())

	internal := h.engine.Internal()
	require.NotNil(t, internal)
	info := internal.Info().(*cloudauth.GCPCredInfo)
	assert.Equal(t, cloudauth.RefreshInternal, info.RefreshMode)
	assert.Equal(t, "//iam.googleapis.com/projects/1024378210460/locations/global/workloadIdentityPools/nps-pool/providers/narwhal-aws", info.Audience)
	assert.Equal(t, "GCP-TOKEN", info.Token)
	assert.Equal(t, int32(1), h.calls.Load())

	tok, err := h.engine.Token(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "GCP-TOKEN", tok.AccessToken)
	assert.Equal(t, int32(1), h.calls.Load(), "fresh token is not refreshed again")
}

func TestSetupWithoutDescriptor(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	require.NoError(t, h.engine.Setup(ctx))

	assert.Nil(t, h.engine.Descriptor())
	assert.Nil(t, h.engine.Internal())
	assert.Zero(t, h.calls.Load())

	_, err := h.engine.Token(ctx, nil)
	assert.True(t, cloudauth.IsConfiguration(err))

	v, err := h.engine.GetSecret(ctx, "ACCOUNTS_API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "api-key", v)
}

func TestSetupBadDescriptor(t *testing.T) {
	h := newHarness(t, `{"infra_type":"narwhal"}`)
	err := h.engine.Setup(context.Background())
	require.Error(t, err)
	assert.True(t, cloudauth.IsConfiguration(err))
}

func TestNewRecordFillsInternalAudience(t *testing.T) {
	h := newHarness(t, `{"infra_type":"giver","cloud":"gcp"}`)
	require.NoError(t, h.engine.Setup(context.Background()))

	rec, err := h.engine.NewRecord(&cloudauth.GCPCredInfo{
		ServiceAccountEmail: clientEmail,
		RefreshMode:         cloudauth.RefreshInternal,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(rec.Info().(*cloudauth.GCPCredInfo).Audience, "/providers/giver-gcp"))

	rec, err = h.engine.NewRecord(&cloudauth.GCPCredInfo{
		ServiceAccountEmail: clientEmail,
		RefreshMode:         cloudauth.RefreshExternal,
	})
	require.NoError(t, err)
	assert.Empty(t, rec.Info().(*cloudauth.GCPCredInfo).Audience)
}

func TestRemoteStorageGCP(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	require.NoError(t, h.engine.Setup(ctx))

	session, err := h.engine.RemoteStorage(ctx, "gcp", "42", "")
	require.NoError(t, err)
	assert.Equal(t, cloudauth.ProviderGCP, session.Vendor)
	assert.NotEmpty(t, session.ID)

	info := session.Record.Info().(*cloudauth.GCPCredInfo)
	assert.Equal(t, clientEmail, info.ServiceAccountEmail)
	assert.Equal(t, cloudauth.RefreshExternal, info.RefreshMode)
	assert.Equal(t, "GCP-TOKEN", info.Token)
	assert.Equal(t, int32(1), h.calls.Load())

	type task struct {
		ID    string `json:"id"`
		Round int    `json:"round"`
	}
	name := TaskName("p1", "t9", "2", "")
	require.NoError(t, StoreTask(ctx, session, name, task{ID: "t9", Round: 2}, true))

	ok, err := session.Exists(ctx, "sama-narwhal-data-store/p1--t9--2.gz")
	require.NoError(t, err)
	assert.True(t, ok)

	var got task
	require.NoError(t, LoadTask(ctx, session, name, &got, true))
	assert.Equal(t, task{ID: "t9", Round: 2}, got)
	assert.Equal(t, int32(1), h.calls.Load(), "store calls reuse the fresh token")

	require.Len(t, h.Built(), 1)
}

func TestRemoteStorageAzure(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	require.NoError(t, h.engine.Setup(ctx))

	session, err := h.engine.RemoteStorage(ctx, "azure", "42", "")
	require.NoError(t, err)
	info := session.Record.Info().(*cloudauth.AzureCredInfo)
	assert.Equal(t, "clientstore", info.AccountName)
	assert.Equal(t, "AZ-TOKEN", info.Token)

	session, err = h.engine.RemoteStorage(ctx, "azure", "42", "override")
	require.NoError(t, err)
	assert.Equal(t, "override", session.Record.Info().(*cloudauth.AzureCredInfo).AccountName)
}

func TestRemoteStorageAWS(t *testing.T) {
	t.Run("narwhal keys from secret", func(t *testing.T) {
		h := newHarness(t, `{"infra_type":"narwhal","cloud":"aws"}`)
		ctx := context.Background()
		require.NoError(t, h.engine.Setup(ctx))

		session, err := h.engine.RemoteStorage(ctx, "aws", "", "")
		require.NoError(t, err)
		assert.Equal(t, cloudauth.ProviderAWS, session.Vendor)

		built := h.Built()
		require.Len(t, built, 1)
		info := built[0].(*cloudauth.AWSCredInfo)
		assert.Equal(t, "AKIDNARWHAL", info.AccessKeyID)
		assert.Equal(t, "us-east-1", info.Region)
	})

	t.Run("giver uses the environment", func(t *testing.T) {
		h := newHarness(t, "")
		ctx := context.Background()
		require.NoError(t, h.engine.Setup(ctx))

		_, err := h.engine.RemoteStorage(ctx, "aws", "", "")
		require.NoError(t, err)
		built := h.Built()
		require.Len(t, built, 1)
		assert.Empty(t, built[0].(*cloudauth.AWSCredInfo).AccessKeyID)
		assert.Zero(t, h.calls.Load())
	})
}

func TestRemoteStorageErrors(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	require.NoError(t, h.engine.Setup(ctx))

	_, err := h.engine.RemoteStorage(ctx, "oci", "42", "")
	assert.True(t, cloudauth.IsConfiguration(err))

	_, err = h.engine.RemoteStorage(ctx, "gcp", "", "")
	assert.True(t, cloudauth.IsConfiguration(err))

	_, err = h.engine.RemoteStorage(ctx, "azure", "", "")
	assert.True(t, cloudauth.IsConfiguration(err))

	_, err = h.engine.RemoteStorage(ctx, "gcp", "404", "")
	assert.True(t, cloudauth.IsCategory(err, cloudauth.ErrCategoryNotFound))
	assert.Zero(t, h.calls.Load())
}

func TestAzureToken(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	tok, err := h.engine.AzureToken(ctx, "11111111-2222-3333-4444-555555555555", "66666666-7777-8888-9999-000000000000", "s")
	require.NoError(t, err)
	assert.Equal(t, "AZ-TOKEN", tok.AccessToken)

	refreshed := h.Refreshed()
	require.Len(t, refreshed, 1)
	assert.Equal(t, "s", refreshed[0].(*cloudauth.AzureCredInfo).ClientSecret)

	_, err = h.engine.AzureToken(ctx, "not-a-uuid", "66666666-7777-8888-9999-000000000000", "")
	assert.True(t, cloudauth.IsConfiguration(err))
	assert.Equal(t, int32(1), h.calls.Load())
}

func TestValidate(t *testing.T) {
	h := newHarness(t, `{"infra_type":"narwhal","cloud":"aws"}`)
	ctx := context.Background()
	require.NoError(t, h.engine.Setup(ctx))

	report := h.engine.Validate(ctx, h.engine.Internal())
	assert.True(t, report.IsValid())
	assert.Len(t, report.Checks, report.Summary.TotalChecks)
	assert.Zero(t, report.Summary.FailedChecks)
}

func TestTaskName(t *testing.T) {
	tests := []struct {
		project, task, round, suffix string
		want                         string
	}{
		{"p1", "t9", "", "", "p1--t9.gz"},
		{"p1", "t9", "3", "", "p1--t9--3.gz"},
		{"p1", "t9", "3", "json", "p1--t9--3.json"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TaskName(tt.project, tt.task, tt.round, tt.suffix))
	}

	assert.Equal(t, "sama-narwhal-data-store/p1--t9.gz", TaskPath("p1--t9.gz", true))
	assert.Equal(t, "other/p1--t9.gz", TaskPath("other/p1--t9.gz", false))
}

// gzipped compresses data in one shot, the way the gateway writes tasks.
func gzipped(t *testing.T, data string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := stdgzip.NewWriter(&buf)
	_, err := zw.Write([]byte(data))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestStoreTaskIsGzipped(t *testing.T) {
	store := &memStore{objects: map[string][]byte{}}
	ctx := context.Background()

	require.NoError(t, StoreTask(ctx, store, "p1--t9.gz", map[string]int{"a": 1}, true))

	raw, ok := store.objects["sama-narwhal-data-store/p1--t9.gz"]
	require.True(t, ok)
	require.Greater(t, len(raw), 2)
	assert.Equal(t, []byte{0x1f, 0x8b}, raw[:2])

	zr, err := stdgzip.NewReader(bytes.NewReader(raw))
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(plain))

	require.NoError(t, StoreTask(ctx, store, "b/p1--t9.gz", map[string]int{"a": 2}, false))
	assert.Contains(t, store.objects, "b/p1--t9.gz")
}

func TestLoadTaskReadsGatewayFormat(t *testing.T) {
	store := &memStore{objects: map[string][]byte{
		"sama-narwhal-data-store/p1--t9.gz": gzipped(t, `{"id":"t9","data":{"labels":["car","bus"]}}`),
	}}

	var got struct {
		ID   string `json:"id"`
		Data struct {
			Labels []string `json:"labels"`
		} `json:"data"`
	}
	require.NoError(t, LoadTask(context.Background(), store, TaskName("p1", "t9", "", ""), &got, true))
	assert.Equal(t, "t9", got.ID)
	assert.Equal(t, []string{"car", "bus"}, got.Data.Labels)
}

func TestLoadTaskErrors(t *testing.T) {
	store := &memStore{objects: map[string][]byte{
		"b/raw.gz": []byte(`{"id":"t9"}`),
		"b/bad.gz": gzipped(t, "{"),
	}}
	ctx := context.Background()
	var v map[string]interface{}

	err := LoadTask(ctx, store, "b/missing.gz", &v, false)
	assert.True(t, cloudauth.IsCategory(err, cloudauth.ErrCategoryNotFound))

	err = LoadTask(ctx, store, "b/raw.gz", &v, false)
	require.Error(t, err)
	assert.True(t, cloudauth.IsCategory(err, cloudauth.ErrCategoryInternal))
	assert.Contains(t, err.Error(), "not gzipped")

	err = LoadTask(ctx, store, "b/bad.gz", &v, false)
	require.Error(t, err)
	assert.True(t, cloudauth.IsCategory(err, cloudauth.ErrCategoryInternal))
	assert.Contains(t, err.Error(), "not valid JSON")
}
