package unified

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/R3E-Network/integration_layer/domain/connection"
	"github.com/R3E-Network/integration_layer/domain/id"
	"github.com/R3E-Network/integration_layer/domain/pipeline"
	"github.com/R3E-Network/integration_layer/domain/secret"
	"github.com/R3E-Network/integration_layer/domain/shared"
	"github.com/R3E-Network/integration_layer/infrastructure/cache"
	"github.com/R3E-Network/integration_layer/infrastructure/errors"
	"github.com/R3E-Network/integration_layer/infrastructure/secrets"
	"github.com/R3E-Network/integration_layer/pkg/logger"
)

type fakeModelDefs struct {
	defs []connection.ModelDefinition
}

func (f *fakeModelDefs) GetOne(_ context.Context, filter bson.M) (*connection.ModelDefinition, error) {
	for _, def := range f.defs {
		if key, ok := filter["key"]; ok && def.Key == key {
			return &def, nil
		}
		if rawID, ok := filter["_id"]; ok && def.ID.String() == rawID {
			return &def, nil
		}
	}
	return nil, nil
}

func (f *fakeModelDefs) GetMany(_ context.Context, filter bson.M, _ bson.D, _, _ int64) ([]connection.ModelDefinition, error) {
	var out []connection.ModelDefinition
	for _, def := range f.defs {
		if platform, ok := filter["connectionPlatform"]; ok && def.ConnectionPlatform != platform {
			continue
		}
		out = append(out, def)
	}
	return out, nil
}

type fakeOAuthDefs struct {
	defs []connection.OAuthDefinition
}

func (f *fakeOAuthDefs) GetOne(_ context.Context, filter bson.M) (*connection.OAuthDefinition, error) {
	for _, def := range f.defs {
		if rawID, ok := filter["_id"]; ok && def.ID.String() == rawID {
			return &def, nil
		}
	}
	return nil, nil
}

type fakeConnWriter struct {
	mu      sync.Mutex
	updates []bson.M
}

func (f *fakeConnWriter) UpdateOne(_ context.Context, _ string, update bson.M) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, update)
	return nil
}

func testConnection(platform string) connection.Connection {
	return connection.Connection{
		ID:              id.Now(id.PrefixConnection),
		PlatformVersion: "2023-08-16",
		Type:            connection.TypeAPI,
		Name:            "Test Connection",
		Key:             "test::" + platform,
		Environment:     shared.EnvTest,
		Platform:        platform,
		Ownership:       shared.NewOwnership("build-1"),
		Throughput:      shared.Throughput{Key: "build-1", Limit: 100},
		RecordMetadata:  shared.NewRecordMetadata(),
	}
}

func bearerDefinition(baseURL, model string, action connection.CrudAction, supported bool) connection.ModelDefinition {
	return connection.ModelDefinition{
		ID:                 id.Now(id.PrefixConnectionModelDefinition),
		ConnectionPlatform: "stripe",
		PlatformVersion:    "2023-08-16",
		Name:               "Get " + model,
		ModelName:          model,
		Key:                connection.DefinitionKey("stripe", "2023-08-16", model, action),
		Action:             "GET",
		ActionName:         action,
		Config: connection.ApiModelConfig{
			BaseURL: baseURL,
			Path:    strings.ToLower(model),
			AuthMethod: connection.AuthMethod{
				Type:  connection.AuthMethodBearerToken,
				Value: "sk_test",
			},
		},
		Supported:      supported,
		RecordMetadata: shared.NewRecordMetadata(),
	}
}

func newTestEngine(defs *fakeModelDefs, oauthDefs *fakeOAuthDefs, store secrets.Store, writer ConnectionWriter) *Engine {
	return NewEngine(Options{
		ModelDefinitions:  defs,
		OAuthDefinitions:  oauthDefs,
		Connections:       writer,
		Secrets:           store,
		Caches:            cache.NewCaches(cache.CachesConfig{}),
		Logger:            logger.New("test", logger.Config{Level: "error"}),
		Timeout:           5 * time.Second,
		OAuthSafetyMargin: time.Minute,
	})
}

func TestDispatchUnifiedBearerToken(t *testing.T) {
	var gotAuth, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("X-Request-Id", "req_1")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id": "cus_OT8j94jEraNXbW"}`))
	}))
	defer server.Close()

	defs := &fakeModelDefs{defs: []connection.ModelDefinition{
		bearerDefinition(server.URL+"/api", "Customers", connection.ActionGetMany, true),
	}}
	engine := newTestEngine(defs, &fakeOAuthDefs{}, secrets.NewMemoryStore(), &fakeConnWriter{})

	resp, err := engine.DispatchUnified(context.Background(), testConnection("stripe"), pipeline.Action{
		Type:   pipeline.ActionUnified,
		Name:   "Customers",
		Action: connection.ActionGetMany,
	}, RequestCrud{QueryParams: map[string]string{}, Headers: http.Header{}})
	if err != nil {
		t.Fatalf("DispatchUnified error = %v", err)
	}

	if gotAuth != "Bearer sk_test" {
		t.Errorf("Authorization = %q, want Bearer sk_test", gotAuth)
	}
	if gotPath != "/api/customers" {
		t.Errorf("path = %q, want /api/customers", gotPath)
	}
	if string(resp.Body) != `{"id": "cus_OT8j94jEraNXbW"}` {
		t.Errorf("body = %s", resp.Body)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if got := resp.Headers.Get(PassthroughHeaderPrefix + "-x-request-id"); got != "req_1" {
		t.Errorf("passthrough header = %q", got)
	}
	if resp.Meta.Platform != "stripe" || resp.Meta.CommonModel != "Customers" {
		t.Errorf("meta = %+v", resp.Meta)
	}
}

func TestDispatchUnifiedCallerAuthDiscarded(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	defs := &fakeModelDefs{defs: []connection.ModelDefinition{
		bearerDefinition(server.URL, "Customers", connection.ActionGetMany, true),
	}}
	engine := newTestEngine(defs, &fakeOAuthDefs{}, secrets.NewMemoryStore(), &fakeConnWriter{})

	headers := http.Header{}
	headers.Set("Authorization", "Bearer caller-supplied")
	if _, err := engine.DispatchUnified(context.Background(), testConnection("stripe"), pipeline.Action{
		Type:   pipeline.ActionUnified,
		Name:   "Customers",
		Action: connection.ActionGetMany,
	}, RequestCrud{Headers: headers}); err != nil {
		t.Fatalf("DispatchUnified error = %v", err)
	}

	// The engine owns auth headers; the caller's Authorization never wins.
	if gotAuth != "Bearer sk_test" {
		t.Errorf("Authorization = %q, want Bearer sk_test", gotAuth)
	}
}

func TestDispatchUnifiedUnknownModel(t *testing.T) {
	engine := newTestEngine(&fakeModelDefs{}, &fakeOAuthDefs{}, secrets.NewMemoryStore(), &fakeConnWriter{})

	_, err := engine.DispatchUnified(context.Background(), testConnection("stripe"), pipeline.Action{
		Type:   pipeline.ActionUnified,
		Name:   "Invoices",
		Action: connection.ActionGetOne,
	}, RequestCrud{})
	if errors.GetHTTPStatus(err) != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestDispatchUnifiedUnsupportedAction(t *testing.T) {
	defs := &fakeModelDefs{defs: []connection.ModelDefinition{
		bearerDefinition("http://mock", "Customers", connection.ActionGetMany, false),
	}}
	engine := newTestEngine(defs, &fakeOAuthDefs{}, secrets.NewMemoryStore(), &fakeConnWriter{})

	_, err := engine.DispatchUnified(context.Background(), testConnection("stripe"), pipeline.Action{
		Type:   pipeline.ActionUnified,
		Name:   "Customers",
		Action: connection.ActionGetMany,
	}, RequestCrud{})
	if errors.GetHTTPStatus(err) != http.StatusNotFound {
		t.Errorf("expected 404 for unsupported action, got %v", err)
	}
}

func TestDispatchUnifiedUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("provider down"))
	}))
	defer server.Close()

	defs := &fakeModelDefs{defs: []connection.ModelDefinition{
		bearerDefinition(server.URL, "Customers", connection.ActionGetMany, true),
	}}
	engine := newTestEngine(defs, &fakeOAuthDefs{}, secrets.NewMemoryStore(), &fakeConnWriter{})

	_, err := engine.DispatchUnified(context.Background(), testConnection("stripe"), pipeline.Action{
		Type:   pipeline.ActionUnified,
		Name:   "Customers",
		Action: connection.ActionGetMany,
	}, RequestCrud{})
	serviceErr := errors.GetServiceError(err)
	if serviceErr == nil || serviceErr.Code != errors.ErrCodeUpstream {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if serviceErr.HTTPStatus != http.StatusBadGateway || serviceErr.Body != "provider down" {
		t.Errorf("upstream = %d %q", serviceErr.HTTPStatus, serviceErr.Body)
	}
	if serviceErr.Meta["platform"] != "stripe" {
		t.Errorf("meta = %v", serviceErr.Meta)
	}
}

func TestDispatchPassthroughRoutes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"path":"` + r.URL.Path + `"}`))
	}))
	defer server.Close()

	customers := bearerDefinition(server.URL, "Customers", connection.ActionGetMany, true)
	invoices := bearerDefinition(server.URL, "Invoices", connection.ActionGetMany, false)
	defs := &fakeModelDefs{defs: []connection.ModelDefinition{customers, invoices}}
	engine := newTestEngine(defs, &fakeOAuthDefs{}, secrets.NewMemoryStore(), &fakeConnWriter{})
	conn := testConnection("stripe")

	// Declared and supported: proxied with the upstream body.
	resp, err := engine.DispatchPassthrough(context.Background(), conn, pipeline.Action{
		Type:   pipeline.ActionPassthrough,
		Method: "GET",
		Path:   "customers",
	}, RequestCrud{})
	if err != nil {
		t.Fatalf("DispatchPassthrough error = %v", err)
	}
	if resp.StatusCode != http.StatusOK || string(resp.Body) != `{"path":"/customers"}` {
		t.Errorf("passthrough = %d %s", resp.StatusCode, resp.Body)
	}

	// Declared but unsupported: 404.
	_, err = engine.DispatchPassthrough(context.Background(), conn, pipeline.Action{
		Type:   pipeline.ActionPassthrough,
		Method: "GET",
		Path:   "invoices",
	}, RequestCrud{})
	if errors.GetHTTPStatus(err) != http.StatusNotFound {
		t.Errorf("expected 404 for unsupported route, got %v", err)
	}

	// Undeclared: 404.
	_, err = engine.DispatchPassthrough(context.Background(), conn, pipeline.Action{
		Type:   pipeline.ActionPassthrough,
		Method: "GET",
		Path:   "charges",
	}, RequestCrud{})
	if errors.GetHTTPStatus(err) != http.StatusNotFound {
		t.Errorf("expected 404 for undeclared route, got %v", err)
	}
}

func TestDispatchUnifiedRequestMapping(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf, _ := io.ReadAll(r.Body)
		gotBody = string(buf)
		_, _ = w.Write([]byte(`{"object":"customer","given_name":"Ada"}`))
	}))
	defer server.Close()

	fromScript := `function fromCommonModel(input) { return { given_name: input.firstName }; }`
	toScript := `function toCommonModel(input) { return { firstName: input.given_name }; }`
	def := bearerDefinition(server.URL, "Customers", connection.ActionCreate, true)
	def.Action = "POST"
	def.Mapping = &connection.CrudMapping{
		CommonModelName: "Customers",
		FromCommonModel: &fromScript,
		ToCommonModel:   &toScript,
	}
	defs := &fakeModelDefs{defs: []connection.ModelDefinition{def}}
	engine := newTestEngine(defs, &fakeOAuthDefs{}, secrets.NewMemoryStore(), &fakeConnWriter{})

	resp, err := engine.DispatchUnified(context.Background(), testConnection("stripe"), pipeline.Action{
		Type:   pipeline.ActionUnified,
		Name:   "Customers",
		Action: connection.ActionCreate,
	}, RequestCrud{Body: json.RawMessage(`{"firstName":"Ada"}`)})
	if err != nil {
		t.Fatalf("DispatchUnified error = %v", err)
	}

	var sent map[string]any
	if err := json.Unmarshal([]byte(gotBody), &sent); err != nil {
		t.Fatalf("provider body %q: %v", gotBody, err)
	}
	if sent["given_name"] != "Ada" {
		t.Errorf("provider body = %v", sent)
	}

	var mapped map[string]any
	if err := json.Unmarshal(resp.Body, &mapped); err != nil {
		t.Fatalf("response body %s: %v", resp.Body, err)
	}
	if mapped["firstName"] != "Ada" {
		t.Errorf("mapped response = %v", mapped)
	}
}

func TestDispatchUnifiedPagination(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		switch r.URL.Query().Get("cursor") {
		case "":
			_, _ = w.Write([]byte(`{"data":[{"id":1},{"id":2}],"next":"page2"}`))
		case "page2":
			_, _ = w.Write([]byte(`{"data":[{"id":3}],"next":""}`))
		default:
			t.Errorf("unexpected cursor on call %d", n)
		}
	}))
	defer server.Close()

	objectPath := "$.data"
	cursorPath := "$.next"
	def := bearerDefinition(server.URL, "Customers", connection.ActionGetMany, true)
	def.Config.Paths = &connection.ModelPaths{
		Response: &connection.ResponseModelPaths{Object: &objectPath, Cursor: &cursorPath},
	}
	defs := &fakeModelDefs{defs: []connection.ModelDefinition{def}}
	engine := newTestEngine(defs, &fakeOAuthDefs{}, secrets.NewMemoryStore(), &fakeConnWriter{})

	resp, err := engine.DispatchUnified(context.Background(), testConnection("stripe"), pipeline.Action{
		Type:   pipeline.ActionUnified,
		Name:   "Customers",
		Action: connection.ActionGetMany,
	}, RequestCrud{QueryParams: map[string]string{"limit": "10"}})
	if err != nil {
		t.Fatalf("DispatchUnified error = %v", err)
	}

	var items []map[string]any
	if err := json.Unmarshal(resp.Body, &items); err != nil {
		t.Fatalf("body %s: %v", resp.Body, err)
	}
	if len(items) != 3 {
		t.Errorf("items = %v, want 3", items)
	}
	if calls != 2 {
		t.Errorf("provider calls = %d, want 2", calls)
	}
}

func oauthConnection(defID id.ID, secretID string, expiresAt int64) connection.Connection {
	conn := testConnection("xero")
	expiresIn := int32(1800)
	conn.SecretsServiceID = secretID
	conn.OAuth = &connection.OAuthState{
		Enabled:                     true,
		ConnectionOAuthDefinitionID: defID,
		ExpiresIn:                   &expiresIn,
		ExpiresAt:                   &expiresAt,
	}
	return conn
}

func oauthFixture(t *testing.T, tokenURL string) (*fakeOAuthDefs, *secrets.MemoryStore, id.ID, string) {
	t.Helper()

	defID := id.Now(id.PrefixConnectionOAuthDefinition)
	def := connection.OAuthDefinition{
		ID:                 defID,
		ConnectionPlatform: "xero",
		Configuration: connection.OAuthApiConfig{
			Refresh: connection.ApiModelConfig{
				BaseURL:    tokenURL,
				Path:       "token",
				AuthMethod: connection.AuthMethod{Type: connection.AuthMethodNone},
			},
		},
		Compute: connection.OAuthCompute{
			Refresh: connection.ComputeRequest{
				Response: connection.Function{Compute: connection.Compute{
					Entry: "mapResponse",
					Function: `function mapResponse(input) {
						return {
							accessToken: input.response.access_token,
							expiresIn: input.response.expires_in,
							refreshToken: input.response.refresh_token,
							tokenType: input.response.token_type
						};
					}`,
					Language: "javascript",
				}},
			},
		},
		RecordMetadata: shared.NewRecordMetadata(),
	}

	refreshToken := "rt_original"
	oauthSecret := secret.OAuthSecret{
		ClientID:     "client-1",
		ClientSecret: "shh",
		AccessToken:  "at_stale",
		RefreshToken: &refreshToken,
		ExpiresIn:    1800,
		Metadata:     json.RawMessage(`{}`),
	}
	payload, err := oauthSecret.AsJSON()
	if err != nil {
		t.Fatalf("AsJSON error = %v", err)
	}

	store := secrets.NewMemoryStore()
	version := secret.VersionV2LocalAead
	record := secret.New(payload, &version, "build-1", nil)
	record.ID = "sec_oauth_1"
	store.Put(record)

	return &fakeOAuthDefs{defs: []connection.OAuthDefinition{def}}, store, defID, record.ID
}

func TestOAuthRefreshNotDueSkipsRefresh(t *testing.T) {
	var tokenCalls int32
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&tokenCalls, 1)
		_, _ = w.Write([]byte(`{"access_token":"at_new","expires_in":3600}`))
	}))
	defer tokenServer.Close()

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer provider.Close()

	oauthDefs, store, defID, secretID := oauthFixture(t, tokenServer.URL)
	def := bearerDefinition(provider.URL, "Contacts", connection.ActionGetMany, true)
	def.ConnectionPlatform = "xero"
	def.Key = connection.DefinitionKey("xero", "2023-08-16", "Contacts", connection.ActionGetMany)
	def.Config.AuthMethod = connection.AuthMethod{Type: connection.AuthMethodOAuth}
	defs := &fakeModelDefs{defs: []connection.ModelDefinition{def}}
	engine := newTestEngine(defs, oauthDefs, store, &fakeConnWriter{})

	// Expiry is an hour out: dispatch must not refresh.
	conn := oauthConnection(defID, secretID, time.Now().Add(time.Hour).UnixMilli())
	if _, err := engine.DispatchUnified(context.Background(), conn, pipeline.Action{
		Type:   pipeline.ActionUnified,
		Name:   "Contacts",
		Action: connection.ActionGetMany,
	}, RequestCrud{}); err != nil {
		t.Fatalf("DispatchUnified error = %v", err)
	}
	if tokenCalls != 0 {
		t.Errorf("token endpoint called %d times, want 0", tokenCalls)
	}
}

func TestOAuthRefreshOnceUnderConcurrency(t *testing.T) {
	var tokenCalls int32
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&tokenCalls, 1)
		time.Sleep(20 * time.Millisecond)
		_, _ = w.Write([]byte(`{"access_token":"at_new","expires_in":3600,"refresh_token":"rt_new","token_type":"Bearer"}`))
	}))
	defer tokenServer.Close()

	var mu sync.Mutex
	seenTokens := map[string]bool{}
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seenTokens[r.Header.Get("Authorization")] = true
		mu.Unlock()
		_, _ = w.Write([]byte(`{}`))
	}))
	defer provider.Close()

	oauthDefs, store, defID, secretID := oauthFixture(t, tokenServer.URL)
	def := bearerDefinition(provider.URL, "Contacts", connection.ActionGetMany, true)
	def.ConnectionPlatform = "xero"
	def.Key = connection.DefinitionKey("xero", "2023-08-16", "Contacts", connection.ActionGetMany)
	def.Config.AuthMethod = connection.AuthMethod{Type: connection.AuthMethodOAuth}
	defs := &fakeModelDefs{defs: []connection.ModelDefinition{def}}
	writer := &fakeConnWriter{}
	engine := newTestEngine(defs, oauthDefs, store, writer)

	// Expiry is due: every concurrent dispatch needs a fresh token, but the
	// refresh must run exactly once.
	conn := oauthConnection(defID, secretID, time.Now().UnixMilli())

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := engine.DispatchUnified(context.Background(), conn, pipeline.Action{
				Type:   pipeline.ActionUnified,
				Name:   "Contacts",
				Action: connection.ActionGetMany,
			}, RequestCrud{}); err != nil {
				t.Errorf("DispatchUnified error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&tokenCalls); got != 1 {
		t.Errorf("token endpoint called %d times, want exactly 1", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if !seenTokens["Bearer at_new"] || len(seenTokens) != 1 {
		t.Errorf("provider saw tokens %v, want only the refreshed one", seenTokens)
	}

	writer.mu.Lock()
	defer writer.mu.Unlock()
	if len(writer.updates) != 1 {
		t.Errorf("connection updates = %d, want 1", len(writer.updates))
	}
}
