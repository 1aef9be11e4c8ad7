// Package unified implements the dispatch engine: per-request translation
// between a common-model call and the provider-native API, including secret
// hydration, request/response mapping, authentication, pagination and the
// OAuth lifecycle.
package unified

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/R3E-Network/integration_layer/domain/connection"
	"github.com/R3E-Network/integration_layer/domain/id"
	"github.com/R3E-Network/integration_layer/domain/pipeline"
	"github.com/R3E-Network/integration_layer/infrastructure/cache"
	"github.com/R3E-Network/integration_layer/infrastructure/errors"
	"github.com/R3E-Network/integration_layer/infrastructure/jsruntime"
	"github.com/R3E-Network/integration_layer/infrastructure/secrets"
	"github.com/R3E-Network/integration_layer/pkg/logger"
)

const (
	fromCommonModelEntry = "fromCommonModel"
	toCommonModelEntry   = "toCommonModel"

	defaultPageLimit = 100
	maxPages         = 50
)

// ModelDefinitionReader is the catalogue slice the engine resolves
// endpoints from.
type ModelDefinitionReader interface {
	GetOne(ctx context.Context, filter bson.M) (*connection.ModelDefinition, error)
	GetMany(ctx context.Context, filter bson.M, sort bson.D, limit, skip int64) ([]connection.ModelDefinition, error)
}

// OAuthDefinitionReader resolves OAuth flow definitions.
type OAuthDefinitionReader interface {
	GetOne(ctx context.Context, filter bson.M) (*connection.OAuthDefinition, error)
}

// ConnectionWriter persists OAuth expiry updates back onto connections.
type ConnectionWriter interface {
	UpdateOne(ctx context.Context, id string, update bson.M) error
}

// Options wires an Engine.
type Options struct {
	ModelDefinitions  ModelDefinitionReader
	OAuthDefinitions  OAuthDefinitionReader
	Connections       ConnectionWriter
	Secrets           secrets.Store
	Caches            *cache.Caches
	JS                *jsruntime.Runtime
	Client            HTTPDoer
	Logger            *logger.Logger
	Timeout           time.Duration
	OAuthSafetyMargin time.Duration
}

// Engine composes one dispatch: resolve model, hydrate secrets, map the
// request, authenticate, execute, map the response, paginate.
type Engine struct {
	modelDefinitions ModelDefinitionReader
	oauthDefinitions OAuthDefinitionReader
	connections      ConnectionWriter
	secrets          secrets.Store
	caches           *cache.Caches
	js               *jsruntime.Runtime
	client           HTTPDoer
	log              *logger.Logger
	timeout          time.Duration
	safetyMargin     time.Duration
}

// NewEngine validates and applies the options.
func NewEngine(opts Options) *Engine {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.OAuthSafetyMargin == 0 {
		opts.OAuthSafetyMargin = 2 * time.Minute
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Caches == nil {
		opts.Caches = cache.NewCaches(cache.CachesConfig{})
	}
	if opts.JS == nil {
		opts.JS = jsruntime.New(0)
	}
	if opts.Logger == nil {
		opts.Logger = logger.New("unified", logger.Config{})
	}
	return &Engine{
		modelDefinitions: opts.ModelDefinitions,
		oauthDefinitions: opts.OAuthDefinitions,
		connections:      opts.Connections,
		secrets:          opts.Secrets,
		caches:           opts.Caches,
		js:               opts.JS,
		client:           opts.Client,
		log:              opts.Logger,
		timeout:          opts.Timeout,
		safetyMargin:     opts.OAuthSafetyMargin,
	}
}

// DispatchUnified executes a unified action against a connection.
func (e *Engine) DispatchUnified(ctx context.Context, conn connection.Connection, action pipeline.Action, req RequestCrud) (*Response, error) {
	if action.Type != pipeline.ActionUnified {
		return nil, errors.BadRequest("unified dispatch requires a unified action")
	}

	def, err := e.resolveUnifiedDefinition(ctx, conn, action)
	if err != nil {
		return nil, err
	}

	secretValue, err := e.hydrateSecret(ctx, &conn, def.Config.AuthMethod.Type)
	if err != nil {
		return nil, err
	}

	response, err := e.executeOnce(ctx, conn, *def, action, req, secretValue)
	if err != nil {
		return nil, err
	}

	if action.Action == connection.ActionGetMany && !action.Passthrough {
		return e.paginate(ctx, conn, *def, action, req, secretValue, response)
	}
	return response, nil
}

// DispatchPassthrough proxies a raw provider call through a connection's
// declared routes.
func (e *Engine) DispatchPassthrough(ctx context.Context, conn connection.Connection, action pipeline.Action, req RequestCrud) (*Response, error) {
	if action.Type != pipeline.ActionPassthrough {
		return nil, errors.BadRequest("passthrough dispatch requires a passthrough action")
	}

	defs, err := e.modelDefinitions.GetMany(ctx, bson.M{"connectionPlatform": conn.Platform}, nil, 0, 0)
	if err != nil {
		return nil, errors.ConnectionError("fetch model definitions", err)
	}

	byRoute := make(map[string]connection.ModelDefinition, len(defs))
	routes := make([]string, 0, len(defs))
	for _, def := range defs {
		if !strings.EqualFold(def.Action, action.Method) {
			continue
		}
		routes = append(routes, def.Config.Path)
		byRoute[def.Config.Path] = def
	}

	matched, ok := MatchRoute(action.Path, routes)
	if !ok {
		return nil, errors.NotFound("route", action.Path)
	}
	def := byRoute[matched]
	if !def.Supported {
		return nil, errors.NotFound("route", action.Path)
	}

	secretValue, err := e.hydrateSecret(ctx, &conn, def.Config.AuthMethod.Type)
	if err != nil {
		return nil, err
	}

	cfg := def.Config
	cfg.Path = TemplateRoute(def.Config.Path, action.Path)

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	caller := NewCallerClient(&cfg, strings.ToUpper(action.Method), e.client)
	result, err := caller.MakeRequest(callCtx, req.Body, secretValue, req.Headers, req.QueryParams)
	if err != nil {
		return nil, err
	}

	meta := e.buildMetadata(conn, def, action.Method, result)
	if result.StatusCode < 200 || result.StatusCode >= 300 {
		return nil, errors.Upstream(result.StatusCode, string(result.Body)).WithMeta(meta.AsMap())
	}

	// Passthrough bypasses response mapping and pagination.
	return &Response{
		StatusCode: result.StatusCode,
		Headers:    renameResponseHeaders(result.Headers),
		Body:       result.Body,
		Meta:       meta,
	}, nil
}

func (e *Engine) resolveUnifiedDefinition(ctx context.Context, conn connection.Connection, action pipeline.Action) (*connection.ModelDefinition, error) {
	key := connection.DefinitionKey(conn.Platform, conn.PlatformVersion, action.Name, action.Action)
	def, err := cache.GetOrInsertWithFilter(ctx, e.caches.ModelDefinitions, key, e.modelDefinitions, bson.M{"key": key})
	if err != nil {
		return nil, err
	}
	if !def.Supported {
		return nil, errors.NotFound("action", key)
	}
	return &def, nil
}

// executeOnce runs steps 3-6 of the dispatch pipeline for a single page.
func (e *Engine) executeOnce(ctx context.Context, conn connection.Connection, def connection.ModelDefinition, action pipeline.Action, req RequestCrud, secretValue json.RawMessage) (*Response, error) {
	payload, err := e.mapRequestBody(ctx, def, action, req)
	if err != nil {
		return nil, err
	}

	cfg := def.Config
	cfg.Path = substitutePathParams(cfg.Path, action.ID, req.PathParams)

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	caller := NewCallerClient(&cfg, strings.ToUpper(def.Action), e.client)
	result, err := caller.MakeRequest(callCtx, payload, secretValue, req.Headers, req.QueryParams)
	if err != nil {
		return nil, err
	}

	meta := e.buildMetadata(conn, def, string(action.Action), result)
	if result.StatusCode < 200 || result.StatusCode >= 300 {
		return nil, errors.Upstream(result.StatusCode, string(result.Body)).WithMeta(meta.AsMap())
	}

	body := result.Body
	if !action.Passthrough {
		body, err = e.mapResponseBody(ctx, def, body)
		if err != nil {
			return nil, err
		}
	}

	return &Response{
		StatusCode: result.StatusCode,
		Headers:    renameResponseHeaders(result.Headers),
		Body:       body,
		Meta:       meta,
	}, nil
}

// mapRequestBody runs the fromCommonModel script when the definition has
// one; otherwise the caller's body is forwarded untouched.
func (e *Engine) mapRequestBody(ctx context.Context, def connection.ModelDefinition, action pipeline.Action, req RequestCrud) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	if action.Passthrough || def.Mapping == nil || def.Mapping.FromCommonModel == nil {
		return req.Body, nil
	}

	namespace := def.ID.String() + "::" + fromCommonModelEntry
	if !e.js.Has(namespace) {
		if err := e.js.Create(namespace, fromCommonModelEntry, *def.Mapping.FromCommonModel); err != nil {
			return nil, err
		}
	}

	var mapped json.RawMessage
	if err := e.js.Run(ctx, namespace, req.Body, &mapped); err != nil {
		return nil, err
	}
	return mapped, nil
}

// mapResponseBody runs the toCommonModel script when present.
func (e *Engine) mapResponseBody(ctx context.Context, def connection.ModelDefinition, body []byte) ([]byte, error) {
	if def.Mapping == nil || def.Mapping.ToCommonModel == nil || len(body) == 0 {
		return body, nil
	}

	namespace := def.ID.String() + "::" + toCommonModelEntry
	if !e.js.Has(namespace) {
		if err := e.js.Create(namespace, toCommonModelEntry, *def.Mapping.ToCommonModel); err != nil {
			return nil, err
		}
	}

	var payload json.RawMessage = body
	if !json.Valid(body) {
		encoded, err := json.Marshal(string(body))
		if err != nil {
			return nil, errors.SerializeError("encode provider response", err)
		}
		payload = encoded
	}

	var mapped json.RawMessage
	if err := e.js.Run(ctx, namespace, payload, &mapped); err != nil {
		return nil, err
	}
	return mapped, nil
}

// paginate repeats the request with the provider cursor applied until the
// caller-specified limit is reached, concatenating results.
func (e *Engine) paginate(ctx context.Context, conn connection.Connection, def connection.ModelDefinition, action pipeline.Action, req RequestCrud, secretValue json.RawMessage, first *Response) (*Response, error) {
	paths := def.Config.Paths
	if paths == nil || paths.Response == nil || paths.Response.Cursor == nil || paths.Response.Object == nil {
		return first, nil
	}

	limit := defaultPageLimit
	if raw := req.QueryParams["limit"]; raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return nil, errors.BadRequest("invalid limit query parameter")
		}
		limit = parsed
	}

	objectPath := strings.TrimPrefix(*paths.Response.Object, "$.")
	cursorPath := strings.TrimPrefix(*paths.Response.Cursor, "$.")

	collected := make([]json.RawMessage, 0, limit)
	appendPage := func(body []byte) {
		for _, item := range gjson.GetBytes(body, objectPath).Array() {
			if len(collected) >= limit {
				return
			}
			collected = append(collected, json.RawMessage(item.Raw))
		}
	}

	appendPage(first.Body)
	cursor := gjson.GetBytes(first.Body, cursorPath).String()
	last := first

	for page := 1; page < maxPages && cursor != "" && len(collected) < limit; page++ {
		next, err := e.executeOnce(ctx, conn, def, action, req.WithQueryParam("cursor", cursor), secretValue)
		if err != nil {
			return nil, err
		}
		appendPage(next.Body)
		cursor = gjson.GetBytes(next.Body, cursorPath).String()
		last = next
	}

	body, err := json.Marshal(collected)
	if err != nil {
		return nil, errors.SerializeError("concatenate pages", err)
	}

	out := *last
	out.Body = body
	return &out, nil
}

func (e *Engine) buildMetadata(conn connection.Connection, def connection.ModelDefinition, action string, result *CallerResponse) Metadata {
	host := hostOf(def.Config.BaseURL)
	return Metadata{
		Timestamp:                  time.Now().UnixMilli(),
		PlatformRateLimitRemaining: platformRateLimitRemaining(result.Headers),
		RateLimitRemaining:         0,
		Host:                       host,
		TransactionKey:             id.Now(id.PrefixTransaction),
		Platform:                   conn.Platform,
		PlatformVersion:            conn.PlatformVersion,
		Action:                     action,
		CommonModel:                def.ModelName,
		CommonModelVersion:         def.RecordMetadata.Version,
		ConnectionKey:              conn.Key,
	}
}

func hostOf(baseURL string) *string {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(baseURL, "https://"), "http://")
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		trimmed = trimmed[:i]
	}
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// substitutePathParams fills ":param" and "{{param}}" segments from the
// action id and the caller's path parameters. A bare id fills the first
// wildcard.
func substitutePathParams(path string, actionID *string, params map[string]string) string {
	segments := strings.Split(path, "/")
	idUsed := false
	for i, segment := range segments {
		if !isWildcard(segment) {
			continue
		}
		name := strings.TrimPrefix(segment, ":")
		name = strings.TrimSuffix(strings.TrimPrefix(name, "{{"), "}}")
		if v, ok := params[name]; ok {
			segments[i] = v
			continue
		}
		if actionID != nil && !idUsed {
			segments[i] = *actionID
			idUsed = true
		}
	}

	out := strings.Join(segments, "/")
	// Definitions without a declared id segment take the id as a suffix.
	if actionID != nil && !idUsed {
		out = strings.TrimSuffix(out, "/") + "/" + *actionID
	}
	return out
}
