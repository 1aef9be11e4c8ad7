package unified

import (
	"context"
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/R3E-Network/integration_layer/domain/connection"
	"github.com/R3E-Network/integration_layer/domain/id"
	"github.com/R3E-Network/integration_layer/domain/secret"
	"github.com/R3E-Network/integration_layer/infrastructure/cache"
	"github.com/R3E-Network/integration_layer/infrastructure/errors"
)

// computation is the override set a computation script may produce for an
// OAuth call.
type computation struct {
	Headers     map[string]string `json:"headers"`
	QueryParams map[string]string `json:"queryParams"`
	Body        json.RawMessage   `json:"body"`
}

// oauthScriptInput is the payload handed to computation and response
// scripts.
type oauthScriptInput struct {
	Secret     secret.OAuthSecret    `json:"secret"`
	Connection connection.Connection `json:"connection"`
	Response   json.RawMessage       `json:"response,omitempty"`
}

// hydrateSecret loads the connection's credential, refreshing OAuth tokens
// first when expiry is due. The returned value is the decoded JSON payload
// handed to the authentication step.
func (e *Engine) hydrateSecret(ctx context.Context, conn *connection.Connection, authType connection.AuthMethodType) (json.RawMessage, error) {
	if authType == connection.AuthMethodOAuth && e.refreshDue(*conn, time.Now()) {
		refreshed, err := e.RefreshOAuth(ctx, *conn)
		if err != nil {
			return nil, err
		}
		payload, err := json.Marshal(refreshed)
		if err != nil {
			return nil, errors.SerializeError("serialize refreshed oauth secret", err)
		}
		return payload, nil
	}

	if conn.SecretsServiceID == "" {
		return nil, nil
	}

	record, err := e.caches.Secrets.GetOrInsertWithFn(ctx, conn.ID.String(), func(ctx context.Context) (secret.Secret, error) {
		return e.secrets.Get(ctx, conn.SecretsServiceID, conn.Ownership.ID)
	})
	if err != nil {
		return nil, err
	}
	return json.RawMessage(record.EncryptedSecret), nil
}

// refreshDue applies the lazy trigger: refresh when now is within the safety
// margin of the recorded expiry.
func (e *Engine) refreshDue(conn connection.Connection, now time.Time) bool {
	if conn.OAuth == nil || !conn.OAuth.Enabled || conn.OAuth.ExpiresAt == nil {
		return false
	}
	return now.UnixMilli() >= *conn.OAuth.ExpiresAt-e.safetyMargin.Milliseconds()
}

// RefreshOAuth exchanges the refresh token for fresh credentials. Concurrent
// refreshes for the same connection coalesce: one flight runs, everyone
// awaits its result.
func (e *Engine) RefreshOAuth(ctx context.Context, conn connection.Connection) (secret.OAuthSecret, error) {
	return e.caches.OAuthSecrets.GetOrInsertWithFn(ctx, conn.ID.String(), func(ctx context.Context) (secret.OAuthSecret, error) {
		return e.refreshOAuthLocked(ctx, conn)
	})
}

func (e *Engine) refreshOAuthLocked(ctx context.Context, conn connection.Connection) (secret.OAuthSecret, error) {
	var zero secret.OAuthSecret
	if conn.OAuth == nil || !conn.OAuth.Enabled {
		return zero, errors.BadRequest("connection has no oauth enabled")
	}

	defID := conn.OAuth.ConnectionOAuthDefinitionID.String()
	def, err := cache.GetOrInsertWithFilter(ctx, e.caches.OAuthDefinitions, defID, e.oauthDefinitions, bson.M{"_id": defID})
	if err != nil {
		return zero, err
	}

	record, err := e.secrets.Get(ctx, conn.SecretsServiceID, conn.Ownership.ID)
	if err != nil {
		return zero, err
	}
	var current secret.OAuthSecret
	if err := record.Decode(&current); err != nil {
		return zero, errors.DecryptionError(err)
	}

	overrides, err := e.runComputation(ctx, def, "refresh", def.Compute.Refresh.Computation, current, conn)
	if err != nil {
		return zero, err
	}

	result, err := e.executeOAuthCall(ctx, def.Configuration.Refresh, current, overrides)
	if err != nil {
		return zero, err
	}

	oauthResponse, err := e.runResponseScript(ctx, def, "refresh", def.Compute.Refresh.Response, current, conn, result)
	if err != nil {
		return zero, err
	}

	refreshed := secret.OAuthSecret{
		ClientID:       current.ClientID,
		ClientSecret:   current.ClientSecret,
		AccessToken:    oauthResponse.AccessToken,
		TokenType:      oauthResponse.TokenType,
		RefreshToken:   oauthResponse.RefreshToken,
		ExpiresIn:      oauthResponse.ExpiresIn,
		Metadata:       current.Metadata,
		RequestPayload: current.RequestPayload,
	}
	if refreshed.RefreshToken == nil {
		refreshed.RefreshToken = current.RefreshToken
	}

	created, err := e.secrets.Create(ctx, refreshed, conn.Ownership.ID)
	if err != nil {
		return zero, err
	}

	expiresAt := time.Now().Add(time.Duration(oauthResponse.ExpiresIn) * time.Second).Add(-e.safetyMargin).UnixMilli()
	update := bson.M{"$set": bson.M{
		"secretsServiceId": created.ID,
		"oauth": connection.OAuthState{
			Enabled:                     true,
			ConnectionOAuthDefinitionID: conn.OAuth.ConnectionOAuthDefinitionID,
			ExpiresIn:                   &oauthResponse.ExpiresIn,
			ExpiresAt:                   &expiresAt,
		},
	}}
	if err := e.connections.UpdateOne(ctx, conn.ID.String(), update); err != nil {
		return zero, errors.ConnectionError("persist refreshed oauth state", err)
	}

	// Drop cached views of the stale credential and connection.
	e.caches.Secrets.Remove(conn.ID.String())
	e.caches.Connections.Remove(cache.ConnectionKey{Ownership: conn.Ownership.ID, Key: conn.Key})

	e.log.WithContext(ctx).WithField("connection", conn.ID.String()).Info("refreshed oauth credentials")
	return refreshed, nil
}

// runComputation executes the optional computation script yielding call
// overrides.
func (e *Engine) runComputation(ctx context.Context, def connection.OAuthDefinition, leg string, fn *connection.Function, current secret.OAuthSecret, conn connection.Connection) (*computation, error) {
	if fn == nil {
		return nil, nil
	}

	namespace := def.ID.String() + "::" + leg + "::computation"
	if !e.js.Has(namespace) {
		if err := e.js.Create(namespace, fn.Entry, fn.Function); err != nil {
			return nil, err
		}
	}

	var out computation
	input := oauthScriptInput{Secret: current, Connection: conn}
	if err := e.js.Run(ctx, namespace, input, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// runResponseScript maps the provider's token response into the normalized
// OAuthResponse shape.
func (e *Engine) runResponseScript(ctx context.Context, def connection.OAuthDefinition, leg string, fn connection.Function, current secret.OAuthSecret, conn connection.Connection, body []byte) (connection.OAuthResponse, error) {
	var zero connection.OAuthResponse

	namespace := def.ID.String() + "::" + leg + "::response"
	if !e.js.Has(namespace) {
		if err := e.js.Create(namespace, fn.Entry, fn.Function); err != nil {
			return zero, err
		}
	}

	var payload json.RawMessage = body
	if !json.Valid(body) {
		encoded, err := json.Marshal(string(body))
		if err != nil {
			return zero, errors.SerializeError("encode oauth response", err)
		}
		payload = encoded
	}

	var out connection.OAuthResponse
	input := oauthScriptInput{Secret: current, Connection: conn, Response: payload}
	if err := e.js.Run(ctx, namespace, input, &out); err != nil {
		return zero, err
	}
	if out.AccessToken == "" {
		return zero, errors.Unauthorized("oauth response script yielded no access token")
	}
	return out, nil
}

// executeOAuthCall performs the token exchange using the engine's
// authentication machinery.
func (e *Engine) executeOAuthCall(ctx context.Context, cfg connection.ApiModelConfig, current secret.OAuthSecret, overrides *computation) ([]byte, error) {
	var payload []byte
	queryParams := map[string]string{}
	headers := map[string][]string{}

	if overrides != nil {
		for k, v := range overrides.Headers {
			headers[k] = []string{v}
		}
		for k, v := range overrides.QueryParams {
			queryParams[k] = v
		}
		if overrides.Body != nil {
			payload = overrides.Body
		}
	}

	if payload == nil {
		body := map[string]any{
			"grant_type":    "refresh_token",
			"client_id":     current.ClientID,
			"client_secret": current.ClientSecret,
		}
		if current.RefreshToken != nil {
			body["refresh_token"] = *current.RefreshToken
		}
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, errors.SerializeError("serialize oauth request", err)
		}
		payload = encoded
	}

	secretValue, err := json.Marshal(current)
	if err != nil {
		return nil, errors.SerializeError("serialize oauth secret", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	// Token exchanges are POSTs; oauth legs carry no method of their own.
	caller := NewCallerClient(&cfg, "POST", e.client)
	result, err := caller.MakeRequest(callCtx, payload, secretValue, headers, queryParams)
	if err != nil {
		return nil, err
	}
	if result.StatusCode < 200 || result.StatusCode >= 300 {
		return nil, errors.Upstream(result.StatusCode, string(result.Body))
	}
	return result.Body, nil
}

// InitOAuth exchanges an authorization code for the first token set and is
// symmetric to refresh: computation, call, response script, persist.
func (e *Engine) InitOAuth(ctx context.Context, conn connection.Connection, defID string, seed secret.OAuthSecret) (secret.OAuthSecret, error) {
	var zero secret.OAuthSecret

	def, err := cache.GetOrInsertWithFilter(ctx, e.caches.OAuthDefinitions, defID, e.oauthDefinitions, bson.M{"_id": defID})
	if err != nil {
		return zero, err
	}

	overrides, err := e.runComputation(ctx, def, "init", def.Compute.Init.Computation, seed, conn)
	if err != nil {
		return zero, err
	}

	result, err := e.executeOAuthCall(ctx, def.Configuration.Init, seed, overrides)
	if err != nil {
		return zero, err
	}

	oauthResponse, err := e.runResponseScript(ctx, def, "init", def.Compute.Init.Response, seed, conn, result)
	if err != nil {
		return zero, err
	}

	created := secret.OAuthSecret{
		ClientID:       seed.ClientID,
		ClientSecret:   seed.ClientSecret,
		AccessToken:    oauthResponse.AccessToken,
		TokenType:      oauthResponse.TokenType,
		RefreshToken:   oauthResponse.RefreshToken,
		ExpiresIn:      oauthResponse.ExpiresIn,
		Metadata:       seed.Metadata,
		RequestPayload: seed.RequestPayload,
	}

	record, err := e.secrets.Create(ctx, created, conn.Ownership.ID)
	if err != nil {
		return zero, err
	}

	expiresAt := time.Now().Add(time.Duration(oauthResponse.ExpiresIn) * time.Second).Add(-e.safetyMargin).UnixMilli()
	oauthDefID, parseErr := id.Parse(defID)
	if parseErr != nil {
		return zero, errors.InvalidArgument("invalid oauth definition id: " + defID)
	}
	update := bson.M{"$set": bson.M{
		"secretsServiceId": record.ID,
		"oauth": connection.OAuthState{
			Enabled:                     true,
			ConnectionOAuthDefinitionID: oauthDefID,
			ExpiresIn:                   &oauthResponse.ExpiresIn,
			ExpiresAt:                   &expiresAt,
		},
	}}
	if err := e.connections.UpdateOne(ctx, conn.ID.String(), update); err != nil {
		return zero, errors.ConnectionError("persist oauth init state", err)
	}

	return created, nil
}
