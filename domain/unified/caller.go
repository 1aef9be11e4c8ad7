package unified

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/R3E-Network/integration_layer/domain/connection"
	"github.com/R3E-Network/integration_layer/domain/secret"
	"github.com/R3E-Network/integration_layer/infrastructure/errors"
	"github.com/R3E-Network/integration_layer/pkg/version"
)

// HTTPDoer is the outbound HTTP capability; satisfied by *http.Client and
// the rate-limited client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// CallerClient builds and executes one provider-native request from an
// ApiModelConfig. Authentication headers are applied last, after the
// definition's and caller's headers.
type CallerClient struct {
	config *connection.ApiModelConfig
	method string
	client HTTPDoer
}

// NewCallerClient binds a definition config and HTTP method to a client.
func NewCallerClient(config *connection.ApiModelConfig, method string, client HTTPDoer) *CallerClient {
	return &CallerClient{config: config, method: method, client: client}
}

// CallerResponse is the raw provider answer.
type CallerResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// MakeRequest executes the call with merged headers and query parameters.
// secretValue supplies the decoded credential for OAuth flavors.
func (c *CallerClient) MakeRequest(ctx context.Context, payload []byte, secretValue json.RawMessage, headers http.Header, queryParams map[string]string) (*CallerResponse, error) {
	endpoint := c.config.URI()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, c.method, endpoint, body)
	if err != nil {
		return nil, errors.InvalidArgument("invalid provider endpoint: " + endpoint)
	}

	merged := sanitizeCallerHeaders(headers)
	for k, v := range c.config.Headers {
		merged.Set(k, v)
	}
	if merged.Get("User-Agent") == "" {
		merged.Set("User-Agent", version.UserAgent())
	}
	req.Header = merged

	query := req.URL.Query()
	for k, v := range c.config.QueryParams {
		query.Set(k, v)
	}
	for k, v := range queryParams {
		query.Set(k, v)
	}
	req.URL.RawQuery = query.Encode()

	if payload != nil && req.Header.Get("Content-Type") == "" {
		if c.config.Content == nil || *c.config.Content == connection.ContentJSON {
			req.Header.Set("Content-Type", "application/json")
		} else if *c.config.Content == connection.ContentForm {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}

	if err := c.authenticate(req, secretValue); err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Timeout(c.method + " " + endpoint)
		}
		return nil, errors.IOError("failed to send provider request", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.IOError("failed to read provider response", err)
	}

	return &CallerResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       responseBody,
	}, nil
}

// authenticate translates the definition's AuthMethod into request headers.
func (c *CallerClient) authenticate(req *http.Request, secretValue json.RawMessage) error {
	switch c.config.AuthMethod.Type {
	case connection.AuthMethodBearerToken:
		req.Header.Set("Authorization", "Bearer "+c.config.AuthMethod.Value)

	case connection.AuthMethodAPIKey:
		req.Header.Set(c.config.AuthMethod.Key, c.config.AuthMethod.Value)

	case connection.AuthMethodBasicAuth:
		req.SetBasicAuth(c.config.AuthMethod.Username, c.config.AuthMethod.Password)

	case connection.AuthMethodOAuthLegacy:
		var legacy secret.OAuthLegacySecret
		if err := json.Unmarshal(orEmptyObject(secretValue), &legacy); err != nil {
			return errors.Unauthorized("could not decode oauth legacy secret")
		}
		nonce, err := generateNonce()
		if err != nil {
			return errors.EncryptionError(err)
		}
		endpoint, err := url.Parse(c.config.URI())
		if err != nil {
			return errors.InvalidArgument("invalid provider endpoint: " + c.config.URI())
		}
		data := OAuth1Data{
			ClientID:        legacy.ConsumerKey,
			Token:           &legacy.AccessTokenID,
			SignatureMethod: c.config.AuthMethod.HashAlgorithm,
			Nonce:           nonce,
		}
		key := SigningKey{
			ClientSecret: legacy.ConsumerSecret,
			TokenSecret:  &legacy.AccessTokenSecret,
		}
		header, err := data.AuthorizationHeader(SignableRequest{
			Method: c.method,
			URI:    endpoint,
		}, key, c.config.AuthMethod.Realm)
		if err != nil {
			return errors.ScriptError("failed to sign oauth legacy request", err)
		}
		req.Header.Set("Authorization", header)

	case connection.AuthMethodOAuth:
		var oauthSecret secret.OAuthSecret
		if err := json.Unmarshal(orEmptyObject(secretValue), &oauthSecret); err != nil {
			return errors.Unauthorized("could not decode oauth secret")
		}
		tokenType := "Bearer"
		if oauthSecret.TokenType != nil && *oauthSecret.TokenType != "" {
			tokenType = *oauthSecret.TokenType
		}
		req.Header.Set("Authorization", strings.TrimSpace(tokenType+" "+oauthSecret.AccessToken))

	case connection.AuthMethodNone, "":
	default:
		return errors.InvalidArgument("unknown auth method: " + string(c.config.AuthMethod.Type))
	}
	return nil
}

func orEmptyObject(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}
