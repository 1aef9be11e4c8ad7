package unified

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"hash"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/R3E-Network/integration_layer/domain/connection"
)

// OAuth 1.0a request signing. The base string is
// METHOD & pe(uri without query/fragment, host lowercased) &
// pe(sorted percent-encoded parameters joined by &), signed with
// pe(client_secret) & pe(token_secret?).

const (
	oauthConsumerKey     = "oauth_consumer_key"
	oauthNonce           = "oauth_nonce"
	oauthSignature       = "oauth_signature"
	oauthSignatureMethod = "oauth_signature_method"
	oauthTimestamp       = "oauth_timestamp"
	oauthToken           = "oauth_token"
	oauthVersion         = "oauth_version"
)

// percentEncode applies the RFC 5849 character set: everything except
// ALPHA / DIGIT / "-" / "." / "_" / "~" is escaped.
func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '-', c == '.', c == '_', c == '~':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// Param is one signing parameter; order matters for header rendering.
type Param struct {
	Key   string
	Value string
}

// SignableRequest is the portion of an outbound call committed to by the
// signature.
type SignableRequest struct {
	Method     string
	URI        *url.URL
	Parameters []Param
}

func (r SignableRequest) baseString() string {
	normalized := *r.URI
	normalized.Host = strings.ToLower(normalized.Host)
	normalized.RawQuery = ""
	normalized.Fragment = ""

	params := make([]Param, len(r.Parameters))
	copy(params, r.Parameters)
	sort.SliceStable(params, func(i, j int) bool { return params[i].Key < params[j].Key })

	pairs := make([]string, 0, len(params))
	for _, p := range params {
		pairs = append(pairs, percentEncode(p.Key)+"="+percentEncode(p.Value))
	}

	return r.Method + "&" + percentEncode(normalized.String()) + "&" + percentEncode(strings.Join(pairs, "&"))
}

// SigningKey derives the HMAC key from the client and token secrets.
type SigningKey struct {
	ClientSecret string
	TokenSecret  *string
}

func (k SigningKey) String() string {
	if k.TokenSecret != nil {
		return percentEncode(k.ClientSecret) + "&" + percentEncode(*k.TokenSecret)
	}
	return percentEncode(k.ClientSecret) + "&"
}

func signatureMethodName(alg connection.OAuthLegacyAlgorithm) string {
	if alg == connection.OAuthLegacyPlainText {
		return "PLAINTEXT"
	}
	return string(alg)
}

func sign(alg connection.OAuthLegacyAlgorithm, req SignableRequest, key SigningKey) (string, error) {
	var newHash func() hash.Hash
	switch alg {
	case connection.OAuthLegacyHmacSha1:
		newHash = sha1.New
	case connection.OAuthLegacyHmacSha256:
		newHash = sha256.New
	case connection.OAuthLegacyHmacSha512:
		newHash = sha512.New
	case connection.OAuthLegacyPlainText:
		return key.String(), nil
	default:
		return "", fmt.Errorf("unknown signature algorithm: %q", alg)
	}

	mac := hmac.New(newHash, []byte(key.String()))
	mac.Write([]byte(req.baseString()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// generateNonce returns a 12-character base64url nonce.
func generateNonce() (string, error) {
	var raw [9]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// OAuth1Data carries the per-request OAuth 1.0a identity.
type OAuth1Data struct {
	ClientID        string
	Token           *string
	SignatureMethod connection.OAuthLegacyAlgorithm
	Nonce           string
}

// AuthorizationHeader signs the request and renders the Authorization
// header value, keeping only oauth_-prefixed parameters.
func (d OAuth1Data) AuthorizationHeader(req SignableRequest, key SigningKey, realm *string) (string, error) {
	params := append([]Param{}, req.Parameters...)
	params = append(params, Param{oauthConsumerKey, d.ClientID})
	if d.Token != nil {
		params = append(params, Param{oauthToken, *d.Token})
	}
	params = append(params,
		Param{oauthSignatureMethod, signatureMethodName(d.SignatureMethod)},
		Param{oauthTimestamp, strconv.FormatInt(time.Now().Unix(), 10)},
		Param{oauthNonce, d.Nonce},
		Param{oauthVersion, "1.0"},
	)
	req.Parameters = params

	signature, err := sign(d.SignatureMethod, req, key)
	if err != nil {
		return "", err
	}
	params = append(params, Param{oauthSignature, signature})

	var rendered []string
	for _, p := range params {
		if !strings.HasPrefix(p.Key, "oauth_") {
			continue
		}
		rendered = append(rendered, fmt.Sprintf("%s=%q", percentEncode(p.Key), percentEncode(p.Value)))
	}

	if realm != nil {
		return fmt.Sprintf("OAuth realm=%q,%s", *realm, strings.Join(rendered, ",")), nil
	}
	return "OAuth " + strings.Join(rendered, ","), nil
}
