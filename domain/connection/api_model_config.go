package connection

// AuthMethodType discriminates the supported authentication schemes.
type AuthMethodType string

const (
	AuthMethodBearerToken AuthMethodType = "BearerToken"
	AuthMethodAPIKey      AuthMethodType = "ApiKey"
	AuthMethodBasicAuth   AuthMethodType = "BasicAuth"
	AuthMethodOAuthLegacy AuthMethodType = "OAuthLegacy"
	AuthMethodOAuth       AuthMethodType = "OAuth"
	AuthMethodNone        AuthMethodType = "None"
)

// OAuthLegacyAlgorithm selects the OAuth 1.0a signature method.
type OAuthLegacyAlgorithm string

const (
	OAuthLegacyHmacSha1   OAuthLegacyAlgorithm = "HMAC-SHA1"
	OAuthLegacyHmacSha256 OAuthLegacyAlgorithm = "HMAC-SHA256"
	OAuthLegacyHmacSha512 OAuthLegacyAlgorithm = "HMAC-SHA512"
	OAuthLegacyPlainText  OAuthLegacyAlgorithm = "PLAINTEXT"
)

// AuthMethod describes how outbound calls for a model definition
// authenticate. Only the fields relevant to the selected Type are set.
type AuthMethod struct {
	Type AuthMethodType `json:"type" bson:"type"`

	// BearerToken and ApiKey.
	Key   string `json:"key,omitempty" bson:"key,omitempty"`
	Value string `json:"value,omitempty" bson:"value,omitempty"`

	// BasicAuth.
	Username string `json:"username,omitempty" bson:"username,omitempty"`
	Password string `json:"password,omitempty" bson:"password,omitempty"`

	// OAuthLegacy.
	HashAlgorithm OAuthLegacyAlgorithm `json:"hashAlgorithm,omitempty" bson:"hashAlgorithm,omitempty"`
	Realm         *string              `json:"realm,omitempty" bson:"realm,omitempty"`
}

// ContentType is the request body encoding for a model definition.
type ContentType string

const (
	ContentJSON  ContentType = "json"
	ContentForm  ContentType = "form"
	ContentOther ContentType = "other"
)

// ModelPaths locates interesting values inside provider requests/responses.
type ModelPaths struct {
	Request  *RequestModelPaths  `json:"request,omitempty" bson:"request,omitempty"`
	Response *ResponseModelPaths `json:"response,omitempty" bson:"response,omitempty"`
}

type RequestModelPaths struct {
	Object *string `json:"object,omitempty" bson:"object,omitempty"`
}

type ResponseModelPaths struct {
	Object *string `json:"object,omitempty" bson:"object,omitempty"`
	ID     *string `json:"id,omitempty" bson:"id,omitempty"`
	Cursor *string `json:"cursor,omitempty" bson:"cursor,omitempty"`
}

// ApiModelConfig is one provider endpoint: where it lives, how it
// authenticates, and which headers/params it always carries.
type ApiModelConfig struct {
	BaseURL     string            `json:"baseUrl" bson:"baseUrl"`
	Path        string            `json:"path" bson:"path"`
	AuthMethod  AuthMethod        `json:"authMethod" bson:"authMethod"`
	Headers     map[string]string `json:"headers,omitempty" bson:"headers,omitempty"`
	QueryParams map[string]string `json:"queryParams,omitempty" bson:"queryParams,omitempty"`
	Content     *ContentType      `json:"content,omitempty" bson:"content,omitempty"`
	Paths       *ModelPaths       `json:"paths,omitempty" bson:"paths,omitempty"`
}

// URI joins the base URL and path with exactly one separating slash.
func (c ApiModelConfig) URI() string {
	base, path := c.BaseURL, c.Path
	switch {
	case len(base) > 0 && base[len(base)-1] == '/' && len(path) > 0 && path[0] == '/':
		return base[:len(base)-1] + path
	case (len(base) > 0 && base[len(base)-1] == '/') || (len(path) > 0 && path[0] == '/'):
		return base + path
	default:
		return base + "/" + path
	}
}

// Compute is an embedded JavaScript function with a named entry point.
type Compute struct {
	Entry    string `json:"entry" bson:"entry"`
	Function string `json:"function" bson:"function"`
	Language string `json:"language" bson:"language"`
}

// Function wraps a Compute for definition-level scripts.
type Function struct {
	Compute `bson:",inline"`
}
