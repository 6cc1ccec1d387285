package middleware

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/Suhaibinator/SDispatch/pkg/common"
	"go.uber.org/zap"
)

// APIKey is the key accepted by the api key layer, stored as a request extension.
type APIKey string

// AuthProvider defines an interface for authentication providers.
// Different authentication mechanisms can implement this interface
// to be used with the AuthenticationWithProvider layer.
type AuthProvider interface {
	// Authenticate returns true if the request carries valid credentials.
	Authenticate(r *common.Request) bool
}

// BasicAuthProvider provides HTTP Basic Authentication.
// It validates username and password credentials against a predefined map.
type BasicAuthProvider struct {
	Credentials map[string]string // username -> password
}

// Authenticate authenticates a request using HTTP Basic Authentication.
func (p *BasicAuthProvider) Authenticate(r *common.Request) bool {
	username, password, ok := basicAuth(r)
	if !ok {
		return false
	}
	expectedPassword, exists := p.Credentials[username]
	if !exists {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(expectedPassword)) == 1
}

// basicAuth parses an "Authorization: Basic" header.
func basicAuth(r *common.Request) (username, password string, ok bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Basic "
	if len(auth) < len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(auth[len(prefix):])
	if err != nil {
		return "", "", false
	}
	return strings.Cut(string(decoded), ":")
}

// bearerToken extracts the token from an "Authorization: Bearer" header.
func bearerToken(r *common.Request) (string, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return token, ok && token != ""
}

// BearerTokenProvider provides Bearer Token Authentication.
// It can validate tokens against a predefined map or using a custom validator function.
type BearerTokenProvider struct {
	ValidTokens map[string]bool         // token -> valid
	Validator   func(token string) bool // optional token validator
}

// Authenticate authenticates a request using Bearer Token Authentication.
func (p *BearerTokenProvider) Authenticate(r *common.Request) bool {
	token, ok := bearerToken(r)
	if !ok {
		return false
	}
	if p.Validator != nil {
		return p.Validator(token)
	}
	return p.ValidTokens[token]
}

// APIKeyProvider provides API Key Authentication.
// It can validate API keys provided in a header or query parameter.
type APIKeyProvider struct {
	ValidKeys map[string]bool // key -> valid
	Header    string          // header name (e.g., "X-API-Key")
	Query     string          // query parameter name (e.g., "api_key")
}

// lookup returns the first valid key found in the header, then the query string.
func (p *APIKeyProvider) lookup(r *common.Request) (string, bool) {
	if p.Header != "" {
		if key := r.Header.Get(p.Header); key != "" && p.ValidKeys[key] {
			return key, true
		}
	}
	if p.Query != "" {
		if key := r.Query().Get(p.Query); key != "" && p.ValidKeys[key] {
			return key, true
		}
	}
	return "", false
}

// Authenticate authenticates a request using API Key Authentication.
// The accepted key is stored as the APIKey request extension.
func (p *APIKeyProvider) Authenticate(r *common.Request) bool {
	key, ok := p.lookup(r)
	if ok {
		common.SetExtension(r, APIKey(key))
	}
	return ok
}

// AuthenticationWithProvider is a layer that checks if a request is authenticated
// using the provided auth provider. If authentication fails, it returns a 401 unauthorized response.
func AuthenticationWithProvider(provider AuthProvider, logger *zap.Logger) common.Layer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return common.LayerFunc("auth", func(r *common.Request, next common.Handler) *common.Response {
		if !provider.Authenticate(r) {
			logger.Warn("Authentication failed", requestFields(r, zap.String("remote_addr", r.RemoteAddr))...)
			return common.ErrorResponse(r, common.Unauthorized("Unauthorized"))
		}
		return next(r)
	})
}

// Authentication is a layer that checks if a request is authenticated using a simple auth function.
func Authentication(authFunc func(*common.Request) bool) common.Layer {
	return common.LayerFunc("auth", func(r *common.Request, next common.Handler) *common.Response {
		if !authFunc(r) {
			return common.ErrorResponse(r, common.Unauthorized("Unauthorized"))
		}
		return next(r)
	})
}

// NewBasicAuthMiddleware creates a layer that uses HTTP Basic Authentication.
func NewBasicAuthMiddleware(credentials map[string]string, logger *zap.Logger) common.Layer {
	return AuthenticationWithProvider(&BasicAuthProvider{Credentials: credentials}, logger)
}

// NewBearerTokenMiddleware creates a layer that uses Bearer Token Authentication.
func NewBearerTokenMiddleware(validTokens map[string]bool, logger *zap.Logger) common.Layer {
	return AuthenticationWithProvider(&BearerTokenProvider{ValidTokens: validTokens}, logger)
}

// NewAPIKeyMiddleware creates a layer that uses API Key Authentication.
// It checks the header first, then the query parameter.
func NewAPIKeyMiddleware(validKeys map[string]bool, header, query string, logger *zap.Logger) common.Layer {
	return AuthenticationWithProvider(&APIKeyProvider{
		ValidKeys: validKeys,
		Header:    header,
		Query:     query,
	}, logger)
}

// UserAuthProvider defines an interface for authentication providers that return a user object.
type UserAuthProvider[T any] interface {
	// AuthenticateUser returns the user the request is authenticated as.
	AuthenticateUser(r *common.Request) (*T, error)
}

// BearerTokenUserAuthProvider provides Bearer Token Authentication with user object return.
type BearerTokenUserAuthProvider[T any] struct {
	GetUserFunc func(token string) (*T, error)
}

// AuthenticateUser resolves the bearer token to a user with GetUserFunc.
func (p *BearerTokenUserAuthProvider[T]) AuthenticateUser(r *common.Request) (*T, error) {
	token, ok := bearerToken(r)
	if !ok {
		return nil, errors.New("no bearer token")
	}
	return p.GetUserFunc(token)
}

// APIKeyUserAuthProvider provides API Key Authentication with user object return.
type APIKeyUserAuthProvider[T any] struct {
	GetUserFunc func(key string) (*T, error)
	Header      string // header name (e.g., "X-API-Key")
	Query       string // query parameter name (e.g., "api_key")
}

// AuthenticateUser resolves the API key in the header or query parameter to a user.
func (p *APIKeyUserAuthProvider[T]) AuthenticateUser(r *common.Request) (*T, error) {
	if p.Header != "" {
		if key := r.Header.Get(p.Header); key != "" {
			return p.GetUserFunc(key)
		}
	}
	if p.Query != "" {
		if key := r.Query().Get(p.Query); key != "" {
			return p.GetUserFunc(key)
		}
	}
	return nil, errors.New("no API key found")
}

// AuthenticationWithUserProvider is a layer that authenticates with provider and stores the
// user as a *T request extension, readable with GetUser or extract.Extension[*T].
func AuthenticationWithUserProvider[T any](provider UserAuthProvider[T], logger *zap.Logger) common.Layer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return common.LayerFunc("auth", func(r *common.Request, next common.Handler) *common.Response {
		user, err := provider.AuthenticateUser(r)
		if err != nil || user == nil {
			logger.Warn("Authentication failed", requestFields(r,
				zap.Error(err),
				zap.String("remote_addr", r.RemoteAddr),
			)...)
			return common.ErrorResponse(r, common.Unauthorized("Unauthorized"))
		}
		common.SetExtension(r, user)
		return next(r)
	})
}

// GetUser retrieves the authenticated user, or nil.
func GetUser[T any](r *common.Request) *T {
	user, _ := common.GetExtension[*T](r)
	return user
}
