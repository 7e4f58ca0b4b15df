package api

import (
	"errors"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

const defaultRoleClaim = "role"

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	Role   string
}

// AuthConfig controls token validation.
type AuthConfig struct {
	Audience string
	Issuer   string
	// TestMode accepts HS256 tokens signed with TestSecret instead of JWKS keys.
	TestMode    bool
	TestSecret  []byte
	RoleClaim   string
	KeyCacheTTL time.Duration
}

// Auth validates incoming JWT tokens.
type Auth struct {
	jwks *keyfunc.JWKS
	cfg  AuthConfig

	parser   *jwt.Parser
	keyCache sync.Map
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewAuth creates an Auth. jwks may be nil in test mode.
func NewAuth(jwks *keyfunc.JWKS, cfg AuthConfig) (*Auth, error) {
	if cfg.RoleClaim == "" {
		cfg.RoleClaim = defaultRoleClaim
	}
	a := &Auth{jwks: jwks, cfg: cfg}
	if cfg.TestMode {
		if len(cfg.TestSecret) == 0 {
			return nil, errors.New("test mode requires a signing secret")
		}
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
		return a, nil
	}
	if jwks == nil {
		return nil, errors.New("jwks is required outside test mode")
	}
	a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
	return a, nil
}

// PrincipalFromAuthHeader validates the bearer token in an Authorization header.
func (a *Auth) PrincipalFromAuthHeader(h string) (Principal, error) {
	token, err := bearerToken(h)
	if err != nil {
		return Principal{}, err
	}
	return a.PrincipalFromBearer(token)
}

// PrincipalFromBearer validates a raw token.
func (a *Auth) PrincipalFromBearer(token string) (Principal, error) {
	parsed, err := a.parser.Parse(token, a.keyForToken)
	if err != nil {
		return Principal{}, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, errors.New("invalid claims")
	}

	now := time.Now().Add(time.Minute).Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return Principal{}, errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return Principal{}, errors.New("token not valid yet")
	}
	if a.cfg.Audience != "" && !claims.VerifyAudience(a.cfg.Audience, false) {
		return Principal{}, errors.New("invalid audience")
	}
	if a.cfg.Issuer != "" && !claims.VerifyIssuer(a.cfg.Issuer, false) {
		return Principal{}, errors.New("invalid issuer")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return Principal{}, errors.New("missing sub")
	}
	return Principal{UserID: sub, Role: roleFromClaim(claims[a.cfg.RoleClaim])}, nil
}

// roleFromClaim accepts a single role or a list, taking the first entry.
func roleFromClaim(v any) string {
	switch r := v.(type) {
	case string:
		return r
	case []any:
		for _, item := range r {
			if s, ok := item.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func (a *Auth) keyForToken(token *jwt.Token) (any, error) {
	if a.cfg.TestMode {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return a.cfg.TestSecret, nil
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" && a.cfg.KeyCacheTTL > 0 {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}
	key, err := a.jwks.Keyfunc(token)
	if err != nil {
		return nil, err
	}
	if kid != "" && a.cfg.KeyCacheTTL > 0 {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(a.cfg.KeyCacheTTL)})
	}
	return key, nil
}
