package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// TokenValidator validates a bearer token and returns the caller's
// claims. The middleware and server depend on this interface so tests
// can substitute a stub.
type TokenValidator interface {
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
	Close()
}

// JWTValidatorConfig configures a JWTValidator.
type JWTValidatorConfig struct {
	// JWKSURL is where the provider publishes its signing keys. Required.
	JWKSURL string

	// Issuer is the expected iss claim. Empty skips the check.
	Issuer string

	// Audience is the expected aud claim. Empty skips the check.
	Audience string

	// RefreshInterval is the minimum time between JWKS refreshes.
	// Defaults to 15 minutes.
	RefreshInterval time.Duration
}

// JWTValidator verifies tokens against a cached JWKS. The key set is
// refreshed in the background so provider key rotation needs no
// restart.
type JWTValidator struct {
	cfg   JWTValidatorConfig
	cache *jwk.Cache
}

var _ TokenValidator = (*JWTValidator)(nil)

// NewJWTValidator fetches the JWKS once to surface configuration
// errors at startup, then keeps it refreshed.
func NewJWTValidator(cfg JWTValidatorConfig) (*JWTValidator, error) {
	if cfg.JWKSURL == "" {
		return nil, fmt.Errorf("jwks_url is required")
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 15 * time.Minute
	}

	ctx := context.Background()
	cache := jwk.NewCache(ctx)
	if err := cache.Register(cfg.JWKSURL, jwk.WithMinRefreshInterval(cfg.RefreshInterval)); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}
	if _, err := cache.Refresh(ctx, cfg.JWKSURL); err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", cfg.JWKSURL, err)
	}

	return &JWTValidator{cfg: cfg, cache: cache}, nil
}

// ValidateToken verifies the signature against the cached key set,
// checks expiry, and checks issuer and audience when configured.
func (v *JWTValidator) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	keyset, err := v.cache.Get(ctx, v.cfg.JWKSURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get JWKS: %w", err)
	}

	opts := []jwt.ParseOption{
		jwt.WithKeySet(keyset),
		jwt.WithValidate(true),
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}

	token, err := jwt.Parse([]byte(tokenString), opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired()) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims := &Claims{
		Subject: token.Subject(),
		Custom:  make(map[string]any),
	}
	for key, value := range token.PrivateClaims() {
		s, isString := value.(string)
		switch {
		case key == "email" && isString:
			claims.Email = s
		case key == "role" && isString:
			claims.Role = s
		case key == "tenant_id" && isString:
			claims.TenantID = s
		default:
			claims.Custom[key] = value
		}
	}

	return claims, nil
}

// Close releases the validator. The JWKS cache has no explicit
// shutdown; its refresh goroutine stops with the process.
func (v *JWTValidator) Close() {}
