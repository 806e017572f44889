package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const (
	testKeyID    = "test-key-id"
	testIssuer   = "https://test-issuer.com"
	testAudience = "test-audience"
)

func generateRSAKeyPair(t testing.TB) (*rsa.PrivateKey, *rsa.PublicKey) {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}
	return privateKey, &privateKey.PublicKey
}

func createJWKS(t testing.TB, publicKey *rsa.PublicKey) jwk.Set {
	t.Helper()

	key, err := jwk.FromRaw(publicKey)
	if err != nil {
		t.Fatalf("Failed to wrap public key: %v", err)
	}
	if err := key.Set(jwk.KeyIDKey, testKeyID); err != nil {
		t.Fatalf("Failed to set key id: %v", err)
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
		t.Fatalf("Failed to set algorithm: %v", err)
	}

	keyset := jwk.NewSet()
	if err := keyset.AddKey(key); err != nil {
		t.Fatalf("Failed to add key: %v", err)
	}
	return keyset
}

// serveJWKS publishes the key set on a test server and returns the
// JWKS URL.
func serveJWKS(t testing.TB, keyset jwk.Set) string {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/jwks.json" {
			http.NotFound(w, r)
			return
		}
		keysetJSON, err := json.Marshal(keyset)
		if err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(keysetJSON)
	}))
	t.Cleanup(server.Close)

	return server.URL + "/.well-known/jwks.json"
}

// signTestToken builds and signs a token carrying the standard claims
// plus any extras, valid for one hour.
func signTestToken(t testing.TB, privateKey *rsa.PrivateKey, issuer, audience, subject string, claims map[string]any) string {
	t.Helper()

	token := jwt.New()
	set := func(key string, value any) {
		if err := token.Set(key, value); err != nil {
			t.Fatalf("Failed to set claim %s: %v", key, err)
		}
	}
	set(jwt.IssuerKey, issuer)
	set(jwt.AudienceKey, audience)
	set(jwt.SubjectKey, subject)
	set(jwt.IssuedAtKey, time.Now())
	set(jwt.ExpirationKey, time.Now().Add(time.Hour))
	for key, value := range claims {
		set(key, value)
	}

	return signToken(t, privateKey, token)
}

func signToken(t testing.TB, privateKey *rsa.PrivateKey, token jwt.Token) string {
	t.Helper()

	key, err := jwk.FromRaw(privateKey)
	if err != nil {
		t.Fatalf("Failed to wrap private key: %v", err)
	}
	if err := key.Set(jwk.KeyIDKey, testKeyID); err != nil {
		t.Fatalf("Failed to set key id: %v", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, key))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return string(signed)
}

// setupTestValidator spins up a JWKS endpoint with a fresh key pair
// and returns a validator bound to it plus the signing key.
func setupTestValidator(t testing.TB) (*JWTValidator, *rsa.PrivateKey) {
	t.Helper()

	privateKey, publicKey := generateRSAKeyPair(t)
	jwksURL := serveJWKS(t, createJWKS(t, publicKey))

	validator, err := NewJWTValidator(JWTValidatorConfig{
		JWKSURL:  jwksURL,
		Issuer:   testIssuer,
		Audience: testAudience,
	})
	if err != nil {
		t.Fatalf("Failed to create validator: %v", err)
	}
	return validator, privateKey
}
