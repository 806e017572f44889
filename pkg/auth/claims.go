// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package auth validates JWT bearer tokens for the HTTP API.
//
// Tokens are verified against the JWKS published by an identity
// provider (Auth0, Okta, Keycloak, and the like). Enable it in the
// server section of the configuration:
//
//	server:
//	  auth:
//	    enabled: true
//	    jwks_url: "https://auth.example.com/.well-known/jwks.json"
//	    issuer: "https://auth.example.com"
//	    audience: "nestor-api"
//
// Clients pass the token in the Authorization header:
//
//	Authorization: Bearer <token>
//
// Validated claims travel on the request context and are available to
// handlers through GetClaims.
package auth

import (
	"context"
	"net/http"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const claimsContextKey contextKey = "nestor_auth_claims"

// Claims holds the validated claims of a bearer token. The struct
// covers the fields common identity providers emit; everything else
// lands in Custom.
type Claims struct {
	// Subject is the unique identifier for the user (sub claim).
	Subject string `json:"sub"`

	// Email is the user's email address, when the provider includes one.
	Email string `json:"email,omitempty"`

	// Role carries the user's role for authorization decisions.
	Role string `json:"role,omitempty"`

	// TenantID supports multi-tenant deployments.
	TenantID string `json:"tenant_id,omitempty"`

	// Custom contains any additional claims not mapped to struct fields.
	Custom map[string]any `json:"-"`
}

// GetStringClaim returns a custom claim as a string, or "" when the
// claim is absent or not a string.
func (c *Claims) GetStringClaim(key string) string {
	if val, ok := c.Custom[key]; ok {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return ""
}

// HasAnyRole reports whether the user holds one of the given roles.
func (c *Claims) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if c.Role == role {
			return true
		}
	}
	return false
}

// ContextWithClaims returns a new context carrying the given claims.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// ClaimsFromContext extracts claims from a context. Returns nil when
// the request was not authenticated.
func ClaimsFromContext(ctx context.Context) *Claims {
	if claims, ok := ctx.Value(claimsContextKey).(*Claims); ok {
		return claims
	}
	return nil
}

// GetClaims extracts claims from an authenticated request.
func GetClaims(r *http.Request) *Claims {
	return ClaimsFromContext(r.Context())
}
