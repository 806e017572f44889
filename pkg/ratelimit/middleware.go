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

package ratelimit

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/kadirpekel/nestor/pkg/auth"
)

// Identify extracts the rate limit identifier from a request: the
// authenticated subject when auth ran earlier in the chain, otherwise
// the client address without the port.
func Identify(r *http.Request) string {
	if claims := auth.GetClaims(r); claims != nil && claims.Subject != "" {
		return claims.Subject
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware enforces the limiter on every route except the excluded
// paths. Denied requests get 429 with Retry-After; all limited
// responses carry X-RateLimit headers. Runs after auth so the
// identifier can be the authenticated subject.
func Middleware(limiter *Limiter, excludePaths ...string) func(http.Handler) http.Handler {
	excluded := make(map[string]bool, len(excludePaths))
	for _, path := range excludePaths {
		excluded[path] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if excluded[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			identifier := Identify(r)
			result, err := limiter.Allow(identifier)
			if err != nil {
				// A broken limiter must not take the API down.
				slog.Warn("Rate limit check failed, allowing request", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.Reset.Unix(), 10))

			if !result.Allowed {
				retryAfter := int(result.RetryAfter.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": result.Reason})

				slog.Debug("Request rate limited",
					"identifier", identifier,
					"path", r.URL.Path,
					"retry_after", retryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
