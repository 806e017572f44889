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

package config

import (
	"fmt"
	"time"
)

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// Host to bind to. Default: 0.0.0.0
	Host string `yaml:"host,omitempty" json:"host,omitempty"`

	// Port to listen on. Default: 8080
	Port int `yaml:"port,omitempty" json:"port,omitempty"`

	// TLS enables HTTPS when configured.
	TLS *TLSConfig `yaml:"tls,omitempty" json:"tls,omitempty"`

	// CORS configures cross-origin resource sharing.
	CORS *CORSConfig `yaml:"cors,omitempty" json:"cors,omitempty"`

	// Auth configures JWT authentication.
	Auth *AuthConfig `yaml:"auth,omitempty" json:"auth,omitempty"`

	// Metrics configures the Prometheus endpoint.
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty"`

	// RateLimit configures per-client request limiting.
	RateLimit *RateLimitConfig `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"`

	// ShutdownTimeout bounds graceful shutdown. Default: 10s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty" json:"shutdown_timeout,omitempty"`
}

// TLSConfig configures server-side TLS.
type TLSConfig struct {
	// Enabled turns TLS on.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// CertFile is the path to the certificate.
	CertFile string `yaml:"cert_file,omitempty" json:"cert_file,omitempty"`

	// KeyFile is the path to the private key.
	KeyFile string `yaml:"key_file,omitempty" json:"key_file,omitempty"`
}

// CORSConfig configures CORS.
type CORSConfig struct {
	// AllowedOrigins is a list of allowed origins.
	AllowedOrigins []string `yaml:"allowed_origins,omitempty" json:"allowed_origins,omitempty"`

	// AllowedMethods is a list of allowed HTTP methods.
	AllowedMethods []string `yaml:"allowed_methods,omitempty" json:"allowed_methods,omitempty"`

	// AllowedHeaders is a list of allowed headers.
	AllowedHeaders []string `yaml:"allowed_headers,omitempty" json:"allowed_headers,omitempty"`

	// AllowCredentials allows credentials.
	AllowCredentials *bool `yaml:"allow_credentials,omitempty" json:"allow_credentials,omitempty"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	// Enabled turns the /metrics endpoint on. Default: true
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Path of the metrics endpoint. Default: /metrics
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// RateLimitConfig configures per-client request limiting. Each request
// to a rate-limited endpoint counts against every configured window.
type RateLimitConfig struct {
	// Enabled turns rate limiting on.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Limits is the set of window limits. Default when enabled:
	// 60/minute and 1000/hour.
	Limits []WindowLimitConfig `yaml:"limits,omitempty" json:"limits,omitempty"`
}

// WindowLimitConfig caps requests within one fixed time window.
type WindowLimitConfig struct {
	// Window is one of "minute", "hour", or "day".
	Window string `yaml:"window" json:"window"`

	// Limit is the maximum number of requests per window.
	Limit int64 `yaml:"limit" json:"limit"`
}

// SetDefaults applies default values.
func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}

	if c.Port == 0 {
		c.Port = 8080
	}

	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}

	// Default CORS for development
	if c.CORS == nil {
		c.CORS = &CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
		}
	}

	if c.Auth != nil {
		c.Auth.SetDefaults()
	}

	if c.Metrics == nil {
		c.Metrics = &MetricsConfig{}
	}
	if c.Metrics.Enabled == nil {
		c.Metrics.Enabled = BoolPtr(true)
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.RateLimit != nil && BoolValue(c.RateLimit.Enabled, false) && len(c.RateLimit.Limits) == 0 {
		c.RateLimit.Limits = []WindowLimitConfig{
			{Window: "minute", Limit: 60},
			{Window: "hour", Limit: 1000},
		}
	}
}

// Validate checks the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}

	if c.TLS != nil && BoolValue(c.TLS.Enabled, false) {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls requires cert_file and key_file")
		}
	}

	if c.Auth != nil {
		if err := c.Auth.Validate(); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if c.RateLimit != nil && BoolValue(c.RateLimit.Enabled, false) {
		for _, limit := range c.RateLimit.Limits {
			switch limit.Window {
			case "minute", "hour", "day":
			default:
				return fmt.Errorf("rate_limit: unknown window %q (want minute, hour, or day)", limit.Window)
			}
			if limit.Limit <= 0 {
				return fmt.Errorf("rate_limit: limit for %s window must be positive", limit.Window)
			}
		}
	}

	return nil
}

// Address returns the host:port to listen on.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MetricsEnabled reports whether the metrics endpoint should be served.
func (c *ServerConfig) MetricsEnabled() bool {
	return c.Metrics != nil && BoolValue(c.Metrics.Enabled, true)
}

// RateLimitEnabled reports whether request limiting is on.
func (c *ServerConfig) RateLimitEnabled() bool {
	return c.RateLimit != nil && BoolValue(c.RateLimit.Enabled, false)
}
