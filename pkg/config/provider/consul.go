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

package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/consul/api"
)

// ConsulProvider loads config from a Consul KV key and watches it via
// blocking queries.
type ConsulProvider struct {
	kv  *api.KV
	key string

	mu        sync.Mutex
	lastIndex uint64
}

// NewConsulProvider creates a provider that reads from Consul KV.
// The first endpoint is used as the Consul address.
func NewConsulProvider(endpoints []string, key string) (*ConsulProvider, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("consul endpoints are required")
	}
	if key == "" {
		return nil, fmt.Errorf("consul key is required")
	}

	cfg := api.DefaultConfig()
	cfg.Address = endpoints[0]

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}

	return &ConsulProvider{
		kv:  client.KV(),
		key: key,
	}, nil
}

// Type returns TypeConsul.
func (p *ConsulProvider) Type() Type {
	return TypeConsul
}

// Load reads the config key from Consul KV.
func (p *ConsulProvider) Load(ctx context.Context) ([]byte, error) {
	opts := (&api.QueryOptions{}).WithContext(ctx)

	pair, meta, err := p.kv.Get(p.key, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to read consul key %s: %w", p.key, err)
	}
	if pair == nil {
		return nil, fmt.Errorf("consul key %s not found", p.key)
	}

	p.mu.Lock()
	p.lastIndex = meta.LastIndex
	p.mu.Unlock()

	return pair.Value, nil
}

// Watch watches the key using Consul blocking queries.
func (p *ConsulProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)

	go p.watchLoop(ctx, ch)

	slog.Info("Watching consul key", "key", p.key)
	return ch, nil
}

func (p *ConsulProvider) watchLoop(ctx context.Context, ch chan<- struct{}) {
	defer close(ch)

	for {
		if ctx.Err() != nil {
			return
		}

		p.mu.Lock()
		index := p.lastIndex
		p.mu.Unlock()

		opts := (&api.QueryOptions{
			WaitIndex: index,
			WaitTime:  5 * time.Minute,
		}).WithContext(ctx)

		pair, meta, err := p.kv.Get(p.key, opts)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("Consul watch error", "key", p.key, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}

		// Index went backwards, e.g. after a consul restart. Reset
		// and reload on the next pass.
		if meta.LastIndex < index {
			p.mu.Lock()
			p.lastIndex = 0
			p.mu.Unlock()
			continue
		}

		if meta.LastIndex == index {
			// Blocking query timed out without a change
			continue
		}

		p.mu.Lock()
		p.lastIndex = meta.LastIndex
		p.mu.Unlock()

		if pair == nil {
			slog.Warn("Consul key was deleted", "key", p.key)
			continue
		}

		select {
		case ch <- struct{}{}:
			slog.Debug("Consul key changed", "key", p.key)
		default:
			// Change already pending
		}
	}
}

// Close releases resources. The Consul client has no close method.
func (p *ConsulProvider) Close() error {
	return nil
}

// Ensure ConsulProvider implements Provider
var _ Provider = (*ConsulProvider)(nil)
