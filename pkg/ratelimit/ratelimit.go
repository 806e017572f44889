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

// Package ratelimit caps how often one client may run the delegation
// loop. Every run fans out into multiple LLM and tool calls, so the
// limit sits in front of the messages endpoint, counting requests per
// client against fixed time windows.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/kadirpekel/nestor/pkg/config"
)

// Window is a fixed rate limiting window.
type Window string

const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"
)

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	switch w {
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// Result reports the outcome of one limit check. When the request is
// denied, Reason names the exhausted window and RetryAfter says how
// long until it rolls over. Limit, Remaining, and Reset describe the
// tightest configured window either way, for response headers.
type Result struct {
	Allowed    bool
	Reason     string
	Limit      int64
	Remaining  int64
	Reset      time.Time
	RetryAfter time.Duration
}

type windowLimit struct {
	window Window
	limit  int64
}

type bucket struct {
	count     int64
	windowEnd time.Time
}

type bucketKey struct {
	identifier string
	window     Window
}

// Limiter counts requests per identifier against every configured
// window. Counting is fixed-window: the first request in a window
// starts it, and the count resets when the window end passes. Safe for
// concurrent use.
type Limiter struct {
	limits []windowLimit

	mu      sync.Mutex
	buckets map[bucketKey]*bucket

	now  func() time.Time
	stop chan struct{}
	done chan struct{}
}

// New builds a limiter from the validated server rate limit section.
func New(cfg *config.RateLimitConfig) (*Limiter, error) {
	if cfg == nil || len(cfg.Limits) == 0 {
		return nil, fmt.Errorf("rate limit config has no limits")
	}

	limits := make([]windowLimit, 0, len(cfg.Limits))
	for _, l := range cfg.Limits {
		w := Window(l.Window)
		switch w {
		case WindowMinute, WindowHour, WindowDay:
		default:
			return nil, fmt.Errorf("unknown rate limit window %q", l.Window)
		}
		if l.Limit <= 0 {
			return nil, fmt.Errorf("rate limit for %s window must be positive", l.Window)
		}
		limits = append(limits, windowLimit{window: w, limit: l.Limit})
	}

	l := &Limiter{
		limits:  limits,
		buckets: make(map[bucketKey]*bucket),
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go l.janitor()
	return l, nil
}

// Allow charges one request to the identifier. The check and the
// charge are atomic: a denied request is not counted.
func (l *Limiter) Allow(identifier string) (*Result, error) {
	if identifier == "" {
		return nil, fmt.Errorf("rate limit identifier is empty")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	// Check every window first so a denial charges nothing.
	result := &Result{Allowed: true}
	for _, wl := range l.limits {
		b := l.bucketFor(identifier, wl.window, now)
		remaining := wl.limit - b.count
		if remaining <= 0 && result.Allowed {
			result.Allowed = false
			result.Reason = fmt.Sprintf("rate limit exceeded: %d requests per %s", wl.limit, wl.window)
			result.RetryAfter = b.windowEnd.Sub(now)
		}
		// Report the window closest to exhaustion.
		if result.Limit == 0 || remaining < result.Remaining {
			result.Limit = wl.limit
			result.Remaining = max64(remaining, 0)
			result.Reset = b.windowEnd
		}
	}

	if !result.Allowed {
		return result, nil
	}

	for _, wl := range l.limits {
		l.bucketFor(identifier, wl.window, now).count++
	}
	result.Remaining = max64(result.Remaining-1, 0)
	return result, nil
}

// Reset drops all counts for an identifier.
func (l *Limiter) Reset(identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key := range l.buckets {
		if key.identifier == identifier {
			delete(l.buckets, key)
		}
	}
}

// Close stops the expiry janitor.
func (l *Limiter) Close() {
	close(l.stop)
	<-l.done
}

// bucketFor returns the live bucket for one identifier and window,
// rolling it over if its window has passed. Caller holds the lock.
func (l *Limiter) bucketFor(identifier string, w Window, now time.Time) *bucket {
	key := bucketKey{identifier: identifier, window: w}
	b, ok := l.buckets[key]
	if !ok || !b.windowEnd.After(now) {
		b = &bucket{windowEnd: now.Add(w.Duration())}
		l.buckets[key] = b
	}
	return b
}

// sweep removes buckets whose window ended before the given time.
func (l *Limiter) sweep(before time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, b := range l.buckets {
		if b.windowEnd.Before(before) {
			delete(l.buckets, key)
		}
	}
}

// janitor periodically drops expired buckets so idle identifiers do
// not accumulate.
func (l *Limiter) janitor() {
	defer close(l.done)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep(time.Now())
		case <-l.stop:
			return
		}
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
