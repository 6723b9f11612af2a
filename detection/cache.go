// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package detection

import (
	"time"

	"github.com/ZaparooProject/go-eeprom/internal/syncutil"
)

type cacheEntry struct {
	timestamp time.Time
	devices   []DeviceInfo
}

// resultCache holds the last non-empty result of each transport.
type resultCache struct {
	entries map[string]cacheEntry
	now     func() time.Time
	mu      syncutil.RWMutex
}

var cache = newResultCache(time.Now)

func newResultCache(now func() time.Time) *resultCache {
	return &resultCache{entries: make(map[string]cacheEntry), now: now}
}

// get returns a copy of the devices cached for transport unless they are
// older than ttl.
func (c *resultCache) get(transport string, ttl time.Duration) ([]DeviceInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[transport]
	if !ok || c.now().Sub(entry.timestamp) > ttl {
		return nil, false
	}
	return append([]DeviceInfo(nil), entry.devices...), true
}

func (c *resultCache) set(transport string, devices []DeviceInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[transport] = cacheEntry{
		devices:   append([]DeviceInfo(nil), devices...),
		timestamp: c.now(),
	}
}

func (c *resultCache) clear(transport string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if transport == "" {
		c.entries = make(map[string]cacheEntry)
		return
	}
	delete(c.entries, transport)
}

func getCached(transport string, ttl time.Duration) ([]DeviceInfo, bool) {
	return cache.get(transport, ttl)
}

func setCached(transport string, devices []DeviceInfo) {
	cache.set(transport, devices)
}

func clearCache() {
	cache.clear("")
}

func clearCacheForTransport(transport string) {
	cache.clear(transport)
}
