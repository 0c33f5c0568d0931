// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package mockable provides a clock that can be frozen and driven manually.
// The vault engine keeps chain time on one of these: block acceptance pins
// the clock to the block timestamp, and tests step it directly.
package mockable

import (
	"sync"
	"time"
)

// Clock is a source of time that is either synced to the wall clock or
// pinned to a value set by the caller. The zero value is synced. Safe for
// concurrent use.
type Clock struct {
	mu     sync.RWMutex
	pinned bool
	time   time.Time
}

// Set pins the clock to t. Until Sync is called, Time returns t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pinned = true
	c.time = t
}

// Advance moves a pinned clock forward by d. Advancing a synced clock pins
// it to now+d first.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.pinned {
		c.pinned = true
		c.time = time.Now()
	}
	c.time = c.time.Add(d)
}

// Sync releases a pinned clock back to wall time.
func (c *Clock) Sync() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pinned = false
}

// Time returns the current time on this clock.
func (c *Clock) Time() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.pinned {
		return c.time
	}
	return time.Now()
}

// Unix returns the current time on this clock as unix seconds.
func (c *Clock) Unix() int64 {
	return c.Time().Unix()
}
