// Copyright 2024 The Fred Authors
// This file is part of Fred.
//
// Fred is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Fred is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Fred. If not, see <http://www.gnu.org/licenses/>.

// Package metrics is a minimal registered-metric surface, modeled on the
// NewRegisteredMeter/NewRegisteredCounter/NewRegisteredTimer idiom used by
// the teacher's downloader package against its own (unretrieved) metrics
// library. It exists so call sites read the same way; it is not a general
// purpose metrics system.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Meter counts occurrences of an event.
type Meter struct {
	name  string
	count int64
}

func (m *Meter) Mark(n int64) { atomic.AddInt64(&m.count, n) }
func (m *Meter) Count() int64 { return atomic.LoadInt64(&m.count) }

// Counter is a monotonic-or-not integer gauge.
type Counter struct {
	name  string
	value int64
}

func (c *Counter) Inc(n int64) { atomic.AddInt64(&c.value, n) }
func (c *Counter) Dec(n int64) { atomic.AddInt64(&c.value, -n) }
func (c *Counter) Count() int64 { return atomic.LoadInt64(&c.value) }

// Timer tracks counts and a cumulative duration for an operation.
type Timer struct {
	mu    sync.Mutex
	name  string
	count int64
	total time.Duration
}

func (t *Timer) Update(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count++
	t.total += d
}

func (t *Timer) Snapshot() (count int64, total time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count, t.total
}

var (
	regMu    sync.Mutex
	meters   = map[string]*Meter{}
	counters = map[string]*Counter{}
	timers   = map[string]*Timer{}
)

// NewRegisteredMeter returns the process-wide meter for name, creating it
// on first use. The second argument mirrors the teacher's registry-parent
// parameter and is accepted for call-site compatibility but unused here.
func NewRegisteredMeter(name string, _ any) *Meter {
	regMu.Lock()
	defer regMu.Unlock()
	if m, ok := meters[name]; ok {
		return m
	}
	m := &Meter{name: name}
	meters[name] = m
	return m
}

func NewRegisteredCounter(name string, _ any) *Counter {
	regMu.Lock()
	defer regMu.Unlock()
	if c, ok := counters[name]; ok {
		return c
	}
	c := &Counter{name: name}
	counters[name] = c
	return c
}

func NewRegisteredTimer(name string, _ any) *Timer {
	regMu.Lock()
	defer regMu.Unlock()
	if t, ok := timers[name]; ok {
		return t
	}
	t := &Timer{name: name}
	timers[name] = t
	return t
}
