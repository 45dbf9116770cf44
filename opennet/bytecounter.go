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

package opennet

import "sync"

// ByteCounter tracks sent/received byte totals for one announcement job
// (§4.6). A payload counter is accepted for call-site compatibility with
// Transport implementations that report it, but discarded at this layer.
type ByteCounter struct {
	mu       sync.Mutex
	sent     int64
	received int64
}

// NewByteCounter returns a fresh, zeroed counter.
func NewByteCounter() *ByteCounter { return &ByteCounter{} }

// AddSent records n bytes sent.
func (c *ByteCounter) AddSent(n int64) {
	c.mu.Lock()
	c.sent += n
	c.mu.Unlock()
}

// AddReceived records n bytes received.
func (c *ByteCounter) AddReceived(n int64) {
	c.mu.Lock()
	c.received += n
	c.mu.Unlock()
}

// AddPayload is accepted and discarded (§4.6).
func (c *ByteCounter) AddPayload(int64) {}

// Totals returns the current (sent, received) counts.
func (c *ByteCounter) Totals() (sent, received int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent, c.received
}
