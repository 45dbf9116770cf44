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

import "github.com/Pascal666/fred/metrics"

// Session-level counters (§12.2), following the same package-level-var
// registration idiom tempbucket/pool.go uses for its migration counters
// (there with metrics.NewRegisteredCounter).
var (
	sessionsStarted       = metrics.NewRegisteredMeter("fred/opennet/sessions/started", nil)
	sessionsSucceeded     = metrics.NewRegisteredMeter("fred/opennet/sessions/succeeded", nil)
	sessionsRouteNotFound = metrics.NewRegisteredMeter("fred/opennet/sessions/route-not-found", nil)
	sessionsTimedOut      = metrics.NewRegisteredMeter("fred/opennet/sessions/timed-out", nil)

	bytesIn  = metrics.NewRegisteredMeter("fred/opennet/bytes/in", nil)
	bytesOut = metrics.NewRegisteredMeter("fred/opennet/bytes/out", nil)
)

// recordBytes marks this session's lifetime ByteCounter totals into the
// process-wide bytes in/out meters. Called once, when Run returns,
// regardless of how the session ended.
func (s *Session) recordBytes() {
	sent, received := s.relay.counter.Totals()
	bytesOut.Mark(sent)
	bytesIn.Mark(received)
}
