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

// Package opennet implements the opennet announcement routing engine:
// the distance-biased greedy routing loop that propagates a node's
// reference (noderef) toward a keyspace location and collects the
// noderefs of the peers it passes through (spec.md §1-§4).
package opennet

import (
	"math"

	"github.com/google/uuid"
)

// Location is a point on the circular [0,1) keyspace.
type Location float64

// Distance returns the shorter circular arc between a and b.
func Distance(a, b Location) float64 {
	d := math.Abs(float64(a) - float64(b))
	if d > 0.5 {
		d = 1 - d
	}
	return d
}

// HTL is the hops-to-live counter, bounded above by the process-wide MaxHTL.
type HTL uint16

// UID demultiplexes all transport messages belonging to one announcement.
type UID uint64

// NewUID allocates a fresh session or transfer identifier. Grounded on the
// teacher's google/uuid dependency: we fold a random UUID down to 64 bits
// rather than invent a counter, so ids stay collision-resistant across
// process restarts without any persisted state.
func NewUID() UID {
	id := uuid.New()
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(id[i]^id[i+8])
	}
	return UID(v)
}

// SessionState enumerates the announcement session's state machine (§3).
type SessionState int

const (
	StateRouteSelect SessionState = iota
	StateAwaitAdmit
	StateAwaitBody
	StateDraining
	StateCompleted
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateRouteSelect:
		return "RouteSelect"
	case StateAwaitAdmit:
		return "AwaitAdmit"
	case StateAwaitBody:
		return "AwaitBody"
	case StateDraining:
		return "Draining"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// NoderefRejectedCode enumerates the reasons a downstream peer may refuse
// the body-stage noderef transfer (§6).
type NoderefRejectedCode int

const (
	RejectInvalid NoderefRejectedCode = iota
	RejectShortly
	RejectTimeoutTransfer
)
