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

import "time"

// Alt is one alternative of a Filter's disjunction: a message matches it
// when Type, Source and UID all agree (a nil Source matches any sender). Grounded on the replyMatcher
// pattern used for UDP discovery reply matching (each pending request
// carries its own expected type/source/timeout and is evaluated
// independently of the others).
type Alt struct {
	Type    MsgType
	Source  Peer
	UID     UID
	Timeout time.Duration

	// RelativeToCreation anchors the deadline at the filter's
	// construction time rather than at the start of the current wait
	// (used during Draining to enforce a wall-clock cap across several
	// successive waits, §4.2).
	RelativeToCreation bool
}

// Filter expresses a disjunction of expected messages (§4.2). The waiter
// blocks until exactly one Alt matches an inbound message, or every Alt's
// deadline elapses.
type Filter struct {
	alts    []Alt
	created time.Time
}

// NewFilter builds a filter from its alternatives, stamping the creation
// time used by RelativeToCreation deadlines.
func NewFilter(alts ...Alt) *Filter {
	return &Filter{alts: alts, created: time.Now()}
}

// Match reports whether a message of the given type/uid, received from
// peer from, satisfies any alternative, returning the matching Alt's
// index. An Alt that sets Source only matches messages from that peer
// (§4.2): a reply carrying the right type and uid from the wrong peer must
// not satisfy a wait that was scoped to a specific next-hop (§4.1 steps
// 4/6/7). An Alt with a nil Source matches the sender regardless.
func (f *Filter) Match(msg Message, from Peer) (int, bool) {
	for i, a := range f.alts {
		if a.Type != msg.Type || a.UID != msg.UID {
			continue
		}
		if a.Source != nil && (from == nil || a.Source.ID() != from.ID()) {
			continue
		}
		return i, true
	}
	return -1, false
}

// Alts exposes the filter's alternatives, e.g. for a Transport
// implementation that needs to know which sources/timeouts to watch.
func (f *Filter) Alts() []Alt { return f.alts }

// Deadline returns the absolute time by which alt i's wait must produce a
// match, anchored at filter creation or at waitStart per its flag.
func (f *Filter) Deadline(i int, waitStart time.Time) time.Time {
	a := f.alts[i]
	if a.RelativeToCreation {
		return f.created.Add(a.Timeout)
	}
	return waitStart.Add(a.Timeout)
}

// EarliestDeadline returns the soonest deadline across all alternatives,
// the first point at which some alternative can no longer match. A wait
// with no match ends only once every alternative's deadline has passed.
func (f *Filter) EarliestDeadline(waitStart time.Time) time.Time {
	var earliest time.Time
	for i := range f.alts {
		d := f.Deadline(i, waitStart)
		if earliest.IsZero() || d.Before(earliest) {
			earliest = d
		}
	}
	return earliest
}
