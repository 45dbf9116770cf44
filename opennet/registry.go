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

import (
	"sync"

	bloomfilter "github.com/holiman/bloomfilter/v2"
)

// Registry demultiplexes inbound transport messages to the owning session
// by UID (design note 9: "sessions are looked up by UID on inbound
// dispatch; no back-pointer is stored on the peer object"). A Bloom filter
// guards the common "no such session" case — most inbound traffic outside
// an announcement's own hop is noise or late/misrouted — so a miss never
// needs to take the registry's lock.
type Registry struct {
	mu       sync.RWMutex
	sessions map[UID]*Session
	maybe    *bloomfilter.Filter
}

// NewRegistry returns an empty registry sized for up to maxSessions
// concurrently-live announcement sessions.
func NewRegistry(maxSessions uint64) *Registry {
	if maxSessions == 0 {
		maxSessions = 4096
	}
	f, err := bloomfilter.NewOptimal(maxSessions, 0.01)
	if err != nil {
		// NewOptimal only fails for degenerate (zero) inputs; maxSessions
		// is normalized above so this cannot happen.
		panic(err)
	}
	return &Registry{sessions: make(map[UID]*Session), maybe: f}
}

// Register makes s reachable by its UID.
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.uid] = s
	r.maybe.Add(uint64(s.uid))
}

// Unregister removes uid's session. The Bloom filter is never shrunk
// (it has no delete operation), so it may yield an occasional false
// positive for a since-completed session; Lookup's map check resolves that.
func (r *Registry) Unregister(uid UID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, uid)
}

// Lookup returns the live session for uid, if any.
func (r *Registry) Lookup(uid UID) (*Session, bool) {
	if !r.maybe.Contains(uint64(uid)) {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[uid]
	return s, ok
}

// Len reports the number of currently registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
