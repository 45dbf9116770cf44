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
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/Pascal666/fred/log"
)

// defaultBackoffCacheSize bounds the router's memory of recently-failing
// peers; eviction just means a stale entry is forgotten a little early.
const defaultBackoffCacheSize = 4096

// Router wraps a PeerSet with a small recently-backed-off memory shared
// across sessions, recording peers that just rejected/timed-out an
// admission. pick_next (§4.5) itself remains the PeerSet's contract:
// PickNext returns the PeerSet's choice unchanged, and the backoff memory
// is only consulted to log when that choice is a backed-off peer. It does
// not reorder or skip candidates.
type Router struct {
	peers   PeerSet
	backoff *lru.Cache
	log     *log.Logger
}

// NewRouter wraps peers with routing-side backoff memory.
func NewRouter(peers PeerSet) *Router {
	c, _ := lru.New(defaultBackoffCacheSize)
	return &Router{peers: peers, backoff: c, log: log.New("component", "opennet-router")}
}

// MarkBackoff records that id recently failed admission (rejected or
// timed out in AwaitAdmit).
func (r *Router) MarkBackoff(id string) {
	r.backoff.Add(id, time.Now())
}

// PickNext selects the next peer closer to target, excluding routed_to
// (§4.5). isAdvanced mirrors already_forwarded.
func (r *Router) PickNext(source Peer, routedTo map[string]struct{}, target Location, isAdvanced bool) (Peer, bool) {
	p, ok := r.peers.PickCloser(source, routedTo, target, isAdvanced)
	if !ok {
		return nil, false
	}
	if _, backedOff := r.backoff.Get(p.ID()); backedOff {
		r.log.Debug("picked a recently backed-off peer, no better candidate was offered", "peer", p.ID())
	}
	return p, true
}
