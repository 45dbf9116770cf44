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
	"context"
	"sync"

	"github.com/Pascal666/fred/log"
)

// outcomeRelay delivers a session's terminal and per-reply outcomes either
// to an upstream source (relay mode) or to a local callback (originator
// mode) — never both, enforced at construction (design note: "callbacks
// never fire in relay mode").
type outcomeRelay struct {
	transport Transport
	source    Peer     // non-nil in relay mode
	callback  Callback // non-nil in originator mode

	uid     UID
	counter *ByteCounter
	log     *log.Logger

	completeOnce sync.Once
}

func newOutcomeRelay(transport Transport, source Peer, callback Callback, uid UID, counter *ByteCounter, l *log.Logger) *outcomeRelay {
	if (source == nil) == (callback == nil) {
		panic("opennet: session must be exactly one of relay (source set) or originator (callback set)")
	}
	return &outcomeRelay{transport: transport, source: source, callback: callback, uid: uid, counter: counter, log: l}
}

func (r *outcomeRelay) isOriginator() bool { return r.source == nil }

// sendUpstream delivers msg to the upstream source. It is only meaningful
// in relay mode; callers must not invoke it in originator mode.
func (r *outcomeRelay) sendUpstream(ctx context.Context, msg Message) error {
	return r.transport.SendAsync(ctx, r.source, msg, r.counter)
}

// completed notifies whichever side is active, exactly once per session
// (§4.1.3 invariant 1, Callback.Completed contract). It reports fired=true
// only on the call that actually ran the notification, so a caller can
// attribute a terminal-outcome metric without double-counting a session
// that reaches the same completeOnce guard from more than one code path
// (e.g. Session.terminate's abnormal-shutdown fallback).
func (r *outcomeRelay) completed(ctx context.Context) (fired bool) {
	r.completeOnce.Do(func() {
		fired = true
		if r.isOriginator() {
			r.callback.Completed()
			return
		}
		if err := r.sendUpstream(ctx, Message{Type: MsgAnnounceCompleted, UID: r.uid}); err != nil {
			r.log.Debug("completed notification to upstream failed, source likely gone", "err", err)
		}
	})
	return
}

// routeNotFound surfaces RouteNotFound upstream or noMoreNodes to the
// local callback (§4.1 step 3). See completed for the fired return value.
func (r *outcomeRelay) routeNotFound(ctx context.Context, htl HTL) (fired bool) {
	r.completeOnce.Do(func() {
		fired = true
		if r.isOriginator() {
			r.callback.NoMoreNodes()
			return
		}
		if err := r.sendUpstream(ctx, Message{Type: MsgRouteNotFound, UID: r.uid, NewHTL: htl}); err != nil {
			r.log.Debug("route-not-found notification to upstream failed", "err", err)
		}
	})
	return
}

// overloaded surfaces a fatal RejectedOverload upstream and/or a
// nodeFailed callback (§4.1 step 6, §7). See completed for the fired
// return value.
func (r *outcomeRelay) overloaded(ctx context.Context, isLocal bool, peer Peer, reason string) (fired bool) {
	r.completeOnce.Do(func() {
		fired = true
		if !r.isOriginator() {
			if err := r.sendUpstream(ctx, Message{Type: MsgRejectedOverload, UID: r.uid, IsLocal: isLocal}); err != nil {
				r.log.Debug("overload notification to upstream failed", "err", err)
			}
			return
		}
		r.callback.NodeFailed(peer, reason)
	})
	return
}

// offerReply validates a reply noderef in originator mode and notifies the
// callback of the outcome (§4.1.2). Relay mode's forwarding needs the bulk
// transfer primitive and is handled directly by the session.
func (r *outcomeRelay) offerReply(raw []byte, peers PeerSet, validator Validator) {
	parsed, err := validator.Validate(raw)
	if err != nil || parsed == nil {
		reason := "parse/verify error"
		if err != nil {
			reason = err.Error()
		}
		r.callback.BogusNoderef(reason)
		return
	}
	if p := peers.AddNewOpennetNode(parsed); p != nil {
		r.callback.AddedNode(p)
	} else {
		r.callback.NodeNotAdded()
	}
}

// nodeNotWanted notifies the callback and, in relay mode, forwards the
// message upstream every time it is observed (design note: downstream
// amplification is preserved rather than deduplicated, per spec.md §9).
func (r *outcomeRelay) nodeNotWanted(ctx context.Context) {
	if r.isOriginator() {
		r.callback.NodeNotWanted()
		return
	}
	if err := r.sendUpstream(ctx, Message{Type: MsgNodeNotWanted, UID: r.uid}); err != nil {
		r.log.Debug("node-not-wanted relay failed", "err", err)
	}
}
