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
	"io"

	mapset "github.com/deckarep/golang-set"

	"github.com/Pascal666/fred/log"
	"github.com/Pascal666/fred/opennetcfg"
	"github.com/Pascal666/fred/tempbucket"
)

// Deps bundles a Session's external collaborators (§6), so construction
// doesn't take a dozen positional parameters.
type Deps struct {
	Transport        Transport
	NoderefTransport NoderefTransport
	Peers            PeerSet
	Validator        Validator
	Policy           Policy
	Crypto           Crypto
	Router           *Router
	Pool             *tempbucket.Pool
	Config           *opennetcfg.Config
}

// Session is the per-announcement state machine (§4.1, component C5).
type Session struct {
	uid  UID
	deps Deps
	log  *log.Logger

	relay     *outcomeRelay
	joinerRef []byte

	target     Location
	nearestLoc Location
	htl        HTL
	routedTo   mapset.Set
	advanced   bool // already_forwarded
	onlyPeer   Peer
	next       Peer

	// pending* describe the noderef transfer in flight for the current
	// hop: the one this session is sending (RouteSelect/AwaitAdmit) or,
	// in relay mode, the one it admitted upstream (admitInbound).
	pendingTransferUID UID
	pendingNoderefLen  uint32
	pendingPaddedLen   uint32

	relayed *transferDedup // dedup of reply transfer UIDs already forwarded upstream (relay fidelity)

	state SessionState
}

// NewOriginatorSession builds a locally-triggered session: this node is the
// joiner, target is the chosen keyspace location, and outcomes are
// delivered to callback rather than relayed upstream.
func NewOriginatorSession(uid UID, target Location, onlyPeer Peer, callback Callback, deps Deps) *Session {
	counter := NewByteCounter()
	l := log.New("component", "opennet-session", "uid", uid)
	s := &Session{
		uid:        uid,
		deps:       deps,
		log:        l,
		relay:      newOutcomeRelay(deps.Transport, nil, callback, uid, counter, l),
		joinerRef:  deps.Crypto.MyCompressedFullRef(),
		target:     target,
		nearestLoc: deps.Crypto.MyLocation(),
		htl:        deps.Policy.MaxHTL(),
		routedTo:   mapset.NewSet(),
		onlyPeer:   onlyPeer,
		state:      StateRouteSelect,
		relayed:    newTransferDedup(256),
	}
	sessionsStarted.Mark(1)
	return s
}

// NewRelaySession builds a session handling an inbound AnnouncementRequest
// from an upstream peer. transferUID/noderefLen/paddedLen describe the
// pending inbound noderef transfer that accompanies the request.
func NewRelaySession(uid UID, htl HTL, nearestLoc, target Location, source Peer, transferUID UID, noderefLen, paddedLen uint32, deps Deps) *Session {
	counter := NewByteCounter()
	l := log.New("component", "opennet-session", "uid", uid)
	s := &Session{
		uid:        uid,
		deps:       deps,
		log:        l,
		relay:      newOutcomeRelay(deps.Transport, source, nil, uid, counter, l),
		target:     target,
		nearestLoc: nearestLoc,
		htl:        htl,
		routedTo:   mapset.NewSet(),
		state:      StateRouteSelect,
		relayed:    newTransferDedup(256),

		pendingTransferUID: transferUID,
		pendingNoderefLen:  noderefLen,
		pendingPaddedLen:   paddedLen,
	}
	sessionsStarted.Mark(1)
	return s
}

func (s *Session) upstream() Peer { return s.relay.source }

// Run executes the session to completion. The caller is expected to
// invoke this as its own goroutine/task (§5 "every session has its own task").
func (s *Session) Run(ctx context.Context) {
	defer s.recordBytes()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("session panicked, terminating as if disconnected", "panic", r)
			s.terminate(ctx)
		}
	}()

	if !s.relay.isOriginator() {
		if !s.admitInbound(ctx) {
			return
		}
	}

	s.resetHTLIfCloser()

	for {
		switch s.state {
		case StateRouteSelect:
			if !s.routeSelect(ctx) {
				return
			}
		case StateAwaitAdmit:
			if !s.awaitAdmit(ctx) {
				return
			}
		case StateAwaitBody:
			if !s.awaitBody(ctx) {
				return
			}
		case StateDraining:
			s.drain(ctx)
			return
		default:
			return
		}
	}
}

// admitInbound is §4.1 step 1, relay mode only.
func (s *Session) admitInbound(ctx context.Context) bool {
	if err := s.relay.sendUpstream(ctx, Message{Type: MsgAccepted, UID: s.uid}); err != nil {
		s.log.Debug("accepted reply to upstream failed, upstream gone", "err", err)
		return false
	}

	raw, err := s.deps.NoderefTransport.Receive(ctx, s.upstream(), s.pendingTransferUID, s.pendingNoderefLen, s.pendingPaddedLen, s.relay.counter)
	if err != nil || raw == nil {
		s.log.Debug("inbound noderef transfer failed, upstream gone", "err", err)
		return false
	}
	raw, err = s.bufferThroughPool(raw)
	if err != nil {
		s.log.Warn("tempbucket round-trip failed for inbound noderef", "err", err)
		return false
	}

	parsed, verr := s.deps.Validator.Validate(raw)
	if verr != nil || parsed == nil {
		_ = s.relay.sendUpstream(ctx, Message{Type: MsgNoderefRejected, UID: s.uid, Code: RejectInvalid})
		return false
	}
	s.joinerRef = raw

	if p := s.deps.Peers.AddNewOpennetNode(parsed); p != nil {
		ourRef := s.deps.Crypto.MyCompressedFullRef()
		if err := s.sendReplyUpstream(ctx, ourRef); err != nil {
			s.log.Debug("could not relay our own noderef upstream", "err", err)
			return false
		}
	} else {
		s.relay.nodeNotWanted(ctx)
	}
	return true
}

// resetHTLIfCloser is §4.1 step 2.
func (s *Session) resetHTLIfCloser() {
	myLoc := s.deps.Crypto.MyLocation()
	if Distance(s.target, myLoc) < Distance(s.target, s.nearestLoc) {
		s.nearestLoc = myLoc
		s.htl = s.deps.Policy.MaxHTL()
		return
	}
	if s.upstream() != nil {
		s.htl = s.deps.Policy.DecrementHTL(s.upstream(), s.htl)
	}
}

// routeSelect is §4.1 step 3. The HTL decrement (when already_forwarded)
// happens exactly once per call, before the retry loop below, so a
// send-time disconnect that makes us try a different candidate peer for
// the very same hop never decrements HTL a second time.
func (s *Session) routeSelect(ctx context.Context) bool {
	if s.htl == 0 {
		if s.relay.completed(ctx) {
			sessionsSucceeded.Mark(1)
		}
		s.state = StateCompleted
		return false
	}
	if s.advanced {
		s.htl = s.deps.Policy.DecrementHTL(s.upstream(), s.htl)
	}

	failedThisRound := mapset.NewSet()
	for {
		next, ok := s.pickNext(failedThisRound)
		if !ok {
			if s.relay.routeNotFound(ctx, s.htl) {
				sessionsRouteNotFound.Mark(1)
			}
			s.state = StateFailed
			return false
		}

		padded, err := PadNoderef(s.joinerRef, uint32(len(s.joinerRef)))
		if err != nil {
			s.log.Error("joiner noderef invalid, cannot forward", "err", err)
			s.state = StateFailed
			return false
		}
		transferUID := NewUID()
		req := AnnouncementRequest(s.uid, s.htl, s.nearestLoc, s.target, transferUID, uint32(len(s.joinerRef)), uint32(len(padded)))

		if err := s.deps.Transport.SendAsync(ctx, next, req, s.relay.counter); err != nil {
			s.log.Debug("send to candidate peer failed, trying another", "peer", next.ID(), "err", err)
			failedThisRound.Add(next.ID())
			continue
		}
		if err := s.deps.NoderefTransport.StartSend(ctx, next, transferUID, s.joinerRef, padded, s.relay.counter); err != nil {
			s.log.Debug("noderef transfer start failed, trying another peer", "peer", next.ID(), "err", err)
			failedThisRound.Add(next.ID())
			continue
		}

		s.advanced = true
		s.routedTo.Add(next.ID())
		s.next = next
		s.pendingTransferUID = transferUID
		s.pendingNoderefLen = uint32(len(s.joinerRef))
		s.pendingPaddedLen = uint32(len(padded))
		s.state = StateAwaitAdmit
		return true
	}
}

// pickNext selects the next candidate, honoring pinned-peer mode (§4.1.4)
// and excluding both routed_to and any peer that already failed a send
// attempt earlier in this same routeSelect call.
func (s *Session) pickNext(failedThisRound mapset.Set) (Peer, bool) {
	if s.onlyPeer != nil {
		if s.routedTo.Contains(s.onlyPeer.ID()) || failedThisRound.Contains(s.onlyPeer.ID()) {
			return nil, false
		}
		return s.onlyPeer, true
	}
	excluded := make(map[string]struct{}, s.routedTo.Cardinality()+failedThisRound.Cardinality())
	for item := range s.routedTo.Iter() {
		excluded[item.(string)] = struct{}{}
	}
	for item := range failedThisRound.Iter() {
		excluded[item.(string)] = struct{}{}
	}
	return s.deps.Router.PickNext(s.upstream(), excluded, s.target, s.advanced)
}

// awaitAdmit is §4.1 step 4.
func (s *Session) awaitAdmit(ctx context.Context) bool {
	filter := NewFilter(
		Alt{Type: MsgAccepted, Source: s.next, UID: s.uid, Timeout: s.deps.Config.AdmitTimeout},
		Alt{Type: MsgRejectedLoop, Source: s.next, UID: s.uid, Timeout: s.deps.Config.AdmitTimeout},
		Alt{Type: MsgRejectedOverload, Source: s.next, UID: s.uid, Timeout: s.deps.Config.AdmitTimeout},
		Alt{Type: MsgOpennetDisabled, Source: s.next, UID: s.uid, Timeout: s.deps.Config.AdmitTimeout},
	)
	msg, ok, err := s.deps.Transport.WaitFor(ctx, filter, s.relay.counter)
	if err != nil || !ok {
		s.deps.Router.MarkBackoff(s.next.ID())
		s.state = StateRouteSelect
		return true
	}
	if msg.Type != MsgAccepted {
		s.deps.Router.MarkBackoff(s.next.ID())
		s.state = StateRouteSelect
		return true
	}

	if err := s.deps.NoderefTransport.FinishSend(ctx, s.next, s.pendingTransferUID, s.relay.counter); err != nil {
		s.log.Debug("noderef body send failed, trying another peer", "peer", s.next.ID(), "err", err)
		s.state = StateRouteSelect
		return true
	}
	s.state = StateAwaitBody
	return true
}

// awaitBody is §4.1 step 6.
func (s *Session) awaitBody(ctx context.Context) bool {
	cfg := s.deps.Config
	filter := NewFilter(
		Alt{Type: MsgAnnounceCompleted, Source: s.next, UID: s.uid, Timeout: cfg.BodyTimeout},
		Alt{Type: MsgRouteNotFound, Source: s.next, UID: s.uid, Timeout: cfg.BodyTimeout},
		Alt{Type: MsgRejectedOverload, Source: s.next, UID: s.uid, Timeout: cfg.BodyTimeout},
		Alt{Type: MsgAnnounceReply, Source: s.next, UID: s.uid, Timeout: cfg.BodyTimeout},
		Alt{Type: MsgOpennetDisabled, Source: s.next, UID: s.uid, Timeout: cfg.BodyTimeout},
		Alt{Type: MsgNodeNotWanted, Source: s.next, UID: s.uid, Timeout: cfg.BodyTimeout},
		Alt{Type: MsgNoderefRejected, Source: s.next, UID: s.uid, Timeout: cfg.NoderefRejectedTimeout},
	)
	msg, ok, err := s.deps.Transport.WaitFor(ctx, filter, s.relay.counter)
	if err != nil {
		s.state = StateRouteSelect // downstream disconnect: try another peer, no extra HTL penalty
		return true
	}
	if !ok {
		// No message at all within the body timeout: fatal (§4.1 step 6, §7).
		if s.relay.overloaded(ctx, true, s.next, "timed out") {
			sessionsTimedOut.Mark(1)
		}
		s.state = StateFailed
		return false
	}

	switch msg.Type {
	case MsgNoderefRejected:
		s.log.Debug("downstream rejected our noderef", "peer", s.next.ID(), "code", msg.Code)
		s.state = StateRouteSelect
	case MsgRouteNotFound:
		if msg.NewHTL < s.htl {
			s.htl = msg.NewHTL
		}
		s.state = StateRouteSelect
	case MsgRejectedOverload, MsgOpennetDisabled:
		s.state = StateRouteSelect
	case MsgAnnounceReply:
		s.handleReply(ctx, msg)
		// remain in AwaitBody
	case MsgNodeNotWanted:
		s.relay.nodeNotWanted(ctx)
		// remain in AwaitBody
	case MsgAnnounceCompleted:
		if s.relay.completed(ctx) {
			sessionsSucceeded.Mark(1)
		}
		s.state = StateDraining
	}
	return true
}

// drain is §4.1 step 7: a single Filter is armed once so its deadline is
// anchored at construction (RelativeToCreation), giving an absolute
// 30-second wall-clock cap across every successive wait.
func (s *Session) drain(ctx context.Context) {
	filter := NewFilter(
		Alt{Type: MsgAnnounceReply, Source: s.next, UID: s.uid, Timeout: s.deps.Config.DrainTimeout, RelativeToCreation: true},
		Alt{Type: MsgNodeNotWanted, Source: s.next, UID: s.uid, Timeout: s.deps.Config.DrainTimeout, RelativeToCreation: true},
	)
	for {
		msg, ok, err := s.deps.Transport.WaitFor(ctx, filter, s.relay.counter)
		if err != nil || !ok {
			return
		}
		switch msg.Type {
		case MsgAnnounceReply:
			s.handleReply(ctx, msg)
		case MsgNodeNotWanted:
			s.relay.nodeNotWanted(ctx)
		}
	}
}

// handleReply implements §4.1.2 for both AwaitBody and Draining.
func (s *Session) handleReply(ctx context.Context, msg Message) {
	raw, err := s.deps.NoderefTransport.Receive(ctx, s.next, msg.TransferUID, msg.NoderefLength, msg.PaddedLength, s.relay.counter)
	if err != nil || raw == nil {
		s.log.Debug("reply noderef transfer failed", "err", err)
		return
	}
	raw, err = s.bufferThroughPool(raw)
	if err != nil {
		s.log.Warn("tempbucket round-trip failed for reply noderef", "err", err)
		return
	}

	if s.relay.isOriginator() {
		s.relay.offerReply(raw, s.deps.Peers, s.deps.Validator)
		return
	}

	if s.relayed.seenBefore(msg.TransferUID) {
		return
	}

	if err := s.sendReplyUpstream(ctx, raw); err != nil {
		s.log.Debug("relaying reply upstream failed, upstream disconnected", "err", err)
		s.state = StateFailed
	}
}

// sendReplyUpstream forwards raw as a fresh AnnounceReply + bulk transfer
// on the session's uid, as the source sees it (§4.1 step 1, §4.1.2).
func (s *Session) sendReplyUpstream(ctx context.Context, raw []byte) error {
	padded, err := PadNoderef(raw, uint32(len(raw)))
	if err != nil {
		return err
	}
	transferUID := NewUID()
	msg := Message{
		Type:          MsgAnnounceReply,
		UID:           s.uid,
		TransferUID:   transferUID,
		NoderefLength: uint32(len(raw)),
		PaddedLength:  uint32(len(padded)),
	}
	if err := s.relay.sendUpstream(ctx, msg); err != nil {
		return err
	}
	if err := s.deps.NoderefTransport.StartSend(ctx, s.upstream(), transferUID, raw, padded, s.relay.counter); err != nil {
		return err
	}
	return s.deps.NoderefTransport.FinishSend(ctx, s.upstream(), transferUID, s.relay.counter)
}

// bufferThroughPool routes every noderef buffer through the tempbucket
// pool (§4.4), as spec.md §3 requires for all noderef buffer allocations.
func (s *Session) bufferThroughPool(raw []byte) ([]byte, error) {
	b, err := s.deps.Pool.Make(int64(len(raw)))
	if err != nil {
		return nil, err
	}
	defer b.Free()

	w, err := b.OpenWrite()
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	r, err := b.OpenRead()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	out := make([]byte, 0, len(raw))
	buf := make([]byte, 4096)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, rerr
		}
		if n == 0 {
			break // writer closed, no more data ever coming
		}
	}
	return out, nil
}

func (s *Session) terminate(ctx context.Context) {
	switch s.state {
	case StateCompleted, StateFailed:
		return
	default:
		s.relay.completed(ctx)
	}
}
