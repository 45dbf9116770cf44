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
)

// fakePeer is the minimal Peer implementation shared by every opennet test.
type fakePeer struct {
	id        string
	loc       Location
	connected bool
}

func (p *fakePeer) ID() string        { return p.id }
func (p *fakePeer) Location() Location { return p.loc }
func (p *fakePeer) Connected() bool   { return p.connected }

// fakeParsedNoderef is the Validator's accepted output in tests.
type fakeParsedNoderef struct{ raw []byte }

func (p *fakeParsedNoderef) Bytes() []byte { return p.raw }

// fakeValidator accepts anything non-empty.
type fakeValidator struct{ rejectAll bool }

func (v *fakeValidator) Validate(raw []byte) (ParsedNoderef, error) {
	if v.rejectAll || len(raw) == 0 {
		return nil, nil
	}
	return &fakeParsedNoderef{raw: raw}, nil
}

// fakePolicy decrements HTL by a fixed step and reports a fixed max.
type fakePolicy struct {
	max  HTL
	step HTL
}

func (p *fakePolicy) DecrementHTL(_ Peer, htl HTL) HTL {
	if htl < p.step {
		return 0
	}
	return htl - p.step
}
func (p *fakePolicy) MaxHTL() HTL { return p.max }

// fakeCrypto supplies a fixed local identity.
type fakeCrypto struct {
	ref []byte
	loc Location
}

func (c *fakeCrypto) MyCompressedFullRef() []byte { return c.ref }
func (c *fakeCrypto) MyLocation() Location         { return c.loc }

// fakeCallback records every originator-mode notification it receives.
type fakeCallback struct {
	mu sync.Mutex

	added        []Peer
	notAdded     int
	notWanted    int
	failed       []string
	bogus        []string
	noMoreNodes  int
	completed    int
}

func (c *fakeCallback) AddedNode(p Peer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.added = append(c.added, p)
}
func (c *fakeCallback) NodeNotAdded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notAdded++
}
func (c *fakeCallback) NodeNotWanted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notWanted++
}
func (c *fakeCallback) NodeFailed(_ Peer, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed = append(c.failed, reason)
}
func (c *fakeCallback) BogusNoderef(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bogus = append(c.bogus, reason)
}
func (c *fakeCallback) NoMoreNodes() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.noMoreNodes++
}
func (c *fakeCallback) Completed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed++
}

func (c *fakeCallback) completedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed
}

// fakePeerSet offers a scripted sequence of PickCloser results and records
// every admitted noderef.
type fakePeerSet struct {
	mu sync.Mutex

	candidates []Peer // consumed in order by PickCloser
	admitted   []ParsedNoderef
	admitAs    Peer // returned by AddNewOpennetNode when non-nil; nil rejects
}

func (s *fakePeerSet) PickCloser(_ Peer, excluded map[string]struct{}, _ Location, _ bool) (Peer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.candidates) > 0 {
		next := s.candidates[0]
		s.candidates = s.candidates[1:]
		if _, skip := excluded[next.ID()]; skip {
			continue
		}
		return next, true
	}
	return nil, false
}

func (s *fakePeerSet) AddNewOpennetNode(ref ParsedNoderef) Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admitted = append(s.admitted, ref)
	return s.admitAs
}

// fakeTransport scripts WaitFor's responses per call and records every sent
// message.
type fakeTransport struct {
	mu sync.Mutex

	sendErr   map[string]error // keyed by peer ID: forces SendAsync to fail
	sent      []Message
	waitQueue []waitResult // consumed in order by WaitFor
}

type waitResult struct {
	msg Message
	ok  bool
	err error
}

func (t *fakeTransport) SendAsync(_ context.Context, peer Peer, msg Message, _ *ByteCounter) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		if err, bad := t.sendErr[peer.ID()]; bad {
			return err
		}
	}
	t.sent = append(t.sent, msg)
	return nil
}

func (t *fakeTransport) WaitFor(_ context.Context, _ *Filter, _ *ByteCounter) (Message, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.waitQueue) == 0 {
		return Message{}, false, nil
	}
	r := t.waitQueue[0]
	t.waitQueue = t.waitQueue[1:]
	return r.msg, r.ok, r.err
}

func (t *fakeTransport) sentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

// fakeNoderefTransport always succeeds and returns a fixed payload from Receive.
type fakeNoderefTransport struct {
	mu sync.Mutex

	startErr  error
	finishErr error
	recvBytes []byte
	recvErr   error
	started   int
	finished  int
}

func (n *fakeNoderefTransport) StartSend(_ context.Context, _ Peer, _ UID, _, _ []byte, _ *ByteCounter) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started++
	return n.startErr
}

func (n *fakeNoderefTransport) FinishSend(_ context.Context, _ Peer, _ UID, _ *ByteCounter) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.finished++
	return n.finishErr
}

func (n *fakeNoderefTransport) Receive(_ context.Context, _ Peer, _ UID, _, _ uint32, _ *ByteCounter) ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.recvErr != nil {
		return nil, n.recvErr
	}
	return n.recvBytes, nil
}

// pipeMsg is one message in flight on a pipeTransport, tagged with the
// sender's identity so the receiving side's Filter can match on Source.
type pipeMsg struct {
	msg  Message
	from Peer
}

// pipeTransport is a minimal real Transport: two linked instances deliver
// SendAsync calls made on one end to the other end's WaitFor, so
// ChunkedTransfer can be exercised against an actual send/receive round
// trip instead of a scripted queue.
type pipeTransport struct {
	self   Peer
	outbox chan<- pipeMsg
	inbox  <-chan pipeMsg
}

// newPipePair builds two cross-wired transports, selfA's sends arriving at
// selfB's WaitFor and vice versa.
func newPipePair(selfA, selfB Peer) (*pipeTransport, *pipeTransport) {
	aToB := make(chan pipeMsg, 64)
	bToA := make(chan pipeMsg, 64)
	a := &pipeTransport{self: selfA, outbox: aToB, inbox: bToA}
	b := &pipeTransport{self: selfB, outbox: bToA, inbox: aToB}
	return a, b
}

func (t *pipeTransport) SendAsync(ctx context.Context, _ Peer, msg Message, _ *ByteCounter) error {
	select {
	case t.outbox <- pipeMsg{msg: msg, from: t.self}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *pipeTransport) WaitFor(ctx context.Context, filter *Filter, _ *ByteCounter) (Message, bool, error) {
	for {
		select {
		case pm := <-t.inbox:
			if _, ok := filter.Match(pm.msg, pm.from); ok {
				return pm.msg, true, nil
			}
			// Non-matching traffic would be dispatched elsewhere by a real
			// transport; this fake only ever carries messages its tests
			// expect, so dropping it here is equivalent.
		case <-ctx.Done():
			return Message{}, false, ctx.Err()
		}
	}
}
