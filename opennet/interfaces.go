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
	"errors"
)

// ErrNotConnected is returned by Transport.SendAsync for a disconnected peer.
var ErrNotConnected = errors.New("opennet: peer not connected")

// Peer is the subset of peer identity the routing engine needs. The real
// peer object, its connection machinery, and its location bookkeeping are
// owned by the external peer set (spec.md §3 "Peer"); sessions hold only
// this thin view plus whatever pointer identity the set hands back.
type Peer interface {
	// ID uniquely and stably identifies the peer for routed_to bookkeeping.
	ID() string
	// Location is the peer's current position in keyspace.
	Location() Location
	// Connected reports the current transport connection state.
	Connected() bool
}

// Transport is the unreliable message router collaborator (§6). It is
// implemented outside this package; the routing engine only consumes it.
type Transport interface {
	// SendAsync delivers msg to peer, counting bytes through counter. It
	// may fail with ErrNotConnected.
	SendAsync(ctx context.Context, peer Peer, msg Message, counter *ByteCounter) error
	// WaitFor blocks until a message matching filter arrives, the filter's
	// deadlines all elapse (returns ok=false), or the named peer
	// disconnects (returns ErrDisconnected).
	WaitFor(ctx context.Context, filter *Filter, counter *ByteCounter) (msg Message, ok bool, err error)
}

// ErrDisconnected is returned by Transport.WaitFor and the transfer
// primitives when the peer named in the wait/transfer drops.
var ErrDisconnected = errors.New("opennet: peer disconnected")

// NoderefTransport is the bulk noderef transfer primitive (§4.3), layered
// on Transport by the caller's implementation.
type NoderefTransport interface {
	// StartSend enqueues padded for transmission under transferUID,
	// returning once the header/start has been issued (not once fully
	// drained — see FinishSend).
	StartSend(ctx context.Context, peer Peer, transferUID UID, noderef, padded []byte, counter *ByteCounter) error
	// FinishSend blocks until the bulk payload enqueued by StartSend has
	// been fully drained to the peer.
	FinishSend(ctx context.Context, peer Peer, transferUID UID, counter *ByteCounter) error
	// Receive blocks for the incoming bulk payload associated with
	// transferUID and returns the unpadded noderef bytes, or nil on
	// transport failure.
	Receive(ctx context.Context, peer Peer, transferUID UID, noderefLen, paddedLen uint32, counter *ByteCounter) ([]byte, error)
}

// ParsedNoderef is the structured form of a validated noderef blob.
type ParsedNoderef interface {
	// Bytes returns the original (unpadded) wire encoding.
	Bytes() []byte
}

// Validator validates a raw noderef blob, returning nil on failure.
type Validator interface {
	Validate(raw []byte) (ParsedNoderef, error)
}

// PeerSet is the peer database / proximity metric collaborator (§6).
type PeerSet interface {
	// PickCloser returns the connected peer closest to target, excluding
	// source and any peer in excluded, or (nil, false) if none qualifies.
	// isAdvanced mirrors the already_forwarded flag of spec.md step 3.
	PickCloser(source Peer, excluded map[string]struct{}, target Location, isAdvanced bool) (Peer, bool)
	// AddNewOpennetNode offers a validated noderef for admission, returning
	// the resulting Peer on acceptance or nil on rejection.
	AddNewOpennetNode(ref ParsedNoderef) Peer
}

// Policy is the HTL decrement/maximum collaborator (§6). It is a black box:
// its decisions may be probabilistic (e.g. refusing to decrement at
// max HTL) but must be deterministic given identical internal state.
type Policy interface {
	DecrementHTL(source Peer, htl HTL) HTL
	MaxHTL() HTL
}

// Crypto supplies this node's own compressed noderef for relaying upstream
// during admission (§4.1 step 1) and as the local originator's payload.
type Crypto interface {
	MyCompressedFullRef() []byte
	MyLocation() Location
}

// Callback is the originator-mode notification interface (§6). Every
// method is invoked at most the number of times described in §4.1;
// Completed is invoked exactly once per session.
type Callback interface {
	AddedNode(p Peer)
	NodeNotAdded()
	NodeNotWanted()
	NodeFailed(p Peer, reason string)
	BogusNoderef(reason string)
	NoMoreNodes()
	Completed()
}
