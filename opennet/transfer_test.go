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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPadUnpadNoderefRoundTrip(t *testing.T) {
	raw := []byte("a compressed noderef blob")
	padded, err := PadNoderef(raw, uint32(len(raw)+16))
	require.NoError(t, err)
	assert.Len(t, padded, len(raw)+16)
	assert.Equal(t, raw, padded[:len(raw)])

	unpadded, err := UnpadNoderef(padded, uint32(len(raw)), uint32(len(padded)))
	require.NoError(t, err)
	assert.Equal(t, raw, unpadded)
}

func TestPadNoderefRejectsOverlong(t *testing.T) {
	_, err := PadNoderef([]byte("too long"), 3)
	assert.ErrorIs(t, err, ErrNoderefTooLong)
}

func TestUnpadNoderefRejectsShortTransfer(t *testing.T) {
	_, err := UnpadNoderef([]byte("short"), 3, 10)
	assert.Error(t, err)
}

func TestTransferDedupRecognizesRepeat(t *testing.T) {
	d := newTransferDedup(16)
	uid := NewUID()

	assert.False(t, d.seenBefore(uid), "first sighting must not be flagged as a repeat")
	assert.True(t, d.seenBefore(uid), "second sighting of the same transfer UID must be recognized")

	other := NewUID()
	assert.False(t, d.seenBefore(other), "a distinct transfer UID must not be conflated with the first")
}

func TestChunkedTransferSingleChunkRoundTrip(t *testing.T) {
	sender := &fakePeer{id: "sender"}
	receiver := &fakePeer{id: "receiver"}
	toReceiver, toSender := newPipePair(sender, receiver)

	send := NewChunkedTransfer(toReceiver, defaultChunkSize)
	recv := NewChunkedTransfer(toSender, defaultChunkSize)

	raw := []byte("a short noderef")
	padded, err := PadNoderef(raw, uint32(len(raw)))
	require.NoError(t, err)

	uid := NewUID()
	sendCounter := NewByteCounter()
	recvCounter := NewByteCounter()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, send.StartSend(ctx, receiver, uid, raw, padded, sendCounter))
	require.NoError(t, send.FinishSend(ctx, receiver, uid, sendCounter))

	got, err := recv.Receive(ctx, sender, uid, uint32(len(raw)), uint32(len(padded)), recvCounter)
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}

func TestChunkedTransferMultiChunkRoundTripPreservesOrder(t *testing.T) {
	sender := &fakePeer{id: "sender"}
	receiver := &fakePeer{id: "receiver"}
	toReceiver, toSender := newPipePair(sender, receiver)

	const chunkSize = 8
	send := NewChunkedTransfer(toReceiver, chunkSize)
	recv := NewChunkedTransfer(toSender, chunkSize)

	raw := []byte("a noderef blob long enough to span several chunks of the transfer")
	padded, err := PadNoderef(raw, uint32(len(raw)+5))
	require.NoError(t, err)
	require.Greater(t, len(padded), chunkSize, "the test payload must force more than one chunk")

	uid := NewUID()
	sendCounter := NewByteCounter()
	recvCounter := NewByteCounter()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, send.StartSend(ctx, receiver, uid, raw, padded, sendCounter))
	require.NoError(t, send.FinishSend(ctx, receiver, uid, sendCounter))

	got, err := recv.Receive(ctx, sender, uid, uint32(len(raw)), uint32(len(padded)), recvCounter)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	sentN, _ := sendCounter.Totals()
	_, recvN := recvCounter.Totals()
	assert.EqualValues(t, len(padded), sentN, "every padded byte must be counted as sent exactly once")
	assert.EqualValues(t, len(padded), recvN, "every padded byte must be counted as received exactly once")
}

func TestChunkedTransferReceiveFailsWhenNothingArrives(t *testing.T) {
	sender := &fakePeer{id: "sender"}
	receiver := &fakePeer{id: "receiver"}
	_, toSender := newPipePair(sender, receiver)

	recv := NewChunkedTransfer(toSender, defaultChunkSize)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := recv.Receive(ctx, sender, NewUID(), 4, 4, NewByteCounter())
	assert.Error(t, err, "a Receive with no matching traffic must fail rather than block forever")
}
