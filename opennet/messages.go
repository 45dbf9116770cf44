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

// MsgType identifies the kind of an inbound or outbound announcement
// protocol message (spec.md §6, "Wire messages").
type MsgType int

const (
	MsgAnnouncementRequest MsgType = iota
	MsgAccepted
	MsgRejectedLoop
	MsgRejectedOverload
	MsgOpennetDisabled
	MsgAnnounceReply
	MsgAnnounceCompleted
	MsgRouteNotFound
	MsgNodeNotWanted
	MsgNoderefRejected
	MsgNoderefChunk
)

func (t MsgType) String() string {
	switch t {
	case MsgAnnouncementRequest:
		return "AnnouncementRequest"
	case MsgAccepted:
		return "Accepted"
	case MsgRejectedLoop:
		return "RejectedLoop"
	case MsgRejectedOverload:
		return "RejectedOverload"
	case MsgOpennetDisabled:
		return "OpennetDisabled"
	case MsgAnnounceReply:
		return "AnnounceReply"
	case MsgAnnounceCompleted:
		return "AnnounceCompleted"
	case MsgRouteNotFound:
		return "RouteNotFound"
	case MsgNodeNotWanted:
		return "NodeNotWanted"
	case MsgNoderefRejected:
		return "NoderefRejected"
	case MsgNoderefChunk:
		return "NoderefChunk"
	default:
		return "Unknown"
	}
}

// Message is the envelope carried by the transport. Every message carries
// UID; the remaining fields are populated according to Type.
type Message struct {
	Type MsgType
	UID  UID

	// AnnouncementRequest
	HTL             HTL
	NearestLocation Location
	TargetLocation  Location
	TransferUID     UID
	NoderefLength   uint32
	PaddedLength    uint32

	// RejectedOverload
	IsLocal bool

	// RouteNotFound
	NewHTL HTL

	// NoderefRejected
	Code NoderefRejectedCode

	// NoderefChunk (C3's bulk-transfer primitive, §4.3)
	Payload    []byte
	ChunkSeq   uint32
	ChunkFinal bool
}

// AnnouncementRequest builds the request header sent at the start of a hop
// (§6); the bulk noderef transfer follows it out of band via
// NoderefTransport.
func AnnouncementRequest(uid UID, htl HTL, nearest, target Location, transferUID UID, noderefLen, paddedLen uint32) Message {
	return Message{
		Type:            MsgAnnouncementRequest,
		UID:             uid,
		HTL:             htl,
		NearestLocation: nearest,
		TargetLocation:  target,
		TransferUID:     transferUID,
		NoderefLength:   noderefLen,
		PaddedLength:    paddedLen,
	}
}
