package models

import (
	"errors"
	"fmt"
)

// ErrInvalidMessage is returned when a message is missing a field its type requires
var ErrInvalidMessage = errors.New("invalid message")

// ParticipantID identifies one signaling connection
type ParticipantID string

// SignalType represents the type of a signaling message
type SignalType string

const (
	SignalTypeJoinRoom         SignalType = "join-room"
	SignalTypeRoomJoined       SignalType = "room-joined"
	SignalTypePeerJoined       SignalType = "peer-joined"
	SignalTypeOffer            SignalType = "offer"
	SignalTypeAnswer           SignalType = "answer"
	SignalTypeCandidate        SignalType = "ice-candidate"
	SignalTypeMediaStateChange SignalType = "media-state-change"
	SignalTypeLeaveRoom        SignalType = "leave-room"
	SignalTypePeerDisconnected SignalType = "peer-disconnected"
	SignalTypeError            SignalType = "connection-error"
)

// Category groups signal types by how the hub routes them
type Category int

const (
	// CategoryUnknown is any type the hub does not recognise
	CategoryUnknown Category = iota
	// CategoryControl messages are consumed by the hub itself
	CategoryControl
	// CategoryReply messages are only ever produced by the hub
	CategoryReply
	// CategoryDirected messages carry a recipient and go to exactly that recipient
	CategoryDirected
	// CategoryBroadcast messages go to every room member except the sender
	CategoryBroadcast
)

// Category returns the routing category of the signal type
func (t SignalType) Category() Category {
	switch t {
	case SignalTypeJoinRoom, SignalTypeLeaveRoom:
		return CategoryControl
	case SignalTypeRoomJoined, SignalTypePeerJoined, SignalTypePeerDisconnected, SignalTypeError:
		return CategoryReply
	case SignalTypeOffer, SignalTypeAnswer, SignalTypeCandidate:
		return CategoryDirected
	case SignalTypeMediaStateChange:
		return CategoryBroadcast
	default:
		return CategoryUnknown
	}
}

// MediaKind is the kind of a local media track
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// Valid reports whether k is audio or video
func (k MediaKind) Valid() bool {
	return k == MediaAudio || k == MediaVideo
}

// SessionDescription is an opaque SDP blob as produced by a peer connection
type SessionDescription struct {
	Type string `json:"type" msgpack:"type"`
	SDP  string `json:"sdp" msgpack:"sdp"`
}

// ICECandidate mirrors the browser RTCIceCandidateInit shape
type ICECandidate struct {
	Candidate        string  `json:"candidate" msgpack:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty" msgpack:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty" msgpack:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty" msgpack:"usernameFragment,omitempty"`
}

// MediaState is a snapshot of a participant's audio and video flags
type MediaState struct {
	Audio bool `json:"audio" msgpack:"audio"`
	Video bool `json:"video" msgpack:"video"`
}

// Get returns the flag for kind
func (s MediaState) Get(kind MediaKind) bool {
	if kind == MediaAudio {
		return s.Audio
	}
	return s.Video
}

// With returns a copy of s with the flag for kind set to enabled
func (s MediaState) With(kind MediaKind, enabled bool) MediaState {
	switch kind {
	case MediaAudio:
		s.Audio = enabled
	case MediaVideo:
		s.Video = enabled
	}
	return s
}

// SignalMessage is the tagged envelope for every signaling message.
// Which fields are meaningful depends on Type, see Validate.
type SignalMessage struct {
	Type         SignalType          `json:"type" msgpack:"type"`
	From         ParticipantID       `json:"from,omitempty" msgpack:"from,omitempty"`
	To           ParticipantID       `json:"to,omitempty" msgpack:"to,omitempty"`
	RoomID       string              `json:"roomId,omitempty" msgpack:"roomId,omitempty"`
	Peer         ParticipantID       `json:"peer,omitempty" msgpack:"peer,omitempty"`
	Participants []ParticipantID     `json:"participants,omitzero" msgpack:"participants"`
	Description  *SessionDescription `json:"description,omitempty" msgpack:"description,omitempty"`
	Candidate    *ICECandidate       `json:"candidate,omitempty" msgpack:"candidate,omitempty"`
	MediaState   *MediaState         `json:"mediaState,omitempty" msgpack:"mediaState,omitempty"`
	Media        MediaKind           `json:"media,omitempty" msgpack:"media,omitempty"`
	Enabled      *bool               `json:"enabled,omitempty" msgpack:"enabled,omitempty"`
	Reason       string              `json:"reason,omitempty" msgpack:"reason,omitempty"`
}

// Validate checks that the fields required by the message type are present
func (m *SignalMessage) Validate() error {
	switch m.Type {
	case SignalTypeJoinRoom, SignalTypeLeaveRoom:
		if m.RoomID == "" {
			return fmt.Errorf("%w: %s requires roomId", ErrInvalidMessage, m.Type)
		}
	case SignalTypeRoomJoined:
		if m.RoomID == "" {
			return fmt.Errorf("%w: %s requires roomId", ErrInvalidMessage, m.Type)
		}
	case SignalTypePeerJoined, SignalTypePeerDisconnected:
		if m.Peer == "" {
			return fmt.Errorf("%w: %s requires peer", ErrInvalidMessage, m.Type)
		}
	case SignalTypeOffer, SignalTypeAnswer:
		if m.To == "" {
			return fmt.Errorf("%w: %s requires to", ErrInvalidMessage, m.Type)
		}
		if m.Description == nil || m.Description.SDP == "" {
			return fmt.Errorf("%w: %s requires description", ErrInvalidMessage, m.Type)
		}
	case SignalTypeCandidate:
		if m.To == "" {
			return fmt.Errorf("%w: %s requires to", ErrInvalidMessage, m.Type)
		}
		if m.Candidate == nil {
			return fmt.Errorf("%w: %s requires candidate", ErrInvalidMessage, m.Type)
		}
	case SignalTypeMediaStateChange:
		if !m.Media.Valid() {
			return fmt.Errorf("%w: unknown media kind %q", ErrInvalidMessage, m.Media)
		}
		if m.Enabled == nil {
			return fmt.Errorf("%w: %s requires enabled", ErrInvalidMessage, m.Type)
		}
	case SignalTypeError:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, m.Type)
	}
	return nil
}

// NewJoinRoom builds a join-room request
func NewJoinRoom(roomID string) *SignalMessage {
	return &SignalMessage{Type: SignalTypeJoinRoom, RoomID: roomID}
}

// NewLeaveRoom builds a leave-room request
func NewLeaveRoom(roomID string) *SignalMessage {
	return &SignalMessage{Type: SignalTypeLeaveRoom, RoomID: roomID}
}

// NewRoomJoined builds the join confirmation sent to the joiner. Peer carries
// the joiner's own id; participants are the members that were already there.
func NewRoomJoined(roomID string, self ParticipantID, participants []ParticipantID) *SignalMessage {
	if participants == nil {
		participants = []ParticipantID{}
	}
	return &SignalMessage{Type: SignalTypeRoomJoined, RoomID: roomID, Peer: self, Participants: participants}
}

// NewPeerJoined builds the notification sent to existing members
func NewPeerJoined(roomID string, peer ParticipantID) *SignalMessage {
	return &SignalMessage{Type: SignalTypePeerJoined, RoomID: roomID, Peer: peer}
}

// NewPeerDisconnected builds the notification sent to remaining members
func NewPeerDisconnected(roomID string, peer ParticipantID) *SignalMessage {
	return &SignalMessage{Type: SignalTypePeerDisconnected, RoomID: roomID, Peer: peer}
}

// NewMediaStateChange builds a room-wide media toggle notification
func NewMediaStateChange(roomID string, kind MediaKind, enabled bool) *SignalMessage {
	return &SignalMessage{Type: SignalTypeMediaStateChange, RoomID: roomID, Media: kind, Enabled: &enabled}
}

// NewConnectionError builds an error reply
func NewConnectionError(reason string) *SignalMessage {
	return &SignalMessage{Type: SignalTypeError, Reason: reason}
}
