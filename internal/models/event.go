package models

import "time"

// RoomEventType names a membership change
type RoomEventType string

const (
	RoomEventCreated      RoomEventType = "room-created"
	RoomEventDeleted      RoomEventType = "room-deleted"
	RoomEventMemberJoined RoomEventType = "member-joined"
	RoomEventMemberLeft   RoomEventType = "member-left"
)

// RoomEvent is reported by the hub for every membership change
type RoomEvent struct {
	Type        RoomEventType `json:"type"`
	RoomID      string        `json:"roomId"`
	Participant ParticipantID `json:"participant,omitempty"`
	// Members is the member count after the change
	Members int       `json:"members"`
	At      time.Time `json:"at"`
}
