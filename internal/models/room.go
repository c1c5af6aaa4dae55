package models

// RoomInfo describes the current membership of a room
type RoomInfo struct {
	ID          string          `json:"id"`
	Members     []ParticipantID `json:"members"`
	MemberCount int             `json:"memberCount"`
}

// RoomList is the response for listing all active rooms
type RoomList struct {
	Rooms []RoomInfo `json:"rooms"`
	Total int        `json:"total"`
}
