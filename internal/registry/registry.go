// Package registry keeps the in-memory mapping from room ids to their members.
//
// A Registry is pure bookkeeping. It never talks to a transport: callers derive
// notifications from the values it returns. It is not safe for concurrent use;
// the signaling hub owns one from a single goroutine.
package registry

import (
	"errors"
	"fmt"
	"sort"

	"github.com/mossy-p/mesh-signaling/internal/models"
)

var (
	// ErrInOtherRoom is returned by Join when the participant must leave its current room first
	ErrInOtherRoom = errors.New("participant is a member of another room")
	// ErrInvalidID is returned for empty participant or room ids
	ErrInvalidID = errors.New("invalid id")
)

// LeaveResult describes what a Leave call changed
type LeaveResult struct {
	RoomID string
	// Removed is false when the participant was not a member
	Removed bool
	// Remaining are the members left in the room, to be told about the departure
	Remaining   []models.ParticipantID
	RoomDeleted bool
}

// Registry maps room ids to member sets
type Registry struct {
	rooms map[string]map[models.ParticipantID]struct{}
	// byMember indexes the rooms each participant is in
	byMember map[models.ParticipantID]map[string]struct{}
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		rooms:    make(map[string]map[models.ParticipantID]struct{}),
		byMember: make(map[models.ParticipantID]map[string]struct{}),
	}
}

// Join adds participant to room, creating the room if absent, and returns the
// members that were already there. Joining the room the participant is
// already in changes nothing.
func (r *Registry) Join(participant models.ParticipantID, roomID string) ([]models.ParticipantID, error) {
	if participant == "" || roomID == "" {
		return nil, ErrInvalidID
	}

	for other := range r.byMember[participant] {
		if other != roomID {
			return nil, fmt.Errorf("%w: %s is in %s", ErrInOtherRoom, participant, other)
		}
	}

	members, exists := r.rooms[roomID]
	if !exists {
		members = make(map[models.ParticipantID]struct{})
		r.rooms[roomID] = members
	}

	existing := sortedExcept(members, participant)

	members[participant] = struct{}{}
	if r.byMember[participant] == nil {
		r.byMember[participant] = make(map[string]struct{})
	}
	r.byMember[participant][roomID] = struct{}{}

	return existing, nil
}

// Leave removes participant from room and deletes the room once it is empty.
// Leaving a room the participant is not in is a no-op.
func (r *Registry) Leave(participant models.ParticipantID, roomID string) LeaveResult {
	result := LeaveResult{RoomID: roomID}

	members, exists := r.rooms[roomID]
	if !exists {
		return result
	}
	if _, ok := members[participant]; !ok {
		return result
	}

	delete(members, participant)
	result.Removed = true

	if rooms := r.byMember[participant]; rooms != nil {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(r.byMember, participant)
		}
	}

	if len(members) == 0 {
		delete(r.rooms, roomID)
		result.RoomDeleted = true
		return result
	}

	result.Remaining = sortedExcept(members, "")
	return result
}

// LeaveAll removes participant from every room that contains it. Normally that
// is at most one room.
func (r *Registry) LeaveAll(participant models.ParticipantID) []LeaveResult {
	rooms := make([]string, 0, len(r.byMember[participant]))
	for roomID := range r.byMember[participant] {
		rooms = append(rooms, roomID)
	}
	sort.Strings(rooms)

	results := make([]LeaveResult, 0, len(rooms))
	for _, roomID := range rooms {
		results = append(results, r.Leave(participant, roomID))
	}
	return results
}

// Members returns the sorted members of a room, or nil if it does not exist
func (r *Registry) Members(roomID string) []models.ParticipantID {
	members, exists := r.rooms[roomID]
	if !exists {
		return nil
	}
	return sortedExcept(members, "")
}

// IsMember reports whether participant is in room
func (r *Registry) IsMember(participant models.ParticipantID, roomID string) bool {
	_, ok := r.rooms[roomID][participant]
	return ok
}

// RoomOf returns the room participant is in. With more than one room (a
// transient violation) the lexically first one is returned.
func (r *Registry) RoomOf(participant models.ParticipantID) (string, bool) {
	var first string
	for roomID := range r.byMember[participant] {
		if first == "" || roomID < first {
			first = roomID
		}
	}
	return first, first != ""
}

// Rooms returns every room with its members, ordered by room id
func (r *Registry) Rooms() []models.RoomInfo {
	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	infos := make([]models.RoomInfo, 0, len(ids))
	for _, id := range ids {
		members := r.Members(id)
		infos = append(infos, models.RoomInfo{ID: id, Members: members, MemberCount: len(members)})
	}
	return infos
}

// Len returns the number of rooms
func (r *Registry) Len() int {
	return len(r.rooms)
}

func sortedExcept(members map[models.ParticipantID]struct{}, skip models.ParticipantID) []models.ParticipantID {
	out := make([]models.ParticipantID, 0, len(members))
	for id := range members {
		if id != skip {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
