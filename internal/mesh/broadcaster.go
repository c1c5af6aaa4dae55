package mesh

import (
	"sync"

	"github.com/mossy-p/mesh-signaling/internal/models"
)

// Broadcaster keeps the local audio/video flags and the last known flags of
// every remote peer. Changes are announced best-effort; nothing is acked.
type Broadcaster struct {
	send     func(*models.SignalMessage) error
	observer Observer

	mu     sync.Mutex
	roomID string
	local  models.MediaState
	remote map[models.ParticipantID]models.MediaState
}

// NewBroadcaster starts with audio and video both on
func NewBroadcaster(send func(*models.SignalMessage) error, observer Observer) *Broadcaster {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Broadcaster{
		send:     send,
		observer: observer,
		local:    models.MediaState{Audio: true, Video: true},
		remote:   make(map[models.ParticipantID]models.MediaState),
	}
}

// SetRoom sets the room toggles are announced to. Empty stops announcing
// and forgets every remote peer.
func (b *Broadcaster) SetRoom(roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.roomID = roomID
	if roomID == "" {
		b.remote = make(map[models.ParticipantID]models.MediaState)
	}
}

// Toggle flips kind and announces the new value to the room, if any
func (b *Broadcaster) Toggle(kind models.MediaKind) (bool, error) {
	b.mu.Lock()
	enabled := !b.local.Get(kind)
	b.local = b.local.With(kind, enabled)
	roomID, state := b.roomID, b.local
	b.mu.Unlock()

	b.observer.LocalMediaState(state)

	if roomID == "" {
		return enabled, nil
	}
	if err := b.send(models.NewMediaStateChange(roomID, kind, enabled)); err != nil {
		return enabled, newError("announce media state", err)
	}
	return enabled, nil
}

// Snapshot returns the local flags, piggybacked on offers and answers
func (b *Broadcaster) Snapshot() models.MediaState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.local
}

// ApplyRemote records a single-kind change announced by from
func (b *Broadcaster) ApplyRemote(from models.ParticipantID, kind models.MediaKind, enabled bool) {
	b.mu.Lock()
	state, ok := b.remote[from]
	if !ok {
		state = models.MediaState{Audio: true, Video: true}
	}
	state = state.With(kind, enabled)
	b.remote[from] = state
	b.mu.Unlock()

	b.observer.PeerMediaState(from, state)
}

// ApplySnapshot records both flags of from, as carried by an offer or answer
func (b *Broadcaster) ApplySnapshot(from models.ParticipantID, state models.MediaState) {
	b.mu.Lock()
	b.remote[from] = state
	b.mu.Unlock()

	b.observer.PeerMediaState(from, state)
}

// Remote returns the last known flags of peer
func (b *Broadcaster) Remote(peer models.ParticipantID) (models.MediaState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.remote[peer]
	return state, ok
}

// Forget drops a departed peer
func (b *Broadcaster) Forget(peer models.ParticipantID) {
	b.mu.Lock()
	delete(b.remote, peer)
	b.mu.Unlock()
}
