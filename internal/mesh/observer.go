package mesh

import (
	"log/slog"

	"github.com/mossy-p/mesh-signaling/internal/models"
)

// Observer is the presentation collaborator. Calls arrive from several
// goroutines and must not block for long.
type Observer interface {
	RoomJoined(roomID string, self models.ParticipantID, peers []models.ParticipantID)
	PeerLinkState(peer models.ParticipantID, role Role, state NegotiationState)
	PeerMediaState(peer models.ParticipantID, state models.MediaState)
	PeerStream(peer models.ParticipantID, track RemoteTrack)
	PeerStreamDetached(peer models.ParticipantID, track RemoteTrack)
	LocalMediaState(state models.MediaState)
	Notice(text string)
	Error(err error)
}

// LogObserver reports everything to a slog logger. It is the headless
// presentation.
type LogObserver struct {
	Log *slog.Logger
}

// NewLogObserver returns an observer writing to logger
func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{Log: logger.With("component", "mesh")}
}

func (o *LogObserver) RoomJoined(roomID string, self models.ParticipantID, peers []models.ParticipantID) {
	o.Log.Info("Joined room", "room", roomID, "self", self, "peers", len(peers))
}

func (o *LogObserver) PeerLinkState(peer models.ParticipantID, role Role, state NegotiationState) {
	o.Log.Info("Peer link state", "peer", peer, "role", role, "state", state)
}

func (o *LogObserver) PeerMediaState(peer models.ParticipantID, state models.MediaState) {
	o.Log.Info("Peer media state", "peer", peer, "audio", state.Audio, "video", state.Video)
}

func (o *LogObserver) PeerStream(peer models.ParticipantID, track RemoteTrack) {
	o.Log.Info("Remote track attached", "peer", peer, "kind", track.Kind(), "track", track.ID())
}

func (o *LogObserver) PeerStreamDetached(peer models.ParticipantID, track RemoteTrack) {
	o.Log.Info("Remote track detached", "peer", peer, "kind", track.Kind(), "track", track.ID())
}

func (o *LogObserver) LocalMediaState(state models.MediaState) {
	o.Log.Info("Local media state", "audio", state.Audio, "video", state.Video)
}

func (o *LogObserver) Notice(text string) {
	o.Log.Info(text)
}

func (o *LogObserver) Error(err error) {
	o.Log.Error("Mesh error", "error", err)
}

type nopObserver struct{}

func (nopObserver) RoomJoined(string, models.ParticipantID, []models.ParticipantID) {}
func (nopObserver) PeerLinkState(models.ParticipantID, Role, NegotiationState)      {}
func (nopObserver) PeerMediaState(models.ParticipantID, models.MediaState)          {}
func (nopObserver) PeerStream(models.ParticipantID, RemoteTrack)                    {}
func (nopObserver) PeerStreamDetached(models.ParticipantID, RemoteTrack)            {}
func (nopObserver) LocalMediaState(models.MediaState)                               {}
func (nopObserver) Notice(string)                                                   {}
func (nopObserver) Error(error)                                                     {}
