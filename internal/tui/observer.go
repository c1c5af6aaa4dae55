package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mossy-p/mesh-signaling/internal/mesh"
	"github.com/mossy-p/mesh-signaling/internal/models"
)

type roomJoinedMsg struct {
	roomID string
	self   models.ParticipantID
	peers  []models.ParticipantID
}

type linkStateMsg struct {
	peer  models.ParticipantID
	role  mesh.Role
	state mesh.NegotiationState
}

type peerMediaMsg struct {
	peer  models.ParticipantID
	state models.MediaState
}

type streamMsg struct {
	peer     models.ParticipantID
	kind     string
	attached bool
}

type localMediaMsg models.MediaState

type noticeMsg string

type errorMsg struct{ err error }

// Observer forwards orchestrator callbacks into a running program as
// messages. Callbacks before Attach are dropped.
type Observer struct {
	mu      sync.RWMutex
	program *tea.Program
}

func NewObserver() *Observer {
	return &Observer{}
}

// Attach binds the observer to p
func (o *Observer) Attach(p *tea.Program) {
	o.mu.Lock()
	o.program = p
	o.mu.Unlock()
}

func (o *Observer) send(msg tea.Msg) {
	o.mu.RLock()
	p := o.program
	o.mu.RUnlock()
	if p != nil {
		p.Send(msg)
	}
}

func (o *Observer) RoomJoined(roomID string, self models.ParticipantID, peers []models.ParticipantID) {
	o.send(roomJoinedMsg{roomID: roomID, self: self, peers: peers})
}

func (o *Observer) PeerLinkState(peer models.ParticipantID, role mesh.Role, state mesh.NegotiationState) {
	o.send(linkStateMsg{peer: peer, role: role, state: state})
}

func (o *Observer) PeerMediaState(peer models.ParticipantID, state models.MediaState) {
	o.send(peerMediaMsg{peer: peer, state: state})
}

func (o *Observer) PeerStream(peer models.ParticipantID, track mesh.RemoteTrack) {
	o.send(streamMsg{peer: peer, kind: track.Kind().String(), attached: true})
}

func (o *Observer) PeerStreamDetached(peer models.ParticipantID, track mesh.RemoteTrack) {
	o.send(streamMsg{peer: peer, kind: track.Kind().String()})
}

func (o *Observer) LocalMediaState(state models.MediaState) { o.send(localMediaMsg(state)) }
func (o *Observer) Notice(text string)                      { o.send(noticeMsg(text)) }
func (o *Observer) Error(err error)                         { o.send(errorMsg{err: err}) }
