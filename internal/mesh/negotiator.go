package mesh

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mossy-p/mesh-signaling/internal/models"
	"github.com/pion/webrtc/v4"
)

// Role decides who sends the offer on a link. It never changes once the
// link exists.
type Role int

const (
	// RoleOfferer is taken by the member that was already in the room
	RoleOfferer Role = iota + 1
	// RoleAnswerer is taken by the joiner
	RoleAnswerer
)

func (r Role) String() string {
	switch r {
	case RoleOfferer:
		return "offerer"
	case RoleAnswerer:
		return "answerer"
	default:
		return "unknown"
	}
}

// NegotiationState is the per-link handshake state
type NegotiationState int

const (
	StateCreated NegotiationState = iota
	StateLocalOfferSet
	StateAwaitingAnswer
	StateAwaitingRemoteOffer
	StateRemoteOfferApplied
	StateLocalAnswerSet
	StateConnected
	StateFailed
	StateClosed
)

var stateNames = map[NegotiationState]string{
	StateCreated:             "created",
	StateLocalOfferSet:       "local-offer-set",
	StateAwaitingAnswer:      "awaiting-answer",
	StateAwaitingRemoteOffer: "awaiting-remote-offer",
	StateRemoteOfferApplied:  "remote-offer-applied",
	StateLocalAnswerSet:      "local-answer-set",
	StateConnected:           "connected",
	StateFailed:              "failed",
	StateClosed:              "closed",
}

func (s NegotiationState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether the link is finished
func (s NegotiationState) Terminal() bool {
	return s == StateFailed || s == StateClosed
}

type eventKind int

const (
	evRemoteOffer eventKind = iota
	evRemoteAnswer
	evRemoteCandidate
	evLocalCandidate
	evConnectionState
	evTrack
)

type linkEvent struct {
	kind      eventKind
	desc      *models.SessionDescription
	candidate webrtc.ICECandidateInit
	connState webrtc.PeerConnectionState
	track     RemoteTrack
}

// NegotiatorConfig wires a negotiator to its collaborators
type NegotiatorConfig struct {
	Local  models.ParticipantID
	Remote models.ParticipantID
	RoomID string
	Role   Role

	Conn     PeerConnection
	Signaler Signaler
	// MediaState supplies the local flags sent along with offers and answers
	MediaState func() models.MediaState
	Observer   Observer
	// Timeout fails a link that is not connected in time. Zero disables it.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Negotiator drives the handshake with one remote participant. All state
// changes happen on its own goroutine; the public methods only post events.
type Negotiator struct {
	cfg NegotiatorConfig
	log *slog.Logger

	events    chan linkEvent
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	mu    sync.Mutex
	state NegotiationState

	// owned by run
	remoteSet   bool
	pcConnected bool
	pending     []webrtc.ICECandidateInit
	heldTracks  []RemoteTrack
	attached    []RemoteTrack
}

// StartNegotiator hooks the connection callbacks and starts the event loop.
// An Offerer begins by sending its offer.
func StartNegotiator(cfg NegotiatorConfig) *Negotiator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.MediaState == nil {
		cfg.MediaState = func() models.MediaState { return models.MediaState{Audio: true, Video: true} }
	}

	n := &Negotiator{
		cfg:     cfg,
		log:     cfg.Logger.With("peer", cfg.Remote, "role", cfg.Role),
		events:  make(chan linkEvent, 64),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		state:   StateCreated,
	}

	cfg.Conn.OnICECandidate(func(c webrtc.ICECandidateInit) {
		n.post(linkEvent{kind: evLocalCandidate, candidate: c})
	})
	cfg.Conn.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		n.post(linkEvent{kind: evConnectionState, connState: s})
	})
	cfg.Conn.OnTrack(func(t RemoteTrack) {
		n.post(linkEvent{kind: evTrack, track: t})
	})

	go n.run()
	return n
}

// Remote returns the remote participant id
func (n *Negotiator) Remote() models.ParticipantID {
	return n.cfg.Remote
}

// Role returns the fixed role of this side of the link
func (n *Negotiator) Role() Role {
	return n.cfg.Role
}

// State returns the current negotiation state
func (n *Negotiator) State() NegotiationState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Done is closed when the link reached a terminal state
func (n *Negotiator) Done() <-chan struct{} {
	return n.done
}

// RemoteOffer hands a received offer to the link
func (n *Negotiator) RemoteOffer(desc *models.SessionDescription) {
	n.post(linkEvent{kind: evRemoteOffer, desc: desc})
}

// RemoteAnswer hands a received answer to the link
func (n *Negotiator) RemoteAnswer(desc *models.SessionDescription) {
	n.post(linkEvent{kind: evRemoteAnswer, desc: desc})
}

// RemoteCandidate hands a received candidate to the link
func (n *Negotiator) RemoteCandidate(c *models.ICECandidate) {
	n.post(linkEvent{kind: evRemoteCandidate, candidate: toPionCandidate(c)})
}

// Close ends the link and waits for the event loop to finish
func (n *Negotiator) Close() {
	n.closeOnce.Do(func() { close(n.closing) })
	<-n.done
}

func (n *Negotiator) post(ev linkEvent) {
	select {
	case n.events <- ev:
	case <-n.done:
	}
}

func (n *Negotiator) run() {
	defer close(n.done)

	var timeout <-chan time.Time
	if n.cfg.Timeout > 0 {
		timer := time.NewTimer(n.cfg.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	if n.cfg.Role == RoleOfferer {
		n.sendOffer()
	} else {
		n.setState(StateAwaitingRemoteOffer)
	}

	for !n.State().Terminal() {
		select {
		case ev := <-n.events:
			n.handle(ev)

		case <-timeout:
			if n.State() != StateConnected {
				n.fail(newPeerError("negotiate", n.cfg.Remote, ErrTimeout))
			}

		case <-n.closing:
			n.finish(StateClosed)
		}
	}
}

func (n *Negotiator) handle(ev linkEvent) {
	switch ev.kind {
	case evRemoteOffer:
		n.applyOffer(ev.desc)
	case evRemoteAnswer:
		n.applyAnswer(ev.desc)
	case evRemoteCandidate:
		n.addRemoteCandidate(ev.candidate)
	case evLocalCandidate:
		n.sendCandidate(ev.candidate)
	case evConnectionState:
		n.connectionStateChanged(ev.connState)
	case evTrack:
		n.trackArrived(ev.track)
	}
}

func (n *Negotiator) sendOffer() {
	offer, err := n.cfg.Conn.CreateOffer()
	if err != nil {
		n.fail(newPeerError("create offer", n.cfg.Remote, err))
		return
	}
	if err := n.cfg.Conn.SetLocalDescription(offer); err != nil {
		n.fail(newPeerError("set local description", n.cfg.Remote, err))
		return
	}
	n.setState(StateLocalOfferSet)

	state := n.cfg.MediaState()
	err = n.cfg.Signaler.Send(&models.SignalMessage{
		Type:        models.SignalTypeOffer,
		RoomID:      n.cfg.RoomID,
		To:          n.cfg.Remote,
		Description: fromPionDescription(offer),
		MediaState:  &state,
	})
	if err != nil {
		n.fail(newPeerError("send offer", n.cfg.Remote, err))
		return
	}
	n.setState(StateAwaitingAnswer)
}

func (n *Negotiator) applyOffer(desc *models.SessionDescription) {
	if n.cfg.Role != RoleAnswerer {
		// Roles are fixed: an Offerer never accepts an offer.
		n.log.Warn("Dropping offer received on offering side")
		return
	}
	if n.State() != StateAwaitingRemoteOffer {
		n.log.Debug("Dropping duplicate offer", "state", n.State())
		return
	}

	offer, err := toPionDescription(desc)
	if err != nil {
		n.fail(newPeerError("parse offer", n.cfg.Remote, err))
		return
	}
	if err := n.cfg.Conn.SetRemoteDescription(offer); err != nil {
		n.fail(newPeerError("set remote description", n.cfg.Remote, err))
		return
	}
	n.remoteDescriptionApplied()
	n.setState(StateRemoteOfferApplied)

	answer, err := n.cfg.Conn.CreateAnswer()
	if err != nil {
		n.fail(newPeerError("create answer", n.cfg.Remote, err))
		return
	}
	if err := n.cfg.Conn.SetLocalDescription(answer); err != nil {
		n.fail(newPeerError("set local description", n.cfg.Remote, err))
		return
	}
	n.setState(StateLocalAnswerSet)

	state := n.cfg.MediaState()
	err = n.cfg.Signaler.Send(&models.SignalMessage{
		Type:        models.SignalTypeAnswer,
		RoomID:      n.cfg.RoomID,
		To:          n.cfg.Remote,
		Description: fromPionDescription(answer),
		MediaState:  &state,
	})
	if err != nil {
		n.fail(newPeerError("send answer", n.cfg.Remote, err))
		return
	}
	n.maybeConnected()
}

func (n *Negotiator) applyAnswer(desc *models.SessionDescription) {
	if n.cfg.Role != RoleOfferer || n.State() != StateAwaitingAnswer {
		n.log.Debug("Dropping unexpected answer", "state", n.State())
		return
	}

	answer, err := toPionDescription(desc)
	if err != nil {
		n.fail(newPeerError("parse answer", n.cfg.Remote, err))
		return
	}
	if err := n.cfg.Conn.SetRemoteDescription(answer); err != nil {
		n.fail(newPeerError("set remote description", n.cfg.Remote, err))
		return
	}
	n.remoteDescriptionApplied()
	n.maybeConnected()
}

// remoteDescriptionApplied replays candidates that arrived too early
func (n *Negotiator) remoteDescriptionApplied() {
	n.remoteSet = true
	pending := n.pending
	n.pending = nil
	for _, c := range pending {
		n.addRemoteCandidate(c)
	}
}

func (n *Negotiator) addRemoteCandidate(c webrtc.ICECandidateInit) {
	if !n.remoteSet {
		n.pending = append(n.pending, c)
		return
	}
	if err := n.cfg.Conn.AddICECandidate(c); err != nil {
		// One bad candidate does not sink the link.
		n.log.Warn("Failed to add ICE candidate", "error", err)
	}
}

func (n *Negotiator) sendCandidate(c webrtc.ICECandidateInit) {
	err := n.cfg.Signaler.Send(&models.SignalMessage{
		Type:      models.SignalTypeCandidate,
		RoomID:    n.cfg.RoomID,
		To:        n.cfg.Remote,
		Candidate: fromPionCandidate(c),
	})
	if err != nil {
		n.log.Debug("Failed to send ICE candidate", "error", err)
	}
}

func (n *Negotiator) connectionStateChanged(s webrtc.PeerConnectionState) {
	n.log.Debug("Connection state", "state", s.String())

	switch s {
	case webrtc.PeerConnectionStateConnected:
		n.pcConnected = true
		n.maybeConnected()
	case webrtc.PeerConnectionStateFailed:
		n.fail(newPeerError("connect", n.cfg.Remote, ErrConnectionFailed))
	case webrtc.PeerConnectionStateClosed:
		n.fail(newPeerError("connect", n.cfg.Remote, fmt.Errorf("%w: closed by transport", ErrConnectionFailed)))
	case webrtc.PeerConnectionStateDisconnected:
		// ICE may still recover.
		n.pcConnected = false
	}
}

func (n *Negotiator) maybeConnected() {
	if !n.remoteSet || !n.pcConnected || n.State() == StateConnected {
		return
	}
	n.setState(StateConnected)

	held := n.heldTracks
	n.heldTracks = nil
	for _, t := range held {
		n.attach(t)
	}
}

func (n *Negotiator) trackArrived(t RemoteTrack) {
	if n.State() != StateConnected {
		n.heldTracks = append(n.heldTracks, t)
		return
	}
	n.attach(t)
}

func (n *Negotiator) attach(t RemoteTrack) {
	n.attached = append(n.attached, t)
	n.cfg.Observer.PeerStream(n.cfg.Remote, t)
}

func (n *Negotiator) fail(err error) {
	n.log.Warn("Peer link failed", "error", err)
	n.cfg.Observer.Error(err)
	n.finish(StateFailed)
}

// finish closes the connection, detaches every published track and enters
// the terminal state
func (n *Negotiator) finish(state NegotiationState) {
	if err := n.cfg.Conn.Close(); err != nil {
		n.log.Debug("Failed to close peer connection", "error", err)
	}
	for _, t := range n.attached {
		n.cfg.Observer.PeerStreamDetached(n.cfg.Remote, t)
	}
	n.attached = nil
	n.heldTracks = nil
	n.pending = nil
	n.setState(state)
}

func (n *Negotiator) setState(s NegotiationState) {
	n.mu.Lock()
	if n.state == s {
		n.mu.Unlock()
		return
	}
	n.state = s
	n.mu.Unlock()

	n.log.Debug("Negotiation state", "state", s)
	n.cfg.Observer.PeerLinkState(n.cfg.Remote, n.cfg.Role, s)
}
