// Package mesh is the client side of the full mesh: one negotiated peer
// connection per other member of the room.
//
// The Orchestrator tracks room membership from hub messages and owns one
// Negotiator per remote participant. The member that was already in the room
// always offers and the joiner always answers, so two sides never offer to
// each other at once.
package mesh

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mossy-p/mesh-signaling/internal/models"
)

// leaveTimeout bounds Close when it has to leave a room
const leaveTimeout = 5 * time.Second

// SessionState is the orchestrator's membership state
type SessionState int

const (
	SessionNotJoined SessionState = iota
	SessionJoining
	SessionJoined
	SessionLeaving
)

func (s SessionState) String() string {
	switch s {
	case SessionNotJoined:
		return "not-joined"
	case SessionJoining:
		return "joining"
	case SessionJoined:
		return "joined"
	case SessionLeaving:
		return "leaving"
	default:
		return "unknown"
	}
}

// LinkInfo is a snapshot of one peer link
type LinkInfo struct {
	Peer       models.ParticipantID
	Role       Role
	State      NegotiationState
	MediaState models.MediaState
	MediaKnown bool
}

// Options configures an Orchestrator
type Options struct {
	Signaler Signaler
	Factory  PeerConnectionFactory
	Source   MediaSource
	Observer Observer
	// NegotiationTimeout is passed to every link; zero disables it
	NegotiationTimeout time.Duration
	Logger             *slog.Logger
}

type messageHandler func(o *Orchestrator, msg *models.SignalMessage)

// messageHandlers is the dispatch table for hub messages
var messageHandlers = map[models.SignalType]messageHandler{
	models.SignalTypeRoomJoined:       (*Orchestrator).handleRoomJoined,
	models.SignalTypePeerJoined:       (*Orchestrator).handlePeerJoined,
	models.SignalTypeOffer:            (*Orchestrator).handleOffer,
	models.SignalTypeAnswer:           (*Orchestrator).handleAnswer,
	models.SignalTypeCandidate:        (*Orchestrator).handleCandidate,
	models.SignalTypePeerDisconnected: (*Orchestrator).handlePeerDisconnected,
	models.SignalTypeMediaStateChange: (*Orchestrator).handleMediaStateChange,
	models.SignalTypeError:            (*Orchestrator).handleConnectionError,
}

// Orchestrator manages the set of peer links for the local participant
type Orchestrator struct {
	sig         Signaler
	factory     PeerConnectionFactory
	source      MediaSource
	observer    Observer
	broadcaster *Broadcaster
	timeout     time.Duration
	log         *slog.Logger

	mu       sync.Mutex
	state    SessionState
	roomID   string
	self     models.ParticipantID
	links    map[models.ParticipantID]*Negotiator
	capture  *Capture
	joinWait chan error
	closed   bool

	closeOnce sync.Once
}

// NewOrchestrator creates an orchestrator in the NotJoined state
func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Source == nil {
		opts.Source = SilentSource{}
	}

	return &Orchestrator{
		sig:         opts.Signaler,
		factory:     opts.Factory,
		source:      opts.Source,
		observer:    opts.Observer,
		broadcaster: NewBroadcaster(opts.Signaler.Send, opts.Observer),
		timeout:     opts.NegotiationTimeout,
		log:         opts.Logger.With("component", "orchestrator"),
		links:       make(map[models.ParticipantID]*Negotiator),
	}
}

// NewRoomID generates an id for a fresh room
func NewRoomID() string {
	return uuid.New().String()[:8]
}

// State returns the membership state
func (o *Orchestrator) State() SessionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Room returns the current room id, empty when not joined
func (o *Orchestrator) Room() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.roomID
}

// Self returns the participant id the hub assigned, once joined
func (o *Orchestrator) Self() models.ParticipantID {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.self
}

// MediaState returns the local audio/video flags
func (o *Orchestrator) MediaState() models.MediaState {
	return o.broadcaster.Snapshot()
}

// Links returns a snapshot of every peer link, ordered by peer id
func (o *Orchestrator) Links() []LinkInfo {
	o.mu.Lock()
	links := make([]*Negotiator, 0, len(o.links))
	for _, link := range o.links {
		links = append(links, link)
	}
	o.mu.Unlock()

	infos := make([]LinkInfo, 0, len(links))
	for _, link := range links {
		media, known := o.broadcaster.Remote(link.Remote())
		infos = append(infos, LinkInfo{
			Peer:       link.Remote(),
			Role:       link.Role(),
			State:      link.State(),
			MediaState: media,
			MediaKnown: known,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Peer < infos[j].Peer })
	return infos
}

// Run feeds hub messages to HandleMessage until the connection is lost or
// ctx is cancelled. Losing the connection tears down every link.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		select {
		case msg, ok := <-o.sig.Incoming():
			if !ok {
				o.transportLost()
				return ErrTransportLost
			}
			o.HandleMessage(msg)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// HandleMessage reacts to one message from the hub
func (o *Orchestrator) HandleMessage(msg *models.SignalMessage) {
	handle, ok := messageHandlers[msg.Type]
	if !ok {
		o.log.Debug("Ignoring message", "type", msg.Type)
		return
	}
	if err := msg.Validate(); err != nil {
		o.log.Warn("Dropping invalid message", "error", err)
		return
	}
	handle(o, msg)
}

// Join acquires local media, joins roomID and waits for the hub to confirm.
// An empty roomID creates a new room. Joining while in another room leaves
// it first.
func (o *Orchestrator) Join(ctx context.Context, roomID string) error {
	if roomID == "" {
		roomID = NewRoomID()
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	switch o.state {
	case SessionJoined:
		if o.roomID == roomID {
			o.mu.Unlock()
			return nil
		}
		o.mu.Unlock()
		if err := o.Leave(ctx); err != nil {
			return err
		}
		o.mu.Lock()
	case SessionJoining, SessionLeaving:
		o.mu.Unlock()
		return newError("join room", ErrBusy)
	}

	if o.state != SessionNotJoined {
		o.mu.Unlock()
		return newError("join room", ErrBusy)
	}
	o.state = SessionJoining
	o.roomID = roomID
	wait := make(chan error, 1)
	o.joinWait = wait
	o.mu.Unlock()

	capture, err := o.source.Acquire(ctx)
	if err != nil {
		err = newError("acquire media", err)
		o.resetSession(false)
		o.observer.Error(err)
		return err
	}
	local := o.broadcaster.Snapshot()
	capture.SetEnabled(models.MediaAudio, local.Audio)
	capture.SetEnabled(models.MediaVideo, local.Video)

	o.mu.Lock()
	o.capture = capture
	o.mu.Unlock()

	if err := o.sig.Send(models.NewJoinRoom(roomID)); err != nil {
		o.resetSession(false)
		return newError("join room", err)
	}

	select {
	case err := <-wait:
		if err != nil {
			o.resetSession(false)
			return newError("join room", err)
		}
		return nil
	case <-ctx.Done():
		o.resetSession(true)
		return ctx.Err()
	case <-o.sig.Done():
		o.resetSession(false)
		return newError("join room", ErrTransportLost)
	}
}

// Leave closes every link, tells the hub and releases local media. If ctx
// ends first the hub is told right away, but the capture is kept until the
// last link is closed and ctx.Err() is returned.
func (o *Orchestrator) Leave(ctx context.Context) error {
	o.mu.Lock()
	if o.state != SessionJoined {
		o.mu.Unlock()
		return ErrNotJoined
	}
	o.state = SessionLeaving
	roomID := o.roomID
	o.mu.Unlock()

	closed := o.closeLinks()

	var err error
	select {
	case <-closed:
	case <-ctx.Done():
		err = ctx.Err()
		o.log.Warn("Leave deadline passed, links still closing", "room", roomID)
	}

	if sendErr := o.sig.Send(models.NewLeaveRoom(roomID)); sendErr != nil {
		o.log.Debug("Failed to send leave-room", "error", sendErr)
	}
	<-closed
	o.resetSession(false)
	o.observer.Notice("Left room " + roomID)
	return err
}

// ToggleAudio flips the local audio flag
func (o *Orchestrator) ToggleAudio() (bool, error) {
	return o.toggle(models.MediaAudio)
}

// ToggleVideo flips the local video flag
func (o *Orchestrator) ToggleVideo() (bool, error) {
	return o.toggle(models.MediaVideo)
}

// toggle gates the shared capture track, so every link changes at once and
// none is renegotiated
func (o *Orchestrator) toggle(kind models.MediaKind) (bool, error) {
	o.mu.Lock()
	capture := o.capture
	o.mu.Unlock()
	if capture == nil {
		return o.broadcaster.Snapshot().Get(kind), newError("toggle "+string(kind), ErrNoCapture)
	}

	enabled, err := o.broadcaster.Toggle(kind)
	capture.SetEnabled(kind, enabled)
	return enabled, err
}

// Close leaves the room if needed and closes the signaling connection
func (o *Orchestrator) Close() error {
	o.closeOnce.Do(func() {
		if o.State() == SessionJoined {
			ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
			if err := o.Leave(ctx); err != nil {
				o.log.Debug("Leave on close failed", "error", err)
			}
			cancel()
		}

		o.mu.Lock()
		o.closed = true
		o.mu.Unlock()

		o.resetSession(false)
		o.sig.Close()
	})
	return nil
}

func (o *Orchestrator) handleRoomJoined(msg *models.SignalMessage) {
	o.mu.Lock()
	if o.state != SessionJoining || msg.RoomID != o.roomID {
		o.mu.Unlock()
		o.log.Debug("Ignoring unexpected room-joined", "room", msg.RoomID)
		return
	}
	o.self = msg.Peer
	o.state = SessionJoined
	var errs []error
	for _, peer := range msg.Participants {
		if peer == o.self {
			continue
		}
		if _, err := o.addLinkLocked(peer, RoleAnswerer); err != nil {
			errs = append(errs, err)
		}
	}
	wait := o.joinWait
	o.joinWait = nil
	o.mu.Unlock()

	for _, err := range errs {
		o.observer.Error(err)
	}

	o.broadcaster.SetRoom(msg.RoomID)
	o.observer.RoomJoined(msg.RoomID, msg.Peer, msg.Participants)
	o.log.Info("Joined room", "room", msg.RoomID, "peers", len(msg.Participants))

	if wait != nil {
		wait <- nil
	}
}

func (o *Orchestrator) handlePeerJoined(msg *models.SignalMessage) {
	o.mu.Lock()
	if o.state != SessionJoined || msg.RoomID != o.roomID || msg.Peer == o.self {
		o.mu.Unlock()
		return
	}
	stale := o.links[msg.Peer]
	delete(o.links, msg.Peer)
	o.mu.Unlock()

	if stale != nil {
		stale.Close()
	}

	var err error
	o.mu.Lock()
	if o.state == SessionJoined {
		_, err = o.addLinkLocked(msg.Peer, RoleOfferer)
	}
	o.mu.Unlock()

	if err != nil {
		o.observer.Error(err)
	}
	o.observer.Notice("Peer joined: " + shortID(msg.Peer))
}

func (o *Orchestrator) handleOffer(msg *models.SignalMessage) {
	o.mu.Lock()
	if o.state != SessionJoined {
		o.mu.Unlock()
		return
	}
	// An unknown sender offered, so it was here first.
	link, err := o.addLinkLocked(msg.From, RoleAnswerer)
	o.mu.Unlock()

	if err != nil {
		o.observer.Error(err)
		return
	}
	if msg.MediaState != nil {
		o.broadcaster.ApplySnapshot(msg.From, *msg.MediaState)
	}
	link.RemoteOffer(msg.Description)
}

func (o *Orchestrator) handleAnswer(msg *models.SignalMessage) {
	link := o.link(msg.From)
	if link == nil {
		o.log.Debug("Dropping answer from unknown peer", "peer", msg.From)
		return
	}
	if msg.MediaState != nil {
		o.broadcaster.ApplySnapshot(msg.From, *msg.MediaState)
	}
	link.RemoteAnswer(msg.Description)
}

func (o *Orchestrator) handleCandidate(msg *models.SignalMessage) {
	link := o.link(msg.From)
	if link == nil {
		o.log.Debug("Dropping candidate from unknown peer", "peer", msg.From)
		return
	}
	link.RemoteCandidate(msg.Candidate)
}

func (o *Orchestrator) handlePeerDisconnected(msg *models.SignalMessage) {
	o.mu.Lock()
	if msg.RoomID != "" && msg.RoomID != o.roomID {
		o.mu.Unlock()
		return
	}
	link := o.links[msg.Peer]
	delete(o.links, msg.Peer)
	o.mu.Unlock()

	if link != nil {
		link.Close()
	}
	o.broadcaster.Forget(msg.Peer)
	o.observer.Notice("Peer disconnected: " + shortID(msg.Peer))
}

func (o *Orchestrator) handleMediaStateChange(msg *models.SignalMessage) {
	if msg.Enabled == nil || !msg.Media.Valid() {
		return
	}
	o.broadcaster.ApplyRemote(msg.From, msg.Media, *msg.Enabled)
}

func (o *Orchestrator) handleConnectionError(msg *models.SignalMessage) {
	err := errors.New(msg.Reason)

	o.mu.Lock()
	wait := o.joinWait
	if o.state == SessionJoining {
		o.joinWait = nil
	} else {
		wait = nil
	}
	o.mu.Unlock()

	if wait != nil {
		wait <- err
		return
	}
	o.observer.Error(newError("signaling", err))
}

func (o *Orchestrator) link(peer models.ParticipantID) *Negotiator {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.links[peer]
}

// addLinkLocked returns the link toward peer, starting a negotiator if there
// is none. A failure affects no other link. Caller holds o.mu.
func (o *Orchestrator) addLinkLocked(peer models.ParticipantID, role Role) (*Negotiator, error) {
	if existing, ok := o.links[peer]; ok {
		return existing, nil
	}

	conn, err := o.factory.NewPeerConnection(o.capture)
	if err != nil {
		return nil, newPeerError("create peer connection", peer, err)
	}

	link := StartNegotiator(NegotiatorConfig{
		Local:      o.self,
		Remote:     peer,
		RoomID:     o.roomID,
		Role:       role,
		Conn:       conn,
		Signaler:   o.sig,
		MediaState: o.broadcaster.Snapshot,
		Observer:   o.observer,
		Timeout:    o.timeout,
		Logger:     o.log,
	})
	o.links[peer] = link
	go o.watchLink(peer, link)
	return link, nil
}

// watchLink drops a link that ended on its own, unless it was already
// replaced or removed
func (o *Orchestrator) watchLink(peer models.ParticipantID, link *Negotiator) {
	<-link.Done()

	o.mu.Lock()
	current := o.links[peer] == link
	if current {
		delete(o.links, peer)
	}
	o.mu.Unlock()

	if current {
		o.log.Debug("Discarded ended link", "peer", peer, "state", link.State())
		o.broadcaster.Forget(peer)
	}
}

// closeLinks detaches every link and closes them concurrently. The returned
// channel is closed once all of them are done.
func (o *Orchestrator) closeLinks() <-chan struct{} {
	o.mu.Lock()
	links := o.links
	o.links = make(map[models.ParticipantID]*Negotiator)
	o.mu.Unlock()

	var wg sync.WaitGroup
	for _, link := range links {
		wg.Add(1)
		go func(link *Negotiator) {
			defer wg.Done()
			link.Close()
		}(link)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

// resetSession returns to NotJoined, releasing local media. announce sends
// leave-room for a join the hub may already have applied.
func (o *Orchestrator) resetSession(announce bool) {
	o.mu.Lock()
	roomID := o.roomID
	capture := o.capture
	links := o.links
	o.links = make(map[models.ParticipantID]*Negotiator)
	o.capture = nil
	o.state = SessionNotJoined
	o.roomID = ""
	o.joinWait = nil
	o.mu.Unlock()

	for _, link := range links {
		link.Close()
	}
	if announce && roomID != "" {
		o.sig.Send(models.NewLeaveRoom(roomID))
	}
	if capture != nil {
		capture.Release()
	}
	o.broadcaster.SetRoom("")
}

func (o *Orchestrator) transportLost() {
	o.log.Warn("Signaling connection lost, closing every link")

	o.mu.Lock()
	wait := o.joinWait
	o.joinWait = nil
	o.mu.Unlock()
	if wait != nil {
		wait <- ErrTransportLost
	}

	o.resetSession(false)
	o.observer.Error(newError("signaling", ErrTransportLost))
}
