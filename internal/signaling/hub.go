// Package signaling routes signaling messages between websocket clients.
//
// The Hub owns the room registry and every client from a single goroutine, so
// a registry change and the notifications derived from it are atomic with
// respect to every other client.
package signaling

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mossy-p/mesh-signaling/internal/models"
	"github.com/mossy-p/mesh-signaling/internal/registry"
)

// Drop reasons reported to the Recorder
const (
	DropRecipientGone = "recipient-gone"
	DropSelf          = "self"
	DropQueueFull     = "queue-full"
)

// ErrHubStopped is returned when a query reaches a hub that is no longer running
var ErrHubStopped = errors.New("hub stopped")

// RoomRegistry is the membership bookkeeping the hub routes against
type RoomRegistry interface {
	Join(participant models.ParticipantID, roomID string) ([]models.ParticipantID, error)
	Leave(participant models.ParticipantID, roomID string) registry.LeaveResult
	LeaveAll(participant models.ParticipantID) []registry.LeaveResult
	Members(roomID string) []models.ParticipantID
	IsMember(participant models.ParticipantID, roomID string) bool
	RoomOf(participant models.ParticipantID) (string, bool)
	Rooms() []models.RoomInfo
	Len() int
}

// RoomObserver is told about every membership change.
// Implementations must not block; they run on the dispatch goroutine.
type RoomObserver interface {
	OnRoomEvent(ev models.RoomEvent)
}

// Recorder receives routing statistics
type Recorder interface {
	ClientConnected()
	ClientDisconnected()
	MessageRouted(t models.SignalType)
	MessageDropped(t models.SignalType, reason string)
}

// Options configures a Hub
type Options struct {
	Logger        *slog.Logger
	SendQueueSize int
	Observers     []RoomObserver
	Recorder      Recorder
}

type inboundMessage struct {
	client *Client
	msg    *models.SignalMessage
	err    error
}

type handlerFunc func(h *Hub, c *Client, msg *models.SignalMessage)

// handlers is the dispatch table keyed by message type
var handlers = map[models.SignalType]handlerFunc{
	models.SignalTypeJoinRoom:         (*Hub).handleJoin,
	models.SignalTypeLeaveRoom:        (*Hub).handleLeave,
	models.SignalTypeOffer:            (*Hub).handleDirected,
	models.SignalTypeAnswer:           (*Hub).handleDirected,
	models.SignalTypeCandidate:        (*Hub).handleDirected,
	models.SignalTypeMediaStateChange: (*Hub).handleBroadcast,
}

// Hub is the central router of the signaling server
type Hub struct {
	registry RoomRegistry
	clients  map[models.ParticipantID]*Client

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundMessage
	queries    chan func()
	done       chan struct{}

	observers     []RoomObserver
	recorder      Recorder
	log           *slog.Logger
	sendQueueSize int
}

// NewHub creates a hub routing against reg
func NewHub(reg RoomRegistry, opts Options) *Hub {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = 256
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}

	return &Hub{
		registry:      reg,
		clients:       make(map[models.ParticipantID]*Client),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		inbound:       make(chan inboundMessage, 64),
		queries:       make(chan func()),
		done:          make(chan struct{}),
		observers:     opts.Observers,
		recorder:      opts.Recorder,
		log:           opts.Logger.With("component", "hub"),
		sendQueueSize: opts.SendQueueSize,
	}
}

// Run is the single goroutine that mutates hub state. It returns when ctx is
// cancelled, after closing every client's send queue.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case in := <-h.inbound:
			if current, ok := h.clients[in.client.ID]; !ok || current != in.client {
				// Frame queued before the client unregistered.
				continue
			}
			if in.err != nil {
				h.log.Debug("Malformed frame", "peer", in.client.ID, "error", in.err)
				h.replyError(in.client, "malformed message")
				continue
			}
			h.dispatch(in.client, in.msg)

		case query := <-h.queries:
			query()

		case <-ctx.Done():
			for id, client := range h.clients {
				close(client.send)
				delete(h.clients, id)
			}
			h.log.Info("Hub stopped")
			return
		}
	}
}

// Register hands a new client to the hub
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// Unregister tells the hub a client's connection is gone
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) submit(in inboundMessage) {
	select {
	case h.inbound <- in:
	case <-h.done:
	}
}

// Do runs fn on the dispatch goroutine and waits for it to finish
func (h *Hub) Do(ctx context.Context, fn func(reg RoomRegistry)) error {
	finished := make(chan struct{})
	query := func() {
		defer close(finished)
		fn(h.registry)
	}

	select {
	case h.queries <- query:
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	<-finished
	return nil
}

// Snapshot returns every active room
func (h *Hub) Snapshot(ctx context.Context) ([]models.RoomInfo, error) {
	var rooms []models.RoomInfo
	err := h.Do(ctx, func(reg RoomRegistry) {
		rooms = reg.Rooms()
	})
	return rooms, err
}

// Room returns one room's membership
func (h *Hub) Room(ctx context.Context, roomID string) (models.RoomInfo, bool, error) {
	var members []models.ParticipantID
	err := h.Do(ctx, func(reg RoomRegistry) {
		members = reg.Members(roomID)
	})
	if err != nil || members == nil {
		return models.RoomInfo{}, false, err
	}
	return models.RoomInfo{ID: roomID, Members: members, MemberCount: len(members)}, true, nil
}

func (h *Hub) addClient(c *Client) {
	h.clients[c.ID] = c
	h.recorder.ClientConnected()
	h.log.Info("Peer connected", "peer", c.ID)
}

// removeClient handles an abrupt or orderly disconnect: the participant is
// swept out of every room and its send queue is closed.
func (h *Hub) removeClient(c *Client) {
	if current, ok := h.clients[c.ID]; !ok || current != c {
		return
	}
	delete(h.clients, c.ID)

	for _, res := range h.registry.LeaveAll(c.ID) {
		h.afterLeave(c.ID, res)
	}

	close(c.send)
	h.recorder.ClientDisconnected()
	h.log.Info("Peer disconnected", "peer", c.ID)
}

func (h *Hub) dispatch(c *Client, msg *models.SignalMessage) {
	if msg.Type.Category() == models.CategoryReply {
		h.log.Debug("Reply type sent by client", "peer", c.ID, "type", msg.Type)
		h.replyError(c, string(msg.Type)+" is only sent by the hub")
		return
	}
	handle, ok := handlers[msg.Type]
	if !ok {
		h.log.Debug("Unknown message type", "peer", c.ID, "type", msg.Type)
		h.replyError(c, "unknown message type: "+string(msg.Type))
		return
	}
	if err := msg.Validate(); err != nil {
		h.replyError(c, err.Error())
		return
	}
	handle(h, c, msg)
}

func (h *Hub) handleJoin(c *Client, msg *models.SignalMessage) {
	roomID := msg.RoomID

	// Leave before join.
	if current, ok := h.registry.RoomOf(c.ID); ok && current != roomID {
		h.leaveRoom(c.ID, current)
	}

	alreadyMember := h.registry.IsMember(c.ID, roomID)
	created := h.registry.Members(roomID) == nil

	existing, err := h.registry.Join(c.ID, roomID)
	if errors.Is(err, registry.ErrInOtherRoom) {
		h.log.Warn("Participant found in several rooms, sweeping", "peer", c.ID)
		for _, res := range h.registry.LeaveAll(c.ID) {
			h.afterLeave(c.ID, res)
		}
		alreadyMember = false
		created = h.registry.Members(roomID) == nil
		existing, err = h.registry.Join(c.ID, roomID)
	}
	if err != nil {
		h.replyError(c, err.Error())
		return
	}

	if created {
		h.emit(models.RoomEventCreated, roomID, "", 0)
		h.log.Info("Created room", "room", roomID, "rooms", h.registry.Len())
	}

	h.deliver(c, models.NewRoomJoined(roomID, c.ID, existing))
	if alreadyMember {
		return
	}

	h.emit(models.RoomEventMemberJoined, roomID, c.ID, len(existing)+1)
	joined := models.NewPeerJoined(roomID, c.ID)
	for _, member := range existing {
		h.deliverTo(member, joined)
	}

	h.log.Info("Peer joined room", "peer", c.ID, "room", roomID, "members", len(existing)+1)
}

func (h *Hub) handleLeave(c *Client, msg *models.SignalMessage) {
	h.leaveRoom(c.ID, msg.RoomID)
}

func (h *Hub) leaveRoom(id models.ParticipantID, roomID string) {
	h.afterLeave(id, h.registry.Leave(id, roomID))
}

func (h *Hub) afterLeave(id models.ParticipantID, res registry.LeaveResult) {
	if !res.Removed {
		return
	}

	h.emit(models.RoomEventMemberLeft, res.RoomID, id, len(res.Remaining))

	left := models.NewPeerDisconnected(res.RoomID, id)
	for _, member := range res.Remaining {
		h.deliverTo(member, left)
	}

	if res.RoomDeleted {
		h.emit(models.RoomEventDeleted, res.RoomID, "", 0)
		h.log.Info("Removed empty room", "room", res.RoomID, "rooms", h.registry.Len())
	} else {
		h.log.Info("Peer left room", "peer", id, "room", res.RoomID, "members", len(res.Remaining))
	}
}

// handleDirected relays offers, answers and candidates to one recipient. A
// recipient that is gone is an ordinary race: the message is dropped quietly.
func (h *Hub) handleDirected(c *Client, msg *models.SignalMessage) {
	roomID, ok := h.registry.RoomOf(c.ID)
	if !ok {
		h.replyError(c, "join a room first")
		return
	}

	msg.From = c.ID
	msg.RoomID = roomID

	if msg.To == c.ID {
		h.recorder.MessageDropped(msg.Type, DropSelf)
		return
	}

	target, ok := h.clients[msg.To]
	if !ok || !h.registry.IsMember(msg.To, roomID) {
		h.log.Debug("Recipient gone, dropping", "type", msg.Type, "from", c.ID, "to", msg.To)
		h.recorder.MessageDropped(msg.Type, DropRecipientGone)
		return
	}

	h.deliver(target, msg)
}

func (h *Hub) handleBroadcast(c *Client, msg *models.SignalMessage) {
	roomID, ok := h.registry.RoomOf(c.ID)
	if !ok {
		h.replyError(c, "join a room first")
		return
	}

	msg.From = c.ID
	msg.RoomID = roomID
	msg.To = ""

	for _, member := range h.registry.Members(roomID) {
		if member != c.ID {
			h.deliverTo(member, msg)
		}
	}
}

func (h *Hub) replyError(c *Client, reason string) {
	h.deliver(c, models.NewConnectionError(reason))
}

func (h *Hub) deliverTo(id models.ParticipantID, msg *models.SignalMessage) {
	if c, ok := h.clients[id]; ok {
		h.deliver(c, msg)
	}
}

// deliver never blocks the dispatch goroutine: a client that cannot keep up
// loses the message.
func (h *Hub) deliver(c *Client, msg *models.SignalMessage) {
	select {
	case c.send <- msg:
		h.recorder.MessageRouted(msg.Type)
	default:
		h.log.Warn("Send queue full, dropping message", "peer", c.ID, "type", msg.Type)
		h.recorder.MessageDropped(msg.Type, DropQueueFull)
	}
}

func (h *Hub) emit(t models.RoomEventType, roomID string, participant models.ParticipantID, members int) {
	ev := models.RoomEvent{
		Type:        t,
		RoomID:      roomID,
		Participant: participant,
		Members:     members,
		At:          time.Now(),
	}
	for _, o := range h.observers {
		o.OnRoomEvent(ev)
	}
}

type nopRecorder struct{}

func (nopRecorder) ClientConnected()                         {}
func (nopRecorder) ClientDisconnected()                      {}
func (nopRecorder) MessageRouted(models.SignalType)          {}
func (nopRecorder) MessageDropped(models.SignalType, string) {}
