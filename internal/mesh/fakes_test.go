package mesh

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/mossy-p/mesh-signaling/internal/models"
	"github.com/pion/webrtc/v4"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSignaler records sent messages. respond, if set, produces replies that
// are queued on the incoming channel.
type fakeSignaler struct {
	mu      sync.Mutex
	sent    []*models.SignalMessage
	respond func(msg *models.SignalMessage) []*models.SignalMessage

	incoming  chan *models.SignalMessage
	done      chan struct{}
	closeOnce sync.Once
	lostOnce  sync.Once
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{
		incoming: make(chan *models.SignalMessage, 64),
		done:     make(chan struct{}),
	}
}

func (s *fakeSignaler) Send(msg *models.SignalMessage) error {
	select {
	case <-s.done:
		return ErrTransportLost
	default:
	}

	s.mu.Lock()
	s.sent = append(s.sent, msg)
	respond := s.respond
	s.mu.Unlock()

	if respond != nil {
		for _, reply := range respond(msg) {
			s.incoming <- reply
		}
	}
	return nil
}

func (s *fakeSignaler) Incoming() <-chan *models.SignalMessage { return s.incoming }
func (s *fakeSignaler) Done() <-chan struct{}                  { return s.done }

func (s *fakeSignaler) Close() error {
	s.closeOnce.Do(func() {})
	return nil
}

// lose simulates the hub going away
func (s *fakeSignaler) lose() {
	s.lostOnce.Do(func() {
		close(s.done)
		close(s.incoming)
	})
}

func (s *fakeSignaler) messages() []*models.SignalMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.SignalMessage(nil), s.sent...)
}

func (s *fakeSignaler) ofType(t models.SignalType) []*models.SignalMessage {
	var out []*models.SignalMessage
	for _, msg := range s.messages() {
		if msg.Type == t {
			out = append(out, msg)
		}
	}
	return out
}

// fakePeer is a scriptable PeerConnection. With autoConnect it reports
// connected once both descriptions are set.
type fakePeer struct {
	mu          sync.Mutex
	local       []webrtc.SessionDescription
	remote      []webrtc.SessionDescription
	candidates  []webrtc.ICECandidateInit
	closed      bool
	autoConnect bool
	closeGate   chan struct{}

	failCreateOffer bool

	onCandidate func(webrtc.ICECandidateInit)
	onTrack     func(RemoteTrack)
	onState     func(webrtc.PeerConnectionState)
}

func (p *fakePeer) CreateOffer() (webrtc.SessionDescription, error) {
	if p.failCreateOffer {
		return webrtc.SessionDescription{}, errors.New("no codecs")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-sdp"}, nil
}

func (p *fakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"}, nil
}

func (p *fakePeer) SetLocalDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	p.local = append(p.local, desc)
	p.mu.Unlock()
	p.maybeConnect()
	return nil
}

func (p *fakePeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	p.remote = append(p.remote, desc)
	p.mu.Unlock()
	p.maybeConnect()
	return nil
}

func (p *fakePeer) maybeConnect() {
	p.mu.Lock()
	ready := p.autoConnect && len(p.local) > 0 && len(p.remote) > 0
	onState := p.onState
	p.mu.Unlock()
	if ready && onState != nil {
		go onState(webrtc.PeerConnectionStateConnected)
	}
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) OnICECandidate(f func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	p.onCandidate = f
	p.mu.Unlock()
}

func (p *fakePeer) OnTrack(f func(RemoteTrack)) {
	p.mu.Lock()
	p.onTrack = f
	p.mu.Unlock()
}

func (p *fakePeer) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	p.onState = f
	p.mu.Unlock()
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closed = true
	gate := p.closeGate
	p.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return nil
}

func (p *fakePeer) emitCandidate(candidate string) {
	p.mu.Lock()
	f := p.onCandidate
	p.mu.Unlock()
	f(webrtc.ICECandidateInit{Candidate: candidate})
}

func (p *fakePeer) emitState(s webrtc.PeerConnectionState) {
	p.mu.Lock()
	f := p.onState
	p.mu.Unlock()
	f(s)
}

func (p *fakePeer) emitTrack(t RemoteTrack) {
	p.mu.Lock()
	f := p.onTrack
	p.mu.Unlock()
	f(t)
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) remoteDescriptions() []webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.SessionDescription(nil), p.remote...)
}

func (p *fakePeer) addedCandidates() []webrtc.ICECandidateInit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), p.candidates...)
}

// fakeFactory hands out fakePeers. failAt makes the n-th call (1-based) fail.
// closeGate, when set, holds every Close until it is closed.
type fakeFactory struct {
	mu          sync.Mutex
	peers       []*fakePeer
	calls       int
	failAt      int
	autoConnect bool
	closeGate   chan struct{}
}

func (f *fakeFactory) NewPeerConnection(*Capture) (PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls == f.failAt {
		return nil, errors.New("out of ports")
	}
	p := &fakePeer{autoConnect: f.autoConnect, closeGate: f.closeGate}
	f.peers = append(f.peers, p)
	return p, nil
}

func (f *fakeFactory) all() []*fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakePeer(nil), f.peers...)
}

type fakeTrack struct {
	id   string
	kind webrtc.RTPCodecType
}

func (t fakeTrack) ID() string                { return t.id }
func (t fakeTrack) StreamID() string          { return "remote" }
func (t fakeTrack) Kind() webrtc.RTPCodecType { return t.kind }

// recordingObserver keeps everything it is told
type recordingObserver struct {
	mu       sync.Mutex
	states   map[models.ParticipantID][]NegotiationState
	media    map[models.ParticipantID]models.MediaState
	streams  map[models.ParticipantID]int
	local    []models.MediaState
	errs     []error
	notices  []string
	joinedAs models.ParticipantID
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		states:  make(map[models.ParticipantID][]NegotiationState),
		media:   make(map[models.ParticipantID]models.MediaState),
		streams: make(map[models.ParticipantID]int),
	}
}

func (o *recordingObserver) RoomJoined(_ string, self models.ParticipantID, _ []models.ParticipantID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.joinedAs = self
}

func (o *recordingObserver) PeerLinkState(peer models.ParticipantID, _ Role, state NegotiationState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states[peer] = append(o.states[peer], state)
}

func (o *recordingObserver) PeerMediaState(peer models.ParticipantID, state models.MediaState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.media[peer] = state
}

func (o *recordingObserver) PeerStream(peer models.ParticipantID, _ RemoteTrack) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.streams[peer]++
}

func (o *recordingObserver) PeerStreamDetached(peer models.ParticipantID, _ RemoteTrack) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.streams[peer]--
}

func (o *recordingObserver) LocalMediaState(state models.MediaState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.local = append(o.local, state)
}

func (o *recordingObserver) Notice(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notices = append(o.notices, text)
}

func (o *recordingObserver) Error(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs = append(o.errs, err)
}

func (o *recordingObserver) errors() []error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]error(nil), o.errs...)
}

func (o *recordingObserver) streamCount(peer models.ParticipantID) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.streams[peer]
}

func (o *recordingObserver) statesOf(peer models.ParticipantID) []NegotiationState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]NegotiationState(nil), o.states[peer]...)
}

// countingSource hands out silent captures and remembers them
type countingSource struct {
	mu       sync.Mutex
	captures []*Capture
	err      error
}

func (s *countingSource) Acquire(ctx context.Context) (*Capture, error) {
	if s.err != nil {
		return nil, s.err
	}
	c, err := SilentSource{}.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.captures = append(s.captures, c)
	s.mu.Unlock()
	return c, nil
}

func (s *countingSource) last() *Capture {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.captures) == 0 {
		return nil
	}
	return s.captures[len(s.captures)-1]
}
