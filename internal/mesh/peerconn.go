package mesh

import (
	"fmt"

	"github.com/mossy-p/mesh-signaling/config"
	"github.com/mossy-p/mesh-signaling/internal/logging"
	"github.com/mossy-p/mesh-signaling/internal/models"
	"github.com/pion/webrtc/v4"
)

// PeerConnection is the peer-connection capability a negotiator drives.
// *webrtc.PeerConnection satisfies it through pionPeer.
type PeerConnection interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	// OnICECandidate is called for every gathered local candidate. The end
	// of gathering is not reported.
	OnICECandidate(f func(webrtc.ICECandidateInit))
	OnTrack(f func(RemoteTrack))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	Close() error
}

// RemoteTrack is an incoming media track. *webrtc.TrackRemote satisfies it.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}

// PeerConnectionFactory creates one PeerConnection per remote participant,
// with the local capture tracks attached.
type PeerConnectionFactory interface {
	NewPeerConnection(capture *Capture) (PeerConnection, error)
}

// ICEConfiguration builds the pion configuration from client settings
func ICEConfiguration(cfg *config.ClientConfig) webrtc.Configuration {
	iceServers := []webrtc.ICEServer{{URLs: cfg.STUNServers}}
	if cfg.TURNServer != "" {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       []string{cfg.TURNServer},
			Username:   cfg.TURNUser,
			Credential: cfg.TURNPass,
		})
	}
	return webrtc.Configuration{ICEServers: iceServers}
}

// PionFactory creates pion peer connections sharing one API instance
type PionFactory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

// NewPionFactory registers the default codecs and routes pion's internal
// logging through the configured level.
func NewPionFactory(cfg *config.ClientConfig) (*PionFactory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	se := webrtc.SettingEngine{LoggerFactory: logging.PionFactory(cfg.LogLevel)}

	return &PionFactory{
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se)),
		config: ICEConfiguration(cfg),
	}, nil
}

// NewPeerConnection implements PeerConnectionFactory
func (f *PionFactory) NewPeerConnection(capture *Capture) (PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, newError("create peer connection", err)
	}

	if capture != nil {
		for _, track := range capture.Tracks() {
			sender, err := pc.AddTrack(track)
			if err != nil {
				pc.Close()
				return nil, newError("add track", err)
			}
			go drainRTCP(sender)
		}
	}

	return &pionPeer{pc: pc}, nil
}

// drainRTCP reads incoming RTCP so interceptors keep running
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

type pionPeer struct {
	pc *webrtc.PeerConnection
}

func (p *pionPeer) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *pionPeer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *pionPeer) SetLocalDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(desc)
}

func (p *pionPeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *pionPeer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

func (p *pionPeer) OnICECandidate(f func(webrtc.ICECandidateInit)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		f(c.ToJSON())
	})
}

func (p *pionPeer) OnTrack(f func(RemoteTrack)) {
	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		// Nothing plays remote media; keep the receive buffer moving.
		go func() {
			for {
				if _, _, err := track.ReadRTP(); err != nil {
					return
				}
			}
		}()
		f(track)
	})
}

func (p *pionPeer) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(f)
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}

func toPionDescription(d *models.SessionDescription) (webrtc.SessionDescription, error) {
	t := webrtc.NewSDPType(d.Type)
	if t == webrtc.SDPTypeUnknown {
		return webrtc.SessionDescription{}, fmt.Errorf("unknown sdp type %q", d.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: d.SDP}, nil
}

func fromPionDescription(d webrtc.SessionDescription) *models.SessionDescription {
	return &models.SessionDescription{Type: d.Type.String(), SDP: d.SDP}
}

func toPionCandidate(c *models.ICECandidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func fromPionCandidate(c webrtc.ICECandidateInit) *models.ICECandidate {
	return &models.ICECandidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}
