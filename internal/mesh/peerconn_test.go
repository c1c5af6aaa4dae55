package mesh

import (
	"context"
	"testing"

	"github.com/mossy-p/mesh-signaling/config"
	"github.com/mossy-p/mesh-signaling/internal/models"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestICEConfiguration(t *testing.T) {
	cfg := &config.ClientConfig{STUNServers: []string{"stun:stun.example.org:3478"}}
	ice := ICEConfiguration(cfg)
	require.Len(t, ice.ICEServers, 1)
	assert.Equal(t, []string{"stun:stun.example.org:3478"}, ice.ICEServers[0].URLs)

	cfg.TURNServer = "turn:turn.example.org:3478"
	cfg.TURNUser = "u"
	cfg.TURNPass = "p"
	ice = ICEConfiguration(cfg)
	require.Len(t, ice.ICEServers, 2)
	assert.Equal(t, "u", ice.ICEServers[1].Username)
	assert.Equal(t, "p", ice.ICEServers[1].Credential)
}

func TestDescriptionConversion(t *testing.T) {
	d, err := toPionDescription(&models.SessionDescription{Type: "answer", SDP: "v=0"})
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeAnswer, d.Type)
	assert.Equal(t, "answer", fromPionDescription(d).Type)

	_, err = toPionDescription(&models.SessionDescription{Type: "bogus", SDP: "v=0"})
	assert.Error(t, err)
}

func TestPionFactoryOffersCaptureTracks(t *testing.T) {
	factory, err := NewPionFactory(&config.ClientConfig{
		STUNServers: []string{config.DefaultSTUN},
		LogLevel:    "error",
	})
	require.NoError(t, err)

	capture, err := SilentSource{StreamID: "test"}.Acquire(context.Background())
	require.NoError(t, err)
	defer capture.Release()

	pc, err := factory.NewPeerConnection(capture)
	require.NoError(t, err)
	defer pc.Close()

	offer, err := pc.CreateOffer()
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Type)
	assert.Contains(t, offer.SDP, "m=audio")
	assert.Contains(t, offer.SDP, "m=video")
	assert.Contains(t, offer.SDP, "opus")
	assert.Contains(t, offer.SDP, "VP8")
}
