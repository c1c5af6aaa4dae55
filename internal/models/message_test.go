package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	enabled := false
	tests := []struct {
		name    string
		msg     SignalMessage
		wantErr bool
	}{
		{"join without room", SignalMessage{Type: SignalTypeJoinRoom}, true},
		{"join", SignalMessage{Type: SignalTypeJoinRoom, RoomID: "r1"}, false},
		{"offer without recipient", SignalMessage{Type: SignalTypeOffer, Description: &SessionDescription{Type: "offer", SDP: "v=0"}}, true},
		{"offer without description", SignalMessage{Type: SignalTypeOffer, To: "b"}, true},
		{"offer", SignalMessage{Type: SignalTypeOffer, To: "b", Description: &SessionDescription{Type: "offer", SDP: "v=0"}}, false},
		{"candidate without payload", SignalMessage{Type: SignalTypeCandidate, To: "b"}, true},
		{"candidate", SignalMessage{Type: SignalTypeCandidate, To: "b", Candidate: &ICECandidate{Candidate: "candidate:1"}}, false},
		{"media state bad kind", SignalMessage{Type: SignalTypeMediaStateChange, Media: "screen", Enabled: &enabled}, true},
		{"media state missing flag", SignalMessage{Type: SignalTypeMediaStateChange, Media: MediaVideo}, true},
		{"media state", SignalMessage{Type: SignalTypeMediaStateChange, Media: MediaVideo, Enabled: &enabled}, false},
		{"unknown", SignalMessage{Type: "chat"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidMessage)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCategory(t *testing.T) {
	assert.Equal(t, CategoryDirected, SignalTypeOffer.Category())
	assert.Equal(t, CategoryDirected, SignalTypeCandidate.Category())
	assert.Equal(t, CategoryBroadcast, SignalTypeMediaStateChange.Category())
	assert.Equal(t, CategoryControl, SignalTypeLeaveRoom.Category())
	assert.Equal(t, CategoryReply, SignalTypePeerJoined.Category())
	assert.Equal(t, CategoryUnknown, SignalType("chat").Category())
}

func TestJSONCodecDecodesBrowserCandidate(t *testing.T) {
	raw := `{"type":"ice-candidate","roomId":"r1","to":"b",
		"candidate":{"candidate":"candidate:842163049 1 udp 1677729535 1.2.3.4 3478 typ srflx","sdpMid":"0","sdpMLineIndex":0}}`

	msg, err := JSONCodec{}.Decode([]byte(raw))
	require.NoError(t, err)
	require.NoError(t, msg.Validate())
	require.NotNil(t, msg.Candidate.SDPMid)
	require.NotNil(t, msg.Candidate.SDPMLineIndex)
	assert.Equal(t, "0", *msg.Candidate.SDPMid)
	assert.Equal(t, uint16(0), *msg.Candidate.SDPMLineIndex)
	assert.Nil(t, msg.Candidate.UsernameFragment)
}

func TestMsgpackCodecKeepsEnabledFalse(t *testing.T) {
	codec := CodecFor(SubprotocolMsgpack)
	assert.True(t, codec.Binary())

	data, err := codec.Encode(NewMediaStateChange("r1", MediaVideo, false))
	require.NoError(t, err)

	msg, err := codec.Decode(data)
	require.NoError(t, err)
	require.NotNil(t, msg.Enabled)
	assert.False(t, *msg.Enabled)
	assert.Equal(t, MediaVideo, msg.Media)
}

func TestCodecForDefaultsToJSON(t *testing.T) {
	assert.Equal(t, SubprotocolJSON, CodecFor("").Subprotocol())
	assert.Equal(t, SubprotocolJSON, CodecFor("mesh.xml").Subprotocol())
}

func TestMediaStateWith(t *testing.T) {
	s := MediaState{Audio: true, Video: true}.With(MediaVideo, false)
	assert.True(t, s.Get(MediaAudio))
	assert.False(t, s.Get(MediaVideo))
}

func TestRoomJoinedAlwaysListsParticipants(t *testing.T) {
	for _, participants := range [][]ParticipantID{nil, {}} {
		data, err := JSONCodec{}.Encode(NewRoomJoined("r1", "x", participants))
		require.NoError(t, err)
		assert.Contains(t, string(data), `"participants":[]`)
	}

	data, err := JSONCodec{}.Encode(NewRoomJoined("r1", "y", []ParticipantID{"x"}))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"participants":["x"]`)

	// Other kinds leave the field out.
	data, err = JSONCodec{}.Encode(NewPeerJoined("r1", "y"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "participants")

	data, err = MsgpackCodec{}.Encode(NewRoomJoined("r1", "x", nil))
	require.NoError(t, err)
	msg, err := MsgpackCodec{}.Decode(data)
	require.NoError(t, err)
	assert.Empty(t, msg.Participants)
}
