package mesh

import (
	"errors"
	"testing"

	"github.com/mossy-p/mesh-signaling/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterToggle(t *testing.T) {
	sig := newFakeSignaler()
	obs := newRecordingObserver()
	b := NewBroadcaster(sig.Send, obs)

	assert.Equal(t, models.MediaState{Audio: true, Video: true}, b.Snapshot())

	// Outside a room the flag flips but nothing is announced.
	enabled, err := b.Toggle(models.MediaAudio)
	require.NoError(t, err)
	assert.False(t, enabled)
	assert.Empty(t, sig.messages())

	b.SetRoom("r1")
	enabled, err = b.Toggle(models.MediaAudio)
	require.NoError(t, err)
	assert.True(t, enabled)

	msgs := sig.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, models.SignalTypeMediaStateChange, msgs[0].Type)
	assert.Equal(t, "r1", msgs[0].RoomID)
	assert.Equal(t, models.MediaAudio, msgs[0].Media)
	assert.True(t, *msgs[0].Enabled)
	require.NoError(t, msgs[0].Validate())

	assert.Len(t, obs.local, 2)
}

func TestBroadcasterToggleSendFailure(t *testing.T) {
	b := NewBroadcaster(func(*models.SignalMessage) error { return ErrTransportLost }, nil)
	b.SetRoom("r1")

	enabled, err := b.Toggle(models.MediaVideo)
	assert.False(t, enabled)
	assert.True(t, errors.Is(err, ErrTransportLost))
	// The local flag still changed.
	assert.False(t, b.Snapshot().Video)
}

func TestBroadcasterRemoteState(t *testing.T) {
	obs := newRecordingObserver()
	b := NewBroadcaster(newFakeSignaler().Send, obs)
	b.SetRoom("r1")

	b.ApplyRemote("a", models.MediaVideo, false)
	state, ok := b.Remote("a")
	require.True(t, ok)
	assert.Equal(t, models.MediaState{Audio: true, Video: false}, state)

	b.ApplySnapshot("b", models.MediaState{Audio: false, Video: false})
	state, _ = b.Remote("b")
	assert.False(t, state.Audio)
	assert.Equal(t, state, obs.media["b"])

	b.Forget("a")
	_, ok = b.Remote("a")
	assert.False(t, ok)

	b.SetRoom("")
	_, ok = b.Remote("b")
	assert.False(t, ok)
}
