package metrics

import (
	"testing"

	"github.com/mossy-p/mesh-signaling/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRoomGauges(t *testing.T) {
	m := New(prometheus.NewRegistry())

	for _, ev := range []models.RoomEventType{
		models.RoomEventCreated,
		models.RoomEventMemberJoined,
		models.RoomEventMemberJoined,
		models.RoomEventMemberLeft,
	} {
		m.OnRoomEvent(models.RoomEvent{Type: ev, RoomID: "r1"})
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rooms))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Members))

	m.OnRoomEvent(models.RoomEvent{Type: models.RoomEventMemberLeft, RoomID: "r1"})
	m.OnRoomEvent(models.RoomEvent{Type: models.RoomEventDeleted, RoomID: "r1"})
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Rooms))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Members))
}

func TestMessageCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.MessageRouted(models.SignalTypeOffer)
	m.MessageRouted(models.SignalTypeOffer)
	m.MessageDropped(models.SignalTypeCandidate, "recipient-gone")
	m.ClientConnected()
	m.ClientConnected()
	m.ClientDisconnected()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Routed.WithLabelValues("offer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Dropped.WithLabelValues("ice-candidate", "recipient-gone")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Connections))
}
