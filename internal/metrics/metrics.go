// Package metrics exposes Prometheus collectors for the signaling hub.
package metrics

import (
	"github.com/mossy-p/mesh-signaling/internal/models"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mesh_signaling"

// Metrics implements both the hub's Recorder and RoomObserver
type Metrics struct {
	Connections prometheus.Gauge
	Rooms       prometheus.Gauge
	Members     prometheus.Gauge
	Routed      *prometheus.CounterVec
	Dropped     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Open signaling connections.",
		}),
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Rooms with at least one member.",
		}),
		Members: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "room_members",
			Help:      "Participants currently in a room.",
		}),
		Routed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_routed_total",
			Help:      "Messages queued for delivery, by type.",
		}, []string{"type"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Messages not delivered, by type and reason.",
		}, []string{"type", "reason"}),
	}

	reg.MustRegister(m.Connections, m.Rooms, m.Members, m.Routed, m.Dropped)
	return m
}

func (m *Metrics) ClientConnected()    { m.Connections.Inc() }
func (m *Metrics) ClientDisconnected() { m.Connections.Dec() }

func (m *Metrics) MessageRouted(t models.SignalType) {
	m.Routed.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) MessageDropped(t models.SignalType, reason string) {
	m.Dropped.WithLabelValues(string(t), reason).Inc()
}

// OnRoomEvent keeps the room and member gauges in step with the registry
func (m *Metrics) OnRoomEvent(ev models.RoomEvent) {
	switch ev.Type {
	case models.RoomEventCreated:
		m.Rooms.Inc()
	case models.RoomEventDeleted:
		m.Rooms.Dec()
	case models.RoomEventMemberJoined:
		m.Members.Inc()
	case models.RoomEventMemberLeft:
		m.Members.Dec()
	}
}
