package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/mesh-signaling/internal/models"
	"github.com/mossy-p/mesh-signaling/internal/registry"
	"github.com/mossy-p/mesh-signaling/internal/signaling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*httptest.Server, *signaling.Hub) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := signaling.NewHub(registry.New(), signaling.Options{Logger: logger})

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(NewRouter(RouterConfig{
		AllowedOrigins: []string{"http://allowed.example"},
		Logger:         logger,
		Hub:            hub,
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv, hub
}

type wsPeer struct {
	t     *testing.T
	conn  *websocket.Conn
	codec models.Codec
}

func dial(t *testing.T, srv *httptest.Server, subprotocol string) *wsPeer {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	dialer := websocket.Dialer{Subprotocols: []string{subprotocol}}
	conn, _, err := dialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &wsPeer{t: t, conn: conn, codec: models.CodecFor(conn.Subprotocol())}
}

func (p *wsPeer) send(msg *models.SignalMessage) {
	data, err := p.codec.Encode(msg)
	require.NoError(p.t, err)
	frame := websocket.TextMessage
	if p.codec.Binary() {
		frame = websocket.BinaryMessage
	}
	require.NoError(p.t, p.conn.WriteMessage(frame, data))
}

func (p *wsPeer) recv() *models.SignalMessage {
	p.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := p.conn.ReadMessage()
	require.NoError(p.t, err)
	msg, err := p.codec.Decode(data)
	require.NoError(p.t, err)
	return msg
}

func TestSignalingEndToEnd(t *testing.T) {
	srv, _ := newTestServer(t)

	x := dial(t, srv, models.SubprotocolJSON)
	y := dial(t, srv, models.SubprotocolMsgpack)
	assert.Equal(t, models.SubprotocolMsgpack, y.conn.Subprotocol())

	x.send(models.NewJoinRoom("r1"))
	joined := x.recv()
	require.Equal(t, models.SignalTypeRoomJoined, joined.Type)
	assert.Empty(t, joined.Participants)

	y.send(models.NewJoinRoom("r1"))
	joined = y.recv()
	require.Equal(t, models.SignalTypeRoomJoined, joined.Type)
	require.Len(t, joined.Participants, 1)
	xID := joined.Participants[0]
	yID := joined.Peer

	peerJoined := x.recv()
	require.Equal(t, models.SignalTypePeerJoined, peerJoined.Type)
	assert.Equal(t, yID, peerJoined.Peer)

	x.send(&models.SignalMessage{
		Type:        models.SignalTypeOffer,
		To:          yID,
		Description: &models.SessionDescription{Type: "offer", SDP: "v=0"},
		MediaState:  &models.MediaState{Audio: true, Video: false},
	})
	offer := y.recv()
	require.Equal(t, models.SignalTypeOffer, offer.Type)
	assert.Equal(t, xID, offer.From)
	assert.Equal(t, "v=0", offer.Description.SDP)
	require.NotNil(t, offer.MediaState)
	assert.False(t, offer.MediaState.Video)

	y.conn.Close()
	left := x.recv()
	assert.Equal(t, models.SignalTypePeerDisconnected, left.Type)
	assert.Equal(t, yID, left.Peer)
}

func TestMalformedFrameKeepsConnectionOpen(t *testing.T) {
	srv, _ := newTestServer(t)
	x := dial(t, srv, models.SubprotocolJSON)

	require.NoError(t, x.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	reply := x.recv()
	assert.Equal(t, models.SignalTypeError, reply.Type)

	x.send(models.NewJoinRoom("r1"))
	assert.Equal(t, models.SignalTypeRoomJoined, x.recv().Type)
}

func TestRoomsAPI(t *testing.T) {
	srv, _ := newTestServer(t)
	x := dial(t, srv, models.SubprotocolJSON)
	x.send(models.NewJoinRoom("lobby"))
	x.recv()

	resp, err := http.Get(srv.URL + "/api/rooms")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list models.RoomList
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Equal(t, 1, list.Total)
	assert.Equal(t, "lobby", list.Rooms[0].ID)

	resp2, err := http.Get(srv.URL + "/api/rooms/lobby")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var info models.RoomInfo
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&info))
	assert.Equal(t, 1, info.MemberCount)

	resp3, err := http.Get(srv.URL + "/api/rooms/nowhere")
	require.NoError(t, err)
	resp3.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp3.StatusCode)
}

func TestOriginFilter(t *testing.T) {
	router := gin.New()
	router.Use(OriginFilter([]string{"http://allowed.example"}))
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		name   string
		origin string
		method string
		want   int
	}{
		{"no origin", "", http.MethodGet, http.StatusOK},
		{"allowed", "http://allowed.example", http.MethodGet, http.StatusOK},
		{"denied", "http://evil.example", http.MethodGet, http.StatusForbidden},
		{"preflight", "http://allowed.example", http.MethodOptions, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/health", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestOriginFilterWildcard(t *testing.T) {
	router := gin.New()
	router.Use(OriginFilter([]string{"*"}))
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://anything.example")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://anything.example", w.Header().Get("Access-Control-Allow-Origin"))
}
