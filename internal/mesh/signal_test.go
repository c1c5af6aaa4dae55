package mesh

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mossy-p/mesh-signaling/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoHub answers join-room with room-joined and then hangs up
func echoHub(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{Subprotocols: models.Subprotocols()}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		codec := models.CodecFor(conn.Subprotocol())

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := codec.Decode(data)
		if err != nil || msg.Type != models.SignalTypeJoinRoom {
			return
		}

		reply, _ := codec.Encode(models.NewRoomJoined(msg.RoomID, "me", nil))
		frame := websocket.TextMessage
		if codec.Binary() {
			frame = websocket.BinaryMessage
		}
		conn.WriteMessage(frame, reply)
	}))
}

func TestSignalClientRoundTrip(t *testing.T) {
	for _, sub := range models.Subprotocols() {
		t.Run(sub, func(t *testing.T) {
			srv := echoHub(t)
			defer srv.Close()

			url := "ws" + strings.TrimPrefix(srv.URL, "http")
			c, err := Dial(context.Background(), url, sub, quietLogger())
			require.NoError(t, err)
			defer c.Close()
			assert.Equal(t, sub, c.Subprotocol())

			require.NoError(t, c.Send(models.NewJoinRoom("r1")))

			select {
			case msg := <-c.Incoming():
				require.NotNil(t, msg)
				assert.Equal(t, models.SignalTypeRoomJoined, msg.Type)
				assert.Equal(t, "r1", msg.RoomID)
				assert.Equal(t, models.ParticipantID("me"), msg.Peer)
			case <-time.After(waitFor):
				t.Fatal("no reply")
			}

			// The hub hangs up after replying.
			select {
			case <-c.Done():
			case <-time.After(waitFor):
				t.Fatal("connection loss not reported")
			}
			_, open := <-c.Incoming()
			assert.False(t, open)
			assert.ErrorIs(t, c.Send(models.NewLeaveRoom("r1")), ErrTransportLost)
		})
	}
}

func TestDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := Dial(ctx, "ws://127.0.0.1:1/ws", models.SubprotocolJSON, quietLogger())
	assert.Error(t, err)
}
