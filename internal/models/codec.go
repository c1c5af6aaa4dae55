package models

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Websocket subprotocols understood by the hub
const (
	SubprotocolJSON    = "mesh.json"
	SubprotocolMsgpack = "mesh.msgpack"
)

// Codec converts signaling messages to and from websocket frames
type Codec interface {
	// Subprotocol is the websocket subprotocol that selects this codec
	Subprotocol() string
	// Binary reports whether frames are sent as binary rather than text
	Binary() bool
	Encode(msg *SignalMessage) ([]byte, error)
	Decode(data []byte) (*SignalMessage, error)
}

// Subprotocols lists every supported subprotocol in preference order
func Subprotocols() []string {
	return []string{SubprotocolJSON, SubprotocolMsgpack}
}

// CodecFor returns the codec for a negotiated subprotocol.
// An empty or unknown subprotocol selects JSON.
func CodecFor(subprotocol string) Codec {
	if subprotocol == SubprotocolMsgpack {
		return MsgpackCodec{}
	}
	return JSONCodec{}
}

// JSONCodec encodes messages as JSON text frames
type JSONCodec struct{}

func (JSONCodec) Subprotocol() string { return SubprotocolJSON }
func (JSONCodec) Binary() bool        { return false }

func (JSONCodec) Encode(msg *SignalMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (JSONCodec) Decode(data []byte) (*SignalMessage, error) {
	var msg SignalMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode json message: %w", err)
	}
	return &msg, nil
}

// MsgpackCodec encodes messages as msgpack binary frames
type MsgpackCodec struct{}

func (MsgpackCodec) Subprotocol() string { return SubprotocolMsgpack }
func (MsgpackCodec) Binary() bool        { return true }

func (MsgpackCodec) Encode(msg *SignalMessage) ([]byte, error) {
	return msgpack.Marshal(msg)
}

func (MsgpackCodec) Decode(data []byte) (*SignalMessage, error) {
	var msg SignalMessage
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode msgpack message: %w", err)
	}
	return &msg, nil
}
