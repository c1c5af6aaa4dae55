package mesh

import (
	"errors"
	"fmt"

	"github.com/mossy-p/mesh-signaling/internal/models"
)

var (
	ErrNotJoined        = errors.New("not joined to a room")
	ErrClosed           = errors.New("client closed")
	ErrNoCapture        = errors.New("local media not acquired")
	ErrBusy             = errors.New("join or leave in progress")
	ErrTimeout          = errors.New("negotiation timed out")
	ErrConnectionFailed = errors.New("connection failed")
	ErrTransportLost    = errors.New("signaling connection lost")
	ErrCaptureReleased  = errors.New("capture already released")
)

// Error describes a failed operation, optionally scoped to one remote peer
type Error struct {
	Op   string
	Peer models.ParticipantID
	Err  error
}

func (e *Error) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, shortID(e.Peer), e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func newPeerError(op string, peer models.ParticipantID, err error) *Error {
	return &Error{Op: op, Peer: peer, Err: err}
}

// shortID trims a participant id for display
func shortID(id models.ParticipantID) string {
	if len(id) > 8 {
		return string(id[:8])
	}
	return string(id)
}
