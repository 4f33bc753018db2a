package sync

import (
	"errors"
	"fmt"

	"github.com/hcsync/hcs/internal/proto"
)

var (
	ErrProtocol     = errors.New("protocol violation")
	ErrHandshake    = errors.New("handshake rejected")
	ErrPullRequired = errors.New("server has newer changes, pull required before push")
	ErrUnsupported  = errors.New("operation not supported")
)

// ProtocolError is a message that is not valid in the session's state. Got is
// nil when the chunk could not be decoded at all.
type ProtocolError struct {
	State State
	Got   *proto.Transmission
	Err   error
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("protocol violation in %s", e.State)
	if e.Got != nil {
		msg += fmt.Sprintf(": unexpected %s", e.Got)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrProtocol}
	}
	return []error{ErrProtocol, e.Err}
}

// RemoteError is an error reported by the server.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}
