package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hcsync/hcs/internal/proto"
	"github.com/hcsync/hcs/internal/wire"
)

// State is a step of the push or pull transaction.
type State int

const (
	StateConnecting State = iota
	StateAwaitGreetingAck
	StateSendingSyncHeader
	StateAwaitPushPermission
	StateStreamingChange
	StateAwaitChangeAck
	StateReceiveLoop
	StateReceivingContent
	StateAwaitVersionOrComplete
	StateDone
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateAwaitGreetingAck:
		return "AwaitGreetingAck"
	case StateSendingSyncHeader:
		return "SendingSyncHeader"
	case StateAwaitPushPermission:
		return "AwaitPushPermission"
	case StateStreamingChange:
		return "StreamingChange"
	case StateAwaitChangeAck:
		return "AwaitChangeAck"
	case StateReceiveLoop:
		return "ReceiveLoop"
	case StateReceivingContent:
		return "ReceivingContent"
	case StateAwaitVersionOrComplete:
		return "AwaitVersionOrComplete"
	case StateDone:
		return "Done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// DialFunc opens the connection for one session.
type DialFunc func(ctx context.Context) (wire.Channel, error)

// session is one push or pull transaction over a single connection.
type session struct {
	id    string
	ch    wire.Channel
	state State
	log   *slog.Logger
}

func openSession(ctx context.Context, dial DialFunc, clientID, direction string) (*session, error) {
	id := uuid.NewString()
	log := slog.With("session", id, "direction", direction)

	ch, err := dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	s := &session{id: id, ch: ch, state: StateConnecting, log: log}
	if err := s.handshake(ctx, clientID); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (s *session) handshake(ctx context.Context, clientID string) error {
	if err := s.send(ctx, proto.NewGreeting(clientID)); err != nil {
		return err
	}

	s.state = StateAwaitGreetingAck
	t, err := s.recv(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	if !t.Is(proto.TypeProceed) {
		return &ProtocolError{State: s.state, Got: t, Err: ErrHandshake}
	}

	s.log.Debug("handshake complete")
	return nil
}

func (s *session) send(ctx context.Context, t *proto.Transmission) error {
	data, err := proto.Encode(t)
	if err != nil {
		return err
	}
	if err := s.ch.Write(ctx, data); err != nil {
		return fmt.Errorf("send %s: %w", t.Type, err)
	}
	return nil
}

// recv reads one chunk that must hold a control message. An Error message
// from the server comes back as *RemoteError.
func (s *session) recv(ctx context.Context) (*proto.Transmission, error) {
	chunk, err := s.ch.ReadNextChunk(ctx)
	if err != nil {
		return nil, fmt.Errorf("receive: %w", err)
	}

	t, err := proto.Decode(chunk)
	if err != nil {
		return nil, &ProtocolError{State: s.state, Err: err}
	}
	if remote, ok := t.RemoteError(); ok {
		return nil, &RemoteError{Code: remote.Code, Message: remote.Message}
	}
	return t, nil
}

// unexpected is the error for a message not valid in the current state.
func (s *session) unexpected(t *proto.Transmission) error {
	s.log.Error("unexpected message", "state", s.state.String(), "got", t.String())
	return &ProtocolError{State: s.state, Got: t}
}

func (s *session) close() {
	if err := s.ch.Close(); err != nil {
		s.log.Debug("close connection", "error", err)
	}
}
