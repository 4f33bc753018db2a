package proto

import "fmt"

// TransmissionType tags the control message carried by a chunk.
type TransmissionType uint16

const (
	TypeGreeting TransmissionType = iota + 1
	TypeProceed
	TypeSyncClientToServer
	TypeSyncServerToClient
	TypeServerVersion
	TypeChangeEvent
	TypeSkipCurrent
	TypeTransactionComplete
	TypeError
)

func (t TransmissionType) String() string {
	switch t {
	case TypeGreeting:
		return "GREETING"
	case TypeProceed:
		return "PROCEED"
	case TypeSyncClientToServer:
		return "SYNC_CLIENT_TO_SERVER"
	case TypeSyncServerToClient:
		return "SYNC_SERVER_TO_CLIENT"
	case TypeServerVersion:
		return "SERVER_VERSION"
	case TypeChangeEvent:
		return "CHANGE_EVENT"
	case TypeSkipCurrent:
		return "SKIP_CURRENT"
	case TypeTransactionComplete:
		return "TRANSACTION_COMPLETE"
	case TypeError:
		return "ERROR"
	default:
		return fmt.Sprintf("???(%d)", t)
	}
}

// Transmission is a single control message. Data holds the payload value
// for the type; Proceed, SkipCurrent and TransactionComplete carry none.
type Transmission struct {
	Type TransmissionType
	Data any
}

func (t *Transmission) String() string {
	if t == nil {
		return "<nil>"
	}
	if t.Data == nil {
		return t.Type.String()
	}
	return fmt.Sprintf("%s%+v", t.Type, t.Data)
}

// Greeting opens every session.
type Greeting struct {
	ClientID string `msgpack:"client_id"`
}

// SyncClientToServer announces a push of ChangeCount changes based on KnownVersion.
type SyncClientToServer struct {
	KnownVersion int64 `msgpack:"known_version"`
	ChangeCount  int   `msgpack:"change_count"`
}

// SyncServerToClient requests every change newer than KnownVersion.
type SyncServerToClient struct {
	KnownVersion int64 `msgpack:"known_version"`
}

// ServerVersion acknowledges a change or reports the current server revision.
type ServerVersion struct {
	Version int64 `msgpack:"version"`
}

// Error is sent by the remote side when it refuses to continue.
type Error struct {
	Code    int    `msgpack:"code"`
	Message string `msgpack:"message"`
}

func NewGreeting(clientID string) *Transmission {
	return &Transmission{Type: TypeGreeting, Data: Greeting{ClientID: clientID}}
}

func NewProceed() *Transmission {
	return &Transmission{Type: TypeProceed}
}

func NewSyncClientToServer(knownVersion int64, changeCount int) *Transmission {
	return &Transmission{
		Type: TypeSyncClientToServer,
		Data: SyncClientToServer{KnownVersion: knownVersion, ChangeCount: changeCount},
	}
}

func NewSyncServerToClient(knownVersion int64) *Transmission {
	return &Transmission{Type: TypeSyncServerToClient, Data: SyncServerToClient{KnownVersion: knownVersion}}
}

func NewServerVersion(version int64) *Transmission {
	return &Transmission{Type: TypeServerVersion, Data: ServerVersion{Version: version}}
}

func NewChangeEvent(event ChangeEvent) *Transmission {
	return &Transmission{Type: TypeChangeEvent, Data: event}
}

func NewSkipCurrent() *Transmission {
	return &Transmission{Type: TypeSkipCurrent}
}

func NewTransactionComplete() *Transmission {
	return &Transmission{Type: TypeTransactionComplete}
}

func NewError(code int, message string) *Transmission {
	return &Transmission{Type: TypeError, Data: Error{Code: code, Message: message}}
}

// Is reports whether t is non-nil and of type typ.
func (t *Transmission) Is(typ TransmissionType) bool {
	return t != nil && t.Type == typ
}

// ServerVersion returns the payload of a ServerVersion transmission.
func (t *Transmission) ServerVersion() (ServerVersion, bool) {
	if !t.Is(TypeServerVersion) {
		return ServerVersion{}, false
	}
	return asValue[ServerVersion](t.Data)
}

// ChangeEvent returns the payload of a ChangeEvent transmission.
func (t *Transmission) ChangeEvent() (ChangeEvent, bool) {
	if !t.Is(TypeChangeEvent) {
		return ChangeEvent{}, false
	}
	return asValue[ChangeEvent](t.Data)
}

// RemoteError returns the payload of an Error transmission.
func (t *Transmission) RemoteError() (Error, bool) {
	if !t.Is(TypeError) {
		return Error{}, false
	}
	return asValue[Error](t.Data)
}

func asValue[T any](data any) (T, bool) {
	switch v := data.(type) {
	case T:
		return v, true
	case *T:
		if v != nil {
			return *v, true
		}
	}
	var zero T
	return zero, false
}
