package proto

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Encoded control messages start with this envelope: [magic0][magic1][version][payload].
// Raw content chunks share the channel, so the header is what most file bytes fail on.
const (
	magic0       = byte('H')
	magic1       = byte('C')
	version      = byte(1)
	headerLength = 3
)

var (
	ErrDecode = errors.New("not a transmission")
	ErrEncode = errors.New("cannot encode transmission")
)

type wireMessage struct {
	Type TransmissionType `msgpack:"typ"`
	Data []byte           `msgpack:"dat"`
}

// Encode serializes t. The same Transmission always yields the same bytes.
func Encode(t *Transmission) ([]byte, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil transmission", ErrEncode)
	}

	var dat []byte
	var err error

	switch t.Type {
	case TypeGreeting:
		dat, err = encodePayload[Greeting](t)
	case TypeSyncClientToServer:
		dat, err = encodePayload[SyncClientToServer](t)
	case TypeSyncServerToClient:
		dat, err = encodePayload[SyncServerToClient](t)
	case TypeServerVersion:
		dat, err = encodePayload[ServerVersion](t)
	case TypeChangeEvent:
		dat, err = encodePayload[ChangeEvent](t)
	case TypeError:
		dat, err = encodePayload[Error](t)
	case TypeProceed, TypeSkipCurrent, TypeTransactionComplete:
		if t.Data != nil {
			return nil, fmt.Errorf("%w: %s carries no payload, got %T", ErrEncode, t.Type, t.Data)
		}
	default:
		return nil, fmt.Errorf("%w: unknown transmission type: %d", ErrEncode, t.Type)
	}
	if err != nil {
		return nil, err
	}

	payload, err := msgpack.Marshal(&wireMessage{Type: t.Type, Data: dat})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}

	buf := make([]byte, headerLength+len(payload))
	buf[0], buf[1], buf[2] = magic0, magic1, version
	copy(buf[headerLength:], payload)
	return buf, nil
}

// Decode parses a chunk into a Transmission. It is safe to call on arbitrary
// bytes: anything that is not exactly one well-formed Transmission yields an
// error wrapping ErrDecode.
func Decode(data []byte) (t *Transmission, err error) {
	defer func() {
		if r := recover(); r != nil {
			t, err = nil, fmt.Errorf("%w: %v", ErrDecode, r)
		}
	}()

	if len(data) < headerLength || data[0] != magic0 || data[1] != magic1 {
		return nil, fmt.Errorf("%w: missing envelope", ErrDecode)
	}
	if data[2] != version {
		return nil, fmt.Errorf("%w: unsupported envelope version: %d", ErrDecode, data[2])
	}

	var w wireMessage
	if err := strictUnmarshal(data[headerLength:], &w); err != nil {
		return nil, err
	}

	t = &Transmission{Type: w.Type}
	switch w.Type {
	case TypeGreeting:
		t.Data, err = decodePayload[Greeting](w.Data)
	case TypeSyncClientToServer:
		t.Data, err = decodePayload[SyncClientToServer](w.Data)
	case TypeSyncServerToClient:
		t.Data, err = decodePayload[SyncServerToClient](w.Data)
	case TypeServerVersion:
		t.Data, err = decodePayload[ServerVersion](w.Data)
	case TypeChangeEvent:
		var ev ChangeEvent
		if ev, err = decodePayload[ChangeEvent](w.Data); err == nil {
			if verr := ev.Validate(); verr != nil {
				err = fmt.Errorf("%w: %w", ErrDecode, verr)
			}
		}
		t.Data = ev
	case TypeError:
		t.Data, err = decodePayload[Error](w.Data)
	case TypeProceed, TypeSkipCurrent, TypeTransactionComplete:
		if len(w.Data) != 0 {
			err = fmt.Errorf("%w: %s carries no payload", ErrDecode, w.Type)
		}
	default:
		err = fmt.Errorf("%w: unknown transmission type: %d", ErrDecode, w.Type)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func encodePayload[T any](t *Transmission) ([]byte, error) {
	v, ok := asValue[T](t.Data)
	if !ok {
		return nil, fmt.Errorf("%w: invalid %s payload type: %T", ErrEncode, t.Type, t.Data)
	}
	dat, err := msgpack.Marshal(&v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return dat, nil
}

func decodePayload[T any](dat []byte) (T, error) {
	var v T
	if len(dat) == 0 {
		return v, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	err := strictUnmarshal(dat, &v)
	return v, err
}

func strictUnmarshal(b []byte, v any) error {
	r := bytes.NewReader(b)
	dec := msgpack.NewDecoder(r)
	dec.DisallowUnknownFields(true)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if r.Len() != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrDecode, r.Len())
	}
	return nil
}
