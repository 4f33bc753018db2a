package proto

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func allTransmissions() []*Transmission {
	return []*Transmission{
		NewGreeting("HCS CLIENT"),
		NewProceed(),
		NewSyncClientToServer(5, 3),
		NewSyncServerToClient(42),
		NewServerVersion(7),
		NewChangeEvent(NewFileCreate("a.txt", 0)),
		NewChangeEvent(NewFileModify("dir/b.txt", 10)),
		NewChangeEvent(NewFileDelete("c.txt")),
		NewChangeEvent(NewFileMove("x/a.txt", "y/a.txt")),
		NewChangeEvent(NewDirectoryCreate("x")),
		NewChangeEvent(NewDirectoryDelete("x/y")),
		NewChangeEvent(NewDirectoryMove("x", "y")),
		NewChangeEvent(ChangeEvent{Kind: FileUndoDelete, Path: "gone.txt"}),
		NewChangeEvent(ChangeEvent{Kind: DirectoryUndoDelete, Path: "gone"}),
		NewChangeEvent(ChangeEvent{Kind: Symlink}),
		NewSkipCurrent(),
		NewTransactionComplete(),
		NewError(409, "version conflict"),
	}
}

func TestCodec_RoundTrip_AllVariants(t *testing.T) {
	for _, tr := range allTransmissions() {
		t.Run(tr.String(), func(t *testing.T) {
			data, err := Encode(tr)
			require.NoError(t, err)
			require.Equal(t, magic0, data[0])
			require.Equal(t, magic1, data[1])
			require.Equal(t, version, data[2])

			decoded, err := Decode(data)
			require.NoError(t, err)
			require.Equal(t, tr, decoded)
		})
	}
}

func TestCodec_EncodingIsCanonical(t *testing.T) {
	for _, tr := range allTransmissions() {
		a, err := Encode(tr)
		require.NoError(t, err)
		b, err := Encode(tr)
		require.NoError(t, err)
		assert.Equal(t, a, b, tr.String())
	}
}

func TestCodec_PointerAndValuePayloadsEncodeIdentically(t *testing.T) {
	ev := NewFileCreate("a.txt", 12)
	byValue, err := Encode(&Transmission{Type: TypeChangeEvent, Data: ev})
	require.NoError(t, err)
	byPointer, err := Encode(&Transmission{Type: TypeChangeEvent, Data: &ev})
	require.NoError(t, err)
	require.Equal(t, byValue, byPointer)

	decoded, err := Decode(byPointer)
	require.NoError(t, err)
	got, ok := decoded.ChangeEvent()
	require.True(t, ok)
	require.Equal(t, ev, got)
}

func TestCodec_EncodeRejectsMismatchedPayload(t *testing.T) {
	cases := []struct {
		name string
		tr   *Transmission
	}{
		{"nil", nil},
		{"wrong-type", &Transmission{Type: TypeServerVersion, Data: Greeting{ClientID: "x"}}},
		{"missing-payload", &Transmission{Type: TypeGreeting}},
		{"payload-on-proceed", &Transmission{Type: TypeProceed, Data: ServerVersion{Version: 1}}},
		{"unknown-type", &Transmission{Type: TransmissionType(999)}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Encode(c.tr)
			require.ErrorIs(t, err, ErrEncode)
		})
	}
}

func TestCodec_DecodeRejectsNonTransmissions(t *testing.T) {
	valid, err := Encode(NewProceed())
	require.NoError(t, err)

	cases := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short", []byte{'H'}},
		{"plain-text", []byte("hello world, this is file content")},
		{"bad-version", append([]byte{magic0, magic1, 9}, valid[headerLength:]...)},
		{"trailing-bytes", append(append([]byte{}, valid...), 0x00)},
		{"header-only", []byte{magic0, magic1, version}},
		{"truncated", valid[:len(valid)-1]},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Decode(c.data)
			require.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestCodec_DecodeRejectsUnknownTypeAndBadEvent(t *testing.T) {
	forge := func(w wireMessage) []byte {
		payload, err := msgpack.Marshal(&w)
		require.NoError(t, err)
		return append([]byte{magic0, magic1, version}, payload...)
	}

	_, err := Decode(forge(wireMessage{Type: TransmissionType(0x7f)}))
	require.ErrorIs(t, err, ErrDecode)

	_, err = Decode(forge(wireMessage{Type: TypeProceed, Data: []byte{0x01}}))
	require.ErrorIs(t, err, ErrDecode, "proceed with a payload")

	_, err = Decode(forge(wireMessage{Type: TypeServerVersion}))
	require.ErrorIs(t, err, ErrDecode, "server version without a payload")

	// encode does not validate events, decode does
	data, err := Encode(NewChangeEvent(ChangeEvent{Kind: FileMove, FromPath: "a"}))
	require.NoError(t, err)
	_, err = Decode(data)
	require.ErrorIs(t, err, ErrDecode)
	require.ErrorIs(t, err, ErrInvalidEvent)
}

func TestCodec_DecodeIsTotalOverRandomInput(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	valid, err := Encode(NewServerVersion(12345))
	require.NoError(t, err)

	for i := 0; i < 2000; i++ {
		buf := make([]byte, rng.Intn(256))
		rng.Read(buf)
		if i%2 == 0 && len(buf) >= headerLength {
			// keep the envelope so the msgpack decoder sees the garbage
			buf[0], buf[1], buf[2] = magic0, magic1, version
		}
		require.NotPanics(t, func() { _, _ = Decode(buf) })
	}

	// flip every byte of a valid message once
	for i := range valid {
		mutated := append([]byte{}, valid...)
		mutated[i] ^= 0xff
		require.NotPanics(t, func() { _, _ = Decode(mutated) })
	}
}

func TestTransmission_Accessors(t *testing.T) {
	sv, ok := NewServerVersion(3).ServerVersion()
	require.True(t, ok)
	assert.Equal(t, int64(3), sv.Version)

	_, ok = NewProceed().ServerVersion()
	assert.False(t, ok)

	e, ok := NewError(1, "boom").RemoteError()
	require.True(t, ok)
	assert.Equal(t, "boom", e.Message)

	var nilT *Transmission
	assert.False(t, nilT.Is(TypeProceed))
	assert.Equal(t, "<nil>", nilT.String())
}
