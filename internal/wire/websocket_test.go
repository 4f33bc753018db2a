package wire

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
)

// echoServer returns every binary message it receives and answers text
// messages with a text frame.
func echoServer(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		for {
			typ, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			if typ == websocket.MessageText {
				data = []byte("text")
			}
			if err := conn.Write(r.Context(), typ, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketChannel_RoundTrip(t *testing.T) {
	ctx := context.Background()
	ch, err := Dial(ctx, echoServer(t))
	require.NoError(t, err)
	defer ch.Close()

	_, ok := ch.(*WebSocketChannel)
	require.True(t, ok, "ws:// addresses dial a websocket channel")

	payload := []byte{0x00, 0xff, 'H', 'C', 0x01}
	require.NoError(t, ch.Write(ctx, payload))
	got, err := ch.ReadNextChunk(ctx)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	require.NoError(t, ch.Write(ctx, []byte{}))
	got, err = ch.ReadNextChunk(ctx)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestWebSocketChannel_RejectsTextFrames(t *testing.T) {
	ctx := context.Background()
	conn, _, err := websocket.Dial(ctx, echoServer(t), nil)
	require.NoError(t, err)
	ch := NewWebSocketChannel(conn)
	defer ch.Close()

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("hi")))
	_, err = ch.ReadNextChunk(ctx)
	require.ErrorIs(t, err, ErrUnexpectedFrame)
}
