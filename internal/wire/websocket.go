package wire

import (
	"context"
	"fmt"

	"github.com/coder/websocket"
)

// WebSocketChannel carries one chunk per binary WebSocket message.
type WebSocketChannel struct {
	conn *websocket.Conn
	cfg  config
}

func NewWebSocketChannel(conn *websocket.Conn, opts ...Option) *WebSocketChannel {
	cfg := newConfig(opts)
	conn.SetReadLimit(int64(cfg.maxChunkSize))
	return &WebSocketChannel{conn: conn, cfg: cfg}
}

func (c *WebSocketChannel) Write(ctx context.Context, p []byte) error {
	if len(p) > c.cfg.maxChunkSize {
		return fmt.Errorf("%w: %d bytes", ErrChunkTooLarge, len(p))
	}

	ctx, cancel := c.opContext(ctx)
	defer cancel()

	if err := c.conn.Write(ctx, websocket.MessageBinary, p); err != nil {
		return fmt.Errorf("chunk write: %w", err)
	}
	return nil
}

func (c *WebSocketChannel) ReadNextChunk(ctx context.Context) ([]byte, error) {
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	typ, data, err := c.conn.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("chunk read: %w", err)
	}
	if typ != websocket.MessageBinary {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedFrame, typ)
	}
	return data, nil
}

func (c *WebSocketChannel) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

func (c *WebSocketChannel) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.ioTimeout > 0 {
		return context.WithTimeout(ctx, c.cfg.ioTimeout)
	}
	return context.WithCancel(ctx)
}
