// Package wire moves length-framed chunks over a byte stream. A chunk is an
// opaque payload: either an encoded control message or raw file bytes.
package wire

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const (
	// ChunkSize is the largest slice of file content sent in one chunk.
	ChunkSize = 64 * 1024

	// DefaultMaxChunkSize bounds a single inbound chunk.
	DefaultMaxChunkSize = 16 * 1024 * 1024
)

var (
	ErrChunkTooLarge   = errors.New("chunk exceeds size limit")
	ErrUnexpectedFrame = errors.New("unexpected frame type")
)

// Channel is a bidirectional, length-framed chunk stream.
type Channel interface {
	// Write frames and sends one payload.
	Write(ctx context.Context, p []byte) error
	// ReadNextChunk blocks until one full payload has arrived.
	ReadNextChunk(ctx context.Context) ([]byte, error)
	Close() error
}

// NumChunks is the number of content chunks used for a file of size bytes.
func NumChunks(size uint64) uint64 {
	return (size + ChunkSize - 1) / ChunkSize
}

type config struct {
	ioTimeout    time.Duration
	maxChunkSize int
}

// Option configures a Channel.
type Option func(*config)

// WithIOTimeout bounds every read and write. Zero disables the bound.
func WithIOTimeout(d time.Duration) Option {
	return func(c *config) {
		c.ioTimeout = d
	}
}

// WithMaxChunkSize overrides DefaultMaxChunkSize.
func WithMaxChunkSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxChunkSize = n
		}
	}
}

func newConfig(opts []Option) config {
	cfg := config{maxChunkSize: DefaultMaxChunkSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Dial connects to addr. ws:// and wss:// addresses use a WebSocket carrying
// one chunk per binary message; anything else is a TCP host:port.
func Dial(ctx context.Context, addr string, opts ...Option) (Channel, error) {
	cfg := newConfig(opts)

	if cfg.ioTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ioTimeout)
		defer cancel()
	}

	if isWebSocketAddr(addr) {
		conn, _, err := websocket.Dial(ctx, addr, &websocket.DialOptions{
			CompressionMode: websocket.CompressionDisabled,
		})
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		return NewWebSocketChannel(conn, opts...), nil
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewStreamChannel(conn, opts...), nil
}

func isWebSocketAddr(addr string) bool {
	return strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://")
}
