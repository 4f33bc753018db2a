package wire

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

const headerSize = 8

// StreamChannel frames chunks on a net.Conn as an 8-byte big-endian length
// followed by exactly that many payload bytes.
type StreamChannel struct {
	conn   net.Conn
	reader *bufio.Reader
	cfg    config
}

func NewStreamChannel(conn net.Conn, opts ...Option) *StreamChannel {
	return &StreamChannel{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, ChunkSize+headerSize),
		cfg:    newConfig(opts),
	}
}

func (c *StreamChannel) Write(ctx context.Context, p []byte) error {
	if len(p) > c.cfg.maxChunkSize {
		return fmt.Errorf("%w: %d bytes", ErrChunkTooLarge, len(p))
	}

	disarm := c.arm(ctx, c.conn.SetWriteDeadline)
	defer disarm()

	var hdr [headerSize]byte
	binary.BigEndian.PutUint64(hdr[:], uint64(len(p)))
	bufs := net.Buffers{hdr[:], p}
	if _, err := bufs.WriteTo(c.conn); err != nil {
		return c.wrap(ctx, "write", err)
	}
	return nil
}

func (c *StreamChannel) ReadNextChunk(ctx context.Context) ([]byte, error) {
	disarm := c.arm(ctx, c.conn.SetReadDeadline)
	defer disarm()

	var hdr [headerSize]byte
	if _, err := io.ReadFull(c.reader, hdr[:]); err != nil {
		return nil, c.wrap(ctx, "read header", err)
	}

	n := binary.BigEndian.Uint64(hdr[:])
	if n > uint64(c.cfg.maxChunkSize) {
		return nil, fmt.Errorf("%w: %d bytes", ErrChunkTooLarge, n)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(c.reader, buf); err != nil {
		return nil, c.wrap(ctx, "read payload", err)
	}
	return buf, nil
}

func (c *StreamChannel) Close() error {
	return c.conn.Close()
}

// arm applies the IO timeout and ctx deadline to the next operation and
// unblocks it when ctx is cancelled.
func (c *StreamChannel) arm(ctx context.Context, setDeadline func(time.Time) error) func() {
	var deadline time.Time
	if c.cfg.ioTimeout > 0 {
		deadline = time.Now().Add(c.cfg.ioTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = setDeadline(deadline)

	stop := context.AfterFunc(ctx, func() {
		_ = setDeadline(time.Unix(1, 0))
	})
	return func() { stop() }
}

func (c *StreamChannel) wrap(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("chunk %s: %w", op, ctxErr)
	}
	return fmt.Errorf("chunk %s: %w", op, err)
}
