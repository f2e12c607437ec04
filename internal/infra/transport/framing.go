package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	kindTCP       = "tcp"
	kindWebSocket = "ws"
)

// frameConn is one gateway connection that reads and writes whole frames.
// ReadFrame is called from a single goroutine.
type frameConn interface {
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(ctx context.Context, frame []byte) error
	Close() error
}

// lineConn frames a byte stream on line breaks. Blank lines between frames are skipped.
type lineConn struct {
	conn         net.Conn
	scanner      *bufio.Scanner
	writeTimeout time.Duration
	writeMu      sync.Mutex
}

func newLineConn(conn net.Conn, readLimit int, writeTimeout time.Duration) *lineConn {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), readLimit)
	return &lineConn{
		conn:         conn,
		scanner:      scanner,
		writeTimeout: writeTimeout,
		writeMu:      sync.Mutex{},
	}
}

func (c *lineConn) ReadFrame(_ context.Context) ([]byte, error) {
	for c.scanner.Scan() {
		line := bytes.TrimSpace(c.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		return append([]byte(nil), line...), nil
	}
	if err := c.scanner.Err(); err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return nil, io.EOF
}

func (c *lineConn) WriteFrame(ctx context.Context, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Time{}
	if c.writeTimeout > 0 {
		deadline = time.Now().Add(c.writeTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := c.conn.Write(withDelimiter(frame)); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (c *lineConn) Close() error { return c.conn.Close() }

// wsConn carries frames in text messages. A message may hold several
// delimited frames.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	queued       [][]byte
}

func newWSConn(conn *websocket.Conn, readLimit int, writeTimeout time.Duration) *wsConn {
	conn.SetReadLimit(int64(readLimit))
	return &wsConn{conn: conn, writeTimeout: writeTimeout, queued: nil}
}

func (c *wsConn) ReadFrame(ctx context.Context) ([]byte, error) {
	for len(c.queued) == 0 {
		msgType, data, err := c.conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status == websocket.StatusNormalClosure {
				return nil, io.EOF
			} else if status != -1 {
				return nil, fmt.Errorf("read: remote closed with status %d", status)
			}
			return nil, fmt.Errorf("read: %w", err)
		}
		if msgType != websocket.MessageText {
			continue
		}
		for _, line := range bytes.Split(data, []byte("\n")) {
			if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
				c.queued = append(c.queued, trimmed)
			}
		}
	}
	frame := c.queued[0]
	c.queued = c.queued[1:]
	return frame, nil
}

func (c *wsConn) WriteFrame(ctx context.Context, frame []byte) error {
	if c.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}
	if err := c.conn.Write(ctx, websocket.MessageText, bytes.TrimRight(frame, "\r\n")); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (c *wsConn) Close() error {
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func withDelimiter(frame []byte) []byte {
	if bytes.HasSuffix(frame, []byte("\r\n")) {
		return frame
	}
	out := make([]byte, 0, len(frame)+2)
	out = append(out, bytes.TrimRight(frame, "\r\n")...)
	return append(out, '\r', '\n')
}
