// Package gateway accepts duel WebSocket connections, authenticates the
// first frame as a token, resolves the account, and hands the channel to
// the presence registry. After hand-off the connection is owned by either
// the presence queue watchdog or a match runner, never both.
package gateway

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Conn wraps one WebSocket connection. It implements match.Channel: text
// frame reads and writes, with a write mutex so concurrent goroutines do
// not interleave frame bytes.
type Conn struct {
	conn         net.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
}

func newConn(nc net.Conn, writeTimeout time.Duration) *Conn {
	return &Conn{conn: nc, writeTimeout: writeTimeout}
}

// Send writes one text frame.
func (c *Conn) Send(text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	return wsutil.WriteServerMessage(c.conn, ws.OpText, []byte(text))
}

// ReadText blocks until the next data frame and returns its payload.
// Control frames are handled in place: pings are answered, close frames
// surface as an error.
func (c *Conn) ReadText() (string, error) {
	for {
		header, reader, err := wsutil.NextReader(c.conn, ws.StateServerSide)
		if err != nil {
			return "", err
		}

		if header.OpCode.IsControl() {
			payload, err := io.ReadAll(reader)
			if err != nil {
				return "", err
			}
			switch header.OpCode {
			case ws.OpClose:
				return "", io.EOF
			case ws.OpPing:
				if err := c.writePong(payload); err != nil {
					return "", err
				}
			}
			// Pong: nothing to do.
			continue
		}

		data, err := io.ReadAll(reader)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

func (c *Conn) writePong(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.conn, ws.NewPongFrame(payload))
}

// Close closes the underlying network connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

func (c *Conn) setReadDeadline(t time.Time) {
	_ = c.conn.SetReadDeadline(t)
}
