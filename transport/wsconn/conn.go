// Package wsconn turns a websocket connection into a byte-stream net.Conn.
//
// Each Write goes out as one binary message; Read concatenates messages.
// CloseWrite sends a normal close frame and the peer reads it as io.EOF, so
// both sides can half-close like TCP.
package wsconn

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/go-pantheon/fabrica-util/errors"
	"github.com/gorilla/websocket"
)

var ErrInvalidMessageType = errors.New("websocket message is not binary")

const closeWriteTimeout = time.Second

var _ net.Conn = (*Conn)(nil)

type Conn struct {
	conn *websocket.Conn

	rmu    sync.Mutex
	reader io.Reader

	wmu       sync.Mutex
	writeDone bool
}

func New(conn *websocket.Conn) *Conn {
	// The default handler echoes the close frame, which would end our write
	// side as soon as the peer ends its own.
	conn.SetCloseHandler(func(int, string) error {
		return nil
	})

	return &Conn{conn: conn}
}

func (c *Conn) Read(b []byte) (int, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	for {
		if c.reader == nil {
			mt, r, err := c.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}

				return 0, err
			}

			if mt != websocket.BinaryMessage {
				return 0, errors.Wrapf(ErrInvalidMessageType, "type=%d", mt)
			}

			c.reader = r
		}

		n, err := c.reader.Read(b)
		if errors.Is(err, io.EOF) {
			c.reader = nil

			if n > 0 || len(b) == 0 {
				return n, nil
			}

			continue
		}

		return n, err
	}
}

func (c *Conn) Write(b []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.writeDone {
		return 0, websocket.ErrCloseSent
	}

	if err := c.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}

	return len(b), nil
}

// CloseWrite sends a normal close frame. Reading continues until the peer
// closes its side.
func (c *Conn) CloseWrite() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.writeDone {
		return nil
	}

	c.writeDone = true

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")

	return c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Conn) SetDeadline(t time.Time) error {
	if err := c.conn.SetReadDeadline(t); err != nil {
		return err
	}

	return c.conn.SetWriteDeadline(t)
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}
