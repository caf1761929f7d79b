package realtime

import (
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

type (
	// Conn is a single established realtime connection.
	Conn interface {
		// ReadMessage blocks until the next frame or a connection error.
		ReadMessage() ([]byte, error)
		WriteJSON(v interface{}) error
		Close() error
	}

	// Dialer establishes a Conn for the given identity.
	Dialer func(rawURL, userID, role string) (Conn, error)
)

type wsConn struct {
	conn *websocket.Conn
}

var _ Conn = (*wsConn)(nil)

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteJSON(v interface{}) error { return c.conn.WriteJSON(v) }
func (c *wsConn) Close() error                  { return c.conn.Close() }

// WebsocketDialer dials the server's websocket endpoint, passing the identity
// as query parameters the way the web client does.
func WebsocketDialer(rawURL, userID, role string) (Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "parsing socket url")
	}
	q := u.Query()
	q.Set("userId", userID)
	q.Set("role", role)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "dialing websocket")
	}
	return &wsConn{conn: conn}, nil
}
