package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// WSTransport is the production Transport: one websocket to the signaling
// server, writes serialized behind a mutex, reads pumped into a Session.
type WSTransport struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// DialWS connects to the server's /api/ws endpoint. The token rides the
// query string because browser websocket clients cannot set headers.
func DialWS(url, token string) (*WSTransport, error) {
	conn, resp, err := websocket.DefaultDialer.Dial(fmt.Sprintf("%s?token=%s", url, token), http.Header{})
	if err != nil {
		return nil, fmt.Errorf("dial signaling server: %w", err)
	}
	if resp != nil {
		_ = resp.Body.Close()
	}
	return &WSTransport{conn: conn}, nil
}

func (t *WSTransport) Send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, b)
}

// Run reads frames and feeds them to the session until the socket closes.
func (t *WSTransport) Run(sess *Session) error {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			return err
		}
		if err := sess.HandleMessage(data); err != nil {
			// A malformed or out-of-order frame degrades one exchange,
			// not the whole session.
			continue
		}
	}
}

func (t *WSTransport) Close() error {
	return t.conn.Close()
}
