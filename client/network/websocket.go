package network

import (
	"context"
	"fmt"

	"github.com/cbodonnell/tether/pkg/log"
	"github.com/cbodonnell/tether/pkg/messages"
	servernetwork "github.com/cbodonnell/tether/pkg/network"
	"nhooyr.io/websocket"
)

// WSClient carries control envelopes and tunnelled datagrams over a
// WebSocket, for clients that cannot use UDP.
type WSClient struct {
	serverURL string
	conn      *websocket.Conn
}

func NewWSClient(serverURL string) *WSClient {
	return &WSClient{
		serverURL: serverURL,
	}
}

func (c *WSClient) Connect(ctx context.Context) error {
	log.Info("Connecting to WebSocket server at %s", c.serverURL)
	conn, _, err := websocket.Dial(ctx, c.serverURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %v", err)
	}
	conn.SetReadLimit(messages.MessageBufferSize)
	c.conn = conn
	return nil
}

func (c *WSClient) ReadMessage(ctx context.Context) (*messages.Message, error) {
	msg, err := servernetwork.ReadMessageFromWS(ctx, c.conn)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &ErrConnectionClosedByClient{}
		}
		return nil, err
	}
	return msg, nil
}

func (c *WSClient) WriteMessage(ctx context.Context, msg *messages.Message) error {
	return servernetwork.WriteMessageToWS(ctx, c.conn, msg)
}

func (c *WSClient) Close() error {
	if c.conn == nil {
		log.Warn("WebSocket connection is already closed")
		return nil
	}
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
