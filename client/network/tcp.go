package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cbodonnell/tether/pkg/log"
	"github.com/cbodonnell/tether/pkg/messages"
	servernetwork "github.com/cbodonnell/tether/pkg/network"
)

// stream is the reliable control channel to the server.
type stream interface {
	ReadMessage(ctx context.Context) (*messages.Message, error)
	WriteMessage(ctx context.Context, msg *messages.Message) error
	Close() error
}

// TCPClient carries framed control envelopes over TCP.
type TCPClient struct {
	serverAddr string
	conn       net.Conn
	writeLock  sync.Mutex
}

func NewTCPClient(serverAddr string) *TCPClient {
	return &TCPClient{
		serverAddr: serverAddr,
	}
}

func (c *TCPClient) Connect(ctx context.Context) error {
	log.Info("Connecting to TCP server at %s", c.serverAddr)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.serverAddr)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %v", err)
	}
	c.conn = conn
	return nil
}

// ReadMessage blocks until a message arrives or the connection closes. The
// context is only honoured through Close.
func (c *TCPClient) ReadMessage(ctx context.Context) (*messages.Message, error) {
	msg, err := servernetwork.ReadMessageFromTCP(c.conn)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &ErrConnectionClosedByClient{}
		}
		return nil, err
	}
	return msg, nil
}

func (c *TCPClient) WriteMessage(ctx context.Context, msg *messages.Message) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(servernetwork.WriteTimeout)
	}
	c.conn.SetWriteDeadline(deadline)
	return servernetwork.WriteMessageToTCP(c.conn, msg)
}

func (c *TCPClient) Close() error {
	if c.conn == nil {
		log.Warn("TCP connection is already closed")
		return nil
	}
	return c.conn.Close()
}
