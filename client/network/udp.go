package network

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/cbodonnell/tether/pkg/log"
	"github.com/cbodonnell/tether/pkg/messages"
)

// UDPClient exchanges game datagrams with the server.
type UDPClient struct {
	serverAddr *net.UDPAddr
	conn       *net.UDPConn
}

func NewUDPClient(serverAddr string) (*UDPClient, error) {
	addr, err := net.ResolveUDPAddr("udp", serverAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %v", err)
	}
	return &UDPClient{
		serverAddr: addr,
	}, nil
}

func (c *UDPClient) Connect() error {
	conn, err := net.DialUDP("udp", nil, c.serverAddr)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %v", err)
	}
	c.conn = conn
	return nil
}

// HandleDatagrams reads until the socket is closed.
func (c *UDPClient) HandleDatagrams(ctx context.Context, handler func(datagram []byte)) error {
	buf := make([]byte, messages.UDPMessageBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Error("Failed to read from UDP connection: %v", err)
			continue
		}
		handler(append([]byte(nil), buf[:n]...))
	}
}

func (c *UDPClient) Send(datagram []byte) error {
	if _, err := c.conn.Write(datagram); err != nil {
		return fmt.Errorf("failed to write datagram: %v", err)
	}
	return nil
}

func (c *UDPClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
