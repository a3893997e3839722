package network

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/cbodonnell/tether/pkg/log"
	"github.com/cbodonnell/tether/pkg/messages"
)

// UDPServer carries game datagrams for TCP/UDP connections.
type UDPServer struct {
	port int

	conn *net.UDPConn
	lock sync.RWMutex
}

type NewUDPServerOptions struct {
	Port int
}

func NewUDPServer(opts NewUDPServerOptions) *UDPServer {
	return &UDPServer{
		port: opts.Port,
	}
}

// DatagramHandler is called for every datagram read from the socket. The
// slice is only valid for the duration of the call.
type DatagramHandler func(ctx context.Context, addr *net.UDPAddr, datagram []byte)

// Start reads datagrams until ctx is cancelled.
func (s *UDPServer) Start(ctx context.Context, handler DatagramHandler) error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: s.port})
	if err != nil {
		return fmt.Errorf("failed to listen on UDP port %d: %v", s.port, err)
	}
	log.Info("UDP server listening on %s", conn.LocalAddr().String())

	s.lock.Lock()
	s.conn = conn
	s.lock.Unlock()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, messages.UDPMessageBufferSize)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("UDP server closed")
				return nil
			}
			log.Error("Failed to read from UDP connection: %v", err)
			continue
		}
		handler(ctx, addr, buf[:n])
	}
}

// WriteTo sends one datagram. It fails until Start has opened the socket.
func (s *UDPServer) WriteTo(addr *net.UDPAddr, datagram []byte) error {
	s.lock.RLock()
	conn := s.conn
	s.lock.RUnlock()
	if conn == nil {
		return fmt.Errorf("UDP server is not listening")
	}
	if _, err := conn.WriteToUDP(datagram, addr); err != nil {
		return fmt.Errorf("failed to write datagram to %s: %v", addr.String(), err)
	}
	return nil
}
