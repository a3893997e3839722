package network

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/cbodonnell/tether/pkg/log"
	"github.com/cbodonnell/tether/pkg/messages"
)

// frameHeaderSize is the big-endian length prefix in front of every
// envelope on a TCP stream.
const frameHeaderSize = 4

// TCPServer accepts reliable streams carrying framed control envelopes.
type TCPServer struct {
	port int
}

type NewTCPServerOptions struct {
	Port int
}

func NewTCPServer(opts NewTCPServerOptions) *TCPServer {
	return &TCPServer{
		port: opts.Port,
	}
}

// StreamHandler serves one accepted stream until it closes.
type StreamHandler func(ctx context.Context, conn net.Conn)

// Start listens until ctx is cancelled.
func (s *TCPServer) Start(ctx context.Context, handler StreamHandler) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen on TCP port %d: %v", s.port, err)
	}
	log.Info("TCP server listening on %s", listener.Addr().String())

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				log.Info("TCP server closed")
				return nil
			}
			log.Error("Failed to accept TCP connection: %v", err)
			continue
		}
		go handler(ctx, conn)
	}
}

// ErrConnectionClosed is returned when the peer closed the stream.
type ErrConnectionClosed struct{}

func (e *ErrConnectionClosed) Error() string {
	return "connection closed"
}

func IsConnectionClosed(err error) bool {
	_, ok := err.(*ErrConnectionClosed)
	return ok
}

// WriteFrame writes b prefixed with its length.
func WriteFrame(w io.Writer, b []byte) error {
	frame := make([]byte, frameHeaderSize+len(b))
	binary.BigEndian.PutUint32(frame, uint32(len(b)))
	copy(frame[frameHeaderSize:], b)
	if _, err := w.Write(frame); err != nil {
		return err
	}
	return nil
}

// ReadFrame reads one length-prefixed frame. Frames larger than max are a
// protocol violation.
func ReadFrame(r io.Reader, max int) ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			return nil, &ErrConnectionClosed{}
		}
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if int(size) > max {
		return nil, messages.NewProtocolViolation("frame of %d bytes exceeds %d", size, max)
	}
	b := make([]byte, size)
	if _, err := io.ReadFull(r, b); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
			return nil, &ErrConnectionClosed{}
		}
		return nil, err
	}
	return b, nil
}

// WriteMessageToTCP writes a Message to a TCP connection
func WriteMessageToTCP(conn io.Writer, msg *messages.Message) error {
	b, err := messages.SerializeMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %v", err)
	}

	if err := WriteFrame(conn, b); err != nil {
		return fmt.Errorf("failed to write message to TCP connection: %v", err)
	}

	return nil
}

// ReadMessageFromTCP reads a Message from a TCP connection
func ReadMessageFromTCP(conn io.Reader) (*messages.Message, error) {
	b, err := ReadFrame(conn, messages.MessageBufferSize)
	if err != nil {
		return nil, err
	}

	msg, err := messages.DeserializeMessage(b)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize message: %v", err)
	}

	return msg, nil
}
