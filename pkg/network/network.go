package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	authproviders "github.com/cbodonnell/tether/pkg/auth/providers"
	"github.com/cbodonnell/tether/pkg/log"
	"github.com/cbodonnell/tether/pkg/messages"
	"github.com/cbodonnell/tether/pkg/packet"
	"github.com/cbodonnell/tether/pkg/queue"
	"golang.org/x/sync/errgroup"
	"nhooyr.io/websocket"
)

// WriteTimeout bounds a single reliable write.
const WriteTimeout = 5 * time.Second

// Transport is what the game loop needs from the network: answering logins,
// ordered reliable sends, unordered unreliable sends and disconnects.
type Transport interface {
	Approve(connectionID uint32, result *messages.ServerLoginResult) error
	Deny(connectionID uint32, reason string) error
	SendReliable(connectionID uint32, msg *messages.Message) error
	SendUnreliable(connectionID uint32, datagram []byte) error
	Disconnect(connectionID uint32, reason string) error
}

var _ Transport = &NetworkManager{}

// PongHandler receives the sequence echoed by a client.
type PongHandler func(connectionID uint32, sequence uint32, receivedAt time.Time)

type NetworkManager struct {
	authProvider authproviders.AuthProvider
	connections  *ConnectionManager
	queue        queue.Queue
	assembler    *packet.Assembler

	tcpServer *TCPServer
	udpServer *UDPServer
	wsServer  *WSServer

	ctx         context.Context
	onPong      PongHandler
	handlerLock sync.RWMutex
}

type NewNetworkManagerOptions struct {
	AuthProvider authproviders.AuthProvider
	Connections  *ConnectionManager
	// Queue receives LoginRequest, ConnectionClosed and Datagram items.
	Queue     queue.Queue
	Assembler *packet.Assembler
	TCPPort   int
	UDPPort   int
	// WSPort 0 disables the websocket server.
	WSPort      int
	WSServerTLS *TLSConfig
}

func NewNetworkManager(opts NewNetworkManagerOptions) *NetworkManager {
	n := &NetworkManager{
		authProvider: opts.AuthProvider,
		connections:  opts.Connections,
		queue:        opts.Queue,
		assembler:    opts.Assembler,
		tcpServer:    NewTCPServer(NewTCPServerOptions{Port: opts.TCPPort}),
		udpServer:    NewUDPServer(NewUDPServerOptions{Port: opts.UDPPort}),
		ctx:          context.Background(),
	}
	if opts.WSPort != 0 {
		n.wsServer = NewWSServer(NewWSServerOptions{Port: opts.WSPort, TLS: opts.WSServerTLS})
	}
	return n
}

func (n *NetworkManager) Connections() *ConnectionManager {
	return n.connections
}

func (n *NetworkManager) SetPongHandler(handler PongHandler) {
	n.handlerLock.Lock()
	defer n.handlerLock.Unlock()
	n.onPong = handler
}

// Start runs every listener until ctx is cancelled or one of them fails.
func (n *NetworkManager) Start(ctx context.Context) error {
	n.ctx = ctx
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return n.tcpServer.Start(ctx, n.serveTCP)
	})
	g.Go(func() error {
		return n.udpServer.Start(ctx, n.handleUDP)
	})
	if n.wsServer != nil {
		g.Go(func() error {
			return n.wsServer.Start(ctx, n.serveWS)
		})
	}
	return g.Wait()
}

func (n *NetworkManager) serveTCP(ctx context.Context, tcpConn net.Conn) {
	conn, err := n.connections.Connect(tcpConn, nil)
	if err != nil {
		log.Error("Failed to register TCP connection from %s: %v", tcpConn.RemoteAddr().String(), err)
		tcpConn.Close()
		return
	}
	log.Debug("Connection %d opened over TCP from %s", conn.ID, tcpConn.RemoteAddr().String())
	defer n.closeConnection(conn)

	for {
		msg, err := ReadMessageFromTCP(tcpConn)
		if err != nil {
			n.logReadError(conn, err)
			return
		}
		if err := n.handleControlMessage(ctx, conn, msg); err != nil {
			log.Warn("Closing connection %d: %v", conn.ID, err)
			return
		}
	}
}

func (n *NetworkManager) serveWS(ctx context.Context, wsConn *websocket.Conn) {
	conn, err := n.connections.Connect(nil, wsConn)
	if err != nil {
		log.Error("Failed to register WebSocket connection: %v", err)
		wsConn.Close(websocket.StatusTryAgainLater, "server full")
		return
	}
	log.Debug("Connection %d opened over WebSocket", conn.ID)
	defer n.closeConnection(conn)

	for {
		msg, err := ReadMessageFromWS(ctx, wsConn)
		if err != nil {
			n.logReadError(conn, err)
			return
		}
		if err := n.handleControlMessage(ctx, conn, msg); err != nil {
			log.Warn("Closing connection %d: %v", conn.ID, err)
			return
		}
	}
}

func (n *NetworkManager) logReadError(conn *Connection, err error) {
	switch {
	case IsConnectionClosed(err):
		log.Debug("Connection %d closed by peer", conn.ID)
	case messages.IsProtocolViolation(err):
		log.Warn("Connection %d sent a malformed message: %v", conn.ID, err)
	default:
		log.Debug("Connection %d read failed: %v", conn.ID, err)
	}
}

// closeConnection releases the stream and tells the game loop, which owns
// the session teardown.
func (n *NetworkManager) closeConnection(conn *Connection) {
	if _, ok := n.connections.Remove(conn.ID); !ok {
		return
	}
	switch conn.ConnectionType {
	case ConnectionTypeTCPUDP:
		conn.TCPConn.Close()
	case ConnectionTypeWebSocket:
		// the close handshake may wait on the peer
		go conn.WSConn.Close(websocket.StatusNormalClosure, "")
	}
	if err := n.queue.Enqueue(&ConnectionClosed{ConnectionID: conn.ID}); err != nil {
		log.Error("Failed to enqueue close of connection %d: %v", conn.ID, err)
	}
	log.Info("Connection %d closed", conn.ID)
}

// handleControlMessage returns an error when the stream should be closed.
func (n *NetworkManager) handleControlMessage(ctx context.Context, conn *Connection, msg *messages.Message) error {
	log.Trace("Received %s from connection %d", msg.Type, conn.ID)
	switch msg.Type {
	case messages.MessageTypeClientLogin:
		return n.handleClientLogin(ctx, conn, msg)
	case messages.MessageTypeClientSyncTime:
		return n.handleClientSyncTime(conn, msg)
	case messages.MessageTypeDatagram:
		if conn.ConnectionType != ConnectionTypeWebSocket || !n.connections.Approved(conn.ID) {
			return messages.NewProtocolViolation("datagram tunnelled before login")
		}
		n.handleDatagram(conn.ID, msg.Payload)
		return nil
	default:
		return messages.NewProtocolViolation("unexpected %s from client", msg.Type)
	}
}

func (n *NetworkManager) handleClientLogin(ctx context.Context, conn *Connection, msg *messages.Message) error {
	login, err := messages.DeserializeClientLogin(msg.Payload)
	if err != nil {
		return err
	}

	claims, err := n.authProvider.VerifyToken(ctx, login.Token)
	if err != nil {
		log.Warn("Connection %d failed to authenticate: %v", conn.ID, err)
		if err := n.Deny(conn.ID, "authentication failed"); err != nil {
			log.Error("Failed to deny connection %d: %v", conn.ID, err)
		}
		return nil
	}
	if err := n.connections.Authenticate(conn.ID, claims.UID); err != nil {
		return messages.NewProtocolViolation("repeated login: %v", err)
	}

	req := &LoginRequest{
		ConnectionID:   conn.ID,
		Name:           login.Name,
		UserID:         claims.UID,
		ReconnectToken: login.ReconnectToken,
		Admin:          claims.Admin,
	}
	if err := n.queue.Enqueue(req); err != nil {
		log.Error("Failed to enqueue login of connection %d: %v", conn.ID, err)
		if err := n.Deny(conn.ID, "server busy"); err != nil {
			log.Error("Failed to deny connection %d: %v", conn.ID, err)
		}
	}
	return nil
}

func (n *NetworkManager) handleClientSyncTime(conn *Connection, msg *messages.Message) error {
	sync, err := messages.DeserializeTimeSync(msg.Payload)
	if err != nil {
		return err
	}
	reply, err := messages.EncodeMessage(0, messages.MessageTypeServerSyncTime, &messages.TimeSync{
		Timestamp:       time.Now().UnixMilli(),
		ClientTimestamp: sync.Timestamp,
	}, messages.SerializeTimeSync)
	if err != nil {
		return err
	}
	if err := n.SendReliable(conn.ID, reply); err != nil {
		log.Error("Failed to answer time sync of connection %d: %v", conn.ID, err)
	}
	return nil
}

func (n *NetworkManager) handleUDP(ctx context.Context, addr *net.UDPAddr, datagram []byte) {
	if len(datagram) < packet.HeaderSize {
		return
	}
	if messages.PacketHeader(datagram[0]) == messages.ClientHello {
		n.handleHello(addr, datagram)
		return
	}
	id := n.connections.ByAddress(addr)
	if id == 0 {
		log.Trace("Ignoring datagram from unbound address %s", addr.String())
		return
	}
	n.handleDatagram(id, datagram)
}

func (n *NetworkManager) handleHello(addr *net.UDPAddr, datagram []byte) {
	_, r, err := n.assembler.Open(datagram)
	if err != nil {
		log.Debug("Bad hello from %s: %v", addr.String(), err)
		return
	}
	hello := messages.ReadHello(r)
	if err := r.Err(); err != nil {
		log.Debug("Bad hello from %s: %v", addr.String(), err)
		return
	}
	if err := n.connections.Bind(hello.ConnectionID, hello.Token, addr); err != nil {
		log.Warn("Rejected hello from %s: %v", addr.String(), err)
		return
	}
	log.Debug("Connection %d bound to %s", hello.ConnectionID, addr.String())
}

// handleDatagram routes a game datagram. Pongs are answered here; updates
// go to the tick loop.
func (n *NetworkManager) handleDatagram(connectionID uint32, datagram []byte) {
	now := time.Now()
	if len(datagram) < packet.HeaderSize {
		return
	}
	switch messages.PacketHeader(datagram[0]) {
	case messages.ClientPong:
		_, r, err := n.assembler.Open(datagram)
		if err != nil {
			return
		}
		ping := messages.ReadPing(r)
		if r.Err() != nil {
			return
		}
		n.handlerLock.RLock()
		onPong := n.onPong
		n.handlerLock.RUnlock()
		if onPong != nil {
			onPong(connectionID, ping.Sequence, now)
		}
	case messages.ClientUpdate:
		item := &Datagram{
			ConnectionID: connectionID,
			Data:         append([]byte(nil), datagram...),
			ReceivedAt:   now,
		}
		if err := n.queue.Enqueue(item); err != nil {
			log.Warn("Dropped datagram from connection %d: %v", connectionID, err)
		}
	default:
		log.Trace("Ignoring %s from connection %d", messages.PacketHeader(datagram[0]), connectionID)
	}
}

// Approve completes a login that the game loop accepted.
func (n *NetworkManager) Approve(connectionID uint32, result *messages.ServerLoginResult) error {
	if err := n.connections.Approve(connectionID, result.ReconnectToken); err != nil {
		return err
	}
	result.Accepted = true
	result.ConnectionID = connectionID
	msg, err := messages.EncodeMessage(0, messages.MessageTypeServerLoginSuccess, result, messages.SerializeServerLoginResult)
	if err != nil {
		return err
	}
	return n.SendReliable(connectionID, msg)
}

// Deny answers a login with a failure. The stream stays open so the client
// can read the reason; it closes its side.
func (n *NetworkManager) Deny(connectionID uint32, reason string) error {
	msg, err := messages.EncodeMessage(0, messages.MessageTypeServerLoginFailure, &messages.ServerLoginResult{
		Reason:       reason,
		ConnectionID: connectionID,
	}, messages.SerializeServerLoginResult)
	if err != nil {
		return err
	}
	return n.SendReliable(connectionID, msg)
}

func (n *NetworkManager) SendReliable(connectionID uint32, msg *messages.Message) error {
	conn, err := n.connections.Get(connectionID)
	if err != nil {
		return err
	}
	switch conn.ConnectionType {
	case ConnectionTypeTCPUDP:
		conn.writeLock.Lock()
		defer conn.writeLock.Unlock()
		conn.TCPConn.SetWriteDeadline(time.Now().Add(WriteTimeout))
		if err := WriteMessageToTCP(conn.TCPConn, msg); err != nil {
			return fmt.Errorf("failed to send %s to connection %d: %v", msg.Type, connectionID, err)
		}
	case ConnectionTypeWebSocket:
		ctx, cancel := context.WithTimeout(n.ctx, WriteTimeout)
		defer cancel()
		if err := WriteMessageToWS(ctx, conn.WSConn, msg); err != nil {
			return fmt.Errorf("failed to send %s to connection %d: %v", msg.Type, connectionID, err)
		}
	default:
		return fmt.Errorf("unknown connection type for connection %d: %v", connectionID, conn.ConnectionType)
	}
	return nil
}

// SendUnreliable sends a game datagram. A TCP/UDP connection that has not
// bound its address yet silently misses it, like any lost datagram.
func (n *NetworkManager) SendUnreliable(connectionID uint32, datagram []byte) error {
	conn, err := n.connections.Get(connectionID)
	if err != nil {
		return err
	}
	switch conn.ConnectionType {
	case ConnectionTypeTCPUDP:
		addr := n.connections.UDPAddress(connectionID)
		if addr == nil {
			log.Trace("Connection %d has no UDP address yet", connectionID)
			return nil
		}
		return n.udpServer.WriteTo(addr, datagram)
	case ConnectionTypeWebSocket:
		return n.SendReliable(connectionID, messages.NewMessage(0, messages.MessageTypeDatagram, datagram))
	default:
		return fmt.Errorf("unknown connection type for connection %d: %v", connectionID, conn.ConnectionType)
	}
}

// Disconnect tells the client why and closes its stream.
func (n *NetworkManager) Disconnect(connectionID uint32, reason string) error {
	conn, err := n.connections.Get(connectionID)
	if err != nil {
		return err
	}
	msg, err := messages.EncodeMessage(0, messages.MessageTypeServerDisconnect, &messages.ServerDisconnect{Reason: reason}, messages.SerializeServerDisconnect)
	if err != nil {
		return err
	}
	if err := n.SendReliable(connectionID, msg); err != nil {
		log.Debug("Failed to send disconnect reason to connection %d: %v", connectionID, err)
	}
	n.closeConnection(conn)
	return nil
}
