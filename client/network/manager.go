package network

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cbodonnell/tether/pkg/bitstream"
	"github.com/cbodonnell/tether/pkg/log"
	"github.com/cbodonnell/tether/pkg/messages"
	"github.com/cbodonnell/tether/pkg/packet"
	"github.com/cbodonnell/tether/pkg/queue"
)

const (
	DefaultServerHostname = "localhost"
	DefaultServerTCPPort  = 8888
	DefaultServerUDPPort  = 8889

	// LoginTimeout bounds the wait for the login result.
	LoginTimeout = 10 * time.Second
	// SyncInterval is how often the clock is resynchronized and, until a
	// datagram arrives, the hello repeated.
	SyncInterval = 5 * time.Second
	// recentRTTCount is how many clock sync round trips are averaged.
	recentRTTCount = 10
)

// ServerDatagram is a ServerUpdate datagram, queued for the game loop.
type ServerDatagram struct {
	Data       []byte
	ReceivedAt time.Time
}

// Disconnected is queued when the server ends the session.
type Disconnected struct {
	Reason string
}

// NetworkManager is the client's connection to a game server: a reliable
// stream for login and clock sync plus UDP datagrams, or a single
// WebSocket carrying both.
type NetworkManager struct {
	serverMessageQueue queue.Queue
	assembler          *packet.Assembler
	stream             stream
	udpClient          *UDPClient
	tcpAddr            string
	udpAddr            string
	wsURL              string

	cancelClientCtx context.CancelFunc
	clientWaitGroup *sync.WaitGroup
	ctx             context.Context

	result         *messages.ServerLoginResult
	serverTimeChan chan *messages.TimeSync
	bound          chan struct{}
	boundOnce      *sync.Once

	serverTimeMutex sync.Mutex
	serverTime      int64
	ping            float64
	recentRTTs      []int64
}

type NewNetworkManagerOptions struct {
	// Queue receives ServerDatagram and Disconnected items.
	Queue          queue.Queue
	Assembler      *packet.Assembler
	ServerHostname string
	TCPPort        int
	UDPPort        int
	// WSURL selects the WebSocket transport when set.
	WSURL string
}

func NewNetworkManager(opts NewNetworkManagerOptions) *NetworkManager {
	if opts.ServerHostname == "" {
		opts.ServerHostname = DefaultServerHostname
	}
	if opts.TCPPort == 0 {
		opts.TCPPort = DefaultServerTCPPort
	}
	if opts.UDPPort == 0 {
		opts.UDPPort = DefaultServerUDPPort
	}
	return &NetworkManager{
		serverMessageQueue: opts.Queue,
		assembler:          opts.Assembler,
		tcpAddr:            net.JoinHostPort(opts.ServerHostname, strconv.Itoa(opts.TCPPort)),
		udpAddr:            net.JoinHostPort(opts.ServerHostname, strconv.Itoa(opts.UDPPort)),
		wsURL:              opts.WSURL,
		clientWaitGroup:    &sync.WaitGroup{},
		ctx:                context.Background(),
	}
}

// Start connects, logs in and starts the background readers. A denied
// login returns ErrLoginFailed.
func (m *NetworkManager) Start(login *messages.ClientLogin) (*messages.ServerLoginResult, error) {
	ctx, cancel := context.WithCancel(context.Background())
	m.ctx = ctx
	m.cancelClientCtx = cancel
	m.serverTimeChan = make(chan *messages.TimeSync, 1)
	m.bound = make(chan struct{})
	m.boundOnce = &sync.Once{}

	result, err := m.connect(ctx, login)
	if err != nil {
		cancel()
		m.closeClients()
		m.cancelClientCtx = nil
		return nil, err
	}
	m.result = result
	log.Info("Logged in as session %d on connection %d", result.SessionID, result.ConnectionID)

	m.clientWaitGroup.Add(1)
	go func() {
		defer m.clientWaitGroup.Done()
		m.handleStream(ctx)
	}()
	if m.udpClient != nil {
		m.clientWaitGroup.Add(1)
		go func() {
			defer m.clientWaitGroup.Done()
			if err := m.udpClient.HandleDatagrams(ctx, m.handleDatagram); err != nil {
				log.Error("UDP client stopped: %v", err)
			}
		}()
	}
	m.clientWaitGroup.Add(1)
	go func() {
		defer m.clientWaitGroup.Done()
		m.syncLoop(ctx)
	}()
	return result, nil
}

func (m *NetworkManager) connect(ctx context.Context, login *messages.ClientLogin) (*messages.ServerLoginResult, error) {
	if m.wsURL != "" {
		ws := NewWSClient(m.wsURL)
		if err := ws.Connect(ctx); err != nil {
			return nil, err
		}
		m.stream = ws
	} else {
		tcp := NewTCPClient(m.tcpAddr)
		if err := tcp.Connect(ctx); err != nil {
			return nil, err
		}
		m.stream = tcp
		udp, err := NewUDPClient(m.udpAddr)
		if err != nil {
			return nil, err
		}
		if err := udp.Connect(); err != nil {
			return nil, err
		}
		m.udpClient = udp
	}

	loginCtx, cancel := context.WithTimeout(ctx, LoginTimeout)
	defer cancel()
	msg, err := messages.EncodeMessage(0, messages.MessageTypeClientLogin, login, messages.SerializeClientLogin)
	if err != nil {
		return nil, err
	}
	if err := m.stream.WriteMessage(loginCtx, msg); err != nil {
		return nil, fmt.Errorf("failed to send login: %v", err)
	}

	// a TCP read does not see the context, so close the stream on timeout
	stop := context.AfterFunc(loginCtx, func() {
		if ctx.Err() == nil && loginCtx.Err() == context.DeadlineExceeded {
			m.stream.Close()
		}
	})
	defer stop()
	for {
		reply, err := m.stream.ReadMessage(loginCtx)
		if err != nil {
			if loginCtx.Err() != nil {
				return nil, fmt.Errorf("timed out waiting for login result")
			}
			return nil, fmt.Errorf("failed to read login result: %v", err)
		}
		switch reply.Type {
		case messages.MessageTypeServerLoginSuccess:
			return messages.DeserializeServerLoginResult(reply.Payload)
		case messages.MessageTypeServerLoginFailure:
			result, err := messages.DeserializeServerLoginResult(reply.Payload)
			if err != nil {
				return nil, err
			}
			return nil, &ErrLoginFailed{Reason: result.Reason}
		case messages.MessageTypeServerDisconnect:
			d, err := messages.DeserializeServerDisconnect(reply.Payload)
			if err != nil {
				return nil, err
			}
			return nil, &ErrLoginFailed{Reason: d.Reason}
		default:
			log.Debug("Ignoring %s before login", reply.Type)
		}
	}
}

// handleStream reads control messages until the stream ends.
func (m *NetworkManager) handleStream(ctx context.Context) {
	for {
		msg, err := m.stream.ReadMessage(ctx)
		if err != nil {
			if _, ok := err.(*ErrConnectionClosedByClient); ok {
				return
			}
			log.Warn("Connection to server lost: %v", err)
			m.enqueue(&Disconnected{Reason: "connection lost"})
			return
		}
		switch msg.Type {
		case messages.MessageTypeServerSyncTime:
			reply, err := messages.DeserializeTimeSync(msg.Payload)
			if err != nil {
				log.Error("Failed to decode time sync: %v", err)
				continue
			}
			select {
			case m.serverTimeChan <- reply:
			default:
			}
		case messages.MessageTypeServerDisconnect:
			d, err := messages.DeserializeServerDisconnect(msg.Payload)
			if err != nil {
				d = &messages.ServerDisconnect{Reason: "unknown"}
			}
			log.Info("Disconnected by server: %s", d.Reason)
			m.enqueue(&Disconnected{Reason: d.Reason})
			return
		case messages.MessageTypeDatagram:
			m.handleDatagram(msg.Payload)
		default:
			log.Warn("Received unexpected %s from server", msg.Type)
		}
	}
}

// handleDatagram answers pings and queues updates.
func (m *NetworkManager) handleDatagram(datagram []byte) {
	if len(datagram) < packet.HeaderSize {
		return
	}
	m.boundOnce.Do(func() { close(m.bound) })
	switch messages.PacketHeader(datagram[0]) {
	case messages.ServerPing:
		_, r, err := m.assembler.Open(datagram)
		if err != nil {
			return
		}
		ping := messages.ReadPing(r)
		if r.Err() != nil {
			return
		}
		if err := m.sendSegment(messages.ClientPong, func(w *bitstream.Writer) {
			messages.WritePing(w, ping)
		}); err != nil {
			log.Debug("Failed to answer ping %d: %v", ping.Sequence, err)
		}
	case messages.ServerUpdate:
		m.enqueue(&ServerDatagram{Data: datagram, ReceivedAt: time.Now()})
	default:
		log.Trace("Ignoring %s from server", messages.PacketHeader(datagram[0]))
	}
}

func (m *NetworkManager) enqueue(item interface{}) {
	if err := m.serverMessageQueue.Enqueue(item); err != nil {
		log.Warn("Dropped %T: %v", item, err)
	}
}

func (m *NetworkManager) sendSegment(tag messages.PacketHeader, write func(w *bitstream.Writer)) error {
	b := m.assembler.Begin(tag)
	seg := bitstream.NewWriter()
	write(seg)
	if !b.TryAppend(seg) {
		return fmt.Errorf("%s does not fit a datagram", tag)
	}
	return m.SendDatagram(b.Finish())
}

func (m *NetworkManager) sendHello() error {
	return m.sendSegment(messages.ClientHello, func(w *bitstream.Writer) {
		messages.WriteHello(w, messages.Hello{ConnectionID: m.result.ConnectionID, Token: m.result.ReconnectToken})
	})
}

// syncLoop keeps the clock estimate fresh and repeats the hello until the
// server's first datagram shows the address is bound.
func (m *NetworkManager) syncLoop(ctx context.Context) {
	for {
		if m.udpClient != nil {
			select {
			case <-m.bound:
			default:
				if err := m.sendHello(); err != nil {
					log.Error("Failed to send hello: %v", err)
				}
			}
		}
		if err := m.syncTime(ctx); err != nil {
			log.Error("Failed to sync time: %v", err)
		}
		select {
		case <-time.After(SyncInterval):
		case <-ctx.Done():
			return
		}
	}
}

func (m *NetworkManager) syncTime(ctx context.Context) error {
	msg, err := messages.EncodeMessage(0, messages.MessageTypeClientSyncTime, &messages.TimeSync{
		Timestamp: time.Now().UnixMilli(),
	}, messages.SerializeTimeSync)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, SyncInterval)
	defer cancel()
	if err := m.stream.WriteMessage(writeCtx, msg); err != nil {
		return fmt.Errorf("failed to send client sync time message: %v", err)
	}

	select {
	case <-time.After(SyncInterval):
		return fmt.Errorf("timed out waiting for server sync time message")
	case <-ctx.Done():
		return nil
	case reply := <-m.serverTimeChan:
		rtt := time.Now().UnixMilli() - reply.ClientTimestamp
		m.serverTimeMutex.Lock()
		defer m.serverTimeMutex.Unlock()
		m.recentRTTs = append(m.recentRTTs, rtt)
		if len(m.recentRTTs) > recentRTTCount {
			m.recentRTTs = m.recentRTTs[len(m.recentRTTs)-recentRTTCount:]
		}
		m.serverTime = reply.Timestamp + rtt/2
		m.ping = meanRTT(removeOutlierRTTs(m.recentRTTs))
		log.Trace("Server time: %d, ping: %.1f", m.serverTime, m.ping)
	}
	return nil
}

// ServerTime returns the last wall clock estimate of the server in
// milliseconds and the filtered round trip time.
func (m *NetworkManager) ServerTime() (serverTime int64, ping float64) {
	m.serverTimeMutex.Lock()
	defer m.serverTimeMutex.Unlock()
	return m.serverTime, m.ping
}

func (m *NetworkManager) ServerMessageQueue() queue.Queue {
	return m.serverMessageQueue
}

// SendDatagram sends a game datagram over UDP or the WebSocket tunnel.
func (m *NetworkManager) SendDatagram(datagram []byte) error {
	if m.udpClient != nil {
		return m.udpClient.Send(datagram)
	}
	if m.stream == nil {
		return fmt.Errorf("not connected")
	}
	ctx, cancel := context.WithTimeout(m.ctx, SyncInterval)
	defer cancel()
	return m.stream.WriteMessage(ctx, messages.NewMessage(0, messages.MessageTypeDatagram, datagram))
}

func (m *NetworkManager) closeClients() {
	if m.stream != nil {
		m.stream.Close()
	}
	if m.udpClient != nil {
		m.udpClient.Close()
	}
}

// Stop closes the connection and clears the server message queue.
func (m *NetworkManager) Stop() error {
	if m.cancelClientCtx == nil {
		log.Warn("Network manager already stopped")
		return nil
	}
	m.cancelClientCtx()
	m.closeClients()

	log.Debug("Waiting for clients to stop")
	m.clientWaitGroup.Wait()
	if err := m.serverMessageQueue.ClearQueue(); err != nil {
		return fmt.Errorf("failed to clear server message queue: %v", err)
	}
	m.stream = nil
	m.udpClient = nil
	m.cancelClientCtx = nil
	log.Info("Network manager stopped")
	return nil
}
