package network

import (
	"fmt"
	"math/rand"
	"net"
	"sort"
	"sync"

	"nhooyr.io/websocket"
)

const (
	// ConnectionIDMaxRetries is the maximum number of retries when generating a unique ID
	ConnectionIDMaxRetries = 1024
)

type ConnectionType int

const (
	ConnectionTypeTCPUDP ConnectionType = iota
	ConnectionTypeWebSocket
)

func (t ConnectionType) String() string {
	switch t {
	case ConnectionTypeTCPUDP:
		return "tcp/udp"
	case ConnectionTypeWebSocket:
		return "websocket"
	default:
		return "unknown"
	}
}

// Connection is one transport-level peer. It exists from accept until the
// reliable stream closes; the game session is created only after login.
type Connection struct {
	ID             uint32
	ConnectionType ConnectionType
	TCPConn        net.Conn
	WSConn         *websocket.Conn
	UDPAddress     *net.UDPAddr
	UserID         string
	// HelloToken must accompany the Hello that binds a UDP address.
	HelloToken string
	Approved   bool

	// serializes frames written to TCPConn
	writeLock sync.Mutex
}

// ConnectionManager tracks connections by id and by bound UDP address.
// It is shared between the network goroutines and the tick loop.
type ConnectionManager struct {
	connections map[uint32]*Connection
	byAddress   map[string]uint32
	lock        sync.RWMutex
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[uint32]*Connection),
		byAddress:   make(map[string]uint32),
	}
}

// Connect registers a freshly accepted reliable stream and assigns its id.
func (cm *ConnectionManager) Connect(tcpConn net.Conn, wsConn *websocket.Conn) (*Connection, error) {
	cm.lock.Lock()
	defer cm.lock.Unlock()

	id, err := cm.generateUniqueID(ConnectionIDMaxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to generate a unique ID: %v", err)
	}
	conn := &Connection{
		ID:      id,
		TCPConn: tcpConn,
		WSConn:  wsConn,
	}
	if wsConn != nil {
		conn.ConnectionType = ConnectionTypeWebSocket
	}
	cm.connections[id] = conn
	return conn, nil
}

func (cm *ConnectionManager) Get(id uint32) (*Connection, error) {
	cm.lock.RLock()
	defer cm.lock.RUnlock()
	conn, ok := cm.connections[id]
	if !ok {
		return nil, fmt.Errorf("connection %d not found", id)
	}
	return conn, nil
}

// Authenticate records the user a verified login token belongs to. A
// connection authenticates once.
func (cm *ConnectionManager) Authenticate(id uint32, userID string) error {
	cm.lock.Lock()
	defer cm.lock.Unlock()
	conn, ok := cm.connections[id]
	if !ok {
		return fmt.Errorf("connection %d not found", id)
	}
	if conn.UserID != "" {
		return fmt.Errorf("connection %d already authenticated", id)
	}
	conn.UserID = userID
	return nil
}

// Approve marks the connection as logged in and stores the token the client
// must present to bind its UDP address.
func (cm *ConnectionManager) Approve(id uint32, helloToken string) error {
	cm.lock.Lock()
	defer cm.lock.Unlock()
	conn, ok := cm.connections[id]
	if !ok {
		return fmt.Errorf("connection %d not found", id)
	}
	conn.HelloToken = helloToken
	conn.Approved = true
	return nil
}

// Bind associates a UDP address with an approved connection. A later Hello
// from a new address replaces the old binding.
func (cm *ConnectionManager) Bind(id uint32, helloToken string, addr *net.UDPAddr) error {
	cm.lock.Lock()
	defer cm.lock.Unlock()
	conn, ok := cm.connections[id]
	if !ok {
		return fmt.Errorf("connection %d not found", id)
	}
	if !conn.Approved || conn.ConnectionType != ConnectionTypeTCPUDP {
		return fmt.Errorf("connection %d cannot bind a UDP address", id)
	}
	if conn.HelloToken == "" || conn.HelloToken != helloToken {
		return fmt.Errorf("connection %d presented a bad hello token", id)
	}
	if conn.UDPAddress != nil {
		if conn.UDPAddress.String() == addr.String() {
			return nil
		}
		delete(cm.byAddress, conn.UDPAddress.String())
	}
	conn.UDPAddress = addr
	cm.byAddress[addr.String()] = id
	return nil
}

// Approved reports whether the game loop accepted the connection's login.
func (cm *ConnectionManager) Approved(id uint32) bool {
	cm.lock.RLock()
	defer cm.lock.RUnlock()
	conn, ok := cm.connections[id]
	return ok && conn.Approved
}

// UDPAddress returns the bound address, nil until a valid Hello arrived.
func (cm *ConnectionManager) UDPAddress(id uint32) *net.UDPAddr {
	cm.lock.RLock()
	defer cm.lock.RUnlock()
	conn, ok := cm.connections[id]
	if !ok {
		return nil
	}
	return conn.UDPAddress
}

// ByAddress returns the connection bound to addr, or 0.
func (cm *ConnectionManager) ByAddress(addr *net.UDPAddr) uint32 {
	cm.lock.RLock()
	defer cm.lock.RUnlock()
	return cm.byAddress[addr.String()]
}

// Remove forgets a connection and reports whether it was known.
func (cm *ConnectionManager) Remove(id uint32) (*Connection, bool) {
	cm.lock.Lock()
	defer cm.lock.Unlock()
	conn, ok := cm.connections[id]
	if !ok {
		return nil, false
	}
	if conn.UDPAddress != nil {
		delete(cm.byAddress, conn.UDPAddress.String())
	}
	delete(cm.connections, id)
	return conn, true
}

// Reachable lists approved connections that can receive datagrams, in id order.
func (cm *ConnectionManager) Reachable() []uint32 {
	cm.lock.RLock()
	defer cm.lock.RUnlock()
	ids := make([]uint32, 0, len(cm.connections))
	for id, conn := range cm.connections {
		if !conn.Approved {
			continue
		}
		if conn.ConnectionType == ConnectionTypeTCPUDP && conn.UDPAddress == nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (cm *ConnectionManager) Count() int {
	cm.lock.RLock()
	defer cm.lock.RUnlock()
	return len(cm.connections)
}

// generateUniqueID generates a unique connection ID with a maximum number of retries
// it reads from the connections, so it needs to be locked before calling
func (cm *ConnectionManager) generateUniqueID(maxRetries int) (uint32, error) {
	for attempt := 0; attempt < maxRetries; attempt++ {
		id := rand.Uint32()
		if id == 0 {
			continue
		}
		if _, ok := cm.connections[id]; !ok {
			return id, nil
		}
	}

	return 0, fmt.Errorf("failed to generate a unique ID after %d attempts", maxRetries)
}
