package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	MinTickRate = 10
	MaxTickRate = 120
)

// Config is the server configuration. Defaults are applied first, then the
// optional YAML file, then TETHER_* environment variables. Command-line
// flags in cmd/server override all of them.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Network  NetworkConfig  `yaml:"network"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Events   EventsConfig   `yaml:"events"`
	Respawn  RespawnConfig  `yaml:"respawn"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	TCPPort int `yaml:"tcpPort"`
	UDPPort int `yaml:"udpPort"`
	WSPort  int `yaml:"wsPort"`
	APIPort int `yaml:"apiPort"`
	// TickRate is the simulation rate in Hz.
	TickRate int `yaml:"tickRate"`
	// SendRate is how many times per second game datagrams are assembled.
	SendRate    int           `yaml:"sendRate"`
	MaxSessions int           `yaml:"maxSessions"`
	GracePeriod time.Duration `yaml:"gracePeriod"`
	// InputRate limits game datagrams per second accepted from one session.
	InputRate  float64 `yaml:"inputRate"`
	InputBurst int     `yaml:"inputBurst"`
}

type NetworkConfig struct {
	// MTU is the largest datagram the assembler will emit, in bytes.
	MTU                  int           `yaml:"mtu"`
	CompressionThreshold int           `yaml:"compressionThreshold"`
	MaxDatagramsPerSend  int           `yaml:"maxDatagramsPerSend"`
	PingInterval         time.Duration `yaml:"pingInterval"`
}

type SnapshotConfig struct {
	NearInterval time.Duration `yaml:"nearInterval"`
	FarInterval  time.Duration `yaml:"farInterval"`
	NearDistance float64       `yaml:"nearDistance"`
	FarDistance  float64       `yaml:"farDistance"`
	// CutoffDistance beyond which an entity is not sent at all.
	CutoffDistance float64 `yaml:"cutoffDistance"`
	PositionRange  float32 `yaml:"positionRange"`
	MaxVelocity    float32 `yaml:"maxVelocity"`
}

type EventsConfig struct {
	HistoryCapacity    int           `yaml:"historyCapacity"`
	MidRoundSyncBase   time.Duration `yaml:"midRoundSyncBase"`
	MidRoundSyncPerEvt time.Duration `yaml:"midRoundSyncPerEvent"`
	MinResendInterval  time.Duration `yaml:"minResendInterval"`
}

type RespawnConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Ratio         float64       `yaml:"ratio"`
	Countdown     time.Duration `yaml:"countdown"`
	MaxTransport  time.Duration `yaml:"maxTransportTime"`
	ReturnTimeout time.Duration `yaml:"returnTimeout"`
	ShuttleSpeed  float64       `yaml:"shuttleSpeed"`
}

type DatabaseConfig struct {
	// Driver is "sqlite3", "postgres" or "" for no persistence.
	Driver     string `yaml:"driver"`
	URL        string `yaml:"url"`
	Migrations string `yaml:"migrations"`
}

type AuthConfig struct {
	// Provider is "static" or "firebase".
	Provider          string `yaml:"provider"`
	FirebaseProjectID string `yaml:"firebaseProjectID"`
	FirebaseAPIKey    string `yaml:"firebaseAPIKey"`
	StaticToken       string `yaml:"staticToken"`
	// Admins are user ids granted every in-game permission and access to
	// the record endpoints of the API.
	Admins []string `yaml:"admins"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			TCPPort:     8888,
			UDPPort:     8889,
			WSPort:      8890,
			APIPort:     9090,
			TickRate:    60,
			SendRate:    20,
			MaxSessions: 32,
			GracePeriod: 30 * time.Second,
			InputRate:   120,
			InputBurst:  240,
		},
		Network: NetworkConfig{
			MTU:                  1200,
			CompressionThreshold: 128,
			MaxDatagramsPerSend:  4,
			PingInterval:         time.Second,
		},
		Snapshot: SnapshotConfig{
			NearInterval:   50 * time.Millisecond,
			FarInterval:    500 * time.Millisecond,
			NearDistance:   500,
			FarDistance:    3000,
			CutoffDistance: 4000,
			PositionRange:  10000,
			MaxVelocity:    64,
		},
		Events: EventsConfig{
			HistoryCapacity:    4096,
			MidRoundSyncBase:   10 * time.Second,
			MidRoundSyncPerEvt: 100 * time.Millisecond,
			MinResendInterval:  100 * time.Millisecond,
		},
		Respawn: RespawnConfig{
			Enabled:       true,
			Ratio:         0.5,
			Countdown:     10 * time.Second,
			MaxTransport:  3 * time.Minute,
			ReturnTimeout: 20 * time.Second,
			ShuttleSpeed:  40,
		},
		Database: DatabaseConfig{
			Driver:     "sqlite3",
			URL:        "tether.db",
			Migrations: "migrations",
		},
		Auth: AuthConfig{
			Provider: "static",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the defaults, the YAML file at path (skipped when path is
// empty) and the environment, then validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %v", path, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %v", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	ints := map[string]*int{
		"TETHER_TCP_PORT":     &c.Server.TCPPort,
		"TETHER_UDP_PORT":     &c.Server.UDPPort,
		"TETHER_WS_PORT":      &c.Server.WSPort,
		"TETHER_API_PORT":     &c.Server.APIPort,
		"TETHER_TICK_RATE":    &c.Server.TickRate,
		"TETHER_SEND_RATE":    &c.Server.SendRate,
		"TETHER_MAX_SESSIONS": &c.Server.MaxSessions,
		"TETHER_MTU":          &c.Network.MTU,
	}
	for key, dst := range ints {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %v", key, err)
		}
		*dst = n
	}
	strs := map[string]*string{
		"TETHER_LOG_LEVEL":       &c.Log.Level,
		"TETHER_LOG_FORMAT":      &c.Log.Format,
		"TETHER_AUTH_PROVIDER":   &c.Auth.Provider,
		"TETHER_STATIC_TOKEN":    &c.Auth.StaticToken,
		"FIREBASE_PROJECT_ID":    &c.Auth.FirebaseProjectID,
		"FIREBASE_API_KEY":       &c.Auth.FirebaseAPIKey,
		"TETHER_DATABASE_DRIVER": &c.Database.Driver,
		"DATABASE_URL":           &c.Database.URL,
		"TETHER_MIGRATIONS":      &c.Database.Migrations,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	if v, ok := lookup("TETHER_ADMINS"); ok {
		c.Auth.Admins = splitList(v)
	}
	if v, ok := lookup("TETHER_RESPAWN_RATIO"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("TETHER_RESPAWN_RATIO: %v", err)
		}
		c.Respawn.Ratio = f
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate clamps rates into their sane ranges and rejects configurations
// the packet assembler could never satisfy.
func (c *Config) Validate() error {
	if c.Server.TickRate < MinTickRate {
		c.Server.TickRate = MinTickRate
	} else if c.Server.TickRate > MaxTickRate {
		c.Server.TickRate = MaxTickRate
	}
	if c.Server.SendRate <= 0 || c.Server.SendRate > c.Server.TickRate {
		c.Server.SendRate = c.Server.TickRate
	}
	if c.Server.MaxSessions < 1 || c.Server.MaxSessions > 255 {
		return fmt.Errorf("max sessions must be in [1, 255], got %d", c.Server.MaxSessions)
	}
	if c.Network.MTU < 256 {
		return fmt.Errorf("mtu must be at least 256 bytes, got %d", c.Network.MTU)
	}
	if c.Network.MaxDatagramsPerSend < 1 {
		c.Network.MaxDatagramsPerSend = 1
	}
	if c.Snapshot.CutoffDistance < c.Snapshot.FarDistance {
		return fmt.Errorf("snapshot cutoff distance %.0f is below far distance %.0f", c.Snapshot.CutoffDistance, c.Snapshot.FarDistance)
	}
	if c.Respawn.Ratio < 0 || c.Respawn.Ratio > 1 {
		return fmt.Errorf("respawn ratio must be in [0, 1], got %f", c.Respawn.Ratio)
	}
	if c.Events.HistoryCapacity < 64 || c.Events.HistoryCapacity > 16384 {
		return fmt.Errorf("event history capacity must be in [64, 16384], got %d", c.Events.HistoryCapacity)
	}
	return nil
}

// TickInterval returns the simulation step duration.
func (c *Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.Server.TickRate)
}

// SendInterval returns the interval between datagram assemblies.
func (c *Config) SendInterval() time.Duration {
	return time.Second / time.Duration(c.Server.SendRate)
}
