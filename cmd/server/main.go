package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cbodonnell/tether/pkg/api"
	authproviders "github.com/cbodonnell/tether/pkg/auth/providers"
	"github.com/cbodonnell/tether/pkg/config"
	"github.com/cbodonnell/tether/pkg/game"
	"github.com/cbodonnell/tether/pkg/log"
	"github.com/cbodonnell/tether/pkg/network"
	"github.com/cbodonnell/tether/pkg/packet"
	"github.com/cbodonnell/tether/pkg/queue"
	"github.com/cbodonnell/tether/pkg/repositories"
	"github.com/cbodonnell/tether/pkg/state"
	"github.com/cbodonnell/tether/pkg/version"
	"github.com/cbodonnell/tether/pkg/workers"
	"golang.org/x/sync/errgroup"
)

const (
	queueSize      = 10000
	recordChanSize = 256
	shutdownGrace  = 5 * time.Second
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	tcpPort := flag.Int("tcp-port", 0, "TCP port to listen on")
	udpPort := flag.Int("udp-port", 0, "UDP port to listen on")
	wsPort := flag.Int("ws-port", -1, "WebSocket port to listen on, 0 to disable")
	apiPort := flag.Int("api-port", -1, "API port to listen on, 0 to disable")
	tickRate := flag.Int("tick-rate", 0, "Simulation rate in Hz")
	logLevel := flag.String("log-level", "", "Log level")
	respawn := flag.Bool("respawn", true, "Enable the respawn shuttle")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	if *tcpPort != 0 {
		cfg.Server.TCPPort = *tcpPort
	}
	if *udpPort != 0 {
		cfg.Server.UDPPort = *udpPort
	}
	if *wsPort >= 0 {
		cfg.Server.WSPort = *wsPort
	}
	if *apiPort >= 0 {
		cfg.Server.APIPort = *apiPort
	}
	if *tickRate != 0 {
		cfg.Server.TickRate = *tickRate
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	cfg.Respawn.Enabled = cfg.Respawn.Enabled && *respawn
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid config: %v", err))
	}

	parsedLogLevel, err := log.ParseLogLevel(cfg.Log.Level)
	if err != nil {
		panic(fmt.Sprintf("Failed to parse log level: %v", err))
	}
	parsedFormat, err := log.ParseFormat(cfg.Log.Format)
	if err != nil {
		panic(fmt.Sprintf("Failed to parse log format: %v", err))
	}
	log.SetDefaultLogger(log.New(os.Stdout, parsedFormat, parsedLogLevel))
	log.Info("Log level set to %s", parsedLogLevel)
	log.Info("Starting server version %s", version.Get())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error("Server stopped: %v", err)
		os.Exit(1)
	}
	log.Info("Server stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	authProvider, err := newAuthProvider(ctx, cfg)
	if err != nil {
		return err
	}
	repository, err := newRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer repository.Close(context.Background())

	bans, err := repository.ListBans(ctx)
	if err != nil {
		return fmt.Errorf("failed to load bans: %v", err)
	}
	log.Info("Loaded %d bans", len(bans))

	assembler, err := packet.NewAssembler(packet.NewAssemblerOptions{
		MTU:                  cfg.Network.MTU,
		CompressionThreshold: cfg.Network.CompressionThreshold,
		MaxDatagrams:         cfg.Network.MaxDatagramsPerSend,
	})
	if err != nil {
		return fmt.Errorf("failed to create packet assembler: %v", err)
	}

	clientMessageQueue := queue.NewInMemoryQueue(queueSize)
	connections := network.NewConnectionManager()
	networkManager := network.NewNetworkManager(network.NewNetworkManagerOptions{
		AuthProvider: authProvider,
		Connections:  connections,
		Queue:        clientMessageQueue,
		Assembler:    assembler,
		TCPPort:      cfg.Server.TCPPort,
		UDPPort:      cfg.Server.UDPPort,
		WSPort:       cfg.Server.WSPort,
	})

	latencyWorker := workers.NewLatencyProbeWorker(workers.NewLatencyProbeWorkerOptions{
		Transport:   networkManager,
		Connections: connections,
		Assembler:   assembler,
		Interval:    cfg.Network.PingInterval,
	})
	networkManager.SetPongHandler(latencyWorker.RecordPong)

	recordChan := make(chan workers.RecordRequest, recordChanSize)
	recordWorker := workers.NewRecordWorker(workers.NewRecordWorkerOptions{
		Repository: repository,
		RecordChan: recordChan,
	})

	statusManager := state.NewInMemoryStatusManager()
	gameManager, err := game.NewGameManager(game.NewGameManagerOptions{
		Config:        cfg,
		Transport:     networkManager,
		Queue:         clientMessageQueue,
		Assembler:     assembler,
		Latency:       latencyWorker,
		StatusManager: statusManager,
		RecordChan:    recordChan,
		Admins:        cfg.Auth.Admins,
		Bans:          bans,
	})
	if err != nil {
		return fmt.Errorf("failed to create game manager: %v", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return networkManager.Start(ctx)
	})
	g.Go(func() error {
		latencyWorker.Start(ctx)
		return nil
	})
	g.Go(func() error {
		recordWorker.Start(ctx)
		return nil
	})
	g.Go(func() error {
		log.Info("Starting game manager")
		return gameManager.Start(ctx)
	})
	if cfg.Server.APIPort != 0 {
		apiServer := api.NewAPIServer(api.NewAPIServerOptions{
			Port:          cfg.Server.APIPort,
			AuthProvider:  authProvider,
			Repository:    repository,
			StatusManager: statusManager,
			Admins:        cfg.Auth.Admins,
		})
		g.Go(apiServer.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			return apiServer.Stop(shutdownCtx)
		})
	}
	return g.Wait()
}

func newAuthProvider(ctx context.Context, cfg *config.Config) (authproviders.AuthProvider, error) {
	switch cfg.Auth.Provider {
	case "firebase":
		p, err := authproviders.NewFirebaseAuthProvider(ctx, cfg.Auth.FirebaseProjectID, cfg.Auth.FirebaseAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create Firebase auth provider: %v", err)
		}
		return p, nil
	case "static", "":
		if cfg.Auth.StaticToken == "" {
			log.Warn("Static auth without a secret accepts any token")
		}
		return authproviders.NewStaticAuthProvider(cfg.Auth.StaticToken), nil
	default:
		return nil, fmt.Errorf("unknown auth provider %s", cfg.Auth.Provider)
	}
}

func newRepository(ctx context.Context, cfg *config.Config) (repositories.Repository, error) {
	switch cfg.Database.Driver {
	case "sqlite3":
		r, err := repositories.NewSQLiteRepository(ctx, cfg.Database.URL, filepath.Join(cfg.Database.Migrations, "sqlite"))
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite repository: %v", err)
		}
		return r, nil
	case "postgres":
		r, err := repositories.NewPostgresRepository(ctx, cfg.Database.URL, filepath.Join(cfg.Database.Migrations, "postgres"))
		if err != nil {
			return nil, fmt.Errorf("failed to create Postgres repository: %v", err)
		}
		return r, nil
	case "":
		log.Warn("No database configured, records are kept in memory")
		return repositories.NewInMemoryRepository(), nil
	default:
		return nil, fmt.Errorf("unknown database driver %s", cfg.Database.Driver)
	}
}
