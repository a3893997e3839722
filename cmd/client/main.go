package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cbodonnell/tether/client/auth"
	"github.com/cbodonnell/tether/client/network"
	"github.com/cbodonnell/tether/client/session"
	authproviders "github.com/cbodonnell/tether/pkg/auth/providers"
	"github.com/cbodonnell/tether/pkg/log"
	"github.com/cbodonnell/tether/pkg/messages"
	"github.com/cbodonnell/tether/pkg/packet"
	"github.com/cbodonnell/tether/pkg/prediction"
	"github.com/cbodonnell/tether/pkg/queue"
	"github.com/cbodonnell/tether/pkg/snapshot"
	"github.com/cbodonnell/tether/pkg/version"
)

// bot is a headless client that wanders around with random input.
type bot struct {
	network *network.NetworkManager
	session *session.Session
	rng     *rand.Rand

	keys        prediction.InputFlags
	aim         uint16
	nextChange  time.Time
	chatEvery   time.Duration
	nextChat    time.Time
	lastReport  time.Time
	datagramsIn int
}

func main() {
	serverHostname := flag.String("server-hostname", network.DefaultServerHostname, "Server hostname")
	serverTCPPort := flag.Int("server-tcp-port", network.DefaultServerTCPPort, "Server TCP port")
	serverUDPPort := flag.Int("server-udp-port", network.DefaultServerUDPPort, "Server UDP port")
	wsURL := flag.String("ws-url", "", "Connect over WebSocket instead of TCP and UDP")
	mtu := flag.Int("mtu", 1200, "Largest datagram in bytes, must match the server")
	name := flag.String("name", "", "Player name, random when empty")
	uid := flag.String("uid", "", "User id for static auth, defaults to the name")
	secret := flag.String("secret", "", "Static auth secret")
	firebaseAPIKey := flag.String("firebase-api-key", "", "Sign in with Firebase using this API key")
	email := flag.String("email", "", "Firebase account email")
	password := flag.String("password", "", "Firebase account password")
	chatEvery := flag.Duration("chat-every", 0, "Say something at this interval, 0 to stay quiet")
	duration := flag.Duration("duration", 0, "Disconnect after this long, 0 to run until interrupted")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	parsedLogLevel, err := log.ParseLogLevel(*logLevel)
	if err != nil {
		panic(fmt.Sprintf("Failed to parse log level: %v", err))
	}
	log.SetDefaultLogger(log.New(os.Stdout, log.FormatText, parsedLogLevel))
	log.Info("Starting client version %s", version.Get())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	if *name == "" {
		*name = fmt.Sprintf("bot%03d", rng.Intn(1000))
	}
	token, err := loginToken(ctx, *name, *uid, *secret, *firebaseAPIKey, *email, *password)
	if err != nil {
		panic(fmt.Sprintf("Failed to get login token: %v", err))
	}

	assembler, err := packet.NewAssembler(packet.NewAssemblerOptions{MTU: *mtu})
	if err != nil {
		panic(fmt.Sprintf("Failed to create packet assembler: %v", err))
	}
	networkManager := network.NewNetworkManager(network.NewNetworkManagerOptions{
		Queue:          queue.NewInMemoryQueue(1024),
		Assembler:      assembler,
		ServerHostname: *serverHostname,
		TCPPort:        *serverTCPPort,
		UDPPort:        *serverUDPPort,
		WSURL:          *wsURL,
	})
	result, err := networkManager.Start(&messages.ClientLogin{Name: *name, Token: token})
	if err != nil {
		if network.IsLoginFailed(err) {
			log.Error("%v", err)
			os.Exit(1)
		}
		panic(fmt.Sprintf("Failed to start network manager: %v", err))
	}
	defer networkManager.Stop()
	log.Info("Joined as session %d at %d Hz", result.SessionID, result.TickRate)

	b := &bot{
		network: networkManager,
		session: session.NewSession(session.NewSessionOptions{
			SessionID:     result.SessionID,
			TickRate:      result.TickRate,
			Assembler:     assembler,
			Quantization:  snapshot.DefaultQuantization,
			Tolerance:     0.5,
			SnapThreshold: 64,
			BlendRate:     0.2,
		}),
		rng:       rng,
		chatEvery: *chatEvery,
	}
	if err := b.run(ctx, time.Second/time.Duration(result.TickRate)); err != nil {
		log.Error("%v", err)
	}
}

func loginToken(ctx context.Context, name, uid, secret, apiKey, email, password string) (string, error) {
	if apiKey != "" {
		c := auth.NewFirebaseClient(auth.NewFirebaseClientOptions{APIKey: apiKey})
		resp, err := c.SignIn(ctx, email, password)
		if err != nil {
			return "", err
		}
		return resp.IDToken, nil
	}
	if uid == "" {
		uid = name
	}
	return authproviders.StaticToken(uid, secret), nil
}

func (b *bot) run(ctx context.Context, tickInterval time.Duration) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if err := b.tick(now); err != nil {
				return err
			}
		}
	}
}

func (b *bot) tick(now time.Time) error {
	items, err := b.network.ServerMessageQueue().ReadAllMessages()
	if err != nil {
		return fmt.Errorf("failed to read server messages: %v", err)
	}
	for _, item := range items {
		switch it := item.(type) {
		case *network.ServerDatagram:
			b.datagramsIn++
			if err := b.session.HandleDatagram(it.Data, it.ReceivedAt); err != nil {
				log.Warn("Failed to handle datagram: %v", err)
			}
		case *network.Disconnected:
			return fmt.Errorf("disconnected by server: %s", it.Reason)
		default:
			log.Error("Unhandled queue item type: %T", item)
		}
	}

	b.wander(now)
	if err := b.network.SendDatagram(b.session.Tick(b.keys, b.aim)); err != nil {
		log.Debug("Failed to send datagram: %v", err)
	}

	if now.Sub(b.lastReport) >= time.Second {
		b.lastReport = now
		b.session.Forget()
		b.report()
	}
	return nil
}

// wander picks new random keys every few hundred milliseconds.
func (b *bot) wander(now time.Time) {
	if now.After(b.nextChange) {
		b.keys = 0
		switch b.rng.Intn(3) {
		case 0:
			b.keys.Set(prediction.InputLeft, true)
		case 1:
			b.keys.Set(prediction.InputRight, true)
		}
		b.keys.Set(prediction.InputJump, b.rng.Intn(4) == 0)
		b.aim = uint16(b.rng.Intn(1 << 16))
		b.nextChange = now.Add(time.Duration(200+b.rng.Intn(800)) * time.Millisecond)
	}
	if b.chatEvery > 0 && now.After(b.nextChat) {
		b.session.Say(fmt.Sprintf("beep %d", b.rng.Intn(100)))
		b.nextChat = now.Add(b.chatEvery)
	}
}

func (b *bot) report() {
	_, ping := b.network.ServerTime()
	own, ok := b.session.OwnState()
	if !ok {
		log.Info("Waiting for character (syncing=%t, datagrams=%d, ping=%.0fms)", b.session.Syncing(), b.datagramsIn, ping)
		return
	}
	log.Info("At (%.1f, %.1f), %d characters known, event %d, ping %.0fms",
		own.Position.X, own.Position.Y, len(b.session.Mirror().Characters()), b.session.LastEventID(), ping)
}
