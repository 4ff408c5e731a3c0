package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/workaholi/focusroom/internal/config"
	"github.com/workaholi/focusroom/internal/mock"
	"github.com/workaholi/focusroom/internal/ping"
	"github.com/workaholi/focusroom/internal/presence"
	"github.com/workaholi/focusroom/internal/record"
	"github.com/workaholi/focusroom/internal/record/natskv"
	"github.com/workaholi/focusroom/internal/session"
	"github.com/workaholi/focusroom/internal/telemetry"
	"github.com/workaholi/focusroom/internal/ws"
)

func main() {
	mockMode := flag.Bool("mock", false, "Seat simulated participants in the newest session")
	configPath := flag.String("config", "focusd.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	genToken := flag.Bool("gen-token", false, "Print a fresh auth token and exit")
	flag.Parse()

	if *genToken {
		token, err := config.GenerateToken()
		if err != nil {
			log.Fatalf("Failed to generate token: %v", err)
		}
		fmt.Println(token)
		return
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if cfg.Server.AuthToken == "" {
		cfg.Server.AuthToken = os.Getenv("FOCUS_TOKEN")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, "focusd")
	if err != nil {
		log.Fatalf("Failed to start telemetry: %v", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			log.Printf("Telemetry shutdown: %v", err)
		}
	}()

	base, closeStore, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.Store.Backend, err)
	}
	defer closeStore()

	counts := func() map[record.Type]int {
		c, err := ws.Counts(context.Background(), base)
		if err != nil {
			log.Printf("Counting records: %v", err)
		}
		return c
	}
	broadcaster := ws.NewBroadcaster(counts, cfg.Broadcast.Throttle, cfg.Broadcast.SnapshotInterval, cfg.Broadcast.MaxClients)
	defer broadcaster.Stop()

	store := record.Notifying(record.Instrument(base), broadcaster.Notify)

	reg := session.NewRegistry(store,
		session.WithMaxUsers(cfg.Session.MaxUsers),
		session.WithDuration(cfg.Session.Duration))
	tracker := presence.NewTracker(store, reg, presence.WithThreshold(cfg.Session.StaleThreshold))
	go sweepLoop(ctx, tracker, cfg.Session.StaleThreshold)

	if *mockMode {
		log.Printf("Starting in mock mode with %d bots", cfg.Mock.Bots)
		pings := ping.NewChannel(store, ping.WithWindows(cfg.Ping.DisplayWindow, cfg.Ping.Retention))
		gen := mock.NewGenerator(reg, tracker, pings, cfg.Mock.Bots, cfg.Mock.Interval)
		if err := gen.Start(ctx); err != nil {
			log.Fatalf("Failed to start bots: %v", err)
		}
		defer func() { <-gen.Done() }()
	}

	if cfg.Server.AuthToken == "" {
		log.Println("No auth token configured; API is open to local origins")
	}
	server := ws.NewServer(store, reg, broadcaster, cfg.Server.AllowedOrigins, cfg.Server.AuthToken)

	if err := ws.ListenAndServe(ctx, cfg.Addr(), server.Handler()); err != nil {
		log.Printf("Server error: %v", err)
		stop()
		return
	}
	log.Println("Shutting down...")
}

func openStore(cfg *config.Config) (record.Store, func(), error) {
	switch cfg.Store.Backend {
	case config.BackendNATS:
		s, err := natskv.Open(cfg.Store.NATS.URL, cfg.Store.NATS.Bucket)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("Using NATS key-value bucket %s at %s", cfg.Store.NATS.Bucket, cfg.Store.NATS.URL)
		return s, func() {
			if err := s.Close(); err != nil {
				log.Printf("Closing NATS store: %v", err)
			}
		}, nil
	default:
		return record.NewMemoryStore(), func() {}, nil
	}
}

// sweepLoop evicts silent participants even when no client is reading, so
// abandoned sessions are reclaimed.
func sweepLoop(ctx context.Context, tracker *presence.Tracker, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := tracker.SweepStale(ctx); err != nil {
				log.Printf("[sweep] %v", err)
			}
		}
	}
}
