// Command zoneserver is the Zone Server process (§6.4): it listens for
// UDP connections, authenticates peers against the connection-token
// contract, and drives the fixed-tick simulation described in §4.G. It
// is grounded on the teacher's cmd/gameserver/main.go boot sequence
// (config load first, slog setup, signal-driven graceful shutdown via
// an errgroup of long-running loops).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/towerwars/zoneserver/internal/bonus"
	"github.com/towerwars/zoneserver/internal/config"
	"github.com/towerwars/zoneserver/internal/connmgr"
	"github.com/towerwars/zoneserver/internal/events"
	"github.com/towerwars/zoneserver/internal/metrics"
	"github.com/towerwars/zoneserver/internal/protocol"
	"github.com/towerwars/zoneserver/internal/router"
	"github.com/towerwars/zoneserver/internal/scheduler"
	"github.com/towerwars/zoneserver/internal/session"
	"github.com/towerwars/zoneserver/internal/token"
	"github.com/towerwars/zoneserver/internal/transport"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.Path())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	level := slog.LevelInfo
	if cfg.LogLevel == "debug" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	// --- Phase one: construct transport. ---
	addr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port)
	if cfg.Server.Port == 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Server.BindAddress, protocol.DefaultPort)
	}
	tr, err := transport.Listen(addr)
	if err != nil {
		return fmt.Errorf("starting transport: %w", err)
	}
	defer tr.Close()
	slog.Info("zone server listening", "addr", tr.Addr())

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.ConnectionStrings.Redis})
	defer redisClient.Close()

	lookupTimeout, err := time.ParseDuration(cfg.Bonus.LookupTimeout)
	if err != nil {
		lookupTimeout = bonus.DefaultTimeout
	}
	bonusProvider, err := buildBonusProvider(cfg, lookupTimeout)
	if err != nil {
		return fmt.Errorf("constructing bonus provider: %w", err)
	}

	publisher := events.NewPublisher(redisClient, 0)
	defer publisher.Close()

	reg := metrics.NewRegistry()

	// --- Phase two: construct session manager, handing it only the
	// narrow capabilities it needs (send/broadcast, publish, bonus
	// resolution) rather than the transport or Redis client themselves
	// (§9 two-phase wiring note). ---
	conns := connmgr.NewManager()
	sessions := session.NewManager(tr, publisher, bonusProvider, conns)

	validator := token.NewValidator(redisClient, token.DefaultTimeout)
	rtr := router.New(tr, validator, conns, sessions)

	sched := scheduler.New(tr, sessions, rtr, reg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	if cfg.Metrics.Enabled {
		g.Go(func() error { return reg.Serve(gctx, cfg.Metrics.BindAddress) })
		g.Go(func() error { return watchPublisher(gctx, reg, publisher) })
	}

	err = g.Wait()
	// End every in-flight session so match.ended{ServerShutdown} reaches the
	// stream before the deferred publisher drain.
	sessions.Shutdown()
	if err != nil {
		return fmt.Errorf("zone server: %w", err)
	}
	slog.Info("zone server shut down cleanly")
	return nil
}

// watchPublisher mirrors the event publisher's queue depth and drop count
// into the Prometheus registry once a second.
func watchPublisher(ctx context.Context, reg *metrics.Registry, pub *events.Publisher) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	var lastDropped uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			reg.EventQueueDepth.Set(float64(pub.QueueDepth()))
			dropped := pub.Dropped()
			reg.EventsDropped.Add(float64(dropped - lastDropped))
			lastDropped = dropped
		}
	}
}

// buildBonusProvider selects the tower-bonus provider per §4.E: either a
// local in-process replica or a remote HTTP call to the progression
// service, per cfg.Bonus.Provider.
func buildBonusProvider(cfg config.ZoneServer, timeout time.Duration) (bonus.Provider, error) {
	switch cfg.Bonus.Provider {
	case "", "local":
		return bonus.NewLocalProvider(), nil
	case "remote":
		if cfg.AuthService.URL == "" {
			return nil, fmt.Errorf("bonus.provider=remote requires auth_service.url")
		}
		return bonus.NewRemoteProvider(cfg.AuthService.URL, timeout), nil
	default:
		return nil, fmt.Errorf("unknown bonus provider %q", cfg.Bonus.Provider)
	}
}
