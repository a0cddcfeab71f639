package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/auth"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/availability"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/config"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/lib/logger"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/lib/logger/sl"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/lock"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/metrics"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/mq"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/notify"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/notify/redisrelay"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/service"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/sweeper"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/web"
)

func newServerCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the waitlist API, websocket push and expiry sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			log := logger.New(cfg.Env, cfg.LogLevel)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return runServer(ctx, log, cfg, migrateUp)
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations (or create mongo indexes) on startup")
	return cmd
}

// runServer wires every component and blocks until ctx ends. Teardown runs in
// reverse: HTTP first, then timers, the bus and its sinks, and storage last.
func runServer(ctx context.Context, log *slog.Logger, cfg config.Config, migrateUp bool) error {
	const op = "cmd.runServer"

	b, err := openBackend(ctx, log, cfg, migrateUp)
	if err != nil {
		return err
	}
	defer b.Close()

	m := metrics.New()

	var (
		locker lock.Locker = lock.NewKeyedMutex()
		sinks  []notify.Sink
		relay  *redisrelay.Relay
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("%s: redis ping: %w", op, err)
		}
		locker = lock.NewRedis(log, rdb, cfg.LockLease)
		relay = redisrelay.New(log, rdb, cfg.RedisChannel)
		sinks = append(sinks, relay)
		log.Info("redis lock and relay enabled", slog.String("addr", cfg.RedisAddr))
	}
	if cfg.AMQPURL != "" {
		s, err := mq.NewAMQPSink(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		sinks = append(sinks, s)
		log.Info("amqp sink enabled", slog.String("exchange", cfg.AMQPExchange))
	}
	if len(cfg.KafkaBrokers) > 0 {
		sinks = append(sinks, mq.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic))
		log.Info("kafka sink enabled", slog.String("topic", cfg.KafkaTopic))
	}

	bus := notify.New(log, m, notify.Options{Buffer: cfg.SubscriberBuffer, Sinks: sinks})
	defer bus.Close()

	tracker := availability.New(b.capacity)
	svc := service.New(log, b.entries, tracker, locker, bus, m, service.Options{NotifyExpiry: cfg.NotifyExpiry})
	defer svc.Close()

	if err := svc.Recover(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	if relay != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := relay.Run(ctx, bus); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("redis relay stopped", sl.Err(err))
			}
		}()
	}

	sw := &sweeper.Sweeper{
		Log:       log,
		Service:   svc,
		Interval:  cfg.SweepInterval,
		Retention: cfg.Retention,
	}
	limiter := web.NewRateLimiter(cfg.JoinRate, cfg.JoinBurst)
	wg.Add(3)
	go func() { defer wg.Done(); _ = sw.Run(ctx) }()
	go func() { defer wg.Done(); limiter.Run(ctx) }()
	go func() { defer wg.Done(); _ = m.Serve(ctx, log, cfg.MetricsAddr) }()

	tokens := auth.NewPartyTokens(cfg.PartyTokenSecret, cfg.PartyTokenTTL)
	ws := &web.Server{
		Log:      log,
		Waitlist: svc,
		Tracker:  tracker,
		Auth: &auth.Authenticator{
			Sessions: auth.NewStore(b.users, cfg.CookieHashKey, cfg.CookieBlockKey),
			Tokens:   tokens,
		},
		Tokens:      tokens,
		Bus:         bus,
		Metrics:     m,
		Limiter:     limiter,
		BaseURL:     cfg.BaseURL,
		CORSOrigins: cfg.CORSOrigins,
	}
	if err := web.Start(ctx, log, cfg.ListenAddr, ws.Routes()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	log.Info("shutting down")
	return nil
}
