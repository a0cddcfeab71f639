package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/auth"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/availability"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/config"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/db"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/lib/logger/sl"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/migrate"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/storage/memory"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/storage/mongodb"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/storage/postgres"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/storage/sealed"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/waitlist"
)

// backend is the storage selected by STORAGE_BACKEND.
type backend struct {
	entries  waitlist.Store
	capacity availability.CapacityStore
	users    auth.Users
	closers  []func()
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openBackend(ctx context.Context, log *slog.Logger, cfg config.Config, migrateUp bool) (*backend, error) {
	const op = "cmd.openBackend"
	log = log.With(slog.String("op", op), slog.String("backend", cfg.StorageBackend))

	b := &backend{}
	switch cfg.StorageBackend {
	case config.BackendMemory:
		log.Warn("using in-memory storage; nothing survives a restart")
		b.entries = memory.NewEntries()
		b.capacity = memory.NewCapacity()
		b.users = auth.NewMemoryUsers()

	case config.BackendPostgres:
		d, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		b.closers = append(b.closers, d.Close)
		if err := d.Ping(ctx); err != nil {
			b.Close()
			return nil, fmt.Errorf("%s: db ping: %w", op, err)
		}
		if migrateUp {
			if err := migrate.Up(ctx, log, d); err != nil {
				b.Close()
				return nil, fmt.Errorf("%s: %w", op, err)
			}
		}
		b.entries = postgres.NewEntries(d)
		b.capacity = postgres.NewCapacity(d)
		b.users = auth.NewPGUsers(d)

	case config.BackendMongo:
		s, err := mongodb.Open(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		b.closers = append(b.closers, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.Close(ctx); err != nil {
				log.Warn("mongo disconnect failed", sl.Err(err))
			}
		})
		if migrateUp {
			if err := s.EnsureIndexes(ctx); err != nil {
				b.Close()
				return nil, fmt.Errorf("%s: %w", op, err)
			}
		}
		b.entries = s.Entries()
		b.capacity = s.Capacity()
		b.users = s.Users()

	default:
		return nil, fmt.Errorf("%s: unknown backend %q", op, cfg.StorageBackend)
	}

	if len(cfg.ContactKey) > 0 {
		st, err := sealed.New(b.entries, cfg.ContactKey)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		b.entries = st
		log.Info("party contacts are sealed at rest")
	}

	log.Info("storage ready")
	return b, nil
}
