package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/auth"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/availability"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/db"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/lib/logger/sl"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/migrate"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/storage/storetest"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/waitlist"
)

func openTestDB(t *testing.T) *db.DB {
	t.Helper()
	url := os.Getenv("BYTENOSH_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("BYTENOSH_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	d, err := db.Open(ctx, url)
	require.NoError(t, err)
	t.Cleanup(d.Close)
	require.NoError(t, d.Ping(ctx))
	require.NoError(t, migrate.Up(ctx, sl.Discard(), d))
	return d
}

func TestEntries(t *testing.T) {
	d := openTestDB(t)
	storetest.RunEntries(t, func(t *testing.T) waitlist.Store { return NewEntries(d) })
}

func TestCapacity(t *testing.T) {
	d := openTestDB(t)
	storetest.RunCapacity(t, func(t *testing.T) availability.CapacityStore { return NewCapacity(d) })
}

func TestUsers(t *testing.T) {
	d := openTestDB(t)
	storetest.RunUsers(t, func(t *testing.T) auth.Users { return auth.NewPGUsers(d) })
}
