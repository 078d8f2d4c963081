package database

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_SQLiteMigrates(t *testing.T) {
	db, err := New(Config{Driver: DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	defer Close(db)

	assert.True(t, db.Migrator().HasTable("users"))
	assert.True(t, db.Migrator().HasTable("messages"))
	assert.NoError(t, Ping(context.Background(), db))
}

func TestNew_UnknownDriver(t *testing.T) {
	_, err := New(Config{Driver: "mysql", DSN: "x"})
	assert.Error(t, err)
}

func TestConnect_GivesUp(t *testing.T) {
	_, err := Connect(context.Background(),
		Config{Driver: "mysql"},
		RetryPolicy{Min: time.Millisecond, Max: 2 * time.Millisecond, MaxAttempts: 3},
		zap.NewNop())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "3 attempts")
}

func TestConnect_StopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Connect(ctx,
		Config{Driver: "mysql"},
		RetryPolicy{Min: time.Second, Max: time.Second},
		zap.NewNop())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConnect_SQLite(t *testing.T) {
	db, err := Connect(context.Background(),
		Config{Driver: DriverSQLite, DSN: ":memory:"},
		RetryPolicy{Min: time.Millisecond, Max: time.Millisecond},
		zap.NewNop())
	require.NoError(t, err)
	assert.NoError(t, Close(db))
}

func TestPing_NilDB(t *testing.T) {
	assert.Error(t, Ping(context.Background(), nil))
}

func TestNewRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedis(context.Background(), "redis://"+mr.Addr()+"/0", zap.NewNop())
	require.NoError(t, err)
	defer client.Close()

	assert.NoError(t, client.Ping(context.Background()).Err())
}

func TestNewRedis_BadURL(t *testing.T) {
	_, err := NewRedis(context.Background(), "not-a-url", zap.NewNop())
	assert.Error(t, err)
}
