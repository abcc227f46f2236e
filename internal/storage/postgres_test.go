package storage

import (
	"context"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gas-price-alerts/internal/config"
)

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("GASWATCH_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("GASWATCH_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	s, err := Open(ctx, config.StorageConfig{Driver: config.DriverPostgres, DSN: dsn}, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.SetThreshold(ctx, 44)
	require.NoError(t, err)
	rec, err := s.Edit(ctx, func(p *Prefs) error {
		p.RecordReading(40, []int{40, 41}, fixedNow)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 44, rec.Settings.Threshold)
	assert.Equal(t, 40, rec.Readings.LastGas)

	unlock, acquired, err := s.TryAdvisoryLock(ctx, 4242)
	require.NoError(t, err)
	require.True(t, acquired)
	unlock()
}

func TestNewPoolRequiresDSN(t *testing.T) {
	_, err := NewPool(context.Background(), config.StorageConfig{})
	assert.Error(t, err)
}
