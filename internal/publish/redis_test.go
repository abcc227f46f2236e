package publish

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gas-price-alerts/internal/config"
	"gas-price-alerts/internal/storage"
)

func TestEncodeDecode(t *testing.T) {
	rec := storage.Record{
		Settings: storage.Settings{NotificationsEnabled: true, Threshold: 70, ThresholdSet: true},
		Readings: storage.Readings{LastGas: 65, LastUpdateEpochMs: 1709294400000, RecentGasValues: []int{70, 68, 65}},
	}
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("CST", 8*3600))

	payload, err := Encode(rec, at)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"gas_price_threshold":70`)
	assert.Contains(t, string(payload), `"recent_gas_values":[70,68,65]`)

	env, err := Decode(payload)
	require.NoError(t, err)
	assert.NotEmpty(t, env.ID)
	assert.True(t, env.PublishedAt.Equal(at))
	assert.Equal(t, time.UTC, env.PublishedAt.Location())
	assert.Equal(t, rec, env.Record)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("not json"))
	assert.Error(t, err)
}

func TestNewPublisherRequiresAddr(t *testing.T) {
	_, err := NewPublisher(context.Background(), config.RedisConfig{Channel: "gaswatch:record"}, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewSubscriber(context.Background(), config.RedisConfig{Channel: "gaswatch:record"}, zerolog.Nop())
	assert.Error(t, err)
}
