package storage

import (
	"encoding/json"
	"strconv"
	"time"
)

// Persisted preference keys.
const (
	KeyNotificationsEnabled = "notifications_enabled"
	KeyThreshold            = "gas_price_threshold"
	KeyLastGas              = "last_gas"
	KeyLastUpdate           = "last_update_epoch_ms"
	KeyHasNotified          = "has_notified"
	KeyRecentGasValues      = "recent_gas_values"
)

const (
	// DefaultThreshold applies when the user never moved the threshold.
	DefaultThreshold = 70
	// MaxThreshold is the highest accepted alert threshold in gwei.
	MaxThreshold = 500
	// MaxRecentValues bounds the persisted history window.
	MaxRecentValues = 50
	// NoReading marks a record that has never been updated by a cycle.
	NoReading = -1
)

// Settings are user controlled and edited through the UI surface.
type Settings struct {
	NotificationsEnabled bool `json:"notifications_enabled"`
	Threshold            int  `json:"gas_price_threshold"`
	ThresholdSet         bool `json:"threshold_set"`
}

// Readings are written by the update cycle only.
type Readings struct {
	LastGas           int   `json:"last_gas"`
	LastUpdateEpochMs int64 `json:"last_update_epoch_ms"`
	RecentGasValues   []int `json:"recent_gas_values"`
	HasNotified       bool  `json:"has_notified"`
}

// LastUpdate returns the last update timestamp as time.
func (r Readings) LastUpdate() time.Time {
	return time.UnixMilli(r.LastUpdateEpochMs)
}

// Record is an immutable snapshot of every persisted field.
type Record struct {
	Settings Settings `json:"settings"`
	Readings Readings `json:"readings"`
}

func defaultRecentValues() []int {
	return make([]int, MaxRecentValues)
}

func decodeRecord(values map[string]string, now time.Time) Record {
	threshold, thresholdSet := parseInt(values, KeyThreshold)
	if !thresholdSet {
		threshold = DefaultThreshold
	}

	lastGas, ok := parseInt(values, KeyLastGas)
	if !ok {
		lastGas = NoReading
	}

	lastUpdate, ok := parseInt64(values, KeyLastUpdate)
	if !ok {
		lastUpdate = now.UnixMilli()
	}

	recent, ok := parseIntSlice(values, KeyRecentGasValues)
	if !ok {
		recent = defaultRecentValues()
	}

	return Record{
		Settings: Settings{
			NotificationsEnabled: parseBool(values, KeyNotificationsEnabled),
			Threshold:            threshold,
			ThresholdSet:         thresholdSet,
		},
		Readings: Readings{
			LastGas:           lastGas,
			LastUpdateEpochMs: lastUpdate,
			RecentGasValues:   recent,
			HasNotified:       parseBool(values, KeyHasNotified),
		},
	}
}

// Malformed values fall back to their defaults, the same as absent ones.

func parseBool(values map[string]string, key string) bool {
	raw, ok := values[key]
	if !ok {
		return false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false
	}
	return v
}

func parseInt(values map[string]string, key string) (int, bool) {
	v, ok := parseInt64(values, key)
	return int(v), ok
}

func parseInt64(values map[string]string, key string) (int64, bool) {
	raw, ok := values[key]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseIntSlice(values map[string]string, key string) ([]int, bool) {
	raw, ok := values[key]
	if !ok {
		return nil, false
	}
	var out []int
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, false
	}
	if out == nil {
		out = []int{}
	}
	return out, true
}

func formatBool(v bool) string {
	return strconv.FormatBool(v)
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

func formatIntSlice(v []int) string {
	if v == nil {
		v = []int{}
	}
	// []int always marshals.
	raw, _ := json.Marshal(v)
	return string(raw)
}
