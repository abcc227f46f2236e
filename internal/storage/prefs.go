package storage

import (
	"time"
)

// Prefs is a mutable draft of the persisted record handed to Edit callbacks.
// Reads see the values committed before the edit plus the draft's own writes.
// Only keys written through the setters are persisted on commit.
type Prefs struct {
	values map[string]string
	dirty  map[string]string
	now    time.Time
}

func newPrefs(values map[string]string, now time.Time) *Prefs {
	return &Prefs{values: values, dirty: make(map[string]string), now: now}
}

func (p *Prefs) get(key string) (string, bool) {
	if v, ok := p.dirty[key]; ok {
		return v, true
	}
	v, ok := p.values[key]
	return v, ok
}

func (p *Prefs) set(key, value string) {
	p.dirty[key] = value
}

func (p *Prefs) merged() map[string]string {
	out := make(map[string]string, len(p.values)+len(p.dirty))
	for k, v := range p.values {
		out[k] = v
	}
	for k, v := range p.dirty {
		out[k] = v
	}
	return out
}

// Contains reports whether key holds a value, distinguishing unset from default.
func (p *Prefs) Contains(key string) bool {
	_, ok := p.get(key)
	return ok
}

// NotificationsEnabled 是否开启提醒。
func (p *Prefs) NotificationsEnabled() bool {
	return parseBool(p.merged(), KeyNotificationsEnabled)
}

// HasNotified reports the notification latch.
func (p *Prefs) HasNotified() bool {
	return parseBool(p.merged(), KeyHasNotified)
}

// ShouldNotify is true when alerts are on and the latch is not set.
func (p *Prefs) ShouldNotify() bool {
	return p.NotificationsEnabled() && !p.HasNotified()
}

// Threshold returns the alert threshold and whether the user ever set it.
func (p *Prefs) Threshold() (int, bool) {
	v, ok := parseInt(p.merged(), KeyThreshold)
	if !ok {
		return DefaultThreshold, false
	}
	return v, true
}

// LastGas returns the last observed price or NoReading.
func (p *Prefs) LastGas() int {
	return p.Snapshot().Readings.LastGas
}

// LastUpdate returns when LastGas was recorded.
func (p *Prefs) LastUpdate() time.Time {
	return p.Snapshot().Readings.LastUpdate()
}

// RecentGasValues returns the newest-first price history.
func (p *Prefs) RecentGasValues() []int {
	return p.Snapshot().Readings.RecentGasValues
}

// SetThreshold stores the threshold and re-arms the alert.
func (p *Prefs) SetThreshold(v int) {
	p.set(KeyThreshold, formatInt(int64(v)))
	p.set(KeyHasNotified, formatBool(false))
}

// SetNotificationsEnabled toggles alerts and re-arms the alert.
func (p *Prefs) SetNotificationsEnabled(enabled bool) {
	p.set(KeyNotificationsEnabled, formatBool(enabled))
	p.set(KeyHasNotified, formatBool(false))
}

// SetHasNotified sets the notification latch directly.
func (p *Prefs) SetHasNotified(v bool) {
	p.set(KeyHasNotified, formatBool(v))
}

// RecordReading writes the latest price, its history and timestamp together.
func (p *Prefs) RecordReading(latest int, recent []int, at time.Time) {
	p.set(KeyLastGas, formatInt(int64(latest)))
	p.set(KeyRecentGasValues, formatIntSlice(recent))
	p.set(KeyLastUpdate, formatInt(at.UnixMilli()))
}

// Snapshot decodes the draft into a Record.
func (p *Prefs) Snapshot() Record {
	return decodeRecord(p.merged(), p.now)
}
