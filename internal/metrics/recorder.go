// Package metrics records update-cycle observations.
//
// Components receive a Recorder; NoopRecorder is the default so callers never
// nil-check. PrometheusRecorder is activated when metrics.enabled is set.
package metrics

import "time"

// CycleResult labels the outcome of one update cycle.
type CycleResult string

const (
	CycleSuccess CycleResult = "success"
	CycleFailure CycleResult = "failure"
	CycleSkipped CycleResult = "skipped"
)

// Recorder defines observability hooks for the update cycle and the record.
type Recorder interface {
	ObserveCycle(result CycleResult, d time.Duration)
	ObserveFetch(d time.Duration, success bool)
	IncAlert()
	SetLastGas(gwei int)
	SetThreshold(gwei int, set bool)
	SetNotificationsEnabled(enabled bool)
}

// NoopRecorder is a Recorder that does nothing.
type NoopRecorder struct{}

func (NoopRecorder) ObserveCycle(CycleResult, time.Duration) {}
func (NoopRecorder) ObserveFetch(time.Duration, bool)        {}
func (NoopRecorder) IncAlert()                               {}
func (NoopRecorder) SetLastGas(int)                          {}
func (NoopRecorder) SetThreshold(int, bool)                  {}
func (NoopRecorder) SetNotificationsEnabled(bool)            {}
