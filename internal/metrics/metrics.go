// Package metrics is the backend-agnostic metrics facade used by the
// pipeline. Core code only calls the package-level helpers; a concrete
// backend (e.g. metrics/datadog) is installed once by the command.
package metrics

import (
	"sync"
	"time"
)

// Labels are metric dimensions, e.g. {"status": "admitted"}.
type Labels map[string]string

// Backend receives metric events.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

// Metric names emitted by the pipeline.
const (
	SchemasTotal        = "corpus_schemas_total"
	RecordsTotal        = "corpus_records_total"
	ArtifactsTotal      = "corpus_artifacts_total"
	StepDurationSeconds = "corpus_step_duration_seconds"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b. A nil b restores the no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter adds delta to the named counter.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram records one sample.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush flushes the installed backend.
func Flush() error {
	return current().Flush()
}

// Count increments a status-labelled counter by one.
func Count(name, status string) {
	IncCounter(name, 1, Labels{"status": status})
}

// ObserveStep records the duration of a pipeline step since start.
func ObserveStep(step, status string, start time.Time) {
	ObserveHistogram(StepDurationSeconds, time.Since(start).Seconds(), Labels{"step": step, "status": status})
}
