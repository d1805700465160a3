// Package metrics defines the backend-neutral instrumentation surface.
//
// Core packages depend only on Backend; concrete backends (Datadog, or
// Nop for tests and unconfigured runs) live in subpackages so vendor
// SDKs never leak into query execution code.
package metrics

// Labels attach dimensions to a metric observation. Nil is allowed and
// means "no labels".
type Labels map[string]string

// Backend receives metric observations.
//
// Implementations must be safe for concurrent use: queries run in
// caller goroutines and report results as they finish.
type Backend interface {
	// IncCounter adds delta to a monotonically increasing counter.
	// Non-positive deltas are ignored.
	IncCounter(name string, delta float64, labels Labels)

	// ObserveHistogram records one sample of a distribution, such as a
	// query duration in seconds.
	ObserveHistogram(name string, value float64, labels Labels)

	// Flush submits buffered observations to the backing store.
	Flush() error

	// Close flushes and releases backend resources. The backend is
	// unusable afterwards.
	Close() error
}

// Nop is a Backend that discards every observation.
type Nop struct{}

func (Nop) IncCounter(string, float64, Labels)       {}
func (Nop) ObserveHistogram(string, float64, Labels) {}
func (Nop) Flush() error                             { return nil }
func (Nop) Close() error                             { return nil }
