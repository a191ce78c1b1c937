package chat

import (
	"sync"
	"time"
)

// RateCounter observes chat throughput per message source, since the
// radio and the web clients saturate very differently; extracting rates
// from a Prometheus HistogramVec appears to be quite complicated
// unfortunately ..
type RateCounter struct {
	mu        sync.Mutex
	bySource  map[string][]time.Time
	windowlen time.Duration
}

func NewRateCounter(window time.Duration) *RateCounter {
	return &RateCounter{
		bySource:  make(map[string][]time.Time),
		windowlen: window,
	}
}

// Observe adds a new observation for a message source
func (r *RateCounter) Observe(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bySource[source] = append(r.bySource[source], time.Now())
	r.truncate()
}

// Clean up old observations by slicing from the oldest observation
// that is still within the window; each loop exits as soon as the
// first one is newer than that.
func (r *RateCounter) truncate() {
	cutoff := time.Now().Add(-r.windowlen)
	for source, obs := range r.bySource {
		for len(obs) > 0 && obs[0].Before(cutoff) {
			obs = obs[1:]
		}
		r.bySource[source] = obs
	}
}

// GetRate returns the current rate over all sources. Make sure to
// truncate before to clean up old observations even if there were no
// recent ones.
func (r *RateCounter) GetRate() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.truncate()
	n := 0
	for _, obs := range r.bySource {
		n += len(obs)
	}
	return float64(n) / r.windowlen.Seconds()
}

// SourceRate returns the current rate of one message source.
func (r *RateCounter) SourceRate(source string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.truncate()
	return float64(len(r.bySource[source])) / r.windowlen.Seconds()
}
