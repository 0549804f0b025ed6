package auth

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const AlertLoginFailureSpike AlertType = "login_failure_spike"

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected. It runs
// synchronously on the request path.
type AlertFunc func(AlertEvent)

const (
	DefaultAlertWindow    = time.Minute
	DefaultAlertThreshold = 50
)

// failureSpikeDetector counts failed logins across all origins in a sliding
// window. Per-origin lockout does not catch a distributed guessing run;
// this does.
type failureSpikeDetector struct {
	mu        sync.Mutex
	failures  []time.Time
	window    time.Duration
	threshold int
	alertFn   AlertFunc
	now       func() time.Time
}

func newFailureSpikeDetector(window time.Duration, threshold int, fn AlertFunc) *failureSpikeDetector {
	if window <= 0 {
		window = DefaultAlertWindow
	}
	if threshold <= 0 {
		threshold = DefaultAlertThreshold
	}
	return &failureSpikeDetector{
		window:    window,
		threshold: threshold,
		alertFn:   fn,
		now:       time.Now,
	}
}

func (d *failureSpikeDetector) recordFailure() {
	if d == nil || d.alertFn == nil {
		return
	}
	d.mu.Lock()
	now := d.now()
	d.failures = trimWindow(append(d.failures, now), now, d.window)
	if len(d.failures) < d.threshold {
		d.mu.Unlock()
		return
	}
	evt := AlertEvent{
		Type:      AlertLoginFailureSpike,
		Message:   "login failure rate exceeds threshold",
		Count:     len(d.failures),
		Threshold: d.threshold,
		Timestamp: now,
	}
	// Reset to avoid repeated alerts within the same spike.
	d.failures = d.failures[:0]
	d.mu.Unlock()

	d.alertFn(evt)
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
