package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFailureSpikeDetector_FiresAtThreshold(t *testing.T) {
	clock := newFakeClock()
	var alerts []AlertEvent
	d := newFailureSpikeDetector(time.Minute, 3, func(e AlertEvent) { alerts = append(alerts, e) })
	d.now = clock.Now

	d.recordFailure()
	d.recordFailure()
	assert.Empty(t, alerts)

	d.recordFailure()
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertLoginFailureSpike, alerts[0].Type)
	assert.Equal(t, 3, alerts[0].Count)
	assert.Equal(t, 3, alerts[0].Threshold)

	// The window restarts after an alert.
	d.recordFailure()
	assert.Len(t, alerts, 1)
}

func TestFailureSpikeDetector_WindowSlides(t *testing.T) {
	clock := newFakeClock()
	fired := 0
	d := newFailureSpikeDetector(time.Minute, 3, func(AlertEvent) { fired++ })
	d.now = clock.Now

	d.recordFailure()
	d.recordFailure()
	clock.Advance(2 * time.Minute)
	d.recordFailure()
	assert.Zero(t, fired, "old failures fell out of the window")
}

func TestFailureSpikeDetector_NilIsNoop(t *testing.T) {
	var d *failureSpikeDetector
	assert.NotPanics(t, d.recordFailure)

	assert.NotPanics(t, newFailureSpikeDetector(0, 0, nil).recordFailure)
}
