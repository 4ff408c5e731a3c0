package monitor

import (
	"sync"
	"time"
)

// failureThreshold is the number of consecutive sampling failures after
// which the detector is reported as failed.
const failureThreshold = 3

// Status is the detector health shown next to the score.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusFailed   Status = "failed"
)

// detectorHealth tracks consecutive sampling failures. Present runs on the
// scoring goroutine while the TUI reads the status.
type detectorHealth struct {
	mu       sync.Mutex
	failures int
	lastErr  string
	lastFail time.Time
}

func newDetectorHealth() *detectorHealth {
	return &detectorHealth{}
}

func (h *detectorHealth) recordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = 0
	h.lastErr = ""
}

// recordFailure returns the new consecutive failure count.
func (h *detectorHealth) recordFailure(err error) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures++
	h.lastErr = err.Error()
	h.lastFail = time.Now()
	return h.failures
}

func (h *detectorHealth) status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case h.failures >= failureThreshold:
		return StatusFailed
	case h.failures > 0:
		return StatusDegraded
	}
	return StatusHealthy
}

func (h *detectorHealth) lastError() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}
