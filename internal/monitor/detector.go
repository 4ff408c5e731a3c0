package monitor

import (
	"context"
	"log"
	"sync"
)

// DefaultPrograms are watched when no process names are configured.
var DefaultPrograms = []string{"code", "nvim", "vim", "emacs", "idea", "goland", "zed", "subl"}

// DefaultMinCPU is the CPU time a watched process must burn between two
// samples for the user to count as present.
const DefaultMinCPU = 0.01

// ProcessDetector reports the user present while a watched program is
// running and doing work. It satisfies scoring.Detector.
type ProcessDetector struct {
	lister  Lister
	matcher Matcher
	minCPU  float64

	mu      sync.Mutex
	prevCPU map[int32]float64
	health  *detectorHealth
}

type DetectorOption func(*ProcessDetector)

func WithLister(l Lister) DetectorOption {
	return func(d *ProcessDetector) { d.lister = l }
}

func WithMinCPU(seconds float64) DetectorOption {
	return func(d *ProcessDetector) { d.minCPU = seconds }
}

func NewProcessDetector(programs []string, opts ...DetectorOption) *ProcessDetector {
	if len(programs) == 0 {
		programs = DefaultPrograms
	}
	d := &ProcessDetector{
		lister:  SystemLister{},
		matcher: NewMatcher(programs),
		minCPU:  DefaultMinCPU,
		prevCPU: make(map[int32]float64),
		health:  newDetectorHealth(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Present samples the process table. A watched process seen for the first
// time counts as present; afterwards it must have used at least minCPU
// since the previous sample.
func (d *ProcessDetector) Present(ctx context.Context) (bool, error) {
	procs, err := d.lister.List(ctx, d.matcher.Match)
	if err != nil {
		if d.health.recordFailure(err) == failureThreshold {
			log.Printf("[monitor] presence detection failing: %v", err)
		}
		return false, err
	}
	d.health.recordSuccess()

	d.mu.Lock()
	defer d.mu.Unlock()

	present := false
	seen := make(map[int32]float64, len(procs))
	for _, p := range procs {
		seen[p.PID] = p.CPUSeconds
		prev, ok := d.prevCPU[p.PID]
		if !ok || p.CPUSeconds-prev >= d.minCPU {
			present = true
		}
	}
	d.prevCPU = seen
	return present, nil
}

// Status returns the detector health.
func (d *ProcessDetector) Status() Status {
	return d.health.status()
}

// LastError returns the most recent sampling error, if any.
func (d *ProcessDetector) LastError() string {
	return d.health.lastError()
}
