// Package monitor infers whether the user is present from the processes
// running on the local machine.
package monitor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessInfo is one sampled process.
type ProcessInfo struct {
	PID     int32
	CmdLine []string
	// CPUSeconds is cumulative user plus system time.
	CPUSeconds float64
}

// Lister enumerates processes. The gopsutil implementation is used outside
// tests.
type Lister interface {
	List(ctx context.Context, match func(cmdline []string) bool) ([]ProcessInfo, error)
}

// SystemLister reads the process table through gopsutil.
type SystemLister struct{}

func (SystemLister) List(ctx context.Context, match func([]string) bool) ([]ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}

	var results []ProcessInfo
	for _, p := range procs {
		cmdline, err := p.CmdlineSliceWithContext(ctx)
		if err != nil || len(cmdline) == 0 {
			// Kernel threads and processes that exited mid-scan.
			continue
		}
		if !match(cmdline) {
			continue
		}
		times, err := p.TimesWithContext(ctx)
		if err != nil {
			continue
		}
		results = append(results, ProcessInfo{
			PID:        p.Pid,
			CmdLine:    cmdline,
			CPUSeconds: times.User + times.System,
		})
	}
	return results, nil
}

// Matcher reports whether a command line belongs to one of the watched
// programs. A program matches by executable base name, or as the script
// argument of an interpreter such as node or python.
type Matcher struct {
	names map[string]bool
}

var interpreters = map[string]bool{
	"node":     true,
	"python":   true,
	"python3":  true,
	"java":     true,
	"electron": true,
}

func NewMatcher(names []string) Matcher {
	m := Matcher{names: make(map[string]bool, len(names))}
	for _, n := range names {
		n = strings.TrimSpace(strings.ToLower(n))
		if n != "" {
			m.names[n] = true
		}
	}
	return m
}

func (m Matcher) Match(cmdline []string) bool {
	if len(cmdline) == 0 || len(m.names) == 0 {
		return false
	}
	exe := strings.ToLower(filepath.Base(cmdline[0]))
	if m.names[exe] {
		return true
	}
	if !interpreters[exe] {
		return false
	}
	for _, arg := range cmdline[1:] {
		if strings.HasPrefix(arg, "-") || strings.Contains(arg, "node_modules/.bin") {
			continue
		}
		if m.names[strings.ToLower(strings.TrimSuffix(filepath.Base(arg), filepath.Ext(arg)))] {
			return true
		}
	}
	return false
}
