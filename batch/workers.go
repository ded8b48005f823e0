package batch

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"fluxfill/core"
)

// WorkerSetting is either an explicit worker count or "auto", which follows
// the host's hardware parallelism. It is resolved once when a run starts.
type WorkerSetting struct {
	Auto bool
	N    int
}

// AutoWorkers is the setting used when nothing is configured.
var AutoWorkers = WorkerSetting{Auto: true}

// ParseWorkerSetting accepts "auto" (or empty) and positive integers.
func ParseWorkerSetting(s string) (WorkerSetting, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "auto" {
		return AutoWorkers, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return WorkerSetting{}, &core.ConfigError{
			Code:    core.ErrCodeInvalidValue,
			Message: fmt.Sprintf("Invalid worker count %q", s),
			Action:  "Use 'auto' or a positive integer for --workers / FLUX_WORKERS",
		}
	}
	return WorkerSetting{N: n}, nil
}

// Resolve returns the number of workers to start, at least 1.
func (w WorkerSetting) Resolve() int {
	if w.Auto {
		return max(runtime.NumCPU(), 1)
	}
	return max(w.N, 1)
}

func (w WorkerSetting) String() string {
	if w.Auto {
		return "auto"
	}
	return strconv.Itoa(w.N)
}
