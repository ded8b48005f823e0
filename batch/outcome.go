package batch

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"fluxfill/core"
	"fluxfill/inpaint"
)

// ItemOutcome is the final state of one item.
type ItemOutcome struct {
	Index    int // position in the submitted list
	Item     WorkItem
	Stage    Stage // StageSucceeded, StageSkipped, or the stage that failed
	Status   string
	Err      error
	LayerID  string // inserted layer, on success
	Worker   string // artifact token of the run
	Duration time.Duration
}

// Succeeded reports whether the item's result was inserted.
func (o ItemOutcome) Succeeded() bool { return o.Stage == StageSucceeded }

// State collapses the outcome to its terminal stage.
func (o ItemOutcome) State() Stage {
	if o.Stage.Terminal() {
		return o.Stage
	}
	return StageFailed
}

// Outcome is the append-only log of a run. It is only written by the
// coordinator goroutine.
type Outcome struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Workers   int

	// Lines holds one "i/N → status" line per item in completion order.
	Lines []string
	Items []ItemOutcome

	// Errors holds the distinct failure statuses in first-seen order.
	Errors []string

	Started  time.Time
	Duration time.Duration

	seenErr map[string]bool
}

func newOutcome(total, workers int) *Outcome {
	return &Outcome{
		Total:   total,
		Workers: workers,
		Started: time.Now(),
		seenErr: make(map[string]bool),
	}
}

// record appends one item and returns its log line.
func (o *Outcome) record(item ItemOutcome) string {
	o.Items = append(o.Items, item)
	switch item.Stage {
	case StageSucceeded:
		o.Succeeded++
	case StageSkipped:
		o.Skipped++
	default:
		o.Failed++
		if !o.seenErr[item.Status] {
			o.seenErr[item.Status] = true
			o.Errors = append(o.Errors, item.Status)
		}
	}
	line := fmt.Sprintf("%d/%d → %s", len(o.Items), o.Total, item.Status)
	o.Lines = append(o.Lines, line)
	return line
}

// Summary returns the closing lines: the tally and, if anything failed, the
// distinct errors joined by "; ".
func (o *Outcome) Summary() []string {
	lines := []string{fmt.Sprintf("Completed. %d/%d succeeded.", o.Succeeded, o.Total)}
	if len(o.Errors) > 0 {
		lines = append(lines, "Errors: "+strings.Join(o.Errors, "; "))
	}
	return lines
}

// ExitCode maps the tally onto the process exit codes.
func (o *Outcome) ExitCode() int {
	switch {
	case o.Succeeded == o.Total:
		return core.ExitCodeSuccess
	case o.Succeeded == 0:
		return core.ExitCodeError
	default:
		return core.ExitCodePartial
	}
}

// statusFor renders the user-facing status of a finished item.
func statusFor(item WorkItem, stage Stage, err error) string {
	if err == nil {
		return fmt.Sprintf("Success: %s inpainted", item.Name)
	}

	var panicErr *panicError
	if errors.As(err, &panicErr) {
		return "Exception: " + panicErr.Error()
	}

	switch stage {
	case StageSkipped:
		return "Skipped: " + err.Error()
	case StageExporting:
		return "Error: export failed"
	case StageMasking:
		return "Error: mask failed"
	case StageRequesting:
		var statusErr *inpaint.StatusError
		switch {
		case errors.As(err, &statusErr):
			return statusErr.Error()
		case errors.Is(err, inpaint.ErrNoOutputURL):
			return "Error: no output URL"
		default:
			return "Request error: " + strings.TrimPrefix(err.Error(), inpaint.ErrRequestFailed.Error()+": ")
		}
	case StageDownloading:
		return "Download failed"
	default:
		return "Error: " + err.Error()
	}
}

// panicError carries a value recovered from a panicking pipeline.
type panicError struct {
	value any
}

func (e *panicError) Error() string { return fmt.Sprint(e.value) }
