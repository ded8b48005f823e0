// Package batch runs the inpainting pipeline over many layers at once.
//
// Each layer is a WorkItem that moves through
//
//	Pending → Exporting → Masking → Requesting → Downloading → Inserting → {Succeeded, Failed}
//
// on its own worker goroutine, up to a fixed number at a time. Workers never
// touch the document tree: they hand a decoded result to the coordinator
// goroutine, which inserts it, appends the outcome line and reports
// progress.
package batch

import "fluxfill/document"

// Stage is the position of one item in its pipeline.
type Stage int

const (
	StagePending Stage = iota
	StageExporting
	StageMasking
	StageRequesting
	StageDownloading
	StageInserting
	StageSucceeded
	StageFailed
	// StageSkipped marks items never scheduled because the run was
	// cancelled.
	StageSkipped
)

var stageNames = [...]string{
	StagePending:     "pending",
	StageExporting:   "exporting",
	StageMasking:     "masking",
	StageRequesting:  "requesting",
	StageDownloading: "downloading",
	StageInserting:   "inserting",
	StageSucceeded:   "succeeded",
	StageFailed:      "failed",
	StageSkipped:     "skipped",
}

func (s Stage) String() string {
	if s >= 0 && int(s) < len(stageNames) {
		return stageNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further stage follows.
func (s Stage) Terminal() bool {
	return s == StageSucceeded || s == StageFailed || s == StageSkipped
}

// WorkItem is one source layer to process. Doc is borrowed; the batch never
// closes it.
type WorkItem struct {
	ID   string
	Name string
	Doc  document.Document
}
