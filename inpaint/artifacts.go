package inpaint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"fluxfill/logging"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ArtifactPrefix starts the name of every temporary file a pipeline writes.
const ArtifactPrefix = "flux_"

// Artifacts is the triple of temporary files owned by one running item.
type Artifacts struct {
	Token  string
	Image  string // exported RGBA layer
	Mask   string // binary alpha mask
	Result string // downloaded inpainting output
}

// TokenSource hands out artifact names for one worker. The worker's UUID
// keeps concurrent workers apart, and the sequence number keeps successive
// items of the same worker apart when artifacts are retained.
//
// A TokenSource is owned by a single worker goroutine, but Next is safe to
// call concurrently.
type TokenSource struct {
	dir    string
	worker string
	seq    atomic.Uint64
}

// NewTokenSource creates a token source writing under dir.
func NewTokenSource(dir string) *TokenSource {
	if dir == "" {
		dir = os.TempDir()
	}
	return &TokenSource{dir: dir, worker: uuid.NewString()[:8]}
}

// Worker returns the worker part of the tokens.
func (s *TokenSource) Worker() string { return s.worker }

// Next returns a fresh artifact triple.
func (s *TokenSource) Next() Artifacts {
	token := fmt.Sprintf("%s-%d", s.worker, s.seq.Add(1))
	return Artifacts{
		Token:  token,
		Image:  filepath.Join(s.dir, ArtifactPrefix+"img_"+token+".png"),
		Mask:   filepath.Join(s.dir, ArtifactPrefix+"mask_"+token+".png"),
		Result: filepath.Join(s.dir, ArtifactPrefix+"out_"+token+".png"),
	}
}

// Remove deletes the given artifact files unless keep is set. Missing files
// are ignored; other failures are logged.
func Remove(logger *logging.Logger, keep bool, paths ...string) {
	if keep {
		return
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && logger != nil {
			logger.Warn("Failed to remove temporary file",
				zap.String("file", filepath.Base(p)),
				zap.Error(err),
			)
		}
	}
}

// SweepResult summarises a Sweep.
type SweepResult struct {
	Removed int
	Failed  int
	Kept    int // younger than the cutoff
}

// Sweep removes artifacts left in dir by earlier runs, typically ones kept
// for debugging. Files modified within olderThan are kept. Individual
// removal failures are logged and counted, not returned.
func Sweep(ctx context.Context, logger *logging.Logger, dir string, olderThan time.Duration) (SweepResult, error) {
	var res SweepResult

	pattern := filepath.Join(dir, ArtifactPrefix+"*.png")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return res, fmt.Errorf("inpaint: list artifacts: %w", err)
	}
	if len(matches) == 0 {
		logger.Debug("No temporary files to clean up", zap.String("directory", dir))
		return res, nil
	}

	cutoff := time.Now().Add(-olderThan)
	for _, match := range matches {
		select {
		case <-ctx.Done():
			logger.Warn("Cleanup cancelled",
				zap.Int("removed", res.Removed),
				zap.Int("remaining", len(matches)-res.Removed-res.Failed-res.Kept),
			)
			return res, ctx.Err()
		default:
		}

		info, err := os.Stat(match)
		if err != nil {
			continue
		}
		if olderThan > 0 && info.ModTime().After(cutoff) {
			res.Kept++
			continue
		}
		if err := os.Remove(match); err != nil {
			res.Failed++
			logger.Warn("Failed to remove temporary file",
				zap.String("file", filepath.Base(match)),
				zap.Error(err),
			)
			continue
		}
		res.Removed++
		logger.Debug("Removed temporary file", zap.String("file", filepath.Base(match)))
	}

	logger.Info("Temp file cleanup complete",
		zap.Int("removed", res.Removed),
		zap.Int("failed", res.Failed),
		zap.Int("kept", res.Kept),
	)
	return res, nil
}
