// Package shutdown turns Ctrl+C into cancellation of the running command and
// releases its resources in order once the command returns.
//
// The first SIGINT or SIGTERM cancels the context: a running batch stops
// handing out work and lets in-flight items finish. A second signal exits
// immediately.
package shutdown

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"fluxfill/core"
	"fluxfill/logging"

	"go.uber.org/zap"
)

// ErrInterrupted is the cancellation cause after a signal.
var ErrInterrupted = errors.New("interrupted")

// CloseFunc releases one resource. It should honour ctx's deadline.
type CloseFunc func(ctx context.Context) error

type closer struct {
	name     string
	priority int // lower runs first
	fn       CloseFunc
}

// Handler owns the command context and the ordered list of closers.
//
// Usage:
//
//	h := shutdown.NewHandler(context.Background(), logger)
//	h.Start()
//	defer h.Close()
//	h.Register("workspace", 30, func(context.Context) error { return ws.Close() })
//	outcome, err := coordinator.Run(h.Context(), items, opts)
type Handler struct {
	logger  *logging.Logger
	timeout time.Duration
	onForce func()

	ctx    context.Context
	cancel context.CancelCauseFunc

	mu      sync.Mutex
	signals int
	closers []closer
	started bool
	closed  bool
	sigChan chan os.Signal
}

// Option configures a Handler.
type Option func(*Handler)

// WithTimeout bounds how long Close waits for all closers. Default 10s.
func WithTimeout(timeout time.Duration) Option {
	return func(h *Handler) {
		h.timeout = timeout
	}
}

// WithForceExit replaces the second-signal action, which by default exits
// with code 130.
func WithForceExit(fn func()) Option {
	return func(h *Handler) {
		h.onForce = fn
	}
}

// NewHandler creates a Handler whose context derives from parent.
func NewHandler(parent context.Context, logger *logging.Logger, opts ...Option) *Handler {
	ctx, cancel := context.WithCancelCause(parent)
	h := &Handler{
		logger:  logger,
		timeout: 10 * time.Second,
		ctx:     ctx,
		cancel:  cancel,
		sigChan: make(chan os.Signal, 2),
	}
	h.onForce = func() {
		logger.Warn("Received second signal, exiting immediately")
		logger.Sync()
		os.Exit(core.ExitCodeSIGINT)
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Context is cancelled with ErrInterrupted on the first signal.
func (h *Handler) Context() context.Context {
	return h.ctx
}

// Start listens for SIGINT and SIGTERM. Calling it twice is a no-op.
func (h *Handler) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started || h.closed {
		return
	}
	h.started = true

	signal.Notify(h.sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range h.sigChan {
			h.Signal(sig)
		}
	}()
}

// Signal handles one received signal and returns how many have arrived.
func (h *Handler) Signal(sig os.Signal) int {
	h.mu.Lock()
	h.signals++
	count := h.signals
	h.mu.Unlock()

	switch count {
	case 1:
		h.logger.Info("Received signal, letting in-flight items finish",
			zap.String("signal", sig.String()))
		h.cancel(ErrInterrupted)
	case 2:
		if h.onForce != nil {
			h.onForce()
		}
	}
	return count
}

// Interrupted reports whether a signal has arrived.
func (h *Handler) Interrupted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.signals > 0
}

// Register adds a closer. Registration after Close is a no-op.
//
// Priorities used by the CLI:
//   - 10: artifact sweep
//   - 20: history database
//   - 30: workspace (flushes the projection, releases the lock)
//   - 90: logger sync
func (h *Handler) Register(name string, priority int, fn CloseFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closers = append(h.closers, closer{name: name, priority: priority, fn: fn})
}

// Names returns the registered closers in the order Close runs them.
func (h *Handler) Names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	sorted := sortedClosers(h.closers)
	names := make([]string, len(sorted))
	for i, c := range sorted {
		names[i] = c.name
	}
	return names
}

// Close stops listening for signals and runs every closer in priority
// order, even when some fail. It is idempotent.
func (h *Handler) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	closers := sortedClosers(h.closers)
	if h.started {
		signal.Stop(h.sigChan)
		close(h.sigChan)
	}
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	var errs []error
	for _, c := range closers {
		if err := c.fn(ctx); err != nil {
			h.logger.Error("Cleanup failed", zap.String("closer", c.name), zap.Error(err))
			errs = append(errs, err)
		}
	}
	h.cancel(context.Canceled)
	return errors.Join(errs...)
}

func sortedClosers(in []closer) []closer {
	sorted := make([]closer, len(in))
	copy(sorted, in)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].priority < sorted[j].priority
	})
	return sorted
}
