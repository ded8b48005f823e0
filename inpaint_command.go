package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fluxfill/batch"
	"fluxfill/core"
	"fluxfill/db"
	"fluxfill/document"
	"fluxfill/inpaint"
	"fluxfill/logging"
	"fluxfill/metrics"
	"fluxfill/shutdown"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type inpaintFlags struct {
	workspace string
	prompt    string
	token     string
	provider  string
	workers   string
	batchMode bool
	selection []string
	keepTemp  bool
	tempDir   string
	fit       bool
	stats     bool
}

func newInpaintCommand(ctx *commandContext) *cobra.Command {
	var flags inpaintFlags
	cmd := &cobra.Command{
		Use:   "inpaint",
		Short: "Fill the transparent regions of the active or selected layers",
		Long: `Fill the transparent regions of layers with the remote model.

Without --batch only the active layer is processed. With --batch every
selected layer (or every layer named by --select) is processed, several at
a time. Each result is inserted as a new layer above its source, and the
source is hidden.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInpaint(cmd, ctx, flags)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&flags.workspace, "workspace", "w", ".", "Workspace directory")
	f.StringVarP(&flags.prompt, "prompt", "p", "", "Prompt describing the fill")
	f.StringVar(&flags.token, "token", "", "API token (overrides REPLICATE_API_TOKEN / OPENAI_API_KEY)")
	f.StringVar(&flags.provider, "provider", "", "Inpainting provider: replicate or openai")
	f.StringVar(&flags.workers, "workers", "", "Concurrent requests: auto or a positive number")
	f.BoolVarP(&flags.batchMode, "batch", "b", false, "Process every selected layer")
	f.StringSliceVarP(&flags.selection, "select", "s", nil, "Layer names or IDs to process instead of the saved selection")
	f.BoolVar(&flags.keepTemp, "keep-temp", false, "Keep exported images, masks and downloads")
	f.StringVar(&flags.tempDir, "temp-dir", "", "Directory for temporary files")
	f.BoolVar(&flags.fit, "fit", false, "Rescale results to the canvas size")
	f.BoolVar(&flags.stats, "stats", false, "Print per-stage timings after the run")
	return cmd
}

// applyFlags overlays explicitly set flags on the environment config.
func applyFlags(cmd *cobra.Command, cfg *core.Config, flags inpaintFlags) error {
	changed := cmd.Flags().Changed
	if changed("provider") {
		provider := strings.ToLower(strings.TrimSpace(flags.provider))
		if provider != core.ProviderReplicate && provider != core.ProviderOpenAI {
			return &core.ConfigError{
				Code:    core.ErrCodeInvalidValue,
				Message: fmt.Sprintf("Unknown provider %q", flags.provider),
				Action:  "Use --provider replicate or --provider openai",
			}
		}
		cfg.Provider = provider
	}
	if changed("token") {
		if cfg.Provider == core.ProviderOpenAI {
			cfg.OpenAIAPIKey = strings.TrimSpace(flags.token)
		} else {
			cfg.ReplicateAPIToken = strings.TrimSpace(flags.token)
		}
	}
	if changed("workers") {
		cfg.Workers = flags.workers
	}
	if changed("keep-temp") {
		cfg.KeepTemp = flags.keepTemp
	}
	if changed("temp-dir") {
		cfg.TempDir = flags.tempDir
	}
	if changed("fit") {
		cfg.FitToCanvas = flags.fit
	}
	return nil
}

func runInpaint(cmd *cobra.Command, cc *commandContext, flags inpaintFlags) error {
	cfg, err := cc.ensureConfig()
	if err != nil {
		return err
	}
	if err := applyFlags(cmd, cfg, flags); err != nil {
		return err
	}
	if err := cfg.ValidateRun(flags.prompt); err != nil {
		return err
	}
	workers, err := batch.ParseWorkerSetting(cfg.Workers)
	if err != nil {
		return err
	}
	logger, err := cc.ensureLogger(cmd)
	if err != nil {
		return err
	}

	ws, err := openWorkspace(flags.workspace)
	if err != nil {
		return err
	}

	handler := shutdown.NewHandler(cmd.Context(), logger)
	handler.Register("workspace", 30, func(context.Context) error { return ws.Close() })
	handler.Register("logger", 90, func(context.Context) error {
		logger.Sync()
		return nil
	})
	handler.Start()
	defer handler.Close()

	items, err := batch.SelectItems(ws, batch.Selection{BatchMode: flags.batchMode, Refs: flags.selection})
	if err != nil {
		return err
	}

	coordinator, err := newCoordinator(cfg, logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printer := newLinePrinter(out)
	progress := newProgress(cmd.ErrOrStderr(), len(items))
	stages := metrics.NewStageStore()

	outcome, err := coordinator.Run(handler.Context(), items, batch.Options{
		Prompt:   flags.prompt,
		Workers:  workers,
		TempDir:  cfg.TempDir,
		KeepTemp: cfg.KeepTemp,
		Recorder: stages,
		Progress: func(percent int, line string) {
			progress.set(percent)
			if line != "" {
				progress.clear()
				printer.line(line)
			}
		},
	})
	progress.finish()
	if err != nil {
		return err
	}
	printer.summary(outcome)
	if flags.stats {
		fmt.Fprintln(out, renderStages(stages.Snapshot()))
	}

	if cfg.HistoryDB != "" {
		if err := recordRun(cmd.Context(), cfg, ws, flags, outcome, logger); err != nil {
			// History is a convenience; a failed write never fails the run.
			logger.Warn("Failed to record run history", zap.Error(err))
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: run history not saved: %v\n", err)
		}
	}

	if handler.Interrupted() {
		return &exitError{code: core.ExitCodeSIGINT}
	}
	if code := outcome.ExitCode(); code != core.ExitCodeSuccess {
		return &exitError{code: code}
	}
	return nil
}

func openWorkspace(dir string) (*document.Workspace, error) {
	ws, err := document.OpenWorkspace(dir)
	if errors.Is(err, document.ErrLocked) {
		return nil, core.ErrWorkspaceLocked(dir)
	}
	return ws, err
}

// newCoordinator wires the provider and the stage implementations.
func newCoordinator(cfg *core.Config, logger *logging.Logger) (*batch.Coordinator, error) {
	predictor, err := newPredictor(cfg, logger)
	if err != nil {
		return nil, err
	}
	httpClient := core.GetHTTPClient(cfg, cfg.RequestTimeout)
	return batch.NewCoordinator(batch.Deps{
		Exporter:  inpaint.NewExporter(logger),
		Predictor: predictor,
		Fetcher:   inpaint.NewFetcher(httpClient, cfg.RequestTimeout, logger),
		Inserter: inpaint.NewInserter(inpaint.InserterConfig{
			Suffix:      cfg.LayerSuffix,
			FitToCanvas: cfg.FitToCanvas,
		}, logger),
	}, logger)
}

// newPredictor returns the client for the configured provider.
func newPredictor(cfg *core.Config, logger *logging.Logger) (inpaint.Predictor, error) {
	httpClient := core.GetHTTPClient(cfg, cfg.RequestTimeout)
	switch cfg.Provider {
	case core.ProviderOpenAI:
		return inpaint.NewOpenAIEditClient(inpaint.OpenAIConfig{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			Model:      cfg.OpenAIImageModel,
			Timeout:    cfg.RequestTimeout,
			HTTPClient: httpClient,
		}, logger)
	default:
		return inpaint.NewReplicateClient(inpaint.ReplicateConfig{
			Endpoint:   cfg.Endpoint,
			Token:      cfg.ReplicateAPIToken,
			Timeout:    cfg.RequestTimeout,
			HTTPClient: httpClient,
		}, logger)
	}
}

func recordRun(ctx context.Context, cfg *core.Config, ws *document.Workspace, flags inpaintFlags, outcome *batch.Outcome, logger *logging.Logger) error {
	hist, err := db.Open(cfg.HistoryDB)
	if err != nil {
		return err
	}
	defer hist.Close()

	run, items := runRecords(uuid.NewString(), ws.Dir(), cfg.Provider, flags.prompt, flags.batchMode, outcome)
	if err := db.NewRepository(hist).InsertRun(context.WithoutCancel(ctx), run, items); err != nil {
		return err
	}
	logger.Debug("Run recorded", zap.String("run_id", run.ID), zap.String("history", cfg.HistoryDB))
	return nil
}

// runRecords converts an outcome into history rows.
func runRecords(id, workspace, provider, prompt string, batchMode bool, outcome *batch.Outcome) (db.RunRecord, []db.ItemRecord) {
	run := db.RunRecord{
		ID:         id,
		Workspace:  workspace,
		Provider:   provider,
		Prompt:     prompt,
		BatchMode:  batchMode,
		Workers:    outcome.Workers,
		Total:      outcome.Total,
		Succeeded:  outcome.Succeeded,
		Failed:     outcome.Failed,
		Skipped:    outcome.Skipped,
		Errors:     outcome.Errors,
		DurationMS: outcome.Duration.Milliseconds(),
		CreatedAt:  time.Now(),
	}
	items := make([]db.ItemRecord, len(outcome.Items))
	for i, it := range outcome.Items {
		items[i] = db.ItemRecord{
			RunID:       id,
			Position:    i + 1,
			LayerID:     it.Item.ID,
			LayerName:   it.Item.Name,
			Stage:       it.Stage.String(),
			Status:      it.Status,
			ResultLayer: it.LayerID,
			DurationMS:  it.Duration.Milliseconds(),
		}
	}
	return run, items
}

