package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"fluxfill/batch"
	"fluxfill/core"
	"fluxfill/db"
	"fluxfill/document"
	"fluxfill/inpaint"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newMaskCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "mask IN.png OUT.png",
		Short: "Write the inpainting mask of an image (white where transparent)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := inpaint.MaskFile(args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Mask written to %s\n", args[1])
			return nil
		},
	}
}

func newInitCommand(ctx *commandContext) *cobra.Command {
	var dir, from, name string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a workspace from an image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := inpaint.DecodeResult(from)
			if err != nil {
				return fmt.Errorf("read %s: %w", from, err)
			}
			if name == "" {
				name = strings.TrimSuffix(filepath.Base(from), filepath.Ext(from))
			}
			ws, err := document.CreateWorkspace(dir, name, img)
			if err != nil {
				return err
			}
			layer, _ := ws.ActiveLayer()
			if err := ws.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Workspace %s created (%dx%d), layer %q [%s]\n",
				dir, layer.Width, layer.Height, layer.Name, layer.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "workspace", "w", ".", "Workspace directory")
	cmd.Flags().StringVar(&from, "from", "", "Image to start from (PNG, JPEG, GIF or WebP)")
	cmd.Flags().StringVar(&name, "name", "", "Layer name (default: file name)")
	cmd.MarkFlagRequired("from")
	return cmd
}

func newLayersCommand(ctx *commandContext) *cobra.Command {
	var dir string
	var selectRefs []string
	var active string
	cmd := &cobra.Command{
		Use:   "layers",
		Short: "List workspace layers, optionally updating the selection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(dir)
			if err != nil {
				return err
			}
			defer ws.Close()

			if cmd.Flags().Changed("select") {
				ids, err := resolveRefs(ws, selectRefs)
				if err != nil {
					return err
				}
				if err := ws.SetSelection(ids); err != nil {
					return err
				}
			}
			if active != "" {
				ids, err := resolveRefs(ws, []string{active})
				if err != nil {
					return err
				}
				if err := ws.SetActive(ids[0]); err != nil {
					return err
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderLayers(ws))
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "workspace", "w", ".", "Workspace directory")
	cmd.Flags().StringSliceVarP(&selectRefs, "select", "s", nil, "Save these layers (names or IDs) as the selection")
	cmd.Flags().StringVar(&active, "active", "", "Make this layer (name or ID) active")
	return cmd
}

// resolveRefs maps layer names or IDs to IDs.
func resolveRefs(doc document.Document, refs []string) ([]string, error) {
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		l, err := batch.ResolveLayer(doc, strings.TrimSpace(ref))
		if err != nil {
			return nil, err
		}
		ids = append(ids, l.ID)
	}
	return ids, nil
}

func renderLayers(doc document.Document) string {
	active, _ := doc.ActiveLayer()
	selected := make(map[string]bool)
	for _, l := range doc.SelectedLayers() {
		selected[l.ID] = true
	}

	layers := doc.Layers()
	tw := newTable(table.Row{"#", "ID", "Name", "Visible", "Size", ""}, 1)
	// Top of the stack first, as layer panels show it.
	for i := len(layers) - 1; i >= 0; i-- {
		l := layers[i]
		var marks []string
		if l.ID == active.ID {
			marks = append(marks, "active")
		}
		if selected[l.ID] {
			marks = append(marks, "selected")
		}
		tw.AppendRow(table.Row{
			i + 1,
			l.ID,
			l.Name,
			yesNo(l.Visible),
			fmt.Sprintf("%dx%d", l.Width, l.Height),
			strings.Join(marks, " "),
		})
	}
	return tw.Render()
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var path string
	var limit int
	var runID string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent runs, or the items of one run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hist, err := openHistory(ctx, path)
			if err != nil {
				return err
			}
			defer hist.Close()
			repo := db.NewRepository(hist)
			out := cmd.OutOrStdout()

			if runID != "" {
				items, err := repo.RunItems(cmd.Context(), runID)
				if err != nil {
					return err
				}
				if len(items) == 0 {
					fmt.Fprintf(out, "No items recorded for run %s\n", runID)
					return nil
				}
				fmt.Fprintln(out, renderItems(items))
				return nil
			}

			runs, err := repo.RecentRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			fmt.Fprintln(out, renderRuns(runs))
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "db", "", "History database (default: FLUX_HISTORY_DB)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	cmd.Flags().StringVar(&runID, "run", "", "Show the items of this run (ID or unique prefix)")
	return cmd
}

func openHistory(ctx *commandContext, path string) (*db.Database, error) {
	if path == "" {
		cfg, err := ctx.ensureConfig()
		if err != nil {
			return nil, err
		}
		path = cfg.HistoryDB
	}
	if path == "" {
		return nil, &core.ConfigError{
			Code:    core.ErrCodeInvalidValue,
			Message: "Run history is disabled",
			Action:  "Set FLUX_HISTORY_DB or pass --db",
		}
	}
	return db.Open(path)
}

func renderRuns(runs []db.RunRecord) string {
	tw := newTable(table.Row{"Run", "When", "Provider", "OK", "Failed", "Skipped", "Took", "Prompt"}, 4, 5, 6, 7)
	for _, r := range runs {
		tw.AppendRow(table.Row{
			shortID(r.ID),
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			r.Provider,
			fmt.Sprintf("%d/%d", r.Succeeded, r.Total),
			r.Failed,
			r.Skipped,
			time.Duration(r.DurationMS) * time.Millisecond,
			truncate(r.Prompt, 40),
		})
	}
	return tw.Render()
}

func renderItems(items []db.ItemRecord) string {
	tw := newTable(table.Row{"#", "Layer", "Stage", "Status", "Result"}, 1)
	for _, it := range items {
		tw.AppendRow(table.Row{it.Position, it.LayerName, it.Stage, truncate(it.Status, 60), it.ResultLayer})
	}
	return tw.Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func newCleanCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration
	var historyDays int
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove leftover temporary files and prune old run history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			res, err := inpaint.Sweep(cmd.Context(), logger, cfg.TempDir, olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Removed %d temporary file(s) from %s", res.Removed, cfg.TempDir)
			if res.Kept > 0 {
				fmt.Fprintf(out, ", kept %d newer than %s", res.Kept, olderThan)
			}
			if res.Failed > 0 {
				fmt.Fprintf(out, ", %d could not be removed", res.Failed)
			}
			fmt.Fprintln(out)

			if historyDays > 0 && cfg.HistoryDB != "" {
				hist, err := db.Open(cfg.HistoryDB)
				if err != nil {
					return err
				}
				defer hist.Close()
				pruned, err := hist.Prune(cmd.Context(), historyDays)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Pruned %d run(s) older than %d days\n", pruned.RunsDeleted, historyDays)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", time.Hour, "Only remove files older than this (0 removes all)")
	cmd.Flags().IntVar(&historyDays, "history-days", 0, "Also delete runs older than this many days")
	return cmd
}
