package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"fluxfill/batch"
	"fluxfill/metrics"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

// linePrinter writes outcome lines, colored when out is a terminal.
type linePrinter struct {
	out      io.Writer
	colorize bool
}

func newLinePrinter(out io.Writer) *linePrinter {
	return &linePrinter{out: out, colorize: isTerminal(out)}
}

func (p *linePrinter) color(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if p.colorize {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c
}

// line prints one "i/N → status" entry.
func (p *linePrinter) line(line string) {
	_, status, _ := strings.Cut(line, "→ ")
	var c *color.Color
	switch {
	case strings.HasPrefix(status, "Success"):
		c = p.color(color.FgGreen)
	case strings.HasPrefix(status, "Skipped"):
		c = p.color(color.FgYellow)
	default:
		c = p.color(color.FgRed)
	}
	c.Fprintln(p.out, line)
}

// summary prints the closing tally and the distinct errors.
func (p *linePrinter) summary(outcome *batch.Outcome) {
	lines := outcome.Summary()
	tally := p.color(color.FgGreen, color.Bold)
	if outcome.Succeeded != outcome.Total {
		tally = p.color(color.FgYellow, color.Bold)
	}
	tally.Fprintln(p.out, lines[0])
	for _, l := range lines[1:] {
		p.color(color.FgRed).Fprintln(p.out, l)
	}
	p.color(color.FgHiBlack).Fprintf(p.out, "(%d workers, %s)\n", outcome.Workers, outcome.Duration.Round(time.Millisecond))
}

// progress drives a terminal progress bar. It is a no-op when w is not a
// terminal or there is nothing to do.
type progress struct {
	bar *progressbar.ProgressBar
}

func newProgress(w io.Writer, items int) *progress {
	if items == 0 || !isTerminal(w) {
		return &progress{}
	}
	return &progress{bar: progressbar.NewOptions(batch.ProgressDone,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(fmt.Sprintf("Inpainting %d layer(s)", items)),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionClearOnFinish(),
	)}
}

func (p *progress) set(percent int) {
	if p.bar != nil {
		p.bar.Set(percent)
	}
}

// clear removes the bar so a line can be printed above it.
func (p *progress) clear() {
	if p.bar != nil {
		p.bar.Clear()
	}
}

func (p *progress) finish() {
	if p.bar != nil {
		p.bar.Finish()
	}
}

func renderStages(stats []metrics.StageStats) string {
	tw := newTable(table.Row{"Stage", "Runs", "OK", "Avg", "Max"}, 2, 3, 4, 5)
	for _, s := range stats {
		tw.AppendRow(table.Row{
			s.Stage,
			s.Count,
			fmt.Sprintf("%.0f%%", s.SuccessRate()),
			s.Avg().Round(time.Millisecond),
			s.Max.Round(time.Millisecond),
		})
	}
	return tw.Render()
}

// newTable returns a rounded table writer with header. The listed
// 1-based columns are right-aligned; headers stay left-aligned.
func newTable(header table.Row, rightAligned ...int) table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(header)

	configs := make([]table.ColumnConfig, 0, len(rightAligned))
	for _, n := range rightAligned {
		configs = append(configs, table.ColumnConfig{
			Number:      n,
			Align:       text.AlignRight,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)
	return tw
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
