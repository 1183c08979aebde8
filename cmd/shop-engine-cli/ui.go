// Package main provides UI utilities for the Shop Engine CLI.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/spherical-ai/spherical/libs/shop-engine/internal/domain"
)

// UI provides user-friendly output utilities.
type UI struct {
	out      io.Writer
	progress *mpb.Progress
	noColor  bool
	jsonMode bool
}

// NewUI creates a new UI instance writing to out.
func NewUI(out io.Writer, jsonMode, noColor bool) *UI {
	var progress *mpb.Progress
	if !jsonMode && IsTerminal() {
		progress = mpb.New(mpb.WithWidth(64), mpb.WithOutput(os.Stderr))
	}
	return &UI{
		out:      out,
		progress: progress,
		noColor:  noColor || !IsTerminal(),
		jsonMode: jsonMode,
	}
}

// Close waits for any progress bars to finish rendering.
func (ui *UI) Close() {
	if ui.progress != nil {
		ui.progress.Wait()
	}
}

func (ui *UI) print(attr color.Attribute, symbol, format string, args ...any) {
	if ui.jsonMode {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if ui.noColor {
		fmt.Fprintf(ui.out, "%s %s\n", symbol, msg)
		return
	}
	color.New(attr).Fprintf(ui.out, "%s %s\n", symbol, msg)
}

// Success prints a success message.
func (ui *UI) Success(format string, args ...any) { ui.print(color.FgGreen, "✓", format, args...) }

// Warning prints a warning message.
func (ui *UI) Warning(format string, args ...any) { ui.print(color.FgYellow, "⚠", format, args...) }

// Info prints an info message.
func (ui *UI) Info(format string, args ...any) { ui.print(color.FgCyan, "ℹ", format, args...) }

// Step prints a step message.
func (ui *UI) Step(format string, args ...any) { ui.print(color.FgBlue, "→", format, args...) }

// Section prints a section header.
func (ui *UI) Section(title string) {
	if ui.jsonMode {
		return
	}
	fmt.Fprintln(ui.out)
	if ui.noColor {
		fmt.Fprintf(ui.out, "━━━ %s ━━━\n", strings.ToUpper(title))
	} else {
		color.New(color.FgMagenta, color.Bold).Fprintf(ui.out, "━━━ %s ━━━\n", strings.ToUpper(title))
	}
	fmt.Fprintln(ui.out)
}

// KeyValue prints a key-value pair.
func (ui *UI) KeyValue(key string, value any) {
	if ui.jsonMode {
		return
	}
	if ui.noColor {
		fmt.Fprintf(ui.out, "  %s: %v\n", key, value)
		return
	}
	color.New(color.FgYellow).Fprintf(ui.out, "  %s: ", key)
	fmt.Fprintf(ui.out, "%v\n", value)
}

// Table prints a formatted table.
func (ui *UI) Table(headers []string, rows [][]string) {
	if ui.jsonMode || len(headers) == 0 {
		return
	}

	widths := make([]int, len(headers))
	for i, header := range headers {
		widths[i] = len([]rune(header))
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len([]rune(cell)) > widths[i] {
				widths[i] = len([]rune(cell))
			}
		}
	}

	line := func(cells []string) string {
		var b strings.Builder
		b.WriteString("|")
		for i, w := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			fmt.Fprintf(&b, " %-*s |", w, cell)
		}
		return b.String()
	}
	rule := "+"
	for _, w := range widths {
		rule += strings.Repeat("-", w+2) + "+"
	}

	fmt.Fprintln(ui.out, rule)
	if ui.noColor {
		fmt.Fprintln(ui.out, line(headers))
	} else {
		color.New(color.FgCyan, color.Bold).Fprintln(ui.out, line(headers))
	}
	fmt.Fprintln(ui.out, rule)
	for _, row := range rows {
		fmt.Fprintln(ui.out, line(row))
	}
	fmt.Fprintln(ui.out, rule)
}

// BudgetStatus prints a cart's budget line colored by severity.
func (ui *UI) BudgetStatus(s domain.BudgetStatus, currency string) {
	if ui.jsonMode {
		return
	}
	attr := color.FgGreen
	switch s.Status {
	case domain.BudgetOver:
		attr = color.FgRed
	case domain.BudgetWarning:
		attr = color.FgYellow
	}
	ui.print(attr, "●", "%.2f / %.2f %s (%.1f%%) %s", s.Total, s.Budget, currency, s.PercentageUsed, strings.ToUpper(string(s.Status)))
	if s.Explanation != "" {
		ui.Info("%s", s.Explanation)
	}
	for _, rec := range s.Recommendations {
		ui.Step("%s", rec)
	}
}

// Spinner shows indeterminate progress on stderr until the returned stop
// function is called. It is a no-op outside a terminal.
func (ui *UI) Spinner(message string) (stop func()) {
	if ui.jsonMode || !IsTerminal() {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + message
	s.Start()
	return s.Stop
}

// TrackReader reports read progress of r on stderr. size may be -1 when
// unknown.
func (ui *UI) TrackReader(r io.Reader, size int64, description string) io.Reader {
	if ui.jsonMode || !IsTerminal() {
		return r
	}
	bar := progressbar.NewOptions64(size,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionOnCompletion(func() { fmt.Fprint(os.Stderr, "\n") }),
	)
	return io.TeeReader(r, bar)
}

// StageBar creates a bar that advances once per pipeline stage.
func (ui *UI) StageBar(name string, stages int64) *mpb.Bar {
	if ui.progress == nil {
		return nil
	}
	return ui.progress.AddBar(stages,
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: len(name) + 1, C: decor.DSyncSpaceR}),
			decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.Elapsed(decor.ET_STYLE_GO, decor.WC{W: 8}),
			decor.OnComplete(decor.Name(""), " done"),
		),
	)
}

// FormatDuration formats a duration in a human-readable way.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}

// IsTerminal checks if stdout is a terminal.
func IsTerminal() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}
