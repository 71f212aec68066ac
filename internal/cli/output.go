// Package cli provides the command-line interface for the breakout scanner.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"nifty-breakout/internal/models"
)

// Output writes human or JSON output for one command.
type Output struct {
	writer       io.Writer
	jsonMode     bool
	colorEnabled bool
}

// NewOutput creates an Output for cmd. Color is used only when writing to
// a terminal stdout; color.NoColor already honors NO_COLOR and TERM=dumb.
func NewOutput(cmd *cobra.Command) *Output {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &Output{
		writer:       cmd.OutOrStdout(),
		jsonMode:     jsonMode,
		colorEnabled: !jsonMode && cmd.OutOrStdout() == os.Stdout && !color.NoColor,
	}
}

// IsJSON returns true if JSON output mode is enabled.
func (o *Output) IsJSON() bool {
	return o.jsonMode
}

// JSON writes data as indented JSON.
func (o *Output) JSON(data interface{}) error {
	encoder := json.NewEncoder(o.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// Println prints a message with newline.
func (o *Output) Println(args ...interface{}) {
	fmt.Fprintln(o.writer, args...)
}

// Printf prints a formatted message.
func (o *Output) Printf(format string, args ...interface{}) {
	fmt.Fprintf(o.writer, format, args...)
}

// paint returns a color forced on or off to match this Output rather than
// the package-wide default.
func (o *Output) paint(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if o.colorEnabled {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c
}

func (o *Output) line(attr color.Attribute, format string, args ...interface{}) {
	fmt.Fprintln(o.writer, o.paint(attr).Sprintf(format, args...))
}

// Success prints a line in green.
func (o *Output) Success(format string, args ...interface{}) {
	o.line(color.FgGreen, format, args...)
}

// Error prints a line in red.
func (o *Output) Error(format string, args ...interface{}) {
	o.line(color.FgRed, format, args...)
}

// Warning prints a line in yellow.
func (o *Output) Warning(format string, args ...interface{}) {
	o.line(color.FgYellow, format, args...)
}

// Info prints a line in cyan.
func (o *Output) Info(format string, args ...interface{}) {
	o.line(color.FgCyan, format, args...)
}

// Bold prints a bold line.
func (o *Output) Bold(format string, args ...interface{}) {
	o.line(color.Bold, format, args...)
}

// Dim prints a faint line.
func (o *Output) Dim(format string, args ...interface{}) {
	o.line(color.Faint, format, args...)
}

// ColoredString paints text without a trailing newline.
func (o *Output) ColoredString(attr color.Attribute, text string) string {
	return o.paint(attr).Sprint(text)
}

func (o *Output) Green(text string) string    { return o.ColoredString(color.FgGreen, text) }
func (o *Output) Red(text string) string      { return o.ColoredString(color.FgRed, text) }
func (o *Output) Yellow(text string) string   { return o.ColoredString(color.FgYellow, text) }
func (o *Output) BoldText(text string) string { return o.ColoredString(color.Bold, text) }
func (o *Output) DimText(text string) string  { return o.ColoredString(color.Faint, text) }

// SourceTag renders a result's data source, e.g. [LIVE].
func (o *Output) SourceTag(source models.DataSource) string {
	attr := color.Faint
	switch source {
	case models.DataSourceLive:
		attr = color.FgCyan
	case models.DataSourceHistorical:
		attr = color.FgBlue
	case models.DataSourceStale:
		attr = color.FgYellow
	}
	return "[" + o.ColoredString(attr, strings.ToUpper(string(source))) + "]"
}

// ChangeColor picks green, red or white for a signed change.
func ChangeColor(v float64) color.Attribute {
	switch {
	case v > 0:
		return color.FgGreen
	case v < 0:
		return color.FgRed
	}
	return color.FgWhite
}

// FormatPercent formats a signed percentage in its change color.
func (o *Output) FormatPercent(pct float64) string {
	return o.ColoredString(ChangeColor(pct), FormatPercent(pct))
}

// Flag renders a yes/no classification flag.
func (o *Output) Flag(set bool) string {
	if set {
		return o.Green("yes")
	}
	return o.DimText("no")
}

// MarketStatus renders the market clock state.
func (o *Output) MarketStatus(open bool) string {
	if open {
		return o.Green("● OPEN")
	}
	return o.Red("● CLOSED")
}

// Table is a left-aligned text table that pads around color codes.
type Table struct {
	headers []string
	rows    [][]string
	output  *Output
}

// NewTable creates a table with the given headers.
func NewTable(output *Output, headers ...string) *Table {
	return &Table{headers: headers, output: output}
}

// AddRow appends a row. Cells beyond the header count are ignored.
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Render writes the table.
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = visibleLen(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && visibleLen(cell) > widths[i] {
				widths[i] = visibleLen(cell)
			}
		}
	}

	header := make([]string, len(t.headers))
	for i, h := range t.headers {
		header[i] = t.output.BoldText(h)
	}
	t.writeRow(header, widths)

	seps := make([]string, len(widths))
	for i, w := range widths {
		seps[i] = strings.Repeat("─", w)
	}
	t.output.Println(t.output.DimText(strings.Join(seps, "──")))

	for _, row := range t.rows {
		t.writeRow(row, widths)
	}
}

func (t *Table) writeRow(cells []string, widths []int) {
	parts := make([]string, 0, len(widths))
	for i, cell := range cells {
		if i >= len(widths) {
			break
		}
		pad := widths[i] - visibleLen(cell)
		if pad < 0 {
			pad = 0
		}
		parts = append(parts, cell+strings.Repeat(" ", pad))
	}
	t.output.Println(strings.TrimRight(strings.Join(parts, "  "), " "))
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

// visibleLen counts runes, not bytes, so ₹ and ● pad correctly.
func visibleLen(s string) int {
	return len([]rune(stripANSI(s)))
}

// Box draws a titled box around content.
func (o *Output) Box(title string, content []string) {
	inner := visibleLen(title)
	for _, line := range content {
		if l := visibleLen(line); l > inner {
			inner = l
		}
	}
	border := strings.Repeat("─", inner+2)
	side := o.DimText("│")

	o.Println(o.DimText("┌" + border + "┐"))
	o.Printf("%s %s%s %s\n", side, o.BoldText(title), strings.Repeat(" ", inner-visibleLen(title)), side)
	o.Println(o.DimText("├" + border + "┤"))
	for _, line := range content {
		o.Printf("%s %s%s %s\n", side, line, strings.Repeat(" ", inner-visibleLen(line)), side)
	}
	o.Println(o.DimText("└" + border + "┘"))
}
