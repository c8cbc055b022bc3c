package ctl

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"

	"pupctl/internal/models"
)

type ListOptions struct {
	// Name keeps only processes whose name starts with it.
	Name string
	// Raw prints plain fixed-width text instead of the styled table.
	Raw bool
	// Color forces ANSI colors in the styled table.
	Color bool
}

type column struct {
	title string
	width int
}

var rawColumns = []column{
	{"ID", 5},
	{"Name", 25},
	{"Version", 10},
	{"PID", 8},
	{"Uptime", 12},
	{"Restarts", 10},
	{"Status", 12},
	{"CPU", 8},
	{"Memory", 12},
	{"User", 12},
}

const (
	separatorWidth = 110
	recordRule     = "-------------------------------"
	labelWidth     = 11
)

func (c *Controller) List(ctx context.Context, opts ListOptions) error {
	cl, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer cl.Disconnect()

	procs, err := cl.List(ctx)
	if err != nil {
		c.printErr("Error fetching process list: %v", err)
		return &ExitError{Code: ExitFailure, Err: err}
	}

	procs = FilterByName(procs, opts.Name)
	if len(procs) == 0 {
		c.print("No running connections found.")
		return nil
	}

	now := c.now()
	switch {
	case !opts.Raw:
		c.renderTable(procs, now, opts.Color)
	case c.width() >= horizontalWidth:
		writeHorizontal(c.out, procs, now)
	default:
		writeVertical(c.out, procs, now)
	}
	return nil
}

// FilterByName keeps processes whose name starts with prefix.
func FilterByName(procs []models.Process, prefix string) []models.Process {
	if prefix == "" {
		return procs
	}
	kept := procs[:0:0]
	for _, p := range procs {
		if strings.HasPrefix(p.Name, prefix) {
			kept = append(kept, p)
		}
	}
	return kept
}

// Pad right-pads s with spaces to width runes. Longer strings are returned
// unchanged.
func Pad(s string, width int) string {
	n := utf8.RuneCountInString(s)
	if n >= width {
		return s
	}
	return s + strings.Repeat(" ", width-n)
}

func rowValues(p models.Process, now time.Time) []string {
	return []string{
		strconv.Itoa(p.ID),
		p.Name,
		orNA(p.Version),
		strconv.Itoa(p.Pid),
		formatUptime(p.Uptime(now)),
		strconv.Itoa(p.Restarts),
		p.Status,
		formatCPU(p.CPU),
		formatMemory(p.Memory),
		orNA(p.Username),
	}
}

func writeHorizontal(w io.Writer, procs []models.Process, now time.Time) {
	var b strings.Builder
	for _, col := range rawColumns {
		b.WriteString(Pad(col.title, col.width))
	}
	fmt.Fprintln(w, b.String())
	fmt.Fprintln(w, strings.Repeat("-", separatorWidth))

	for _, p := range procs {
		b.Reset()
		for i, v := range rowValues(p, now) {
			b.WriteString(Pad(v, rawColumns[i].width))
		}
		fmt.Fprintln(w, b.String())
	}
}

func writeVertical(w io.Writer, procs []models.Process, now time.Time) {
	for _, p := range procs {
		fmt.Fprintln(w)
		for i, v := range rowValues(p, now) {
			fmt.Fprintf(w, "  %s%s\n", Pad(rawColumns[i].title+":", labelWidth), v)
		}
		fmt.Fprintf(w, "  %s\n", recordRule)
	}
}

func (c *Controller) renderTable(procs []models.Process, now time.Time, force bool) {
	renderer := lipgloss.NewRenderer(c.out)
	if force {
		renderer.SetColorProfile(termenv.ANSI256)
	}

	header := renderer.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Padding(0, 1)
	cell := renderer.NewStyle().Padding(0, 1)
	border := renderer.NewStyle().Foreground(lipgloss.Color("240"))

	headers := make([]string, len(rawColumns))
	for i, col := range rawColumns {
		headers[i] = col.title
	}
	rows := make([][]string, len(procs))
	for i, p := range procs {
		rows[i] = rowValues(p, now)
	}

	const statusCol = 6
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(border).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			if col == statusCol && row >= 0 && row < len(rows) {
				return cell.Foreground(statusColor(rows[row][statusCol]))
			}
			return cell
		})

	fmt.Fprintln(c.out, t.Render())
}

func statusColor(status string) lipgloss.Color {
	switch status {
	case models.StatusRunning:
		return lipgloss.Color("42")
	case models.StatusErrored:
		return lipgloss.Color("196")
	default:
		return lipgloss.Color("245")
	}
}

func formatUptime(d time.Duration) string {
	return fmt.Sprintf("%ds", int64(d/time.Second))
}

func formatCPU(cpu float64) string {
	return fmt.Sprintf("%.1f%%", cpu)
}

func formatMemory(rss uint64) string {
	return fmt.Sprintf("%.1fMB", float64(rss)/1024/1024)
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
