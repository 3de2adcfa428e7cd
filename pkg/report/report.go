package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/core-tools/hsu-envctl/pkg/reconciler"
)

// Process exit codes of the CLI.
const (
	ExitOK         = 0
	ExitFailed     = 1
	ExitUsage      = 2
	ExitIncomplete = 3
)

// ExitCode reflects the worst unit state of a run: any failure wins over
// units left skipped.
func ExitCode(report reconciler.Report) int {
	switch {
	case report.HasFailures():
		return ExitFailed
	case !report.Succeeded():
		return ExitIncomplete
	default:
		return ExitOK
	}
}

// StatusRow is the last known state of one unit.
type StatusRow struct {
	Unit      string
	Kind      string
	State     string
	UpdatedAt time.Time
	Detail    string
}

// SessionRow is one live serve session.
type SessionRow struct {
	Unit      string
	Kind      string
	PID       int
	StartedAt time.Time
	LogFile   string
}

// HistoryRow is one past run.
type HistoryRow struct {
	RunID     string
	Mode      string
	Targets   []string
	StartedAt time.Time
	Duration  time.Duration
	Summary   string
}

// UnitRow is the recorded outcome of one unit within a past run.
type UnitRow struct {
	Unit          string
	State         string
	Duration      time.Duration
	ProbeAttempts int
	ExitCode      int
	Detail        string
}

// Printer renders tables. Colors are only emitted when w is a terminal.
type Printer struct {
	w        io.Writer
	renderer *lipgloss.Renderer
	header   lipgloss.Style
	title    lipgloss.Style
	states   map[string]lipgloss.Style
	muted    lipgloss.Style
}

func NewPrinter(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)
	color := func(c string) lipgloss.Style { return r.NewStyle().Foreground(lipgloss.Color(c)) }

	return &Printer{
		w:        w,
		renderer: r,
		header:   r.NewStyle().Bold(true).Underline(true),
		title:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("205")),
		muted:    color("8"),
		states: map[string]lipgloss.Style{
			string(reconciler.StateReady):      color("2"), // Green
			string(reconciler.StateRemoved):    color("2"),
			string(reconciler.StateFailed):     color("1"), // Red
			string(reconciler.StateSkipped):    color("3"), // Yellow
			string(reconciler.StatePending):    color("4"), // Blue
			string(reconciler.StateInstalling): color("6"), // Cyan
			string(reconciler.StateProbing):    color("6"),
			string(reconciler.StateRemoving):   color("6"),
		},
	}
}

// RunSummary prints one line per unit of report followed by the totals.
func (p *Printer) RunSummary(report reconciler.Report) {
	rows := make([][]string, 0, len(report.Results))
	for _, result := range report.Results {
		rows = append(rows, []string{
			result.UnitID,
			string(result.State),
			formatDuration(result.Duration),
			fmt.Sprintf("%d", result.ProbeAttempts),
			detail(result),
		})
	}

	p.printTitle(fmt.Sprintf("%s summary (run %s)", report.Mode, shortID(report.RunID)))
	p.printTable([]string{"UNIT", "STATE", "DURATION", "PROBES", "DETAIL"}, rows, 1)

	counts := make([]string, 0, 4)
	for _, state := range []reconciler.State{reconciler.StateReady, reconciler.StateRemoved, reconciler.StateFailed, reconciler.StateSkipped} {
		if n := report.Count(state); n > 0 {
			counts = append(counts, p.styleState(string(state)).Render(fmt.Sprintf("%d %s", n, state)))
		}
	}
	fmt.Fprintf(p.w, "\n%s in %s\n", strings.Join(counts, ", "), formatDuration(report.Duration))
}

// Status prints the last known unit states and the live sessions.
func (p *Printer) Status(profile string, units []StatusRow, sessions []SessionRow) {
	rows := make([][]string, 0, len(units))
	for _, u := range units {
		updated := "never"
		if !u.UpdatedAt.IsZero() {
			updated = u.UpdatedAt.Local().Format(time.DateTime)
		}
		rows = append(rows, []string{u.Unit, u.Kind, u.State, updated, u.Detail})
	}

	p.printTitle(fmt.Sprintf("Profile %s", profile))
	p.printTable([]string{"UNIT", "KIND", "STATE", "UPDATED", "DETAIL"}, rows, 2)

	fmt.Fprintln(p.w)
	if len(sessions) == 0 {
		fmt.Fprintln(p.w, p.muted.Render("No active sessions"))
		return
	}

	sessionRows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		sessionRows = append(sessionRows, []string{
			s.Unit, s.Kind, fmt.Sprintf("%d", s.PID), s.StartedAt.Local().Format(time.DateTime), s.LogFile,
		})
	}
	p.printTitle("Active sessions")
	p.printTable([]string{"UNIT", "KIND", "PID", "STARTED", "LOG"}, sessionRows, -1)
}

// History prints past runs, most recent first.
func (p *Printer) History(runs []HistoryRow) {
	if len(runs) == 0 {
		fmt.Fprintln(p.w, p.muted.Render("No runs recorded"))
		return
	}

	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		targets := strings.Join(run.Targets, ",")
		if targets == "" {
			targets = "all"
		}
		rows = append(rows, []string{
			shortID(run.RunID),
			run.Mode,
			run.StartedAt.Local().Format(time.DateTime),
			formatDuration(run.Duration),
			targets,
			run.Summary,
		})
	}
	p.printTitle("Run history")
	p.printTable([]string{"RUN", "MODE", "STARTED", "DURATION", "TARGETS", "RESULT"}, rows, -1)
}

// RunUnits prints the recorded unit outcomes of one past run.
func (p *Printer) RunUnits(run HistoryRow, units []UnitRow) {
	rows := make([][]string, 0, len(units))
	for _, u := range units {
		exitCode := "-"
		if u.ExitCode >= 0 {
			exitCode = fmt.Sprintf("%d", u.ExitCode)
		}
		rows = append(rows, []string{
			u.Unit,
			u.State,
			formatDuration(u.Duration),
			fmt.Sprintf("%d", u.ProbeAttempts),
			exitCode,
			u.Detail,
		})
	}

	p.printTitle(fmt.Sprintf("%s run %s, started %s", run.Mode, run.RunID, run.StartedAt.Local().Format(time.DateTime)))
	p.printTable([]string{"UNIT", "STATE", "DURATION", "PROBES", "EXIT", "DETAIL"}, rows, 1)
}

func (p *Printer) printTitle(title string) {
	fmt.Fprintln(p.w, p.title.Render(title))
}

// printTable pads every column to its widest cell; stateColumn, when not
// negative, is colored by state.
func (p *Printer) printTable(headers []string, rows [][]string, stateColumn int) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	last := len(headers) - 1
	cells := make([]string, len(headers))
	for i, h := range headers {
		cells[i] = p.pad(p.header, h, widths[i], i == last)
	}
	fmt.Fprintln(p.w, strings.TrimRight(strings.Join(cells, "  "), " "))

	for _, row := range rows {
		for i, cell := range row {
			style := p.renderer.NewStyle()
			if i == stateColumn {
				style = p.styleState(cell)
			}
			cells[i] = p.pad(style, cell, widths[i], i == last)
		}
		fmt.Fprintln(p.w, strings.TrimRight(strings.Join(cells, "  "), " "))
	}
}

func (p *Printer) pad(style lipgloss.Style, text string, width int, last bool) string {
	rendered := style.Render(text)
	if last {
		return rendered
	}
	return rendered + strings.Repeat(" ", width-lipgloss.Width(text))
}

func (p *Printer) styleState(state string) lipgloss.Style {
	if style, ok := p.states[state]; ok {
		return style
	}
	return p.muted
}

func detail(result reconciler.UnitResult) string {
	if result.Err != nil {
		return result.Err.Error()
	}
	return result.Message
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
