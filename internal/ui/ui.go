// Package ui renders tasksync output for the terminal.
package ui

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/tinytodo/tasksync/internal/record"
	"github.com/tinytodo/tasksync/internal/store"
	"github.com/tinytodo/tasksync/internal/sync"
)

// Palette
const (
	colorAccent = lipgloss.Color("#4ec9b0")
	colorPass   = lipgloss.Color("#6a9955")
	colorWarn   = lipgloss.Color("#dcdcaa")
	colorFail   = lipgloss.Color("#d73a4a")
	colorMuted  = lipgloss.Color("#666")
)

// Printer writes styled output to one writer.
type Printer struct {
	w io.Writer
	r *lipgloss.Renderer

	header lipgloss.Style
	accent lipgloss.Style
	pass   lipgloss.Style
	warn   lipgloss.Style
	fail   lipgloss.Style
	muted  lipgloss.Style
	done   lipgloss.Style
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// NewPrinter creates a Printer. Color is used only when w is a terminal,
// noColor is false and NO_COLOR is unset.
func NewPrinter(w io.Writer, noColor bool) *Printer {
	r := lipgloss.NewRenderer(w)
	if noColor || os.Getenv("NO_COLOR") != "" || !IsTerminal(w) {
		r.SetColorProfile(termenv.Ascii)
	}

	return &Printer{
		w:      w,
		r:      r,
		header: r.NewStyle().Bold(true).Foreground(colorAccent),
		accent: r.NewStyle().Foreground(colorAccent),
		pass:   r.NewStyle().Foreground(colorPass),
		warn:   r.NewStyle().Foreground(colorWarn),
		fail:   r.NewStyle().Foreground(colorFail).Bold(true),
		muted:  r.NewStyle().Foreground(colorMuted),
		done:   r.NewStyle().Foreground(colorMuted).Strikethrough(true),
	}
}

// Success prints a confirmation line.
func (p *Printer) Success(format string, args ...any) {
	fmt.Fprintln(p.w, p.pass.Render("✓")+" "+fmt.Sprintf(format, args...))
}

// Warn prints a warning line.
func (p *Printer) Warn(format string, args ...any) {
	fmt.Fprintln(p.w, p.warn.Render("!")+" "+fmt.Sprintf(format, args...))
}

// Error prints an error line.
func (p *Printer) Error(format string, args ...any) {
	fmt.Fprintln(p.w, p.fail.Render("✗")+" "+fmt.Sprintf(format, args...))
}

// GroupedTasks is the listing Groups renders, one slice per group.
type GroupedTasks interface {
	Get(group record.Group) []*record.TaskRecord
}

// Groups prints tasks under Past/Today/Upcoming headers. Empty groups are
// skipped. showIDs prints an 8-character ID prefix before each task.
func (p *Printer) Groups(groups GroupedTasks, now time.Time, showIDs bool) {
	printed := false
	for _, g := range record.Groups {
		tasks := groups.Get(g)
		if len(tasks) == 0 {
			continue
		}
		if printed {
			fmt.Fprintln(p.w)
		}
		printed = true

		fmt.Fprintln(p.w, p.header.Render(fmt.Sprintf("%s (%d)", g, len(tasks))))
		for _, task := range tasks {
			fmt.Fprintln(p.w, p.taskLine(task, now, showIDs))
		}
	}
	if !printed {
		fmt.Fprintln(p.w, p.muted.Render("No tasks."))
	}
}

// Task prints one task in detail.
func (p *Printer) Task(task *record.TaskRecord, now time.Time) {
	label := p.muted.Render
	fmt.Fprintln(p.w, p.header.Render(task.Title))
	if task.Subtitle != nil {
		fmt.Fprintln(p.w, "  "+*task.Subtitle)
	}
	fmt.Fprintf(p.w, "  %s %s\n", label("id:"), task.ID)
	fmt.Fprintf(p.w, "  %s %s (%s)\n", label("due:"), formatDue(task.DueDate, now), record.GroupOf(task.DueDate, now))
	fmt.Fprintf(p.w, "  %s %v\n", label("completed:"), task.IsCompleted)
	fmt.Fprintf(p.w, "  %s %s\n", label("sync:"), p.syncState(task))
}

func (p *Printer) taskLine(task *record.TaskRecord, now time.Time, showIDs bool) string {
	var b strings.Builder
	b.WriteString("  ")
	if showIDs {
		b.WriteString(p.muted.Render(shortID(task.ID)) + " ")
	}
	if task.IsCompleted {
		b.WriteString(p.pass.Render("[x]") + " " + p.done.Render(task.Title))
	} else {
		b.WriteString("[ ] " + task.Title)
	}
	if task.Subtitle != nil {
		b.WriteString(" " + p.muted.Render("- "+*task.Subtitle))
	}
	b.WriteString(" " + p.accent.Render(formatDue(task.DueDate, now)))
	switch {
	case task.IsRejected():
		b.WriteString(" " + p.fail.Render("rejected"))
	case task.IsDirty():
		b.WriteString(" " + p.warn.Render("•"))
	}
	return b.String()
}

func (p *Printer) syncState(task *record.TaskRecord) string {
	switch {
	case task.IsRejected():
		return p.fail.Render("rejected: " + task.RejectReason)
	case task.IsDirty():
		return p.warn.Render("pending")
	default:
		return p.pass.Render("synced")
	}
}

// Report prints a one-line pass summary.
func (p *Printer) Report(rep *sync.Report) {
	if rep == nil {
		fmt.Fprintln(p.w, p.muted.Render("No sync pass yet."))
		return
	}

	summary := fmt.Sprintf("pulled %d (inserted %d, updated %d, deleted %d), pushed %d, removed %d in %s",
		rep.Pulled, rep.Inserted, rep.Updated, rep.Deleted, rep.Pushed, rep.Removed,
		rep.Duration().Round(time.Millisecond))
	if rep.OK() {
		p.Success("Sync: %s", summary)
	} else {
		p.Error("Sync stopped: %s (%s)", rep.Error, summary)
	}
	if rep.Rejected > 0 {
		p.Warn("%d task(s) rejected by the remote", rep.Rejected)
	}
	if rep.Invalid > 0 {
		p.Warn("%d invalid remote record(s) skipped", rep.Invalid)
	}
}

// Status prints store totals and the sync cursor.
func (p *Printer) Status(counts store.Counts, cursor time.Time, remote string) {
	label := p.muted.Render
	fmt.Fprintf(p.w, "%s %d live, %d deleted\n", label("tasks:"), counts.Live, counts.Deleted)

	pending := fmt.Sprint(counts.Dirty)
	if counts.Dirty > 0 {
		pending = p.warn.Render(pending)
	}
	fmt.Fprintf(p.w, "%s %s\n", label("pending:"), pending)

	rejected := fmt.Sprint(counts.Rejected)
	if counts.Rejected > 0 {
		rejected = p.fail.Render(rejected)
	}
	fmt.Fprintf(p.w, "%s %s\n", label("rejected:"), rejected)

	fmt.Fprintf(p.w, "%s %s\n", label("remote:"), remote)
	if cursor.IsZero() {
		fmt.Fprintf(p.w, "%s never\n", label("pulled up to:"))
	} else {
		fmt.Fprintf(p.w, "%s %s\n", label("pulled up to:"), cursor.Local().Format(time.DateTime))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatDue renders a due date relative to today.
func formatDue(due, now time.Time) string {
	due = due.In(now.Location())
	clock := ""
	if h, m, _ := due.Clock(); h != 0 || m != 0 {
		clock = " " + due.Format("15:04")
	}

	days := int(math.Round(record.StartOfDay(due).Sub(record.StartOfDay(now)).Hours() / 24))
	switch days {
	case 0:
		return "today" + clock
	case 1:
		return "tomorrow" + clock
	case -1:
		return "yesterday" + clock
	}
	if due.Year() == now.Year() {
		return due.Format("Jan 2") + clock
	}
	return due.Format("Jan 2 2006") + clock
}
