package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"xfer/pkg/bytespool"
)

const (
	ansiUpClear = "\x1b[1A\x1b[2K"
	barWidth    = 24
)

var (
	nameStyle  = lipgloss.NewStyle().Bold(true)
	stageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	dimStyle   = lipgloss.NewStyle().Faint(true)
	doneStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
)

// consoleDisplay handles terminal output. Active tasks occupy the last
// lines of the output and are redrawn in place.
// Mutable
type consoleDisplay struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
	closed  bool
	tasks   []*consoleTask
	drawn   int
	bar     progress.Model
}

// NewConsole creates a Display that writes to standard error.
func NewConsole() Display {
	return NewWriterDisplay(os.Stderr)
}

// NewWriterDisplay creates a Display that writes to the provided io.Writer.
func NewWriterDisplay(w io.Writer) Display {
	return &consoleDisplay{
		out: w,
		bar: progress.New(
			progress.WithDefaultGradient(),
			progress.WithWidth(barWidth),
			progress.WithoutPercentage(),
		),
	}
}

func (d *consoleDisplay) StartTask(name string) Task {
	t := &consoleTask{d: d, name: name, percent: -1}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.clear()
	d.tasks = append(d.tasks, t)
	d.redraw()
	return t
}

func (d *consoleDisplay) Log(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.verbose {
		return
	}
	d.above(dimStyle.Render(msg))
}

// Print writes a message directly to the output writer.
func (d *consoleDisplay) Print(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.clear()
	fmt.Fprint(d.out, msg)
	d.redraw()
}

func (d *consoleDisplay) SetVerbose(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.verbose = v
}

// Close leaves the last state of unfinished tasks on screen.
func (d *consoleDisplay) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	d.drawn = 0
	d.tasks = nil
}

// above prints a line above the task block. Must be called with mu held.
func (d *consoleDisplay) above(line string) {
	d.clear()
	fmt.Fprintln(d.out, line)
	d.redraw()
}

// clear erases the task block. Must be called with mu held.
func (d *consoleDisplay) clear() {
	if d.drawn > 0 {
		fmt.Fprint(d.out, strings.Repeat(ansiUpClear, d.drawn))
	}
	d.drawn = 0
}

// redraw prints the task block. Must be called with mu held.
func (d *consoleDisplay) redraw() {
	if d.closed {
		return
	}
	for _, t := range d.tasks {
		fmt.Fprintln(d.out, d.render(t))
		d.drawn++
	}
}

func (d *consoleDisplay) render(t *consoleTask) string {
	b := bytespool.GetBuffer()
	defer bytespool.PutBuffer(b)

	_, _ = b.WriteString(nameStyle.Render("[" + t.name + "]"))
	if t.stage != "" {
		_, _ = b.WriteString(" " + stageStyle.Render(t.stage))
	}
	if t.target != "" {
		_, _ = b.WriteString(" " + dimStyle.Render(t.target))
	}
	if t.percent >= 0 {
		_, _ = b.WriteString(" " + d.bar.ViewAs(float64(t.percent)/100))
		_, _ = b.WriteString(fmt.Sprintf(" %3d%%", t.percent))
	}
	if t.message != "" {
		_, _ = b.WriteString(" " + t.message)
	}
	return b.String()
}

func (d *consoleDisplay) remove(t *consoleTask) {
	for i, x := range d.tasks {
		if x == t {
			d.tasks = append(d.tasks[:i], d.tasks[i+1:]...)
			return
		}
	}
}

// consoleTask is a line in the task block of a consoleDisplay.
// Mutable, guarded by the display's mutex.
type consoleTask struct {
	d       *consoleDisplay
	name    string
	stage   string
	target  string
	percent int
	message string
	done    bool
}

func (t *consoleTask) Log(msg string) {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	t.d.above(nameStyle.Render("["+t.name+"]") + " " + msg)
}

func (t *consoleTask) SetStage(name string, target string) {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()

	t.stage, t.target = name, target
	t.d.clear()
	t.d.redraw()
}

func (t *consoleTask) Progress(percent int, message string) {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()

	if percent > 100 {
		percent = 100
	}
	t.percent, t.message = percent, message
	t.d.clear()
	t.d.redraw()
}

func (t *consoleTask) Done() {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()

	if t.done {
		return
	}
	t.done = true

	t.d.clear()
	t.d.remove(t)
	line := nameStyle.Render("["+t.name+"]") + " " + doneStyle.Render("Done")
	if t.message != "" {
		line += " " + dimStyle.Render(t.message)
	}
	fmt.Fprintln(t.d.out, line)
	t.d.redraw()
}
