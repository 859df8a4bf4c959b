// Package reporter renders task lifecycle progress to the terminal:
// a spinner while a task is in flight, one-line status messages on
// completion, and duration formatting bucketed by magnitude.
package reporter

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
)

var (
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// Reporter writes the "Capsule log: ..." progress lines the CLI
// shows around each task.
type Reporter struct {
	verbose   bool
	out       io.Writer
	errOut    io.Writer
	startTime time.Time

	mu       sync.Mutex
	spin     *spinner.Model
	stop     chan struct{}
	wg       sync.WaitGroup
	isActive atomic.Bool
}

// New constructs a Reporter. When verbose is false, lifecycle events
// stay silent except for a terse stderr line on failure.
func New(verbose bool) *Reporter {
	return &Reporter{
		verbose:   verbose,
		out:       os.Stdout,
		errOut:    os.Stderr,
		startTime: time.Now(),
	}
}

func (r *Reporter) createSpinner() *spinner.Model {
	s := spinner.New()
	s.Spinner = spinner.Spinner{
		Frames: []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		FPS:    time.Second / 12,
	}
	s.Style = spinnerStyle
	return &s
}

// TaskRunning marks the start of a new task's wall-clock timer.
func (r *Reporter) TaskRunning(taskName, taskID string) {
	r.finishSpinner()
	r.startTime = time.Now()
	if r.verbose {
		fmt.Fprintf(r.out, "Capsule log: ▶ Starting task %q (%s)\n", taskName, taskID)
	}
}

// TaskCompleted reports success using the elapsed time since the last
// TaskRunning call.
func (r *Reporter) TaskCompleted(taskName string) {
	r.TaskCompletedWithTime(taskName, time.Since(r.startTime))
}

// TaskCompletedWithTime reports success using an explicit elapsed
// duration, for callers that measured the task themselves.
func (r *Reporter) TaskCompletedWithTime(taskName string, elapsed time.Duration) {
	r.finishSpinner()
	if r.verbose {
		fmt.Fprintf(r.out, "Capsule log: %s Task %q completed (%s)\n",
			okStyle.Render("✔"), taskName, FormatDuration(elapsed))
	}
}

// TaskFailed reports a failure. In verbose mode it names the task; in
// quiet mode it only prints the error to stderr.
func (r *Reporter) TaskFailed(taskName, errMsg string) {
	r.finishSpinner()
	if r.verbose {
		fmt.Fprintf(r.out, "Capsule log: %s Task %q failed: %s\n", failStyle.Render("✗"), taskName, errMsg)
	} else {
		fmt.Fprintf(r.errOut, "Capsule log: ✗ %s\n", errMsg)
	}
}

// TaskTimeout reports a wall-clock timeout.
func (r *Reporter) TaskTimeout(taskName string) {
	r.finishSpinner()
	if r.verbose {
		fmt.Fprintf(r.out, "Capsule log: %s Task %q timed out\n", failStyle.Render("✗"), taskName)
	} else {
		fmt.Fprintf(r.errOut, "Capsule log: ✗ Task timed out\n")
	}
}

// StartProgress begins an indeterminate spinner, only in verbose mode.
func (r *Reporter) StartProgress(message string) {
	if !r.verbose {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.startTime = time.Now()
	s := r.createSpinner()
	r.spin = s
	r.isActive.Store(true)

	r.stop = make(chan struct{})
	r.wg.Add(1)
	go r.tick(message, r.stop)
}

func (r *Reporter) tick(message string, stop chan struct{}) {
	defer r.wg.Done()
	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()

	frame := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.mu.Lock()
			s := r.spin
			r.mu.Unlock()
			if s == nil {
				return
			}
			frames := s.Spinner.Frames
			fmt.Fprintf(r.out, "\r%s %s", s.Style.Render(frames[frame%len(frames)]), message)
			frame++
		}
	}
}

// UpdateProgress is a no-op; callers that need a new label call
// FinishProgress then StartProgress again.
func (r *Reporter) UpdateProgress(message string) {}

// FinishProgress stops the spinner and optionally prints a completion
// line with the elapsed duration since StartProgress.
func (r *Reporter) FinishProgress(completionMessage string) {
	r.finishSpinner()
	elapsed := time.Since(r.startTime)
	if completionMessage != "" && r.verbose {
		fmt.Fprintf(r.out, "✓ %s (%s)\n", completionMessage, FormatDuration(elapsed))
	}
}

// Info prints a message only in verbose mode.
func (r *Reporter) Info(message string) {
	if r.verbose {
		fmt.Fprintln(r.out, message)
	}
}

// Success always prints to stdout, verbose or not.
func (r *Reporter) Success(message string) {
	fmt.Fprintln(r.out, message)
}

// Error always prints to stderr, verbose or not.
func (r *Reporter) Error(message string) {
	fmt.Fprintln(r.errOut, message)
}

// FormatDuration buckets an elapsed time by magnitude: plain seconds
// under a minute, minutes+seconds under an hour, hours+minutes+seconds
// beyond that.
func FormatDuration(d time.Duration) string {
	totalSecs := d.Seconds()

	switch {
	case totalSecs < 60:
		return fmt.Sprintf("%.2fs", totalSecs)
	case totalSecs < 3600:
		minutes := int64(totalSecs / 60)
		seconds := totalSecs - float64(minutes)*60
		return fmt.Sprintf("%dm %.0fs", minutes, seconds)
	default:
		hours := int64(totalSecs / 3600)
		remaining := totalSecs - float64(hours)*3600
		minutes := int64(remaining / 60)
		seconds := remaining - float64(minutes)*60
		return fmt.Sprintf("%dh %dm %.0fs", hours, minutes, seconds)
	}
}

func (r *Reporter) finishSpinner() {
	r.mu.Lock()
	stop := r.stop
	active := r.spin != nil
	r.spin = nil
	r.stop = nil
	r.mu.Unlock()

	if stop != nil {
		close(stop)
		r.wg.Wait()
	}
	if active {
		fmt.Fprint(r.out, "\r\033[K")
	}
	r.isActive.Store(false)
}

// Close releases the spinner goroutine, if one is running. Safe to
// call even when no spinner was ever started.
func (r *Reporter) Close() {
	r.finishSpinner()
}
