package stats

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/tanq16/danzo-crawl/internal/errkind"
)

var (
	labelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Terminal renders a periodically-refreshed one-line run summary to an
// interactive terminal, in the spirit of the teacher's Manager display
// loop (internal/output/manager.go) but sized to a crawl's aggregate
// counters rather than a per-file progress bar list.
type Terminal struct {
	Counters
	errors *errorLog

	out       io.Writer
	isTTY     bool
	tick      time.Duration
	startedAt time.Time

	doneCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewTerminal returns a Terminal sink writing to w. If w is os.Stdout (or
// any file descriptor) and it isn't a TTY, the display loop still runs but
// renders a plain line per tick instead of carriage-return redraws.
func NewTerminal(w io.Writer) *Terminal {
	isTTY := false
	if f, ok := w.(*os.File); ok {
		isTTY = term.IsTerminal(int(f.Fd()))
	}
	t := &Terminal{
		errors:    newErrorLog(10),
		out:       w,
		isTTY:     isTTY,
		tick:      250 * time.Millisecond,
		startedAt: time.Now(),
		doneCh:    make(chan struct{}),
	}
	t.wg.Add(1)
	go t.loop()
	return t
}

func (t *Terminal) JobFailed(url string, kind errkind.Kind) {
	t.Counters.JobFailed(url, kind)
	t.errors.add(url, kind)
}

func (t *Terminal) loop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.render()
		case <-t.doneCh:
			t.render()
			return
		}
	}
}

func (t *Terminal) render() {
	s := t.Snapshot()
	elapsed := time.Since(t.startedAt)
	line := fmt.Sprintf(
		"%s fetched=%s failed=%s discovered=%s bytes=%s elapsed=%s",
		labelStyle.Render("danzo-crawl"),
		okStyle.Render(fmt.Sprintf("%d", s.Succeeded)),
		errStyle.Render(fmt.Sprintf("%d", s.Failed)),
		dimStyle.Render(fmt.Sprintf("%d", s.Discovered)),
		dimStyle.Render(formatBytes(uint64(s.Bytes))),
		elapsed.Round(time.Second),
	)
	if t.isTTY {
		fmt.Fprintf(t.out, "\r\033[K%s", line)
	} else {
		fmt.Fprintln(t.out, line)
	}
}

// Close stops the display loop and prints a final newline plus the tail of
// recent errors, matching the teacher's ShowSummary behavior.
func (t *Terminal) Close() {
	t.once.Do(func() {
		close(t.doneCh)
		t.wg.Wait()
		if t.isTTY {
			fmt.Fprintln(t.out)
		}
		for _, e := range t.errors.snapshot() {
			fmt.Fprintf(t.out, "%s %s: %s\n", errStyle.Render("error"), e.kind, e.url)
		}
	})
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
