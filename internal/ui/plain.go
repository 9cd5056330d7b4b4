package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/bamsammich/packrat/internal/stats"
)

// plainPresenter outputs one line per entry to stdout, and periodic
// progress to stderr when not a TTY.
type plainPresenter struct {
	w       io.Writer
	errW    io.Writer
	stats   *stats.Collector
	verbose bool
}

func (p *plainPresenter) Run(events <-chan Event) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			p.handleEvent(ev)
		case <-ticker.C:
			p.stats.Tick()
			p.printProgress()
		}
	}
}

func (p *plainPresenter) handleEvent(ev Event) {
	switch ev.Type {
	case EntryCompleted:
		if ev.Kind == "file" {
			fmt.Fprintf(p.w, "%s  %s\n", ev.Path, FormatBytes(ev.Size))
		} else if p.verbose {
			fmt.Fprintf(p.w, "%s  %s\n", ev.Path, ev.Kind)
		}
	case EntryFailed:
		fmt.Fprintf(p.w, "%s  %s\n", displayPath(ev.Path), errText(ev.Error))
	case EntrySkipped:
		if p.verbose {
			fmt.Fprintf(p.w, "%s  skipped\n", ev.Path)
		}
	case CorruptHeader:
		fmt.Fprintf(p.w, "corrupt header: %s\n", errText(ev.Error))
	case VerifyStarted:
		fmt.Fprintln(p.w, "verifying...")
	case VerifyFailed:
		fmt.Fprintf(p.w, "MISMATCH: %s\n", ev.Path)
	case VerifyOK:
		// silent in plain mode
	}
}

func (p *plainPresenter) printProgress() {
	snap := p.stats.Snapshot()
	fmt.Fprintf(p.errW, "progress: %s entries %s streamed %s\n",
		FormatCount(snap.EntriesDone),
		FormatBytes(snap.BytesStreamed),
		FormatRate(p.stats.RollingSpeed(5)),
	)
}

func (p *plainPresenter) Summary() string {
	return CompletionSummary(p.stats.Snapshot())
}

func displayPath(path string) string {
	if path == "" {
		return "(archive)"
	}
	return path
}

func errText(err error) string {
	if err == nil {
		return "error"
	}
	return err.Error()
}
