package ui

import (
	"fmt"
	"io"
	"path"
	"time"

	"github.com/bamsammich/packrat/internal/stats"
)

// ANSI escape sequences.
const (
	ansiDim   = "\033[2m"
	ansiReset = "\033[0m"
	ansiClear = "\r\033[K"
)

const (
	graphWidth = 20
	hudMinInterval = 50 * time.Millisecond // don't redraw faster than this
)

// hudPresenter provides a TTY display: a feed of completed files above a
// single status line that redraws in place.
type hudPresenter struct {
	w       io.Writer
	stats   *stats.Collector
	verbose bool
	width   int

	hudDrawn    bool
	lastHUDDraw time.Time
	current     string
}

func (p *hudPresenter) Run(events <-chan Event) error {
	// Fire first tick quickly to seed the ring buffer with initial speed data,
	// then switch to 1s interval.
	secTicker := time.NewTicker(250 * time.Millisecond)
	defer secTicker.Stop()
	firstTickDone := false

	// Redraw ticker for when no events are flowing (e.g., one large file).
	redrawTicker := time.NewTicker(100 * time.Millisecond)
	defer redrawTicker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				p.clearHUD()
				return nil
			}
			p.handleEvent(ev)
			p.maybeDrawHUD()

		case <-redrawTicker.C:
			p.drawHUD()

		case <-secTicker.C:
			p.stats.Tick()
			if !firstTickDone {
				firstTickDone = true
				secTicker.Reset(1 * time.Second)
			}
		}
	}
}

func (p *hudPresenter) handleEvent(ev Event) {
	switch ev.Type {
	case EntryStarted:
		p.current = ev.Path

	case EntryCompleted:
		if ev.Kind == "file" || p.verbose {
			p.println("✓  %s  %s", p.styledPath(ev.Path), sizeOrKind(ev))
		}

	case EntryFailed:
		p.println("✗  %s  %s", p.styledPath(displayPath(ev.Path)), errText(ev.Error))

	case EntrySkipped:
		if p.verbose {
			p.println("–  %s  %sskipped%s", p.styledPath(ev.Path), ansiDim, ansiReset)
		}

	case CorruptHeader:
		p.println("✗  corrupt header  %s", errText(ev.Error))

	case VerifyStarted:
		p.println("%sverifying checksums...%s", ansiDim, ansiReset)

	case VerifyFailed:
		p.println("✗  %s  MISMATCH", p.styledPath(ev.Path))
	}
}

// println prints a feed line above the status line.
func (p *hudPresenter) println(format string, args ...any) {
	p.clearHUD()
	fmt.Fprintf(p.w, format+"\n", args...)
	p.drawHUD()
}

// maybeDrawHUD redraws the HUD if enough time has passed since the last draw.
func (p *hudPresenter) maybeDrawHUD() {
	if time.Since(p.lastHUDDraw) < hudMinInterval {
		return
	}
	p.drawHUD()
}

func (p *hudPresenter) drawHUD() {
	snap := p.stats.Snapshot()
	spark := rateGraph(p.stats.SpeedHistory(), graphWidth)

	line := fmt.Sprintf("%s  %s  %s  %s entries",
		spark,
		FormatRate(p.stats.RollingSpeed(5)),
		FormatBytes(snap.BytesStreamed),
		FormatCount(snap.EntriesDone),
	)
	if snap.EntriesFailed > 0 {
		line += fmt.Sprintf("  %d failed", snap.EntriesFailed)
	}
	if p.current != "" {
		// Leave room for the separator; the graph runes are wider
		// in bytes than on screen.
		room := p.width - len([]rune(line)) - 3
		if room > 8 {
			line += "  " + ansiDim + truncPath(p.current, room) + ansiReset
		}
	}

	fmt.Fprint(p.w, ansiClear+line)
	p.hudDrawn = true
	p.lastHUDDraw = time.Now()
}

func (p *hudPresenter) clearHUD() {
	if !p.hudDrawn {
		return
	}
	fmt.Fprint(p.w, ansiClear)
	p.hudDrawn = false
}

func (p *hudPresenter) Summary() string {
	return CompletionSummary(p.stats.Snapshot())
}

// styledPath returns the path with the directory portion dimmed and the
// filename in normal weight, making the actual filename stand out.
func (p *hudPresenter) styledPath(rel string) string {
	dir, base := path.Split(rel)
	if dir == "" {
		return base
	}
	return fmt.Sprintf("%s%s%s%s", ansiDim, dir, ansiReset, base)
}

var graphLevels = []rune("▁▂▃▄▅▆▇█")

// rateGraph draws the newest width throughput samples, oldest first and
// right aligned, each scaled against the fastest one shown.
func rateGraph(history []float64, width int) string {
	if width <= 0 {
		return ""
	}
	if len(history) > width {
		history = history[len(history)-width:]
	}
	peak := 0.0
	for _, v := range history {
		peak = max(peak, v)
	}

	out := make([]rune, 0, width)
	for range width - len(history) {
		out = append(out, graphLevels[0])
	}
	top := len(graphLevels) - 1
	for _, v := range history {
		level := 0
		if peak > 0 && v > 0 {
			level = min(int(v/peak*float64(top)), top)
		}
		out = append(out, graphLevels[level])
	}
	return string(out)
}

func sizeOrKind(ev Event) string {
	if ev.Kind == "file" {
		return FormatBytes(ev.Size)
	}
	return ev.Kind
}
