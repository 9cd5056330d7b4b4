package ui

import (
	"fmt"

	"github.com/bamsammich/packrat/internal/stats"
)

// CompletionSummary builds a final summary line from a snapshot.
// Format: done ✓  entries 48,917  files 40,002  size 2.1 GiB  avg 641 MB/s  time 3m 17s  errors 0
func CompletionSummary(snap stats.Snapshot) string {
	avgSpeed := 0.0
	if snap.Elapsed.Seconds() > 0 {
		avgSpeed = float64(snap.BytesStreamed) / snap.Elapsed.Seconds()
	}

	errCount := snap.EntriesFailed + snap.VerifyFailed
	icon := "✓"
	if errCount > 0 {
		icon = "✗"
	}

	base := fmt.Sprintf("done %s  entries %s  files %s  size %s  avg %s  time %s",
		icon,
		FormatCount(snap.EntriesDone),
		FormatCount(snap.Files),
		FormatBytes(snap.BytesStreamed),
		FormatRate(avgSpeed),
		FormatDuration(snap.Elapsed),
	)

	if snap.EntriesSkipped > 0 {
		base += fmt.Sprintf("  skipped %s", FormatCount(snap.EntriesSkipped))
	}
	if snap.CorruptHeaders > 0 {
		base += fmt.Sprintf("  corrupt %d", snap.CorruptHeaders)
	}
	if snap.Verified > 0 || snap.VerifyFailed > 0 {
		base += fmt.Sprintf("  verified %s", FormatCount(snap.Verified))
	}

	base += fmt.Sprintf("  errors %d", errCount)
	return base
}
