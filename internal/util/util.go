package util

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/davidscholberg/go-durationfmt"
	"github.com/par2verify/par2verify/internal/schema"
)

// ResultTracker accumulates per-file outcome counts across an orchestrator
// run (verify or repair) and logs a one-line completion summary.
type ResultTracker struct {
	Selected int
	Success  int
	Skipped  int
	Error    int
}

// NewResultTracker returns a zero-valued tracker. Counts are incremented
// directly by the orchestrator as each file's outcome is decided.
func NewResultTracker() *ResultTracker {
	return &ResultTracker{}
}

func (t *ResultTracker) PrintCompletionInfo(log *slog.Logger) {
	processed := t.Success + t.Error + t.Skipped

	log.Info(
		fmt.Sprintf("Operation complete (%d/%d files processed)",
			processed, t.Selected),
		"successCount", t.Success,
		"skipCount", t.Skipped,
		"errorCount", t.Error,
		"processedCount", processed,
		"selectedCount", t.Selected,
	)
}

// Ptr converts a value of type [T] to a pointer of type [*T].
func Ptr[T any](v T) *T {
	return &v
}

// IsPar2Base reports whether path names a PAR2 index file rather than a
// numbered recovery volume (".vol000+001.par2").
func IsPar2Base(path string) bool {
	lower := strings.ToLower(path)

	if !strings.HasSuffix(lower, schema.Par2Extension) {
		return false
	}

	return !strings.Contains(lower, ".vol")
}

// FmtDur renders d as a human-readable "N days, N hours N minutes N
// seconds" string for the report summary.
func FmtDur(d time.Duration) string {
	d = d.Round(time.Second)

	str, err := durationfmt.Format(d, "%d days, %h hours %m minutes %s seconds")
	if err != nil {
		return "?"
	}

	return str
}
