// Package report turns an orchestrator.Result into the structured, JSON-
// marshalable shape the CLI prints or writes out, plus a human-readable
// summary through the teacher's logging idiom.
package report

import (
	"fmt"
	"time"

	"github.com/par2verify/par2verify/internal/logging"
	"github.com/par2verify/par2verify/internal/orchestrator"
	"github.com/par2verify/par2verify/internal/recoveryset"
	"github.com/par2verify/par2verify/internal/schema"
	"github.com/par2verify/par2verify/internal/sourcefile"
	"github.com/par2verify/par2verify/internal/util"
)

// FileVerdict classifies one protected file's outcome for the report.
type FileVerdict string

const (
	VerdictFullMatch    FileVerdict = "full_match"
	VerdictPartialMatch FileVerdict = "partial_match"
	VerdictNoMatch      FileVerdict = "no_match"
	VerdictRepaired     FileVerdict = "repaired"
	VerdictAbsent       FileVerdict = "absent" // Named by the main packet but never described.
)

// FileReport is one protected file's entry in the report.
type FileReport struct {
	Name        string      `json:"name"`
	TargetPath  string      `json:"targetPath,omitempty"`
	Verdict     FileVerdict `json:"verdict"`
	BlockCount  int         `json:"blockCount"`
	FoundBlocks int         `json:"foundBlocks"`
}

// RenameReport is one file moved by the orchestrator's rename policy.
type RenameReport struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// RepairReport summarizes a repair attempt, present only on a repair run.
type RepairReport struct {
	Attempted     bool           `json:"attempted"`
	Possible      bool           `json:"possible"`
	Verified      bool           `json:"verified"`
	MissingBlocks int            `json:"missingBlocks"`
	Shortfall     int            `json:"shortfall,omitempty"`
	FilesCreated  []string       `json:"filesCreated,omitempty"`
	FilesRenamed  []RenameReport `json:"filesRenamed,omitempty"`
}

// Report is the complete, JSON-marshalable summary of one orchestrator run.
type Report struct {
	SetID    string        `json:"setId"`
	Duration time.Duration `json:"durationNanos"`

	TotalFiles      int `json:"totalFiles"`
	CompleteFiles   int `json:"completeFiles"`
	IncompleteFiles int `json:"incompleteFiles"`
	AbsentFiles     int `json:"absentFiles,omitempty"`
	TotalBlocks     int `json:"totalBlocks"`
	FoundBlocks     int `json:"foundBlocks"`

	Files  []FileReport  `json:"files"`
	Repair *RepairReport `json:"repair,omitempty"`

	DuplicateExponents int `json:"duplicateExponents,omitempty"`
	DuplicateBlocks    int `json:"duplicateBlocks,omitempty"`

	ExitCode int `json:"exitCode"`
}

// Build assembles a Report from an orchestrator.Result and the error (if
// any) the run ultimately returned, resolving err's mapped exit code per
// schema.ExitCodeFor.
func Build(result *orchestrator.Result, err error) *Report {
	r := &Report{
		SetID:              result.Set.SetID.String(),
		Duration:           result.Duration,
		DuplicateExponents: result.Set.DuplicateExponents,
		ExitCode:           schema.ExitCodeFor(err),
	}

	model := result.Model

	for fileIdx, sf := range model.Files {
		if sf == nil {
			r.Files = append(r.Files, FileReport{
				Name:    nameForMissingFile(result.Set, fileIdx),
				Verdict: VerdictAbsent,
			})
			r.AbsentFiles++

			continue
		}

		found := foundBlockCount(model, fileIdx)

		fr := FileReport{
			Name:        sf.Name,
			TargetPath:  sf.TargetPath,
			BlockCount:  sf.BlockCount,
			FoundBlocks: found,
		}

		switch {
		case result.RepairAttempted && sf.TargetIsComplete:
			fr.Verdict = VerdictRepaired
		case sf.TargetIsComplete || (sf.BlockCount > 0 && found == sf.BlockCount):
			fr.Verdict = VerdictFullMatch
		case found > 0:
			fr.Verdict = VerdictPartialMatch
		default:
			fr.Verdict = VerdictNoMatch
		}

		r.Files = append(r.Files, fr)

		r.TotalFiles++

		if fr.Verdict == VerdictFullMatch || fr.Verdict == VerdictRepaired {
			r.CompleteFiles++
		} else {
			r.IncompleteFiles++
		}
	}

	r.TotalBlocks = model.TotalBlocks()

	for _, loc := range model.SourceBlocks {
		if loc.IsSet() {
			r.FoundBlocks++
		}
	}

	for _, cr := range result.Reports {
		r.DuplicateBlocks += cr.Duplicates
	}

	if result.Plan != nil || len(result.Renamed) > 0 || len(result.Created) > 0 || result.RepairAttempted {
		r.Repair = buildRepairReport(result)
	}

	return r
}

func foundBlockCount(model *sourcefile.Model, fileIdx int) int {
	n := 0

	for _, loc := range model.SourceBlockRange(fileIdx) {
		if loc.IsSet() {
			n++
		}
	}

	return n
}

func nameForMissingFile(set recoveryset.Set, idx int) string {
	if set.Main == nil || idx >= len(set.Main.RecoveryIDs) {
		return "<unknown>"
	}

	return fmt.Sprintf("<missing file description: %s>", set.Main.RecoveryIDs[idx])
}

func buildRepairReport(result *orchestrator.Result) *RepairReport {
	rr := &RepairReport{
		Attempted: result.RepairAttempted,
		Verified:  result.RepairVerified,
	}

	for _, e := range result.Renamed {
		rr.FilesRenamed = append(rr.FilesRenamed, RenameReport{From: e.From, To: e.To})
	}

	rr.FilesCreated = result.Created

	if result.Plan != nil {
		rr.MissingBlocks = result.Plan.Missing
		rr.Possible = result.Plan.Possible
		rr.Shortfall = result.Plan.Shortfall
	}

	return rr
}

// Summary logs, through log, the ResultTracker completion line, then a
// duration and block-count line, then (on a repair run) a repair line. In
// the teacher's ResultTracker accumulator, selected counts every
// named file (found or absent), success counts full matches and repaired
// files, skipped counts files the main packet named but never described,
// and everything else not yet accounted for counts as an error.
func (r *Report) Summary(log *logging.Logger) {
	tracker := util.NewResultTracker()
	tracker.Selected = r.TotalFiles + r.AbsentFiles
	tracker.Success = r.CompleteFiles
	tracker.Skipped = r.AbsentFiles
	tracker.Error = r.IncompleteFiles

	tracker.PrintCompletionInfo(log.Logger)

	log.Info(
		fmt.Sprintf("Verification duration %s", util.FmtDur(r.Duration)),
		"totalBlocks", r.TotalBlocks,
		"foundBlocks", r.FoundBlocks,
		"duplicateBlocks", r.DuplicateBlocks,
		"exitCode", r.ExitCode,
	)

	if r.Repair != nil {
		log.Info(
			"Repair summary",
			"attempted", r.Repair.Attempted,
			"possible", r.Repair.Possible,
			"verified", r.Repair.Verified,
			"missingBlocks", r.Repair.MissingBlocks,
			"filesCreated", len(r.Repair.FilesCreated),
			"filesRenamed", len(r.Repair.FilesRenamed),
		)
	}
}
