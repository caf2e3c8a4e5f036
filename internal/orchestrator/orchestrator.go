// Package orchestrator sequences the packet loader, block scanner, and
// repair engine into the end-to-end verify/repair operation the CLI
// exposes: load the recovery set, scan candidate files for known blocks,
// rename or create target files as needed, and — when repair is
// requested and possible — recompute missing blocks and re-verify them.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/par2verify/par2verify/internal/diskfile"
	"github.com/par2verify/par2verify/internal/gf16"
	"github.com/par2verify/par2verify/internal/logging"
	"github.com/par2verify/par2verify/internal/recoveryset"
	"github.com/par2verify/par2verify/internal/repair"
	"github.com/par2verify/par2verify/internal/schema"
	"github.com/par2verify/par2verify/internal/scanner"
	"github.com/par2verify/par2verify/internal/sourcefile"
	"github.com/par2verify/par2verify/internal/util"
	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
)

// Options configures one orchestrator run.
type Options struct {
	// ExtraPaths are additional candidate files to scan beyond the
	// recovery set's own protected-file target paths (component H's
	// "scan extra candidate files" phase).
	ExtraPaths []string

	// Repair requests that missing/damaged blocks be recomputed and
	// written back, when enough recovery data is present. A verify-only
	// run leaves every file exactly as found.
	Repair bool

	// MemoryLimit bounds the repair executor's chunk buffers, in bytes.
	MemoryLimit int64
}

// Result is everything the report phase needs to describe one run.
type Result struct {
	Set   recoveryset.Set
	Model *sourcefile.Model

	Reports []*scanner.CandidateReport

	Renamed []RenameEntry
	Created []string

	Plan            *repair.Plan
	RepairAttempted bool
	RepairVerified  bool

	Duration time.Duration
}

// RenameEntry records one file moved by the rename policy.
type RenameEntry struct {
	From string
	To   string
}

// Run executes one verify (or, with opts.Repair, verify-then-repair)
// operation against the recovery set anchored at par2Path, following the
// phase order: load packets, build the source-file model, scan protected
// and extra candidate files, report, and — if requested and possible —
// rename/create targets, plan, execute, and re-verify. A verify-only run
// that finds missing blocks still builds a repair plan to distinguish
// ErrExitRepairPossible from ErrExitRepairNotPossible in its returned
// error, without writing anything.
func Run(ctx context.Context, fsys afero.Fs, par2Path string, opts Options, log *logging.Logger) (*Result, error) {
	start := time.Now()

	paths, err := recoveryset.Discover(fsys, par2Path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to discover recovery files: %w", schema.ErrExitFileIO, err)
	}

	sets, err := recoveryset.LoadFiles(fsys, paths)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", schema.ErrExitInsufficientPackets, err)
	}

	set := pickSet(sets)
	if set.Main == nil {
		return nil, fmt.Errorf("%w: no main packet in any discovered file", schema.ErrExitInsufficientPackets)
	}

	arena := diskfile.NewArena(fsys)
	searchDir := filepath.Dir(par2Path)

	model, err := sourcefile.Build(set, arena, searchDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", schema.ErrExitLogic, err)
	}

	raiseFileLimit(len(model.Files)+len(opts.ExtraPaths), log)

	table := scanner.Build(model)

	var wt *gf16.WindowTable
	if model.BlockSize > 0 {
		wt = gf16.NewWindowTable(int(model.BlockSize))
	}

	result := &Result{Set: set, Model: model}

	if err := scanPhase(ctx, table, model, arena, wt, opts, log, result); err != nil {
		return nil, err
	}

	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %w", schema.ErrExitLogic, ctx.Err())
	}

	if opts.Repair && model.TotalBlocks() > 0 {
		if err := repairPhase(model, set, arena, opts, log, result); err != nil {
			result.Duration = time.Since(start)

			return result, err
		}
	} else if remaining(model) > 0 && model.TotalBlocks() > 0 {
		plan, evalErr := evaluateRepairability(model, set)
		result.Plan = plan
		result.Duration = time.Since(start)

		return result, evalErr
	}

	result.Duration = time.Since(start)

	return result, nil
}

// evaluateRepairability is used by a verify-only run that found missing
// blocks: it builds a repair plan purely to decide whether enough
// recovery data exists, without writing anything, so the returned error
// always distinguishes ErrExitRepairPossible ("rerun with repair") from
// ErrExitRepairNotPossible ("not enough recovery data exists").
func evaluateRepairability(model *sourcefile.Model, set recoveryset.Set) (*repair.Plan, error) {
	plan, err := repair.Build(model, set)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", schema.ErrExitLogic, err)
	}

	if !plan.Possible {
		return plan, fmt.Errorf("%w: need %d more recovery block(s)", schema.ErrExitRepairNotPossible, plan.Shortfall)
	}

	return plan, fmt.Errorf("%w", schema.ErrExitRepairPossible)
}

// pickSet chooses the set to operate on: the first complete set if one
// exists, otherwise the first set encountered (first-seen order, matching
// recoveryset.Merge's tie-breaking).
func pickSet(sets []recoveryset.Set) recoveryset.Set {
	for _, s := range sets {
		if s.IsComplete {
			return s
		}
	}

	if len(sets) > 0 {
		return sets[0]
	}

	return recoveryset.Set{}
}

func scanPhase(
	ctx context.Context,
	table *scanner.Table,
	model *sourcefile.Model,
	arena *diskfile.Arena,
	wt *gf16.WindowTable,
	opts Options,
	log *logging.Logger,
	result *Result,
) error {
	if wt == nil {
		return nil
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	protected := make([]int, 0, len(model.Files))

	for _, sf := range model.Files {
		if sf == nil {
			continue
		}

		idx := arena.Resolve(sf.TargetPath)
		sf.TargetDiskFile = idx

		if _, err := arena.Stat(idx); err == nil {
			sf.TargetExists = true
		}

		protected = append(protected, idx)
	}

	var progress atomic.Int64

	reports, protectedErr := scanner.ScanAll(table, model, arena, wt, protected, &progress)
	if protectedErr == nil {
		applyReports(model, reports)
		result.Reports = append(result.Reports, reports...)
	}

	if (protectedErr == nil && remaining(model) == 0) || len(opts.ExtraPaths) == 0 {
		return wrapScanError(protectedErr)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	extraIdx := make([]int, 0, len(opts.ExtraPaths))
	for _, p := range opts.ExtraPaths {
		extraIdx = append(extraIdx, arena.Resolve(p))
	}

	extraReports, extraErr := scanner.ScanAll(table, model, arena, wt, extraIdx, &progress)
	if extraErr == nil {
		applyReports(model, extraReports)
		result.Reports = append(result.Reports, extraReports...)
	}

	log.Debug("candidate scan complete", "protected", len(protected), "extra", len(extraIdx))

	// A failure scanning one group doesn't forfeit blocks the other group
	// still located; report whichever failure (if any) is more severe.
	return wrapScanError(util.HighestError([]error{protectedErr, extraErr}))
}

func wrapScanError(err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%w: failed to scan candidate files: %w", schema.ErrExitFileIO, err)
}

// applyReports writes every confirmed block match into the model's shared
// source-block vector and marks whole-file completion on the owning
// SourceFile. A block already claimed by an earlier report is never
// revisited: the scanner's per-entry atomic latch guarantees each global
// block index appears in at most one report's Matches.
func applyReports(model *sourcefile.Model, reports []*scanner.CandidateReport) {
	for _, r := range reports {
		for _, m := range r.Matches {
			sf := model.Files[m.FileIdx]
			if sf == nil {
				continue
			}

			globalIdx := sf.BlockOffset + m.BlockIdx
			model.SourceBlocks[globalIdx] = sourcefile.BlockLocation{
				DiskFile: r.DiskFile,
				Offset:   m.Offset,
				Length:   m.Length,
			}
		}

		if r.BestFile < 0 {
			continue
		}

		sf := model.Files[r.BestFile]
		if sf == nil || r.BestResult != scanner.FullMatch {
			continue
		}

		if sf.CompleteDiskFile == diskfile.Unset {
			sf.CompleteDiskFile = r.DiskFile
		}

		if r.DiskFile == sf.TargetDiskFile {
			sf.TargetIsComplete = true
		}
	}
}

// remaining counts source blocks with no confirmed location.
func remaining(model *sourcefile.Model) int {
	n := 0

	for _, loc := range model.SourceBlocks {
		if !loc.IsSet() {
			n++
		}
	}

	return n
}

func repairPhase(
	model *sourcefile.Model,
	set recoveryset.Set,
	arena *diskfile.Arena,
	opts Options,
	log *logging.Logger,
	result *Result,
) error {
	renamed, err := applyRenamePolicy(model, arena, log)
	if err != nil {
		return fmt.Errorf("%w: %w", schema.ErrExitFileIO, err)
	}

	result.Renamed = renamed

	needsRepair := false

	for _, sf := range model.Files {
		if sf != nil && !sf.TargetIsComplete {
			needsRepair = true

			break
		}
	}

	if !needsRepair {
		return nil
	}

	created, err := createTargets(model, arena)
	if err != nil {
		return fmt.Errorf("%w: %w", schema.ErrExitFileIO, err)
	}

	result.Created = created

	plan, err := repair.Build(model, set)
	if err != nil {
		return fmt.Errorf("%w: %w", schema.ErrExitLogic, err)
	}

	result.Plan = plan

	if plan.Missing == 0 {
		return nil
	}

	if !plan.Possible {
		return fmt.Errorf("%w: need %d more recovery block(s)", schema.ErrExitRepairNotPossible, plan.Shortfall)
	}

	memLimit := int(opts.MemoryLimit)
	if memLimit <= 0 {
		memLimit = 16 << 20
	}

	result.RepairAttempted = true

	if err := repair.Execute(plan, model, arena, memLimit); err != nil {
		return fmt.Errorf("%w: %w", schema.ErrExitRepairFailed, err)
	}

	verified, err := verifyTargets(model, arena)
	if err != nil {
		return fmt.Errorf("%w: %w", schema.ErrExitFileIO, err)
	}

	result.RepairVerified = verified
	if !verified {
		return fmt.Errorf("%w: repaired output failed re-verification", schema.ErrExitRepairFailed)
	}

	return nil
}

// createTargets ensures every protected file has a correctly sized target
// location and populates the model's shared target-block vector for it.
// The target file is (re)created from scratch: every block, whether
// copied verbatim or recomputed, is rewritten into it by the execute
// phase. An incomplete file that occupied the target path has already been
// moved aside by applyRenamePolicy, so blocks located in it are read from
// that backup, not from the truncated target.
func createTargets(model *sourcefile.Model, arena *diskfile.Arena) ([]string, error) {
	var created []string

	for fileIdx, sf := range model.Files {
		if sf == nil || sf.TargetIsComplete {
			continue
		}

		diskIdx := sf.TargetDiskFile
		if diskIdx == diskfile.Unset {
			diskIdx = arena.Resolve(sf.TargetPath)
			sf.TargetDiskFile = diskIdx
		}

		w, err := arena.Create(diskIdx)
		if err != nil {
			return nil, fmt.Errorf("failed to create target %q: %w", sf.TargetPath, err)
		}

		if err := w.Truncate(int64(sf.Size)); err != nil {
			w.Close()

			return nil, fmt.Errorf("failed to size target %q: %w", sf.TargetPath, err)
		}

		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("failed to close target %q: %w", sf.TargetPath, err)
		}

		created = append(created, sf.TargetPath)

		blocks := model.TargetBlockRange(fileIdx)
		for blockIdx := range blocks {
			offset := int64(blockIdx) * int64(model.BlockSize)
			length := int(model.BlockSize)

			if remainder := int64(sf.Size) - offset; remainder < int64(length) {
				length = int(remainder)
			}

			blocks[blockIdx] = sourcefile.BlockLocation{DiskFile: diskIdx, Offset: offset, Length: length}
		}
	}

	return created, nil
}

// verifyTargets re-scans every just-repaired target file against the
// verification table to confirm the executor produced byte-exact output.
func verifyTargets(model *sourcefile.Model, arena *diskfile.Arena) (bool, error) {
	table := scanner.Build(model)

	wt := gf16.NewWindowTable(int(model.BlockSize))

	for _, sf := range model.Files {
		if sf == nil || sf.TargetIsComplete {
			continue
		}

		report, err := scanner.ScanCandidate(table, model, arena, wt, sf.TargetDiskFile)
		if err != nil {
			return false, fmt.Errorf("failed to re-verify %q: %w", sf.TargetPath, err)
		}

		if report.BestResult != scanner.FullMatch {
			return false, nil
		}
	}

	return true, nil
}

// raiseFileLimit best-effort raises the process open-file limit to cover
// every file this run might touch, logging rather than failing on
// platforms or environments where the raise is refused.
func raiseFileLimit(fileCount int, log *logging.Logger) {
	want := uint64(fileCount + 16) //nolint:gosec

	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlimit); err != nil {
		log.Debug("failed to read file descriptor limit", "error", err)

		return
	}

	if rlimit.Cur >= want {
		return
	}

	rlimit.Cur = want
	if rlimit.Max < want {
		rlimit.Cur = rlimit.Max
	}

	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &rlimit); err != nil {
		log.Debug("failed to raise file descriptor limit", "error", err, "wanted", want)
	}
}
