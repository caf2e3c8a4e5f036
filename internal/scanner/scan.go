// Package scanner locates PAR2-protected data blocks inside candidate
// on-disk files via a sliding rolling-CRC32 window backed by a two-level
// CRC32-then-MD5 verification hash table, and fans that work out across
// candidate files with a bounded worker pool.
package scanner

import (
	"crypto/md5"
	"fmt"
	"hash/crc32"
	"io"
	"runtime"
	"sync/atomic"

	"github.com/par2verify/par2verify/internal/diskfile"
	"github.com/par2verify/par2verify/internal/gf16"
	"github.com/par2verify/par2verify/internal/par2"
	"github.com/par2verify/par2verify/internal/sourcefile"
	"github.com/sourcegraph/conc/pool"
)

// MatchResult classifies how well a candidate file's content matches the
// source file it was scanned against.
type MatchResult int

const (
	NoMatch MatchResult = iota
	PartialMatch
	FullMatch
)

func (m MatchResult) String() string {
	switch m {
	case FullMatch:
		return "FullMatch"
	case PartialMatch:
		return "PartialMatch"
	default:
		return "NoMatch"
	}
}

// BlockMatch records one source block located inside a candidate file.
type BlockMatch struct {
	FileIdx  int
	BlockIdx int
	Offset   int64
	Length   int
}

// CandidateReport is the result of scanning one candidate disk file.
type CandidateReport struct {
	DiskFile   int
	Size       int64
	Hash       par2.Hash // MD5 of the entire candidate.
	Hash16k    par2.Hash // MD5 of the candidate's first 16 KiB.
	Matches    []BlockMatch
	Duplicates int // Windows that verified against an already-claimed block.
	BestFile   int // Index into the model's Files, -1 if no block matched.
	BestResult MatchResult
}

const sixteenKiB = 16 * 1024

// ScanCandidate reads diskFile in full and probes every sliding-window
// position against table, returning every source block it can confirm via
// CRC32-then-MD5. wt must have been built for model.BlockSize.
func ScanCandidate(table *Table, model *sourcefile.Model, arena *diskfile.Arena, wt *gf16.WindowTable, diskFile int) (*CandidateReport, error) {
	f, err := arena.Open(diskFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read candidate: %w", err)
	}

	report := &CandidateReport{
		DiskFile: diskFile,
		Size:     int64(len(buf)),
		Hash:     md5.Sum(buf),
		BestFile: -1,
	}

	n := min(len(buf), sixteenKiB)
	report.Hash16k = md5.Sum(buf[:n])

	if len(buf) == 0 || table.Len() == 0 {
		return report, nil
	}

	blockSize := wt.Length()

	matches, duplicates := scanWindows(table, buf, blockSize, wt)
	report.Matches = matches
	report.Duplicates = duplicates

	tallyBestMatch(report, model, matches)

	return report, nil
}

// scanWindows probes every sliding-window position in buf against table,
// returning every source block it can newly claim plus a count of windows
// that verified against a block some earlier window (in this candidate or
// another scanned concurrently) already claimed — an identical-content
// block appearing more than once on disk.
func scanWindows(table *Table, buf []byte, blockSize int, wt *gf16.WindowTable) ([]BlockMatch, int) {
	var matches []BlockMatch

	duplicates := 0

	var crc uint32

	for pos := 0; pos <= len(buf)-1; pos++ {
		window := windowAt(buf, pos, blockSize)

		if pos == 0 {
			crc = crc32.ChecksumIEEE(window)
		} else {
			outgoing := buf[pos-1]
			incoming := byteAt(buf, pos+blockSize-1)
			crc = wt.Roll(crc, outgoing, incoming)
		}

		for _, e := range table.lookup(uint16(crc)) {
			if e.crc32 != crc {
				continue
			}

			sum := md5.Sum(window)
			if par2.Hash(sum) != e.md5 {
				continue
			}

			if e.matched.CompareAndSwap(false, true) {
				matches = append(matches, BlockMatch{
					FileIdx:  e.fileIdx,
					BlockIdx: e.blockIdx,
					Offset:   int64(pos),
					Length:   len(window),
				})
			} else {
				duplicates++
			}

			break
		}
	}

	return matches, duplicates
}

// windowAt returns the blockSize-length window starting at pos, zero-padded
// if it would run past the end of buf (the trailing block of a file is
// hashed zero-padded to the full block size).
func windowAt(buf []byte, pos, blockSize int) []byte {
	end := pos + blockSize
	if end <= len(buf) {
		return buf[pos:end]
	}

	window := make([]byte, blockSize)
	if pos < len(buf) {
		copy(window, buf[pos:])
	}

	return window
}

func byteAt(buf []byte, idx int) byte {
	if idx < 0 || idx >= len(buf) {
		return 0
	}

	return buf[idx]
}

// tallyBestMatch picks the source file with the most matched blocks as the
// candidate's "best" association, and classifies FullMatch/PartialMatch
// against that file's expected block count.
func tallyBestMatch(report *CandidateReport, model *sourcefile.Model, matches []BlockMatch) {
	counts := make(map[int]int)
	for _, m := range matches {
		counts[m.FileIdx]++
	}

	bestFile, bestCount := -1, 0

	for idx, count := range counts {
		if count > bestCount {
			bestFile, bestCount = idx, count
		}
	}

	if bestFile == -1 {
		report.BestResult = NoMatch

		return
	}

	report.BestFile = bestFile

	sf := model.Files[bestFile]
	if sf != nil && bestCount == sf.BlockCount && report.Hash == sf.Hash {
		report.BestResult = FullMatch
	} else {
		report.BestResult = PartialMatch
	}
}

// ScanAll fans ScanCandidate out across every disk file index in
// diskFiles, bounded at runtime.NumCPU() concurrent workers. progress, if
// non-nil, is incremented once per completed candidate, so a caller can
// read it from another goroutine without threading a counter through
// every worker.
func ScanAll(table *Table, model *sourcefile.Model, arena *diskfile.Arena, wt *gf16.WindowTable, diskFiles []int, progress *atomic.Int64) ([]*CandidateReport, error) {
	p := pool.NewWithResults[scanOutcome]().WithMaxGoroutines(runtime.NumCPU())

	for _, idx := range diskFiles {
		idx := idx

		p.Go(func() scanOutcome {
			report, err := ScanCandidate(table, model, arena, wt, idx)
			if progress != nil {
				progress.Add(1)
			}

			return scanOutcome{report: report, err: err}
		})
	}

	outcomes := p.Wait()

	reports := make([]*CandidateReport, 0, len(outcomes))

	for _, o := range outcomes {
		if o.err != nil {
			return nil, o.err
		}

		reports = append(reports, o.report)
	}

	return reports, nil
}

type scanOutcome struct {
	report *CandidateReport
	err    error
}
