// Package sourcefile builds the per-recovery-set data model linking
// protected files to their blocks and to the on-disk locations where those
// blocks have been found (source) or will be written (target).
package sourcefile

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/par2verify/par2verify/internal/diskfile"
	"github.com/par2verify/par2verify/internal/par2"
	"github.com/par2verify/par2verify/internal/recoveryset"
)

// ErrNoMainPacket is returned when building a model for a set with no Main
// packet, which carries the block size and the ordered file-identifier
// list this package requires.
var ErrNoMainPacket = errors.New("recovery set has no main packet")

// BlockLocation is an optional (disk file, offset, length) triple. The zero
// value is unset: DiskFile is diskfile.Unset until a scan or repair proves
// a concrete on-disk range satisfies the block's hashes.
type BlockLocation struct {
	DiskFile int
	Offset   int64
	Length   int
}

// IsSet reports whether this location points at a concrete disk range.
func (b BlockLocation) IsSet() bool {
	return b.DiskFile != diskfile.Unset
}

func unsetBlock() BlockLocation {
	return BlockLocation{DiskFile: diskfile.Unset}
}

// SourceFile is one entry in the main packet's ordered file list, hydrated
// with whatever file description/verification packets and disk information
// are available. A nil *SourceFile in Model.Files means the main packet
// names a file identifier for which no description packet was found.
type SourceFile struct {
	FileID  par2.Hash
	Name    string
	Size    uint64
	Hash    par2.Hash
	Hash16k par2.Hash
	Verify  *par2.FileVerifyPacket

	BlockCount  int
	BlockOffset int // Index into the Model's shared SourceBlocks/TargetBlocks.

	CompleteDiskFile int // diskfile.Unset unless a scan proved a full-file match.
	TargetDiskFile   int // diskfile.Unset until the target file is opened/created.
	TargetPath       string
	TargetExists     bool
	TargetIsComplete bool
}

// Model is the fully hydrated source-file model for one recovery set: the
// ordered file vector plus the shared, per-file-sliced source and target
// block location vectors.
type Model struct {
	SetID     par2.Hash
	BlockSize uint64

	Files []*SourceFile

	SourceBlocks []BlockLocation
	TargetBlocks []BlockLocation

	Arena *diskfile.Arena
}

// Build constructs a Model from a merged recovery set, resolving each
// protected file's target path against searchDir and allocating disjoint
// slices of the shared block-location vectors per file, in main-packet
// order.
func Build(set recoveryset.Set, arena *diskfile.Arena, searchDir string) (*Model, error) {
	if set.Main == nil {
		return nil, ErrNoMainPacket
	}

	blockSize := set.Main.BlockSize

	byID := make(map[par2.Hash]*recoveryset.FileEntry, len(set.RecoveryFiles))
	for i := range set.RecoveryFiles {
		fe := set.RecoveryFiles[i]
		byID[fe.FileID] = &fe
	}

	files := make([]*SourceFile, len(set.Main.RecoveryIDs))

	var total int

	for i, id := range set.Main.RecoveryIDs {
		fe, ok := byID[id]
		if !ok {
			continue
		}

		blockCount := blockCountFor(fe.Size, blockSize)

		sf := &SourceFile{
			FileID:           fe.FileID,
			Name:             fe.Name,
			Size:             fe.Size,
			Hash:             fe.Hash,
			Hash16k:          fe.Hash16k,
			Verify:           fe.Verify,
			BlockCount:       blockCount,
			BlockOffset:      total,
			CompleteDiskFile: diskfile.Unset,
			TargetDiskFile:   diskfile.Unset,
			TargetPath:       filepath.Join(searchDir, fe.Name),
		}

		files[i] = sf
		total += blockCount
	}

	sourceBlocks := make([]BlockLocation, total)
	targetBlocks := make([]BlockLocation, total)

	for i := range sourceBlocks {
		sourceBlocks[i] = unsetBlock()
		targetBlocks[i] = unsetBlock()
	}

	return &Model{
		SetID:        set.SetID,
		BlockSize:    blockSize,
		Files:        files,
		SourceBlocks: sourceBlocks,
		TargetBlocks: targetBlocks,
		Arena:        arena,
	}, nil
}

func blockCountFor(size, blockSize uint64) int {
	if size == 0 || blockSize == 0 {
		return 0
	}

	return int((size + blockSize - 1) / blockSize)
}

// SourceBlockRange returns fileIdx's disjoint slice of the model's shared
// source-block vector, or nil if fileIdx names an unknown file.
func (m *Model) SourceBlockRange(fileIdx int) []BlockLocation {
	sf := m.Files[fileIdx]
	if sf == nil {
		return nil
	}

	return m.SourceBlocks[sf.BlockOffset : sf.BlockOffset+sf.BlockCount]
}

// TargetBlockRange returns fileIdx's disjoint slice of the model's shared
// target-block vector, or nil if fileIdx names an unknown file.
func (m *Model) TargetBlockRange(fileIdx int) []BlockLocation {
	sf := m.Files[fileIdx]
	if sf == nil {
		return nil
	}

	return m.TargetBlocks[sf.BlockOffset : sf.BlockOffset+sf.BlockCount]
}

// TotalBlocks returns the combined block count across every known file.
func (m *Model) TotalBlocks() int {
	return len(m.SourceBlocks)
}

// BlockOwner returns the file index and in-file block index that own the
// model-global block index, or an error if out of range.
func (m *Model) BlockOwner(globalIdx int) (int, int, error) {
	if globalIdx < 0 || globalIdx >= len(m.SourceBlocks) {
		return 0, 0, fmt.Errorf("block index %d out of range [0,%d)", globalIdx, len(m.SourceBlocks))
	}

	for i, sf := range m.Files {
		if sf == nil {
			continue
		}

		if globalIdx >= sf.BlockOffset && globalIdx < sf.BlockOffset+sf.BlockCount {
			return i, globalIdx - sf.BlockOffset, nil
		}
	}

	return 0, 0, fmt.Errorf("block index %d not owned by any known file", globalIdx)
}
