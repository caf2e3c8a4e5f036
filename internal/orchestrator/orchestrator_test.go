package orchestrator

import (
	"crypto/md5"
	"hash/crc32"
	"io"
	"testing"

	"github.com/par2verify/par2verify/internal/diskfile"
	"github.com/par2verify/par2verify/internal/flags"
	"github.com/par2verify/par2verify/internal/logging"
	"github.com/par2verify/par2verify/internal/par2"
	"github.com/par2verify/par2verify/internal/recoveryset"
	"github.com/par2verify/par2verify/internal/scanner"
	"github.com/par2verify/par2verify/internal/schema"
	"github.com/par2verify/par2verify/internal/sourcefile"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logging.Logger {
	lvl := flags.NoiseLevel{}
	_ = lvl.Set("silent")

	return logging.NewLogger(logging.Options{Logout: io.Discard, NoiseLevel: lvl})
}

func blockVerify(data []byte) par2.BlockVerify {
	return par2.BlockVerify{MD5: par2.Hash(md5.Sum(data)), CRC32: crc32.ChecksumIEEE(data)}
}

// buildOneFileModel returns a model/arena/table trio for a single
// two-block protected file named "a.bin", with a matching FileVerifyPacket
// so the scanner table can locate its blocks.
func buildOneFileModel(t *testing.T, fsys afero.Fs, blockA, blockB []byte) (*sourcefile.Model, *diskfile.Arena, *scanner.Table) {
	t.Helper()

	idFile := par2.Hash{0x01}

	verify := &par2.FileVerifyPacket{
		FileID: idFile,
		Blocks: []par2.BlockVerify{blockVerify(blockA), blockVerify(blockB)},
	}

	set := recoveryset.Set{
		Main: &par2.MainPacket{BlockSize: uint64(len(blockA)), RecoveryIDs: []par2.Hash{idFile}},
		RecoveryFiles: []recoveryset.FileEntry{
			{FileID: idFile, Name: "a.bin", Size: uint64(len(blockA) + len(blockB)), Verify: verify},
		},
	}

	arena := diskfile.NewArena(fsys)

	model, err := sourcefile.Build(set, arena, "/data")
	require.NoError(t, err)

	table := scanner.Build(model)

	return model, arena, table
}

func Test_PickSet_PrefersCompleteSetOverFirstSeen(t *testing.T) {
	t.Parallel()

	incomplete := recoveryset.Set{SetID: par2.Hash{0x01}, IsComplete: false}
	complete := recoveryset.Set{SetID: par2.Hash{0x02}, IsComplete: true}

	got := pickSet([]recoveryset.Set{incomplete, complete})
	require.Equal(t, complete.SetID, got.SetID)
}

func Test_PickSet_NoCompleteSet_ReturnsFirstSeen(t *testing.T) {
	t.Parallel()

	first := recoveryset.Set{SetID: par2.Hash{0x01}}
	second := recoveryset.Set{SetID: par2.Hash{0x02}}

	got := pickSet([]recoveryset.Set{first, second})
	require.Equal(t, first.SetID, got.SetID)
}

func Test_PickSet_Empty_ReturnsZeroValue(t *testing.T) {
	t.Parallel()

	got := pickSet(nil)
	require.Nil(t, got.Main)
}

func Test_ApplyReports_WritesBlockMatchesAndMarksFileComplete(t *testing.T) {
	t.Parallel()

	blockA := []byte{1, 2, 3, 4}
	blockB := []byte{5, 6, 7, 8}

	fsys := afero.NewMemMapFs()
	model, arena, _ := buildOneFileModel(t, fsys, blockA, blockB)

	diskIdx := arena.Resolve("/found/a.bin")
	model.Files[0].TargetDiskFile = arena.Resolve("/data/a.bin")

	report := &scanner.CandidateReport{
		DiskFile: diskIdx,
		Hash:     par2.Hash(md5.Sum(append(blockA, blockB...))),
		Matches: []scanner.BlockMatch{
			{FileIdx: 0, BlockIdx: 0, Offset: 0, Length: 4},
			{FileIdx: 0, BlockIdx: 1, Offset: 4, Length: 4},
		},
		BestFile:   0,
		BestResult: scanner.FullMatch,
	}

	applyReports(model, []*scanner.CandidateReport{report})

	require.True(t, model.SourceBlocks[0].IsSet())
	require.Equal(t, diskIdx, model.SourceBlocks[0].DiskFile)
	require.True(t, model.SourceBlocks[1].IsSet())
	require.Equal(t, diskIdx, model.Files[0].CompleteDiskFile)
	require.False(t, model.Files[0].TargetIsComplete, "found under the wrong name, not the target path")
}

func Test_ApplyReports_MatchAtTargetPath_MarksTargetComplete(t *testing.T) {
	t.Parallel()

	blockA := []byte{1, 2, 3, 4}
	blockB := []byte{5, 6, 7, 8}

	fsys := afero.NewMemMapFs()
	model, arena, _ := buildOneFileModel(t, fsys, blockA, blockB)

	targetIdx := arena.Resolve(model.Files[0].TargetPath)
	model.Files[0].TargetDiskFile = targetIdx

	report := &scanner.CandidateReport{
		DiskFile:   targetIdx,
		Hash:       par2.Hash(md5.Sum(append(blockA, blockB...))),
		Matches:    []scanner.BlockMatch{{FileIdx: 0, BlockIdx: 0}, {FileIdx: 0, BlockIdx: 1}},
		BestFile:   0,
		BestResult: scanner.FullMatch,
	}

	applyReports(model, []*scanner.CandidateReport{report})

	require.True(t, model.Files[0].TargetIsComplete)
	require.Equal(t, targetIdx, model.Files[0].CompleteDiskFile)
}

func Test_Remaining_CountsUnsetSourceBlocks(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	model, arena, _ := buildOneFileModel(t, fsys, []byte{1, 2, 3, 4}, []byte{5, 6, 7, 8})
	_ = arena

	require.Equal(t, 2, remaining(model))

	model.SourceBlocks[0].DiskFile = 0
	require.Equal(t, 1, remaining(model))
}

func Test_CreateTargets_SizesFileAndPopulatesTargetBlocks(t *testing.T) {
	t.Parallel()

	blockA := []byte{1, 2, 3, 4}
	blockB := []byte{5, 6}

	fsys := afero.NewMemMapFs()
	idFile := par2.Hash{0x01}

	set := recoveryset.Set{
		Main: &par2.MainPacket{BlockSize: 4, RecoveryIDs: []par2.Hash{idFile}},
		RecoveryFiles: []recoveryset.FileEntry{
			{FileID: idFile, Name: "a.bin", Size: uint64(len(blockA) + len(blockB))},
		},
	}

	arena := diskfile.NewArena(fsys)

	model, err := sourcefile.Build(set, arena, "/data")
	require.NoError(t, err)

	created, err := createTargets(model, arena)
	require.NoError(t, err)
	require.Equal(t, []string{"/data/a.bin"}, created)

	size, err := arena.Stat(model.Files[0].TargetDiskFile)
	require.NoError(t, err)
	require.Equal(t, int64(6), size)

	blocks := model.TargetBlockRange(0)
	require.Len(t, blocks, 2)
	require.Equal(t, 4, blocks[0].Length)
	require.Equal(t, 2, blocks[1].Length, "trailing block is shorter than the full block size")
}

func Test_CreateTargets_AlreadyCompleteFile_IsSkipped(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	model, arena, _ := buildOneFileModel(t, fsys, []byte{1, 2, 3, 4}, []byte{5, 6, 7, 8})
	model.Files[0].TargetIsComplete = true

	created, err := createTargets(model, arena)
	require.NoError(t, err)
	require.Empty(t, created)
}

func Test_ApplyRenamePolicy_MovesCompleteFileIntoExpectedName(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	model, arena, _ := buildOneFileModel(t, fsys, []byte{1, 2, 3, 4}, []byte{5, 6, 7, 8})

	foundIdx := arena.Resolve("/found/a.bin")
	require.NoError(t, afero.WriteFile(fsys, "/found/a.bin", []byte{1, 2, 3, 4, 5, 6, 7, 8}, 0o644))

	model.Files[0].TargetDiskFile = arena.Resolve(model.Files[0].TargetPath)
	model.Files[0].CompleteDiskFile = foundIdx

	renamed, err := applyRenamePolicy(model, arena, newTestLogger())
	require.NoError(t, err)
	require.Len(t, renamed, 1)
	require.Equal(t, "/found/a.bin", renamed[0].From)
	require.Equal(t, model.Files[0].TargetPath, renamed[0].To)

	require.True(t, model.Files[0].TargetIsComplete)
	require.Equal(t, foundIdx, model.Files[0].TargetDiskFile)

	exists, err := afero.Exists(fsys, "/found/a.bin")
	require.NoError(t, err)
	require.False(t, exists)
}

func Test_ApplyRenamePolicy_BacksUpIncompleteOccupantBeforeRenaming(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	model, arena, _ := buildOneFileModel(t, fsys, []byte{1, 2, 3, 4}, []byte{5, 6, 7, 8})

	require.NoError(t, afero.WriteFile(fsys, model.Files[0].TargetPath, []byte{0xAA}, 0o644))
	occupantIdx := arena.Resolve(model.Files[0].TargetPath)

	foundIdx := arena.Resolve("/found/a.bin")
	require.NoError(t, afero.WriteFile(fsys, "/found/a.bin", []byte{1, 2, 3, 4, 5, 6, 7, 8}, 0o644))

	model.Files[0].TargetDiskFile = occupantIdx
	model.Files[0].CompleteDiskFile = foundIdx

	renamed, err := applyRenamePolicy(model, arena, newTestLogger())
	require.NoError(t, err)
	require.Len(t, renamed, 2)
	require.Equal(t, model.Files[0].TargetPath+".1", renamed[0].To)
	require.Equal(t, model.Files[0].TargetPath, renamed[1].To)

	backed, err := afero.ReadFile(fsys, model.Files[0].TargetPath+".1")
	require.NoError(t, err)
	require.Equal(t, []byte{0xAA}, backed)
}

func Test_ApplyRenamePolicy_FileAlreadyAtTarget_IsNoOp(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	model, arena, _ := buildOneFileModel(t, fsys, []byte{1, 2, 3, 4}, []byte{5, 6, 7, 8})

	idx := arena.Resolve(model.Files[0].TargetPath)
	model.Files[0].TargetDiskFile = idx
	model.Files[0].CompleteDiskFile = idx

	renamed, err := applyRenamePolicy(model, arena, newTestLogger())
	require.NoError(t, err)
	require.Empty(t, renamed)
}

func Test_NextBackupName_FindsFirstFreeSuffix(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/data/a.bin.1", []byte{}, 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/data/a.bin.2", []byte{}, 0o644))

	require.Equal(t, "/data/a.bin.3", nextBackupName(fsys, "/data/a.bin"))
}

func Test_NextBackupName_NoExistingBackups_ReturnsDotOne(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()

	require.Equal(t, "/data/a.bin.1", nextBackupName(fsys, "/data/a.bin"))
}

func Test_EvaluateRepairability_EnoughRecoveryBlocks_ReturnsRepairPossible(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	model, _, _ := buildOneFileModel(t, fsys, []byte{1, 2, 3, 4}, []byte{5, 6, 7, 8})

	set := recoveryset.Set{
		RecoveryBlocks: []*par2.RecoveryPacket{
			{Exponent: 0, Data: []byte{0, 0, 0, 0}},
			{Exponent: 1, Data: []byte{0, 0, 0, 0}},
		},
	}

	plan, err := evaluateRepairability(model, set)

	require.ErrorIs(t, err, schema.ErrExitRepairPossible)
	require.NotNil(t, plan)
	require.True(t, plan.Possible)
	require.Equal(t, 2, plan.Missing)
}

func Test_EvaluateRepairability_NotEnoughRecoveryBlocks_ReturnsRepairNotPossible(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	model, _, _ := buildOneFileModel(t, fsys, []byte{1, 2, 3, 4}, []byte{5, 6, 7, 8})

	set := recoveryset.Set{}

	plan, err := evaluateRepairability(model, set)

	require.ErrorIs(t, err, schema.ErrExitRepairNotPossible)
	require.NotNil(t, plan)
	require.False(t, plan.Possible)
	require.Equal(t, 2, plan.Shortfall)
}

func Test_WrapScanError_NilError_ReturnsNil(t *testing.T) {
	t.Parallel()

	require.NoError(t, wrapScanError(nil))
}

func Test_WrapScanError_NonNilError_WrapsFileIO(t *testing.T) {
	t.Parallel()

	err := wrapScanError(assert.AnError)

	require.ErrorIs(t, err, schema.ErrExitFileIO)
	require.ErrorIs(t, err, assert.AnError)
}
