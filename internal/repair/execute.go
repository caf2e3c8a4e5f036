package repair

import (
	"errors"
	"fmt"
	"io"

	"github.com/par2verify/par2verify/internal/diskfile"
	"github.com/par2verify/par2verify/internal/gf16"
	"github.com/par2verify/par2verify/internal/sourcefile"
	"github.com/spf13/afero"
)

// ErrRepairImpossible is returned by Execute when plan.Possible is false.
var ErrRepairImpossible = errors.New("repair: not enough recovery blocks available")

// ErrMemoryLimitTooSmall is returned when memoryLimit, split evenly across
// the missing blocks and rounded down to a multiple of 4 bytes, leaves no
// buffer at all (less than 4 bytes per missing block).
var ErrMemoryLimitTooSmall = errors.New("repair: memory limit too small for this many missing blocks")

// Execute runs plan's chunked Reed-Solomon pipeline: copy-blocks are
// written through verbatim and output-blocks are recomputed, memoryLimit
// bytes at a time split evenly across plan.Missing output accumulators.
// model.TargetBlocks must already hold a resolved location for every
// copy- and output-block (the orchestrator's "create targets" phase).
func Execute(plan *Plan, model *sourcefile.Model, arena *diskfile.Arena, memoryLimit int) error {
	if plan.Missing == 0 {
		return nil
	}

	if !plan.Possible {
		return fmt.Errorf("%w: need %d more recovery block(s)", ErrRepairImpossible, plan.Shortfall)
	}

	chunksize := memoryLimit / plan.Missing
	chunksize &^= 3

	if chunksize <= 0 {
		return fmt.Errorf("%w (limit=%d, missing=%d)", ErrMemoryLimitTooSmall, memoryLimit, plan.Missing)
	}

	if chunksize > plan.BlockSize {
		chunksize = plan.BlockSize
	}

	copyByInput := make(map[int]CopyMapping, len(plan.CopyBlocks))
	for _, cm := range plan.CopyBlocks {
		copyByInput[cm.InputIndex] = cm
	}

	inputBuf := make([]byte, chunksize)
	outputBuf := make([]byte, chunksize*plan.Missing)

	var reader diskReader
	defer reader.close()

	for blockOffset := 0; blockOffset < plan.BlockSize; blockOffset += chunksize {
		n := chunksize
		if blockOffset+n > plan.BlockSize {
			n = plan.BlockSize - blockOffset
		}

		clear(outputBuf)

		for i, ib := range plan.InputBlocks {
			chunk, err := readInputChunk(&reader, arena, ib, blockOffset, n, inputBuf)
			if err != nil {
				return err
			}

			if cm, ok := copyByInput[i]; ok {
				if err := writeBlockChunk(arena, model, cm.FileIdx, cm.BlockIdx, blockOffset, chunk); err != nil {
					return fmt.Errorf("failed to write copy-block chunk: %w", err)
				}
			}

			for j := range plan.Missing {
				c := plan.Matrix.At(i, j)
				gf16.MulXORInto(outputBuf[j*chunksize:j*chunksize+n], chunk, c)
			}
		}

		for j, out := range plan.OutputBlocks {
			slice := outputBuf[j*chunksize : j*chunksize+n]
			if err := writeBlockChunk(arena, model, out.FileIdx, out.BlockIdx, blockOffset, slice); err != nil {
				return fmt.Errorf("failed to write output-block chunk: %w", err)
			}
		}
	}

	return nil
}

// diskReader holds at most one open input file at a time, reopening only
// when the next input block belongs to a different disk file — the
// "sequential access, no keep-open set" pattern the chunked executor uses
// to bound its open-file-descriptor count regardless of input count.
type diskReader struct {
	diskFile int
	handle   afero.File
}

func (r *diskReader) open(arena *diskfile.Arena, diskFile int) (afero.File, error) {
	if r.handle != nil && r.diskFile == diskFile {
		return r.handle, nil
	}

	r.close()

	f, err := arena.Open(diskFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}

	r.handle = f
	r.diskFile = diskFile

	return f, nil
}

func (r *diskReader) close() {
	if r.handle != nil {
		r.handle.Close()
		r.handle = nil
		r.diskFile = diskfile.Unset
	}
}

// readInputChunk fills buf[:n] with input i's bytes at blockOffset,
// zero-padding past the input's actual length, and returns buf[:n].
func readInputChunk(reader *diskReader, arena *diskfile.Arena, ib InputBlock, blockOffset, n int, buf []byte) ([]byte, error) {
	out := buf[:n]

	if ib.Recovery != nil {
		fillFromBytes(out, ib.Recovery.Data, blockOffset)

		return out, nil
	}

	f, err := reader.open(arena, ib.Location.DiskFile)
	if err != nil {
		return nil, err
	}

	avail := ib.Location.Length - blockOffset

	clear(out)

	if avail > 0 {
		want := avail
		if want > n {
			want = n
		}

		readN, err := f.ReadAt(out[:want], ib.Location.Offset+int64(blockOffset))
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to read input chunk: %w", err)
		}

		if readN < want {
			clear(out[readN:want])
		}
	}

	return out, nil
}

// fillFromBytes copies src[offset:offset+len(dst)] into dst, zero-padding
// any portion that runs past the end of src.
func fillFromBytes(dst, src []byte, offset int) {
	clear(dst)

	if offset >= len(src) {
		return
	}

	end := offset + len(dst)
	if end > len(src) {
		end = len(src)
	}

	copy(dst, src[offset:end])
}

func writeBlockChunk(arena *diskfile.Arena, model *sourcefile.Model, fileIdx, blockIdx, blockOffset int, data []byte) error {
	loc := model.TargetBlockRange(fileIdx)[blockIdx]

	// loc.Length is the block's logical length, shorter than the full
	// chunk for a file whose size isn't a multiple of the block size.
	// Writing the zero-padded tail past it would re-extend a file
	// createTargets already truncated to its correct size.
	remaining := loc.Length - blockOffset
	if remaining <= 0 {
		return nil
	}

	want := len(data)
	if want > remaining {
		want = remaining
	}

	f, err := arena.OpenWrite(loc.DiskFile)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteAt(data[:want], loc.Offset+int64(blockOffset)); err != nil {
		return fmt.Errorf("failed to write target chunk: %w", err)
	}

	return nil
}
