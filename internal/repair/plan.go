// Package repair turns a scanned source-file model into a Reed-Solomon
// repair plan and executes it against the recovery blocks held in memory
// by the set loader. It does not re-verify the written output; the
// orchestrator does that afterwards.
package repair

import (
	"errors"
	"fmt"

	"github.com/par2verify/par2verify/internal/gf16"
	"github.com/par2verify/par2verify/internal/par2"
	"github.com/par2verify/par2verify/internal/recoveryset"
	"github.com/par2verify/par2verify/internal/sourcefile"
)

// ErrSingularMatrix is returned when the recovery sub-matrix cannot be
// inverted, which for PAR2's Vandermonde-derived construction only happens
// if the inputs feeding the planner are internally inconsistent (e.g. a
// duplicated recovery exponent slipped past the loader).
var ErrSingularMatrix = errors.New("repair: recovery matrix is singular")

// InputBlock is one term of the Reed-Solomon linear system: either a known
// data block read from an existing source location, or a recovery packet
// already held in memory by the set loader.
type InputBlock struct {
	GlobalIdx int                      // Global source-block index, or -1 for a recovery-packet input.
	Location  sourcefile.BlockLocation // Valid when GlobalIdx >= 0.
	Recovery  *par2.RecoveryPacket     // Valid when GlobalIdx < 0.
}

// CopyMapping pairs one available InputBlocks entry with the target
// location it is copied to verbatim.
type CopyMapping struct {
	InputIndex int
	FileIdx    int
	BlockIdx   int
}

// OutputMapping is one missing block to be recomputed, identified by its
// position in the model's file/block-index space.
type OutputMapping struct {
	GlobalIdx int
	FileIdx   int
	BlockIdx  int
}

// Plan is the Reed-Solomon repair plan for one recovery set.
type Plan struct {
	BlockSize int

	Available int
	Missing   int

	InputBlocks  []InputBlock
	CopyBlocks   []CopyMapping
	OutputBlocks []OutputMapping

	// Matrix has one row per InputBlocks entry (in the same order) and one
	// column per OutputBlocks entry: Matrix.At(i, j) is the GF(2^16)
	// coefficient the executor multiplies input i's chunk by and XORs into
	// output j's accumulator. It is nil when Missing is 0.
	Matrix *gf16.Matrix

	// Possible is false when fewer recovery packets are available than
	// blocks are missing; Shortfall then holds how many more are needed.
	Possible  bool
	Shortfall int
}

// Build partitions model's blocks into input/copy/output groups and, if
// any blocks are missing, assembles the full per-input coefficient matrix
// needed to recompute them from set's recovery packets.
func Build(model *sourcefile.Model, set recoveryset.Set) (*Plan, error) {
	total := model.TotalBlocks()

	plan := &Plan{BlockSize: int(model.BlockSize)}

	var (
		dataInputs []InputBlock
		outputs    []OutputMapping
	)

	for idx := range total {
		fileIdx, blockIdx, err := model.BlockOwner(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve block owner: %w", err)
		}

		if model.SourceBlocks[idx].IsSet() {
			dataInputs = append(dataInputs, InputBlock{GlobalIdx: idx, Location: model.SourceBlocks[idx]})
		} else {
			outputs = append(outputs, OutputMapping{GlobalIdx: idx, FileIdx: fileIdx, BlockIdx: blockIdx})
		}
	}

	plan.Available = len(dataInputs)
	plan.Missing = len(outputs)
	plan.OutputBlocks = outputs
	plan.InputBlocks = dataInputs

	for i, ib := range dataInputs {
		fileIdx, blockIdx, err := model.BlockOwner(ib.GlobalIdx)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve copy-block owner: %w", err)
		}

		plan.CopyBlocks = append(plan.CopyBlocks, CopyMapping{InputIndex: i, FileIdx: fileIdx, BlockIdx: blockIdx})
	}

	if plan.Missing == 0 {
		plan.Possible = true

		return plan, nil
	}

	if len(set.RecoveryBlocks) < plan.Missing {
		plan.Possible = false
		plan.Shortfall = plan.Missing - len(set.RecoveryBlocks)

		return plan, nil
	}

	recoveryUsed := set.RecoveryBlocks[:plan.Missing]

	for _, rp := range recoveryUsed {
		plan.InputBlocks = append(plan.InputBlocks, InputBlock{GlobalIdx: -1, Recovery: rp})
	}

	matrix, err := buildCoefficientMatrix(dataInputs, outputs, recoveryUsed)
	if err != nil {
		return nil, err
	}

	plan.Matrix = matrix
	plan.Possible = true

	return plan, nil
}

// buildCoefficientMatrix derives, for every input (data block then recovery
// packet, in that order) and every missing output block, the GF(2^16)
// coefficient the executor needs.
//
// The underlying system: recovery packet k with PAR2 exponent e_k equals
// sum_i base_i^e_k * D_i over every data block i, where base_i = 2^i (PAR2
// fixes 2 as the field's primitive element). Moving known D_i to the other
// side leaves a missing x missing system S_k = sum_j base_j^e_k * D_j over
// only the unknown blocks j, which Gauss-Jordan inversion solves for D_j in
// terms of the S_k. Substituting S_k's own definition back in expresses
// every D_j as a linear combination of every recovery packet R_k and every
// known D_i directly — that combined expression is this function's output.
func buildCoefficientMatrix(dataInputs []InputBlock, outputs []OutputMapping, recoveryUsed []*par2.RecoveryPacket) (*gf16.Matrix, error) {
	missing := len(outputs)

	sub := gf16.NewMatrix(missing, missing)

	for row, rp := range recoveryUsed {
		for col, out := range outputs {
			base := gf16.Pow(2, uint32(out.GlobalIdx)) //nolint:gosec
			sub.Set(row, col, gf16.Pow(base, rp.Exponent))
		}
	}

	inv, err := sub.Invert()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSingularMatrix, err)
	}

	full := gf16.NewMatrix(len(dataInputs)+len(recoveryUsed), missing)

	for i, ib := range dataInputs {
		base := gf16.Pow(2, uint32(ib.GlobalIdx)) //nolint:gosec

		for j := range outputs {
			var acc uint16

			for k, rp := range recoveryUsed {
				acc ^= gf16.Mul(inv.At(j, k), gf16.Pow(base, rp.Exponent))
			}

			full.Set(i, j, acc)
		}
	}

	for k := range recoveryUsed {
		row := len(dataInputs) + k

		for j := range outputs {
			full.Set(row, j, inv.At(j, k))
		}
	}

	return full, nil
}
