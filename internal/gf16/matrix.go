package gf16

import "errors"

// ErrSingular is returned by [Matrix.Invert] when the matrix has no inverse,
// which for PAR2's Vandermonde-derived construction can only happen if the
// caller assembled an internally inconsistent set of rows (e.g. a repeated
// exponent, or fewer distinct rows than columns).
var ErrSingular = errors.New("gf16: singular matrix")

// Matrix is a dense row-major matrix over GF(2^16).
type Matrix struct {
	Rows, Cols int
	data       []uint16
}

// NewMatrix allocates a zeroed rows x cols matrix.
func NewMatrix(rows, cols int) *Matrix {
	return &Matrix{Rows: rows, Cols: cols, data: make([]uint16, rows*cols)}
}

// At returns the element at (r, c).
func (m *Matrix) At(r, c int) uint16 {
	return m.data[r*m.Cols+c]
}

// Set assigns the element at (r, c).
func (m *Matrix) Set(r, c int, v uint16) {
	m.data[r*m.Cols+c] = v
}

func (m *Matrix) swapRows(a, b int) {
	if a == b {
		return
	}

	rowA := m.data[a*m.Cols : a*m.Cols+m.Cols]
	rowB := m.data[b*m.Cols : b*m.Cols+m.Cols]

	for i := range rowA {
		rowA[i], rowB[i] = rowB[i], rowA[i]
	}
}

// Invert returns the inverse of a square matrix via Gauss-Jordan elimination
// with partial pivoting, as used by the repair planner to turn the
// present-input-rows-by-output-exponent-columns sub-matrix into the set of
// GF(2^16) coefficients the executor's fan-out multiplies by.
func (m *Matrix) Invert() (*Matrix, error) {
	if m.Rows != m.Cols {
		return nil, ErrSingular
	}

	n := m.Rows

	work := &Matrix{Rows: n, Cols: n, data: append([]uint16(nil), m.data...)}
	inv := NewMatrix(n, n)

	for i := range n {
		inv.Set(i, i, 1)
	}

	for col := range n {
		pivot := -1

		for row := col; row < n; row++ {
			if work.At(row, col) != 0 {
				pivot = row

				break
			}
		}

		if pivot == -1 {
			return nil, ErrSingular
		}

		work.swapRows(col, pivot)
		inv.swapRows(col, pivot)

		pivotVal := work.At(col, col)
		if pivotVal != 1 {
			scale := Div(1, pivotVal)
			scaleRow(work, col, scale)
			scaleRow(inv, col, scale)
		}

		for row := range n {
			if row == col {
				continue
			}

			factor := work.At(row, col)
			if factor == 0 {
				continue
			}

			eliminateRow(work, row, col, factor)
			eliminateRow(inv, row, col, factor)
		}
	}

	return inv, nil
}

func scaleRow(m *Matrix, row int, scale uint16) {
	r := m.data[row*m.Cols : row*m.Cols+m.Cols]
	for i, v := range r {
		r[i] = Mul(v, scale)
	}
}

// eliminateRow performs row[target] ^= factor * row[pivot], using pivot's
// columns [pivot.. ) only where relevant since earlier columns are already
// zeroed by prior elimination steps; iterating the full row is simplest and
// correct since Mul(0, factor) is a no-op.
func eliminateRow(m *Matrix, target, pivot int, factor uint16) {
	dst := m.data[target*m.Cols : target*m.Cols+m.Cols]
	src := m.data[pivot*m.Cols : pivot*m.Cols+m.Cols]

	for i := range dst {
		dst[i] ^= Mul(src[i], factor)
	}
}

// MulVec multiplies this matrix by a column vector.
func (m *Matrix) MulVec(v []uint16) []uint16 {
	out := make([]uint16, m.Rows)

	for r := range m.Rows {
		var acc uint16

		for c := range m.Cols {
			acc ^= Mul(m.At(r, c), v[c])
		}

		out[r] = acc
	}

	return out
}
