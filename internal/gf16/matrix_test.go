package gf16

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Expectation: Invert should produce a matrix that multiplies back to the
// identity vector for any vector, i.e. Invert(M).MulVec(M.MulVec(v)) == v.
func Test_Matrix_Invert_RoundTrip_Success(t *testing.T) {
	t.Parallel()

	m := NewMatrix(3, 3)
	// A Vandermonde-like matrix built from distinct exponents, as the
	// repair planner would build from distinct recovery exponents.
	exponents := []uint32{0, 1, 2}
	for r, e := range exponents {
		for c := range 3 {
			m.Set(r, c, Pow(2, e*uint32(c)))
		}
	}

	inv, err := m.Invert()
	require.NoError(t, err)

	v := []uint16{5, 9, 200}
	encoded := m.MulVec(v)
	decoded := inv.MulVec(encoded)

	require.Equal(t, v, decoded)
}

// Expectation: Invert should report ErrSingular for a matrix with a
// duplicated row, since two identical rows make the matrix rank-deficient.
func Test_Matrix_Invert_DuplicateRow_ReturnsSingular(t *testing.T) {
	t.Parallel()

	m := NewMatrix(2, 2)
	m.Set(0, 0, 1)
	m.Set(0, 1, 2)
	m.Set(1, 0, 1)
	m.Set(1, 1, 2)

	_, err := m.Invert()
	require.ErrorIs(t, err, ErrSingular)
}

// Expectation: Invert should report ErrSingular for a non-square matrix.
func Test_Matrix_Invert_NonSquare_ReturnsSingular(t *testing.T) {
	t.Parallel()

	m := NewMatrix(2, 3)

	_, err := m.Invert()
	require.ErrorIs(t, err, ErrSingular)
}

// Expectation: inverting the identity matrix should return the identity.
func Test_Matrix_Invert_Identity_ReturnsIdentity(t *testing.T) {
	t.Parallel()

	m := NewMatrix(3, 3)
	for i := range 3 {
		m.Set(i, i, 1)
	}

	inv, err := m.Invert()
	require.NoError(t, err)

	for r := range 3 {
		for c := range 3 {
			want := uint16(0)
			if r == c {
				want = 1
			}

			require.Equal(t, want, inv.At(r, c))
		}
	}
}
