package util

import (
	"errors"
	"fmt"
	"testing"

	"github.com/par2verify/par2verify/internal/schema"
	"github.com/stretchr/testify/require"
)

// Expectation: The highest-severity error should be returned.
func Test_HighestError_Table_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		errs     []error
		expected error
	}{
		{
			name:     "empty slice returns nil",
			errs:     []error{},
			expected: nil,
		},
		{
			name:     "slice with only nils returns nil",
			errs:     []error{nil, nil, nil},
			expected: nil,
		},
		{
			name:     "single error returns that error",
			errs:     []error{schema.ErrExitRepairPossible},
			expected: schema.ErrExitRepairPossible,
		},
		{
			name:     "returns highest priority error",
			errs:     []error{schema.ErrExitRepairPossible, schema.ErrExitBadInvocation, schema.ErrExitRepairFailed},
			expected: schema.ErrExitBadInvocation,
		},
		{
			name:     "skips nil errors and returns highest",
			errs:     []error{nil, schema.ErrExitRepairPossible, nil, schema.ErrExitRepairNotPossible, nil},
			expected: schema.ErrExitRepairNotPossible,
		},
		{
			name:     "returns first occurrence when multiple have same priority",
			errs:     []error{schema.ErrExitLogic, errors.New("another error")},
			expected: schema.ErrExitLogic,
		},
		{
			name:     "wrapped error is recognized",
			errs:     []error{schema.ErrExitRepairPossible, fmt.Errorf("wrapped: %w", schema.ErrExitRepairNotPossible)},
			expected: fmt.Errorf("wrapped: %w", schema.ErrExitRepairNotPossible),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result := HighestError(tt.errs)
			if tt.expected == nil {
				require.NoError(t, result)
			} else {
				require.Error(t, result)
				require.Equal(t, schema.ExitCodeFor(tt.expected), schema.ExitCodeFor(result))
			}
		})
	}
}
