package util

import (
	"github.com/par2verify/par2verify/internal/schema"
)

// HighestError returns the error in errs whose mapped exit code is most
// severe, skipping nils. Exit codes increase with severity (see
// schema.ExitCodeFor), so the numerically highest code wins.
func HighestError(errs []error) error {
	var highest error
	highestPriority := -1

	for _, e := range errs {
		if e == nil {
			continue
		}

		priority := schema.ExitCodeFor(e)
		if priority > highestPriority {
			highestPriority = priority
			highest = e
		}
	}

	return highest
}
