package patch

import (
	"errors"
	"fmt"
)

// Sentinel errors for comparison with errors.Is
var (
	// ErrConfig is a bad invocation, detected before the archive is touched.
	ErrConfig = errors.New("invalid configuration")
	// ErrMissingEntry means the target entry is not in the archive.
	ErrMissingEntry = errors.New("entry not found in archive")
	// ErrPatternNotFound is a mandatory pattern that could not be located.
	ErrPatternNotFound = errors.New("pattern not found")
	// ErrOptionalPatternNotFound is a pattern whose absence only warrants a
	// warning.
	ErrOptionalPatternNotFound = errors.New("optional pattern not found")
)

func WrapConfig(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

func WrapMissingEntry(name string) error {
	return fmt.Errorf("%w: %s", ErrMissingEntry, name)
}

// IsWarning reports whether err should be logged and skipped rather than
// abort the run.
func IsWarning(err error) bool {
	return errors.Is(err, ErrOptionalPatternNotFound)
}
