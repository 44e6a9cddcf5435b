package memory

import (
	"errors"
	"fmt"
)

var (
	// ErrDimensionMismatch matches any *DimensionMismatchError via errors.Is.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrCorruptStore means the persisted index and metadata are missing a
	// partner, unreadable, or disagree. It is never repaired automatically.
	ErrCorruptStore = errors.New("corrupt memory store")

	// ErrEmptyText is returned when adding an empty utterance.
	ErrEmptyText = errors.New("text must not be empty")
)

// DimensionMismatchError reports an embedding whose shape disagrees with
// the store. It points at a misconfigured embedder; retrying will not help.
type DimensionMismatchError struct {
	Expected int
	Actual   int

	what string
}

func (e *DimensionMismatchError) Error() string {
	what := e.what
	if what == "" {
		what = "embedding dimension"
	}
	return fmt.Sprintf("%s mismatch: expected %d, got %d", what, e.Expected, e.Actual)
}

// Is makes errors.Is(err, ErrDimensionMismatch) hold.
func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// CheckDimensions returns a *DimensionMismatchError if len(vec) != dims.
func CheckDimensions(vec []float32, dims int) error {
	if len(vec) != dims {
		return &DimensionMismatchError{Expected: dims, Actual: len(vec)}
	}
	return nil
}
