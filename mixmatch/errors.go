package mixmatch

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors for the mixmatch package.
// Use errors.Is to check: errors.Is(err, mixmatch.ErrInvalidConfig)
var (
	ErrInvalidConfig = errors.New("mixmatch: invalid configuration")
	ErrShapeMismatch = errors.New("mixmatch: shape mismatch")
)

// mark tags err with sentinel. Both stay reachable through errors.Is.
func mark(sentinel, err error) error {
	return fmt.Errorf("%w: %w", sentinel, err)
}
