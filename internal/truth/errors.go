package truth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/yourorg/evidence-worker/internal/model"
)

// ErrInvalidInput marks inputs the engine refuses to classify.
var ErrInvalidInput = errors.New("invalid truth input")

// InvariantViolation means the engine produced a result that breaks one of
// its own postconditions. It signals a defect in the engine, never bad input,
// and Compute panics with it instead of returning a patched result.
type InvariantViolation struct {
	Invariant string
	Detail    string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("truth invariant %q violated: %s", e.Invariant, e.Detail)
}

// ExportBlockedError is returned when metadata does not permit export. It
// always carries at least one reason.
type ExportBlockedError struct {
	Status  model.ValidityStatus
	Reasons []string
}

func (e *ExportBlockedError) Error() string {
	return fmt.Sprintf("export blocked (%s): %s", e.Status, strings.Join(e.Reasons, "; "))
}
