package split

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrEmptySelection is returned by Split when no line has a selected quantity.
var ErrEmptySelection = errors.New("no line selected")

// InvalidSelectionError reports a selected quantity the line cannot carry.
type InvalidSelectionError struct {
	LineID   uuid.UUID
	Selected decimal.Decimal
	Quantity decimal.Decimal
	Reason   string
}

func (e *InvalidSelectionError) Error() string {
	return fmt.Sprintf("invalid selection for line %s: %s (selected %s of %s)",
		e.LineID, e.Reason, e.Selected, e.Quantity)
}

// AmbiguousParentError is returned when a combo group does not have exactly
// one parent line. Callers treat it as a warning.
type AmbiguousParentError struct {
	GroupID    uuid.UUID
	Candidates int
}

func (e *AmbiguousParentError) Error() string {
	return fmt.Sprintf("combo group %s has %d parent lines", e.GroupID, e.Candidates)
}
