package incentive

import (
	"errors"
	"fmt"
)

// ErrInvalidTable is returned when a tier ladder breaks a Table invariant.
var ErrInvalidTable = errors.New("invalid tier table")

// TableError reports which tier broke the ladder. Index is -1 when the
// problem is the table as a whole.
type TableError struct {
	Index  int
	Reason string
}

func (e *TableError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("invalid tier table: %s", e.Reason)
	}
	return fmt.Sprintf("invalid tier table: tier #%d: %s", e.Index, e.Reason)
}

func (e *TableError) Unwrap() error {
	return ErrInvalidTable
}
