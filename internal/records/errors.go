package records

import (
	"fmt"
)

// FetchError wraps a failed row fetch.
type FetchError struct {
	Table string
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching rows from %q failed: %s", e.Table, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// WriteError wraps a failed insert, update or delete.
type WriteError struct {
	Table string
	Op    string
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s on %q failed: %s", e.Op, e.Table, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// SubscriptionError wraps a failed change-feed setup.
type SubscriptionError struct {
	Table string
	Err   error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("change feed for %q failed: %s", e.Table, e.Err)
}

func (e *SubscriptionError) Unwrap() error {
	return e.Err
}

// ErrNotFound is returned when a row addressed by id does not exist.
type ErrNotFound struct {
	Table string
	ID    string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("row %q not found in %q", e.ID, e.Table)
}
