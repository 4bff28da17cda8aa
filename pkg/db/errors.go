package db

import "fmt"

// StoreWriteError reports a load pass that failed partway through its
// chunked upsert. Written is the number of rows already committed by
// earlier chunks; those stay committed, and because the table replaces on
// the natural key, re-running the same pass is safe and convergent.
type StoreWriteError struct {
	Written int
	Err     error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store write failed after %d rows committed: %v", e.Written, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }
