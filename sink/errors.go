// Package sink holds the file sink and the error type shared by every
// persistence target.
package sink

import "fmt"

// Kind names a persistence target.
type Kind string

const (
	File     Kind = "file"
	Database Kind = "database"
)

// PersistenceError reports a failed write to one sink.
type PersistenceError struct {
	Sink Kind
	Op   string // step that failed, e.g. "open", "commit"
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s sink: %s: %v", e.Sink, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
