package connector

import "fmt"

// ConnectionError is returned when a connector cannot be established. It
// aborts only the pipeline of the named database.
type ConnectionError struct {
	Database string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to database %s: %v", e.Database, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SetupError reports a failed one-time setup step. It is logged and ignored.
type SetupError struct {
	Database string
	Err      error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("setup for database %s failed: %v", e.Database, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// ReadError reports a failed fetch iteration; the loop retries after its
// fixed delay.
type ReadError struct {
	Database string
	Err      error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("failed to read changes from %s: %v", e.Database, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// ParseError reports a change-log entry that could not be decoded. The
// entry is dropped.
type ParseError struct {
	Data string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse change entry: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
