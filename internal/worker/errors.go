package worker

import "fmt"

// AssemblyError marks a concatenation failure: a content problem that a retry
// will repeat, as opposed to an infrastructure hiccup worth retrying.
// Operators can tell the two apart in logs and the DLQ.
type AssemblyError struct {
	Err error
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("assembly failed: %v", e.Err)
}

func (e *AssemblyError) Unwrap() error { return e.Err }
