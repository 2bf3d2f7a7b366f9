package sources

import "fmt"

// InvalidMediaError means an upload is not a playable video. The attempt is
// terminal; nothing is retried.
type InvalidMediaError struct {
	Name   string
	Reason string
	Err    error
}

func (e *InvalidMediaError) Error() string {
	msg := "invalid media"
	if e.Name != "" {
		msg += " " + e.Name
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvalidMediaError) Unwrap() error {
	return e.Err
}

// DanglingSourceReferenceError means a clip points at a slot whose source is
// gone or has been replaced
type DanglingSourceReferenceError struct {
	Slot    int
	ID      string
	Current string
}

func (e *DanglingSourceReferenceError) Error() string {
	if e.Current == "" {
		return fmt.Sprintf("source slot %d is empty", e.Slot)
	}
	return fmt.Sprintf("source slot %d was replaced (had %s, now %s)", e.Slot, e.ID, e.Current)
}
