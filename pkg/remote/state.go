package remote

import (
	"fmt"
	"strings"
)

// State is the lifecycle state of a remote object.
type State string

const (
	// StateOpen accepts writes; contents are not readable yet.
	StateOpen State = "open"
	// StateClosing means close was requested and the platform is finalizing.
	StateClosing State = "closing"
	// StateClosed is terminal; contents are immutable and readable.
	StateClosed State = "closed"
)

func (s State) String() string {
	return string(s)
}

func parseState(s string) (State, error) {
	switch State(s) {
	case StateOpen, StateClosing, StateClosed:
		return State(s), nil
	}
	return "", fmt.Errorf("unexpected object state %q", s)
}

// Kind identifies the class of a remote data object. Only files carry bytes.
type Kind int

const (
	KindFile Kind = iota + 1
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// KindOf returns the kind encoded in the prefix of an object id.
func KindOf(id string) (Kind, error) {
	prefix, _, ok := strings.Cut(id, "-")
	if !ok {
		return 0, &UsageError{Op: "open", ID: id, Reason: "malformed object id"}
	}
	switch prefix {
	case "file":
		return KindFile, nil
	}
	return 0, &UsageError{Op: "open", ID: id, Reason: fmt.Sprintf("unsupported object class %q", prefix)}
}

// UsageError reports an operation that is invalid for the current state of
// the handle. It is raised locally, before any network call, and is never
// retried.
type UsageError struct {
	Op     string
	ID     string
	Reason string
}

func (e *UsageError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.ID, e.Reason)
}
