package lifecycle

import (
	"errors"
	"fmt"

	"github.com/KITA-DS12/hackathon-mentor-bot/internal/store"
)

// Kind classifies why a lifecycle operation was rejected.
type Kind int

// Error kinds. The zero value means "no error".
const (
	NotFound Kind = iota + 1
	InvalidState
	NotAssigned
	AlreadyCompleted
	DependencyFailure
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case InvalidState:
		return "invalid_state"
	case NotAssigned:
		return "not_assigned"
	case AlreadyCompleted:
		return "already_completed"
	case DependencyFailure:
		return "dependency_failure"
	}
	return "none"
}

// Rejection reasons carried in Error.Reason.
const (
	ReasonAlreadyHandled   = "already being handled"
	ReasonNotPaused        = "not paused"
	ReasonNotInProgress    = "not in progress"
	ReasonNotReleasable    = "not releasable"
	ReasonAlreadyCompleted = "already completed"
	ReasonNotAssigned      = "not assigned"
	ReasonNotAsker         = "not the asker"
	ReasonNotFound         = "question not found"
)

// Error is returned by every Engine operation that does not succeed.
type Error struct {
	Kind       Kind
	Reason     string
	QuestionID string
	Err        error
}

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrNotFound          = &Error{Kind: NotFound}
	ErrInvalidState      = &Error{Kind: InvalidState}
	ErrNotAssigned       = &Error{Kind: NotAssigned}
	ErrAlreadyCompleted  = &Error{Kind: AlreadyCompleted}
	ErrDependencyFailure = &Error{Kind: DependencyFailure}
)

func (e *Error) Error() string {
	msg := fmt.Sprintf("lifecycle: %s", e.Kind)
	if e.QuestionID != "" {
		msg += " " + e.QuestionID
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Reason == "" && t.QuestionID == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the Kind of err, mapping store errors onto lifecycle kinds.
// Any other non-nil error is a DependencyFailure.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return NotFound
	case errors.Is(err, store.ErrNotMember):
		return NotAssigned
	}
	return DependencyFailure
}

func reject(kind Kind, id, reason string) *Error {
	return &Error{Kind: kind, Reason: reason, QuestionID: id}
}

// classify turns an error returned from a transaction into an *Error.
func classify(id string, err error) error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return le
	}
	switch KindOf(err) {
	case NotFound:
		return &Error{Kind: NotFound, Reason: ReasonNotFound, QuestionID: id, Err: err}
	case NotAssigned:
		return &Error{Kind: NotAssigned, Reason: ReasonNotAssigned, QuestionID: id, Err: err}
	}
	return &Error{Kind: DependencyFailure, QuestionID: id, Err: err}
}
