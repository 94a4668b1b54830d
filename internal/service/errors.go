package service

import (
	"errors"
	"fmt"
)

// Error taxonomy. Every error a service returns to a caller wraps one of
// these so handlers and remote clients can classify it with errors.Is.
var (
	// ErrUnauthorized means the caller is not a participant of the exam in the
	// role the operation requires.
	ErrUnauthorized = errors.New("not authorized for this exam")
	// ErrStateConflict means the request is valid but the attempt or session is
	// in a state that forbids it.
	ErrStateConflict = errors.New("state conflict")
	// ErrNotFound means the addressed record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput means the request itself is malformed.
	ErrInvalidInput = errors.New("invalid input")
)

var (
	ErrNotParticipant   = fmt.Errorf("%w: caller is not a participant of this exam", ErrUnauthorized)
	ErrInvigilatorOnly  = fmt.Errorf("%w: only the exam invigilator may do this", ErrUnauthorized)
	ErrStudentOnly      = fmt.Errorf("%w: only an enrolled student may do this", ErrUnauthorized)
	ErrNotSessionOwner  = fmt.Errorf("%w: session belongs to another student", ErrUnauthorized)
	ErrInvalidRecipient = fmt.Errorf("%w: recipient is not a counterpart of the sender", ErrUnauthorized)

	ErrExamNotOngoing   = fmt.Errorf("%w: exam is not ongoing", ErrStateConflict)
	ErrNotApproved      = fmt.Errorf("%w: join request not approved", ErrStateConflict)
	ErrNotStarted       = fmt.Errorf("%w: attempt not started", ErrStateConflict)
	ErrAlreadySubmitted = fmt.Errorf("%w: attempt already submitted", ErrStateConflict)
	ErrCountdownActive  = fmt.Errorf("%w: countdown has not expired", ErrStateConflict)
	ErrStaleConnection  = fmt.Errorf("%w: connection superseded", ErrStateConflict)

	ErrExamNotFound    = fmt.Errorf("%w: exam", ErrNotFound)
	ErrSheetNotFound   = fmt.Errorf("%w: answer sheet", ErrNotFound)
	ErrSessionNotFound = fmt.Errorf("%w: proctoring session", ErrNotFound)
	ErrResultNotFound  = fmt.Errorf("%w: exam result", ErrNotFound)

	ErrInvalidSignal = fmt.Errorf("%w: signal", ErrInvalidInput)
	ErrInvalidAnswer = fmt.Errorf("%w: answer", ErrInvalidInput)
)
