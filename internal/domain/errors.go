package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Concrete errors wrap exactly one of these so transports can map
// them with errors.Is.
var (
	ErrNotFound    = errors.New("not found")
	ErrDuplicate   = errors.New("already exists")
	ErrState       = errors.New("invalid state")
	ErrUnsupported = errors.New("unsupported")
	ErrInvalid     = errors.New("invalid input")
)

var (
	// ErrSessionNotFound is returned when a live session does not exist (or is not joinable).
	ErrSessionNotFound = fmt.Errorf("session %w", ErrNotFound)
	// ErrQuestionNotFound indicates the question does not belong to the session.
	ErrQuestionNotFound = fmt.Errorf("question %w", ErrNotFound)
	// ErrStudentNotFound indicates the student-session is unknown to the session (never joined or kicked).
	ErrStudentNotFound = fmt.Errorf("student %w in session", ErrNotFound)
	// ErrStudentQuestionNotFound indicates the student-submitted question does not belong to the session.
	ErrStudentQuestionNotFound = fmt.Errorf("student question %w", ErrNotFound)
	// ErrCourseNotFound indicates the course could not be loaded.
	ErrCourseNotFound = fmt.Errorf("course %w", ErrNotFound)

	ErrDuplicateSubmission   = fmt.Errorf("response %w for this question", ErrDuplicate)
	ErrDuplicateUpvote       = fmt.Errorf("upvote %w for this question", ErrDuplicate)
	ErrDuplicatePollResponse = fmt.Errorf("feedback %w for this session", ErrDuplicate)
	ErrDuplicateInvitation   = fmt.Errorf("invitation code %w", ErrDuplicate)

	ErrUnsupportedAction = fmt.Errorf("%w action", ErrUnsupported)

	ErrSessionNotActive        = fmt.Errorf("%w: session is not active", ErrState)
	ErrSessionAlreadyStarted   = fmt.Errorf("%w: session has already been started", ErrState)
	ErrSessionEnded            = fmt.Errorf("%w: session has ended", ErrState)
	ErrSessionNotEnded         = fmt.Errorf("%w: session must be ended first", ErrState)
	ErrQuestionAlreadyLaunched = fmt.Errorf("%w: question has already been launched", ErrState)
	ErrQuestionNotLaunched     = fmt.Errorf("%w: question has not been launched", ErrState)
	ErrQuestionClosed          = fmt.Errorf("%w: question is closed", ErrState)

	// ErrOptionNotFound indicates a choice answer that is not one of the question's options.
	ErrOptionNotFound    = fmt.Errorf("%w: option not found", ErrInvalid)
	ErrInvalidPollAnswer = fmt.Errorf("%w: unknown poll answer", ErrInvalid)
	ErrInvalidQuestion   = fmt.Errorf("%w: question definition", ErrInvalid)
	ErrEmptyAnswer       = fmt.Errorf("%w: answer is empty", ErrInvalid)
)
