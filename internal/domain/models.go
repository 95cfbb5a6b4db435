package domain

import (
	"math"
	"time"
)

// SessionState is derived from the active flag and the start/end timestamps.
type SessionState string

const (
	SessionUnstarted SessionState = "unstarted"
	SessionActive    SessionState = "active"
	SessionEnded     SessionState = "ended"
)

// Course is owned by the course CRUD collaborator; the engine only reads it.
type Course struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	CourseCode  string `json:"courseCode"`
	Description string `json:"description,omitempty"`
	LecturerID  string `json:"lecturerId"`
}

// Session is one live quiz interaction run by a lecturer.
type Session struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	LecturerID     string     `json:"lecturerId"`
	CourseID       string     `json:"courseId"`
	InvitationCode string     `json:"invitationCode"`
	IsActive       bool       `json:"isActive"`
	StartTime      *time.Time `json:"startTime"`
	EndTime        *time.Time `json:"endTime"`
	CreatedAt      time.Time  `json:"createdAt"`
}

func (s Session) State() SessionState {
	switch {
	case s.IsActive:
		return SessionActive
	case s.EndTime != nil:
		return SessionEnded
	default:
		return SessionUnstarted
	}
}

// QuestionType is the answer format of a quiz question.
type QuestionType string

const (
	QuestionMCQ       QuestionType = "MCQ"
	QuestionTrueFalse QuestionType = "TRUE_FALSE"
	QuestionOpenEnded QuestionType = "OPEN_ENDED"
	QuestionFormula   QuestionType = "FORMULA"
)

// TrueFalseOptions are the fixed options of a TRUE_FALSE question.
var TrueFalseOptions = []string{"True", "False"}

func (t QuestionType) Valid() bool {
	switch t {
	case QuestionMCQ, QuestionTrueFalse, QuestionOpenEnded, QuestionFormula:
		return true
	}
	return false
}

// IsChoice reports whether answers are restricted to the option list.
func (t QuestionType) IsChoice() bool {
	return t == QuestionMCQ || t == QuestionTrueFalse
}

// Question is a timed prompt inside a session.
type Question struct {
	ID         string       `json:"id"`
	SessionID  string       `json:"sessionId"`
	Ordinal    int          `json:"ordinal"`
	Text       string       `json:"text"`
	Type       QuestionType `json:"type"`
	Options    []string     `json:"options"`
	TimeLimit  int          `json:"timeLimit"` // seconds
	IsLaunched bool         `json:"isLaunched"`
	LaunchedAt *time.Time   `json:"launchedAt"`
	EndedAt    *time.Time   `json:"endedAt"`
	CreatedAt  time.Time    `json:"createdAt"`
}

// Closed reports whether results have been finalised.
func (q Question) Closed() bool {
	return q.EndedAt != nil
}

// Deadline is launchedAt + timeLimit; zero when the question was never launched.
func (q Question) Deadline() time.Time {
	if q.LaunchedAt == nil {
		return time.Time{}
	}
	return q.LaunchedAt.Add(time.Duration(q.TimeLimit) * time.Second)
}

// TimeRemaining returns whole seconds left before the deadline, never negative.
func (q Question) TimeRemaining(now time.Time) int {
	if q.EndedAt != nil || q.LaunchedAt == nil {
		return 0
	}
	elapsed := int(math.Floor(now.Sub(*q.LaunchedAt).Seconds()))
	if remaining := q.TimeLimit - elapsed; remaining > 0 {
		return remaining
	}
	return 0
}

// NewQuestion is the client-supplied definition of a question at session creation.
type NewQuestion struct {
	Text      string       `json:"text" validate:"required"`
	Type      QuestionType `json:"type" validate:"required,oneof=MCQ TRUE_FALSE OPEN_ENDED FORMULA"`
	Options   []string     `json:"options"`
	TimeLimit int          `json:"timeLimit" validate:"required,gt=0"`
}

// StudentSession is one student's membership in a session. Its ID is the
// bearer credential for all student-scoped calls.
type StudentSession struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	Name       string    `json:"name"`
	ExternalID string    `json:"externalId"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Response is one student's answer to one question.
type Response struct {
	ID         string    `json:"id"`
	QuestionID string    `json:"questionId"`
	StudentID  string    `json:"studentId"`
	Answer     string    `json:"answer"`
	CreatedAt  time.Time `json:"createdAt"`
}

// StudentQuestion is a question submitted by a student to the lecturer.
type StudentQuestion struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"sessionId"`
	StudentSessionID string    `json:"studentSessionId,omitempty"`
	Text             string    `json:"text"`
	Upvotes          int       `json:"upvotes"`
	IsAnswered       bool      `json:"isAnswered"`
	CreatedAt        time.Time `json:"createdAt"`
}

// PollAnswer is the exit feedback enumeration.
type PollAnswer string

const (
	PollVeryHelpful     PollAnswer = "Very Helpful"
	PollSomewhatHelpful PollAnswer = "Somewhat Helpful"
	PollNeutral         PollAnswer = "Neutral"
	PollNotHelpful      PollAnswer = "Not Helpful"
)

// PollAnswers lists the valid answers in display order.
var PollAnswers = []PollAnswer{PollVeryHelpful, PollSomewhatHelpful, PollNeutral, PollNotHelpful}

func (a PollAnswer) Valid() bool {
	for _, v := range PollAnswers {
		if a == v {
			return true
		}
	}
	return false
}

// PollResponse is a student's exit feedback, at most one per session.
type PollResponse struct {
	ID               string     `json:"id"`
	SessionID        string     `json:"sessionId"`
	StudentSessionID string     `json:"studentSessionId"`
	Answer           PollAnswer `json:"answer"`
	CreatedAt        time.Time  `json:"createdAt"`
}
