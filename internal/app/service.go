package app

import (
	"context"
	"log/slog"
	"time"

	"live-session-service/internal/domain"
)

// SessionStore persists sessions and validates their lifecycle transitions.
type SessionStore interface {
	// CreateSession persists the session and its questions atomically, assigning IDs,
	// ordinals and timestamps. Returns domain.ErrDuplicateInvitation on a code clash.
	CreateSession(ctx context.Context, session domain.Session, questions []domain.Question) (domain.Session, []domain.Question, error)
	GetSession(ctx context.Context, id string) (domain.Session, error)
	GetSessionByCode(ctx context.Context, code string) (domain.Session, error)
	ListSessions(ctx context.Context, lecturerID string) ([]domain.SessionSummary, error)
	// StartSession moves an unstarted session to active.
	StartSession(ctx context.Context, id string, at time.Time) (domain.Session, error)
	// EndSession moves an active session to ended.
	EndSession(ctx context.Context, id string, at time.Time) (domain.Session, error)
}

// QuestionStore persists quiz questions and their launch/close transitions.
type QuestionStore interface {
	ListQuestions(ctx context.Context, sessionID string) ([]domain.Question, error)
	GetQuestion(ctx context.Context, sessionID, questionID string) (domain.Question, error)
	CountQuestions(ctx context.Context, sessionID string) (int, error)
	// LaunchQuestion flips launched once while the session is active; a second call
	// returns domain.ErrQuestionAlreadyLaunched, an inactive session domain.ErrSessionNotActive.
	LaunchQuestion(ctx context.Context, sessionID, questionID string, at time.Time) (domain.Question, error)
	// CloseQuestion sets endedAt if unset and returns the responses read in the
	// same unit as the close. The bool reports whether this call closed it; when
	// it did not, no responses are returned.
	CloseQuestion(ctx context.Context, sessionID, questionID string, at time.Time) (domain.Question, []domain.Response, bool, error)
	// DueQuestions lists launched, open questions whose deadline is at or before now.
	DueQuestions(ctx context.Context, now time.Time) ([]domain.Question, error)
	// OpenQuestions lists launched, open questions of a session.
	OpenQuestions(ctx context.Context, sessionID string) ([]domain.Question, error)
}

// StudentStore persists student-sessions.
type StudentStore interface {
	CreateStudent(ctx context.Context, student domain.StudentSession) (domain.StudentSession, error)
	GetStudent(ctx context.Context, sessionID, studentID string) (domain.StudentSession, error)
	ListStudents(ctx context.Context, sessionID string) ([]domain.StudentSession, error)
	CountStudents(ctx context.Context, sessionID string) (int, error)
	// DeleteStudent removes the student-session together with its responses, upvotes and poll response.
	DeleteStudent(ctx context.Context, sessionID, studentID string) (domain.StudentSession, error)
}

// ResponseStore persists answers.
type ResponseStore interface {
	HasResponse(ctx context.Context, questionID, studentID string) (bool, error)
	// CreateResponse inserts only while the question is launched and open; a second
	// answer for the same (question, student) returns domain.ErrDuplicateSubmission.
	CreateResponse(ctx context.Context, response domain.Response) (domain.Response, error)
	CountResponses(ctx context.Context, questionID string) (int, error)
	CountStudentResponses(ctx context.Context, sessionID, studentID string) (int, error)
	// ResponseCounts returns questionID -> number of responses for the session.
	ResponseCounts(ctx context.Context, sessionID string) (map[string]int, error)
}

// BoardStore persists the Q&A board.
type BoardStore interface {
	CreateStudentQuestion(ctx context.Context, question domain.StudentQuestion) (domain.StudentQuestion, error)
	ListStudentQuestions(ctx context.Context, sessionID string) ([]domain.StudentQuestion, error)
	// UpvoteStudentQuestion checks for an existing upvote, inserts it and increments the
	// counter as one atomic unit. Returns domain.ErrDuplicateUpvote on a repeat.
	UpvoteStudentQuestion(ctx context.Context, sessionID, questionID, studentID string) (domain.StudentQuestion, error)
	ToggleAnswered(ctx context.Context, sessionID, questionID string) (domain.StudentQuestion, error)
}

// PollStore persists exit feedback.
type PollStore interface {
	CreatePollResponse(ctx context.Context, response domain.PollResponse) (domain.PollResponse, error)
	PollCounts(ctx context.Context, sessionID string) (map[domain.PollAnswer]int, error)
}

// Store is the single source of truth for the live session engine.
type Store interface {
	SessionStore
	QuestionStore
	StudentStore
	ResponseStore
	BoardStore
	PollStore
}

// CourseRepository loads course content (from cache/backing store).
type CourseRepository interface {
	GetCourse(ctx context.Context, courseID string) (domain.Course, error)
}

// Publisher delivers an event to every socket subscribed to a session.
// Delivery is best effort; errors are logged by the caller and never surfaced.
type Publisher interface {
	Publish(ctx context.Context, sessionID string, event domain.Event) error
}

// Service contains the live session use cases.
type Service struct {
	store     Store
	courses   CourseRepository
	publisher Publisher
	log       *slog.Logger
	now       func() time.Time
	token     func(n int) (string, error)
	timers    *questionTimers
}

// Option configures a Service.
type Option func(*Service)

// WithClock is test-only for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.log = logger }
}

// WithTokenSource replaces the random invitation token generator.
func WithTokenSource(token func(n int) (string, error)) Option {
	return func(s *Service) { s.token = token }
}

func NewService(store Store, courses CourseRepository, publisher Publisher, opts ...Option) *Service {
	s := &Service{
		store:     store,
		courses:   courses,
		publisher: publisher,
		log:       slog.Default(),
		now:       time.Now,
		token:     randomToken,
		timers:    newQuestionTimers(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close stops all pending question timers. Persisted deadlines are picked up
// by the sweeper of whichever process runs next.
func (s *Service) Close() {
	s.timers.stopAll()
}

func (s *Service) publish(ctx context.Context, sessionID, name string, payload any) {
	if err := s.publisher.Publish(ctx, sessionID, domain.Event{Name: name, Payload: payload}); err != nil {
		s.log.Warn("broadcast failed", "session_id", sessionID, "event", name, "error", err)
	}
}
