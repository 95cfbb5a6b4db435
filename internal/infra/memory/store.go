package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"live-session-service/internal/domain"
)

type pair [2]string

// Store is an in-memory implementation of app.Store. One mutex serialises all
// writes, which gives the row-level atomicity the engine expects from a store.
type Store struct {
	mu sync.RWMutex

	sessions  map[string]*domain.Session
	codes     map[string]string
	questions map[string]*domain.Question
	// ordered question IDs per session
	sessionQuestions map[string][]string
	students         map[string]*domain.StudentSession
	responses        map[pair]*domain.Response // (question, student)
	board            map[string]*domain.StudentQuestion
	upvotes          map[pair]struct{} // (student question, student)
	polls            map[pair]*domain.PollResponse // (session, student)

	newID func() string
}

func NewStore() *Store {
	return &Store{
		sessions:         make(map[string]*domain.Session),
		codes:            make(map[string]string),
		questions:        make(map[string]*domain.Question),
		sessionQuestions: make(map[string][]string),
		students:         make(map[string]*domain.StudentSession),
		responses:        make(map[pair]*domain.Response),
		board:            make(map[string]*domain.StudentQuestion),
		upvotes:          make(map[pair]struct{}),
		polls:            make(map[pair]*domain.PollResponse),
		newID:            uuid.NewString,
	}
}

func (s *Store) CreateSession(_ context.Context, session domain.Session, questions []domain.Question) (domain.Session, []domain.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.codes[session.InvitationCode]; taken {
		return domain.Session{}, nil, domain.ErrDuplicateInvitation
	}
	session.ID = s.newID()
	session.IsActive = false
	session.StartTime, session.EndTime = nil, nil
	stored := session
	s.sessions[session.ID] = &stored
	s.codes[session.InvitationCode] = session.ID

	out := make([]domain.Question, 0, len(questions))
	ids := make([]string, 0, len(questions))
	for i, q := range questions {
		q.ID = s.newID()
		q.SessionID = session.ID
		q.Ordinal = i + 1
		q.IsLaunched = false
		q.LaunchedAt, q.EndedAt = nil, nil
		q.CreatedAt = session.CreatedAt
		q.Options = append([]string{}, q.Options...)
		stored := q
		s.questions[q.ID] = &stored
		ids = append(ids, q.ID)
		out = append(out, cloneQuestion(&stored))
	}
	s.sessionQuestions[session.ID] = ids
	return cloneSession(&stored), out, nil
}

func (s *Store) GetSession(_ context.Context, id string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return cloneSession(session), nil
}

func (s *Store) GetSessionByCode(_ context.Context, code string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.codes[code]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return cloneSession(s.sessions[id]), nil
}

func (s *Store) ListSessions(_ context.Context, lecturerID string) ([]domain.SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	participants := make(map[string]int)
	for _, st := range s.students {
		participants[st.SessionID]++
	}
	out := []domain.SessionSummary{}
	for _, session := range s.sessions {
		if session.LecturerID != lecturerID {
			continue
		}
		out = append(out, domain.SessionSummary{
			Session:      cloneSession(session),
			Participants: participants[session.ID],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Session, out[j].Session
		if a.IsActive != b.IsActive {
			return a.IsActive
		}
		switch {
		case a.StartTime != nil && b.StartTime != nil && !a.StartTime.Equal(*b.StartTime):
			return a.StartTime.After(*b.StartTime)
		case (a.StartTime == nil) != (b.StartTime == nil):
			return a.StartTime != nil
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	return out, nil
}

func (s *Store) StartSession(_ context.Context, id string, at time.Time) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	switch session.State() {
	case domain.SessionActive:
		return domain.Session{}, domain.ErrSessionAlreadyStarted
	case domain.SessionEnded:
		return domain.Session{}, domain.ErrSessionEnded
	}
	session.IsActive = true
	session.StartTime = &at
	return cloneSession(session), nil
}

func (s *Store) EndSession(_ context.Context, id string, at time.Time) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	switch session.State() {
	case domain.SessionUnstarted:
		return domain.Session{}, domain.ErrSessionNotActive
	case domain.SessionEnded:
		return domain.Session{}, domain.ErrSessionEnded
	}
	session.IsActive = false
	session.EndTime = &at
	return cloneSession(session), nil
}

func (s *Store) ListQuestions(_ context.Context, sessionID string) ([]domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.sessionQuestions[sessionID]
	out := make([]domain.Question, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneQuestion(s.questions[id]))
	}
	return out, nil
}

func (s *Store) GetQuestion(_ context.Context, sessionID, questionID string) (domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, err := s.question(sessionID, questionID)
	if err != nil {
		return domain.Question{}, err
	}
	return cloneQuestion(q), nil
}

func (s *Store) CountQuestions(_ context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessionQuestions[sessionID]), nil
}

func (s *Store) LaunchQuestion(_ context.Context, sessionID, questionID string, at time.Time) (domain.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, err := s.question(sessionID, questionID)
	if err != nil {
		return domain.Question{}, err
	}
	if session, ok := s.sessions[sessionID]; !ok || session.State() != domain.SessionActive {
		return domain.Question{}, domain.ErrSessionNotActive
	}
	if q.IsLaunched {
		return domain.Question{}, domain.ErrQuestionAlreadyLaunched
	}
	q.IsLaunched = true
	q.LaunchedAt = &at
	return cloneQuestion(q), nil
}

func (s *Store) CloseQuestion(_ context.Context, sessionID, questionID string, at time.Time) (domain.Question, []domain.Response, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, err := s.question(sessionID, questionID)
	if err != nil {
		return domain.Question{}, nil, false, err
	}
	if !q.IsLaunched {
		return domain.Question{}, nil, false, domain.ErrQuestionNotLaunched
	}
	if q.EndedAt != nil {
		return cloneQuestion(q), nil, false, nil
	}
	q.EndedAt = &at

	responses := []domain.Response{}
	for key, r := range s.responses {
		if key[0] == questionID {
			responses = append(responses, *r)
		}
	}
	sort.Slice(responses, func(i, j int) bool { return responses[i].CreatedAt.Before(responses[j].CreatedAt) })
	return cloneQuestion(q), responses, true, nil
}

func (s *Store) DueQuestions(_ context.Context, now time.Time) ([]domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Question
	for _, q := range s.questions {
		if q.IsLaunched && q.EndedAt == nil && !q.Deadline().After(now) {
			out = append(out, cloneQuestion(q))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline().Before(out[j].Deadline()) })
	return out, nil
}

func (s *Store) OpenQuestions(_ context.Context, sessionID string) ([]domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Question
	for _, id := range s.sessionQuestions[sessionID] {
		if q := s.questions[id]; q.IsLaunched && q.EndedAt == nil {
			out = append(out, cloneQuestion(q))
		}
	}
	return out, nil
}

func (s *Store) CreateStudent(_ context.Context, student domain.StudentSession) (domain.StudentSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[student.SessionID]; !ok {
		return domain.StudentSession{}, domain.ErrSessionNotFound
	}
	student.ID = s.newID()
	stored := student
	s.students[student.ID] = &stored
	return stored, nil
}

func (s *Store) GetStudent(_ context.Context, sessionID, studentID string) (domain.StudentSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, err := s.student(sessionID, studentID)
	if err != nil {
		return domain.StudentSession{}, err
	}
	return *st, nil
}

func (s *Store) ListStudents(_ context.Context, sessionID string) ([]domain.StudentSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.StudentSession{}
	for _, st := range s.students {
		if st.SessionID == sessionID {
			out = append(out, *st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CountStudents(_ context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, st := range s.students {
		if st.SessionID == sessionID {
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteStudent(_ context.Context, sessionID, studentID string) (domain.StudentSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.student(sessionID, studentID)
	if err != nil {
		return domain.StudentSession{}, err
	}
	removed := *st
	delete(s.students, studentID)
	for key := range s.responses {
		if key[1] == studentID {
			delete(s.responses, key)
		}
	}
	for key := range s.upvotes {
		if key[1] == studentID {
			delete(s.upvotes, key)
		}
	}
	delete(s.polls, pair{sessionID, studentID})
	for _, sq := range s.board {
		if sq.StudentSessionID == studentID {
			sq.StudentSessionID = ""
		}
	}
	return removed, nil
}

func (s *Store) HasResponse(_ context.Context, questionID, studentID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.responses[pair{questionID, studentID}]
	return ok, nil
}

func (s *Store) CreateResponse(_ context.Context, response domain.Response) (domain.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.questions[response.QuestionID]
	if !ok {
		return domain.Response{}, domain.ErrQuestionNotFound
	}
	if _, err := s.student(q.SessionID, response.StudentID); err != nil {
		return domain.Response{}, err
	}
	if !q.IsLaunched {
		return domain.Response{}, domain.ErrQuestionNotLaunched
	}
	if q.EndedAt != nil {
		return domain.Response{}, domain.ErrQuestionClosed
	}
	key := pair{response.QuestionID, response.StudentID}
	if _, dup := s.responses[key]; dup {
		return domain.Response{}, domain.ErrDuplicateSubmission
	}
	response.ID = s.newID()
	stored := response
	s.responses[key] = &stored
	return stored, nil
}

func (s *Store) CountResponses(_ context.Context, questionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for key := range s.responses {
		if key[0] == questionID {
			n++
		}
	}
	return n, nil
}

func (s *Store) CountStudentResponses(_ context.Context, sessionID, studentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for key := range s.responses {
		if key[1] != studentID {
			continue
		}
		if q, ok := s.questions[key[0]]; ok && q.SessionID == sessionID {
			n++
		}
	}
	return n, nil
}

func (s *Store) ResponseCounts(_ context.Context, sessionID string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int)
	for key := range s.responses {
		if q, ok := s.questions[key[0]]; ok && q.SessionID == sessionID {
			counts[q.ID]++
		}
	}
	return counts, nil
}

func (s *Store) CreateStudentQuestion(_ context.Context, sq domain.StudentQuestion) (domain.StudentQuestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.student(sq.SessionID, sq.StudentSessionID); err != nil {
		return domain.StudentQuestion{}, err
	}
	sq.ID = s.newID()
	sq.Upvotes = 0
	sq.IsAnswered = false
	stored := sq
	s.board[sq.ID] = &stored
	return stored, nil
}

func (s *Store) ListStudentQuestions(_ context.Context, sessionID string) ([]domain.StudentQuestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.StudentQuestion{}
	for _, sq := range s.board {
		if sq.SessionID == sessionID {
			out = append(out, *sq)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpvoteStudentQuestion(_ context.Context, sessionID, questionID, studentID string) (domain.StudentQuestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sq, ok := s.board[questionID]
	if !ok || sq.SessionID != sessionID {
		return domain.StudentQuestion{}, domain.ErrStudentQuestionNotFound
	}
	if _, err := s.student(sessionID, studentID); err != nil {
		return domain.StudentQuestion{}, err
	}
	key := pair{questionID, studentID}
	if _, dup := s.upvotes[key]; dup {
		return domain.StudentQuestion{}, domain.ErrDuplicateUpvote
	}
	s.upvotes[key] = struct{}{}
	sq.Upvotes++
	return *sq, nil
}

func (s *Store) ToggleAnswered(_ context.Context, sessionID, questionID string) (domain.StudentQuestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sq, ok := s.board[questionID]
	if !ok || sq.SessionID != sessionID {
		return domain.StudentQuestion{}, domain.ErrStudentQuestionNotFound
	}
	sq.IsAnswered = !sq.IsAnswered
	return *sq, nil
}

func (s *Store) CreatePollResponse(_ context.Context, response domain.PollResponse) (domain.PollResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.student(response.SessionID, response.StudentSessionID); err != nil {
		return domain.PollResponse{}, err
	}
	key := pair{response.SessionID, response.StudentSessionID}
	if _, dup := s.polls[key]; dup {
		return domain.PollResponse{}, domain.ErrDuplicatePollResponse
	}
	response.ID = s.newID()
	stored := response
	s.polls[key] = &stored
	return stored, nil
}

func (s *Store) PollCounts(_ context.Context, sessionID string) (map[domain.PollAnswer]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[domain.PollAnswer]int)
	for key, p := range s.polls {
		if key[0] == sessionID {
			counts[p.Answer]++
		}
	}
	return counts, nil
}

// question and student expect s.mu to be held.
func (s *Store) question(sessionID, questionID string) (*domain.Question, error) {
	q, ok := s.questions[questionID]
	if !ok || q.SessionID != sessionID {
		return nil, domain.ErrQuestionNotFound
	}
	return q, nil
}

func (s *Store) student(sessionID, studentID string) (*domain.StudentSession, error) {
	st, ok := s.students[studentID]
	if !ok || st.SessionID != sessionID {
		return nil, domain.ErrStudentNotFound
	}
	return st, nil
}

func cloneSession(s *domain.Session) domain.Session {
	out := *s
	out.StartTime = cloneTime(s.StartTime)
	out.EndTime = cloneTime(s.EndTime)
	return out
}

func cloneQuestion(q *domain.Question) domain.Question {
	out := *q
	out.Options = append([]string{}, q.Options...)
	out.LaunchedAt = cloneTime(q.LaunchedAt)
	out.EndedAt = cloneTime(q.EndedAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
