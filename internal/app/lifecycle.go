package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"live-session-service/internal/domain"
)

const (
	invitationTokenLen   = 6
	invitationCodeTries  = 5
	invitationCodeLetter = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// CreateSession creates an unstarted session with its questions. The invitation
// code is the course ID followed by a short random uppercase token.
func (s *Service) CreateSession(ctx context.Context, lecturerID, title, courseID string, questions []domain.NewQuestion) (domain.Session, []domain.Question, error) {
	course, err := s.courses.GetCourse(ctx, courseID)
	if err != nil {
		return domain.Session{}, nil, err
	}
	if course.LecturerID != "" && course.LecturerID != lecturerID {
		return domain.Session{}, nil, domain.ErrCourseNotFound
	}

	defs := make([]domain.Question, 0, len(questions))
	for i, nq := range questions {
		q, err := normalizeQuestion(nq)
		if err != nil {
			return domain.Session{}, nil, fmt.Errorf("question %d: %w", i+1, err)
		}
		defs = append(defs, q)
	}

	for attempt := 0; ; attempt++ {
		token, err := s.token(invitationTokenLen)
		if err != nil {
			return domain.Session{}, nil, err
		}
		session := domain.Session{
			Title:          title,
			LecturerID:     lecturerID,
			CourseID:       courseID,
			InvitationCode: courseID + "-" + token,
			CreatedAt:      s.now(),
		}
		created, qs, err := s.store.CreateSession(ctx, session, defs)
		if errors.Is(err, domain.ErrDuplicateInvitation) && attempt+1 < invitationCodeTries {
			continue
		}
		if err != nil {
			return domain.Session{}, nil, err
		}
		s.log.Info("session created", "session_id", created.ID, "questions", len(qs))
		return created, qs, nil
	}
}

// ListSessions returns the lecturer's sessions, active first, then most recently started.
func (s *Service) ListSessions(ctx context.Context, lecturerID string) ([]domain.SessionSummary, error) {
	return s.store.ListSessions(ctx, lecturerID)
}

// Session returns the bare session record.
func (s *Service) Session(ctx context.Context, id string) (domain.Session, error) {
	return s.store.GetSession(ctx, id)
}

// SessionOwnedBy returns the session if the lecturer owns it; otherwise it
// reports the session as missing.
func (s *Service) SessionOwnedBy(ctx context.Context, id, lecturerID string) (domain.Session, error) {
	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		return domain.Session{}, err
	}
	if session.LecturerID != lecturerID {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return session, nil
}

// JoinSession registers a student in an active session found by invitation code.
func (s *Service) JoinSession(ctx context.Context, invitationCode, name, externalID string) (domain.JoinResult, error) {
	session, err := s.store.GetSessionByCode(ctx, strings.TrimSpace(invitationCode))
	if err != nil {
		return domain.JoinResult{}, err
	}
	if session.State() != domain.SessionActive {
		return domain.JoinResult{}, domain.ErrSessionNotFound
	}

	student, err := s.store.CreateStudent(ctx, domain.StudentSession{
		SessionID:  session.ID,
		Name:       name,
		ExternalID: externalID,
		CreatedAt:  s.now(),
	})
	if err != nil {
		return domain.JoinResult{}, err
	}
	s.publish(ctx, session.ID, domain.EventStudentUpdate, student)
	return domain.JoinResult{SessionID: session.ID, StudentSessionID: student.ID}, nil
}

// StartSession activates an unstarted session. It cannot re-arm an active or ended one.
func (s *Service) StartSession(ctx context.Context, id string) (domain.Session, error) {
	session, err := s.store.StartSession(ctx, id, s.now())
	if err != nil {
		return domain.Session{}, err
	}
	s.log.Info("session started", "session_id", id)
	return session, nil
}

// EndSession deactivates the session, closes any question still running so
// results surface before the end event, and notifies every socket.
func (s *Service) EndSession(ctx context.Context, id string) (domain.Session, error) {
	session, err := s.store.EndSession(ctx, id, s.now())
	if err != nil {
		return domain.Session{}, err
	}

	open, err := s.store.OpenQuestions(ctx, id)
	if err != nil {
		s.log.Error("list open questions", "session_id", id, "error", err)
	}
	for _, q := range open {
		if _, err := s.CloseQuestion(ctx, id, q.ID); err != nil {
			s.log.Error("close question on session end", "session_id", id, "question_id", q.ID, "error", err)
		}
	}
	s.timers.cancelSession(id)

	s.publish(ctx, id, domain.EventSessionEnded, domain.SessionEndedPayload{SessionID: id})
	s.log.Info("session ended", "session_id", id)
	return session, nil
}

// LaunchQuestion opens a question for answers and starts its countdown. A
// question launches at most once; repeats fail with domain.ErrQuestionAlreadyLaunched.
func (s *Service) LaunchQuestion(ctx context.Context, sessionID, questionID string) (domain.Question, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Question{}, err
	}
	if session.State() != domain.SessionActive {
		return domain.Question{}, domain.ErrSessionNotActive
	}

	q, err := s.store.LaunchQuestion(ctx, sessionID, questionID, s.now())
	if err != nil {
		return domain.Question{}, err
	}
	s.publish(ctx, sessionID, domain.EventQuestionLaunched, q)
	s.scheduleClose(q)
	return q, nil
}

// GetSessionSnapshot is the lecturer's full read for initial render and reconnects.
func (s *Service) GetSessionSnapshot(ctx context.Context, id string) (domain.SessionSnapshot, error) {
	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		return domain.SessionSnapshot{}, err
	}
	return s.snapshot(ctx, session)
}

// GetStudentSnapshot is the student's read: only the latest launched question
// is included, with its remaining time.
func (s *Service) GetStudentSnapshot(ctx context.Context, id, studentID string) (domain.StudentSnapshot, error) {
	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		return domain.StudentSnapshot{}, err
	}
	if _, err := s.store.GetStudent(ctx, id, studentID); err != nil {
		return domain.StudentSnapshot{}, err
	}

	snap, err := s.snapshot(ctx, session)
	if err != nil {
		return domain.StudentSnapshot{}, err
	}

	var current *domain.Question
	for i := range snap.Questions {
		q := &snap.Questions[i]
		if !q.IsLaunched {
			continue
		}
		if current == nil || q.Ordinal > current.Ordinal {
			current = q
		}
	}

	view := domain.StudentSnapshot{SessionSnapshot: snap}
	view.Questions = []domain.Question{}
	if current != nil {
		view.Questions = append(view.Questions, *current)
		view.CurrentQuestion = &domain.LiveQuestion{
			Question:      *current,
			TimeRemaining: current.TimeRemaining(s.now()),
		}
	}
	return view, nil
}

func (s *Service) snapshot(ctx context.Context, session domain.Session) (domain.SessionSnapshot, error) {
	snap := domain.SessionSnapshot{Session: session}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		course, err := s.courses.GetCourse(gctx, session.CourseID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		snap.Course = &course
		return nil
	})
	g.Go(func() (err error) {
		snap.Students, err = s.store.ListStudents(gctx, session.ID)
		return err
	})
	g.Go(func() (err error) {
		snap.Questions, err = s.store.ListQuestions(gctx, session.ID)
		return err
	})
	g.Go(func() (err error) {
		snap.StudentQuestions, err = s.store.ListStudentQuestions(gctx, session.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.SessionSnapshot{}, err
	}
	return snap, nil
}

// normalizeQuestion validates a question definition and fixes its option list.
func normalizeQuestion(nq domain.NewQuestion) (domain.Question, error) {
	text := strings.TrimSpace(nq.Text)
	if text == "" || !nq.Type.Valid() || nq.TimeLimit <= 0 {
		return domain.Question{}, domain.ErrInvalidQuestion
	}

	var options []string
	switch nq.Type {
	case domain.QuestionMCQ:
		for _, opt := range nq.Options {
			if opt = strings.TrimSpace(opt); opt != "" {
				options = append(options, opt)
			}
		}
		if len(options) < 2 {
			return domain.Question{}, domain.ErrInvalidQuestion
		}
	case domain.QuestionTrueFalse:
		options = append(options, domain.TrueFalseOptions...)
	default:
		options = []string{}
	}

	return domain.Question{
		Text:      text,
		Type:      nq.Type,
		Options:   options,
		TimeLimit: nq.TimeLimit,
	}, nil
}

// randomToken returns n characters drawn from uppercase letters and digits.
func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate invitation token: %w", err)
	}
	for i := range b {
		b[i] = invitationCodeLetter[int(b[i])%len(invitationCodeLetter)]
	}
	return string(b), nil
}
