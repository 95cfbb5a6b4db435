package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"live-session-service/internal/domain"
)

// Store implements app.Store on Postgres through bun. Check-then-write steps
// run in a transaction holding a row lock on the parent row, and uniqueness is
// enforced by constraints.
type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

func (s *Store) CreateSession(ctx context.Context, session domain.Session, questions []domain.Question) (domain.Session, []domain.Question, error) {
	row := sessionRow{
		ID:             uuid.NewString(),
		Title:          session.Title,
		LecturerID:     session.LecturerID,
		CourseID:       session.CourseID,
		InvitationCode: session.InvitationCode,
		CreatedAt:      session.CreatedAt.UTC(),
	}
	qrows := make([]questionRow, 0, len(questions))
	for i, q := range questions {
		options := q.Options
		if options == nil {
			options = []string{}
		}
		qrows = append(qrows, questionRow{
			ID:        uuid.NewString(),
			SessionID: row.ID,
			Ordinal:   i + 1,
			Text:      q.Text,
			Type:      string(q.Type),
			Options:   options,
			TimeLimit: q.TimeLimit,
			CreatedAt: row.CreatedAt,
		})
	}

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(&row).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrDuplicateInvitation
			}
			return errors.Wrap(err, "insert session")
		}
		if len(qrows) == 0 {
			return nil
		}
		_, err := tx.NewInsert().Model(&qrows).Exec(ctx)
		return errors.Wrap(err, "insert questions")
	})
	if err != nil {
		return domain.Session{}, nil, err
	}

	out := make([]domain.Question, 0, len(qrows))
	for _, q := range qrows {
		out = append(out, q.toDomain())
	}
	return row.toDomain(), out, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (domain.Session, error) {
	var row sessionRow
	err := s.db.NewSelect().Model(&row).Where("id = ?", id).Scan(ctx)
	if err != nil {
		return domain.Session{}, notFound(err, domain.ErrSessionNotFound, "get session")
	}
	return row.toDomain(), nil
}

func (s *Store) GetSessionByCode(ctx context.Context, code string) (domain.Session, error) {
	var row sessionRow
	err := s.db.NewSelect().Model(&row).Where("invitation_code = ?", code).Scan(ctx)
	if err != nil {
		return domain.Session{}, notFound(err, domain.ErrSessionNotFound, "get session by code")
	}
	return row.toDomain(), nil
}

func (s *Store) ListSessions(ctx context.Context, lecturerID string) ([]domain.SessionSummary, error) {
	var rows []sessionRow
	err := s.db.NewSelect().
		Model(&rows).
		ColumnExpr("ls.*").
		ColumnExpr("(SELECT count(*) FROM student_sessions AS ss WHERE ss.session_id = ls.id) AS participants").
		Where("ls.lecturer_id = ?", lecturerID).
		OrderExpr("ls.is_active DESC, ls.start_time DESC NULLS LAST, ls.created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list sessions")
	}
	out := make([]domain.SessionSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.SessionSummary{Session: r.toDomain(), Participants: r.Participants})
	}
	return out, nil
}

func (s *Store) StartSession(ctx context.Context, id string, at time.Time) (domain.Session, error) {
	return s.transitionSession(ctx, id, func(row *sessionRow) error {
		switch row.toDomain().State() {
		case domain.SessionActive:
			return domain.ErrSessionAlreadyStarted
		case domain.SessionEnded:
			return domain.ErrSessionEnded
		}
		at := at.UTC()
		row.IsActive = true
		row.StartTime = &at
		return nil
	}, "is_active", "start_time")
}

func (s *Store) EndSession(ctx context.Context, id string, at time.Time) (domain.Session, error) {
	return s.transitionSession(ctx, id, func(row *sessionRow) error {
		switch row.toDomain().State() {
		case domain.SessionUnstarted:
			return domain.ErrSessionNotActive
		case domain.SessionEnded:
			return domain.ErrSessionEnded
		}
		at := at.UTC()
		row.IsActive = false
		row.EndTime = &at
		return nil
	}, "is_active", "end_time")
}

func (s *Store) transitionSession(ctx context.Context, id string, apply func(*sessionRow) error, columns ...string) (domain.Session, error) {
	var row sessionRow
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := tx.NewSelect().Model(&row).Where("id = ?", id).For("UPDATE").Scan(ctx); err != nil {
			return notFound(err, domain.ErrSessionNotFound, "lock session")
		}
		if err := apply(&row); err != nil {
			return err
		}
		_, err := tx.NewUpdate().Model(&row).Column(columns...).WherePK().Exec(ctx)
		return errors.Wrap(err, "update session")
	})
	if err != nil {
		return domain.Session{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListQuestions(ctx context.Context, sessionID string) ([]domain.Question, error) {
	var rows []questionRow
	if err := s.db.NewSelect().Model(&rows).Where("session_id = ?", sessionID).Order("ordinal ASC").Scan(ctx); err != nil {
		return nil, errors.Wrap(err, "list questions")
	}
	return questionsToDomain(rows), nil
}

func (s *Store) GetQuestion(ctx context.Context, sessionID, questionID string) (domain.Question, error) {
	var row questionRow
	err := s.db.NewSelect().Model(&row).Where("id = ? AND session_id = ?", questionID, sessionID).Scan(ctx)
	if err != nil {
		return domain.Question{}, notFound(err, domain.ErrQuestionNotFound, "get question")
	}
	return row.toDomain(), nil
}

func (s *Store) CountQuestions(ctx context.Context, sessionID string) (int, error) {
	n, err := s.db.NewSelect().Model((*questionRow)(nil)).Where("session_id = ?", sessionID).Count(ctx)
	return n, errors.Wrap(err, "count questions")
}

func (s *Store) LaunchQuestion(ctx context.Context, sessionID, questionID string, at time.Time) (domain.Question, error) {
	var row questionRow
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		// conflicts with the FOR UPDATE taken by EndSession
		var session sessionRow
		if err := tx.NewSelect().Model(&session).Where("id = ?", sessionID).For("SHARE").Scan(ctx); err != nil {
			return notFound(err, domain.ErrSessionNotFound, "lock session")
		}
		if session.toDomain().State() != domain.SessionActive {
			return domain.ErrSessionNotActive
		}
		if err := s.lockQuestion(ctx, tx, sessionID, questionID, &row); err != nil {
			return err
		}
		if row.IsLaunched {
			return domain.ErrQuestionAlreadyLaunched
		}
		at := at.UTC()
		row.IsLaunched = true
		row.LaunchedAt = &at
		_, err := tx.NewUpdate().Model(&row).Column("is_launched", "launched_at").WherePK().Exec(ctx)
		return errors.Wrap(err, "launch question")
	})
	if err != nil {
		return domain.Question{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) CloseQuestion(ctx context.Context, sessionID, questionID string, at time.Time) (domain.Question, []domain.Response, bool, error) {
	var (
		row       questionRow
		responses []responseRow
		closed    bool
	)
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := s.lockQuestion(ctx, tx, sessionID, questionID, &row); err != nil {
			return err
		}
		if !row.IsLaunched {
			return domain.ErrQuestionNotLaunched
		}
		if row.EndedAt != nil {
			return nil
		}
		at := at.UTC()
		row.EndedAt = &at
		if _, err := tx.NewUpdate().Model(&row).Column("ended_at").WherePK().Exec(ctx); err != nil {
			return errors.Wrap(err, "close question")
		}
		// a failed read rolls the close back so a later attempt can retry
		err := tx.NewSelect().Model(&responses).Where("question_id = ?", row.ID).Order("created_at ASC").Scan(ctx)
		if err != nil {
			return errors.Wrap(err, "list responses")
		}
		closed = true
		return nil
	})
	if err != nil {
		return domain.Question{}, nil, false, err
	}
	if !closed {
		return row.toDomain(), nil, false, nil
	}
	out := make([]domain.Response, 0, len(responses))
	for _, r := range responses {
		out = append(out, r.toDomain())
	}
	return row.toDomain(), out, true, nil
}

func (s *Store) DueQuestions(ctx context.Context, now time.Time) ([]domain.Question, error) {
	var rows []questionRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("is_launched AND ended_at IS NULL").
		Where("launched_at + time_limit * interval '1 second' <= ?", now.UTC()).
		Order("launched_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list due questions")
	}
	return questionsToDomain(rows), nil
}

func (s *Store) OpenQuestions(ctx context.Context, sessionID string) ([]domain.Question, error) {
	var rows []questionRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("session_id = ? AND is_launched AND ended_at IS NULL", sessionID).
		Order("ordinal ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list open questions")
	}
	return questionsToDomain(rows), nil
}

func (s *Store) lockQuestion(ctx context.Context, tx bun.Tx, sessionID, questionID string, row *questionRow) error {
	err := tx.NewSelect().Model(row).Where("id = ? AND session_id = ?", questionID, sessionID).For("UPDATE").Scan(ctx)
	return notFound(err, domain.ErrQuestionNotFound, "lock question")
}

func (s *Store) CreateStudent(ctx context.Context, student domain.StudentSession) (domain.StudentSession, error) {
	row := studentRow{
		ID:         uuid.NewString(),
		SessionID:  student.SessionID,
		Name:       student.Name,
		ExternalID: student.ExternalID,
		CreatedAt:  student.CreatedAt.UTC(),
	}
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return domain.StudentSession{}, errors.Wrap(err, "insert student")
	}
	return row.toDomain(), nil
}

func (s *Store) GetStudent(ctx context.Context, sessionID, studentID string) (domain.StudentSession, error) {
	var row studentRow
	err := s.db.NewSelect().Model(&row).Where("id = ? AND session_id = ?", studentID, sessionID).Scan(ctx)
	if err != nil {
		return domain.StudentSession{}, notFound(err, domain.ErrStudentNotFound, "get student")
	}
	return row.toDomain(), nil
}

func (s *Store) ListStudents(ctx context.Context, sessionID string) ([]domain.StudentSession, error) {
	var rows []studentRow
	if err := s.db.NewSelect().Model(&rows).Where("session_id = ?", sessionID).Order("created_at ASC").Scan(ctx); err != nil {
		return nil, errors.Wrap(err, "list students")
	}
	out := make([]domain.StudentSession, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) CountStudents(ctx context.Context, sessionID string) (int, error) {
	n, err := s.db.NewSelect().Model((*studentRow)(nil)).Where("session_id = ?", sessionID).Count(ctx)
	return n, errors.Wrap(err, "count students")
}

// DeleteStudent relies on foreign keys: responses, upvotes and poll responses
// cascade, submitted questions keep their row with the submitter set to NULL.
func (s *Store) DeleteStudent(ctx context.Context, sessionID, studentID string) (domain.StudentSession, error) {
	var row studentRow
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		err := tx.NewSelect().Model(&row).Where("id = ? AND session_id = ?", studentID, sessionID).For("UPDATE").Scan(ctx)
		if err != nil {
			return notFound(err, domain.ErrStudentNotFound, "lock student")
		}
		_, err = tx.NewDelete().Model(&row).WherePK().Exec(ctx)
		return errors.Wrap(err, "delete student")
	})
	if err != nil {
		return domain.StudentSession{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) HasResponse(ctx context.Context, questionID, studentID string) (bool, error) {
	ok, err := s.db.NewSelect().Model((*responseRow)(nil)).
		Where("question_id = ? AND student_id = ?", questionID, studentID).
		Exists(ctx)
	return ok, errors.Wrap(err, "check response")
}

func (s *Store) CreateResponse(ctx context.Context, response domain.Response) (domain.Response, error) {
	row := responseRow{
		ID:         uuid.NewString(),
		QuestionID: response.QuestionID,
		StudentID:  response.StudentID,
		Answer:     response.Answer,
		CreatedAt:  response.CreatedAt.UTC(),
	}
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		// shares the lock with CloseQuestion so no answer lands after the tally
		var q questionRow
		err := tx.NewSelect().Model(&q).Where("id = ?", row.QuestionID).For("SHARE").Scan(ctx)
		if err != nil {
			return notFound(err, domain.ErrQuestionNotFound, "lock question")
		}
		student, err := tx.NewSelect().Model((*studentRow)(nil)).
			Where("id = ? AND session_id = ?", row.StudentID, q.SessionID).
			Exists(ctx)
		if err != nil {
			return errors.Wrap(err, "check student")
		}
		switch {
		case !student:
			return domain.ErrStudentNotFound
		case !q.IsLaunched:
			return domain.ErrQuestionNotLaunched
		case q.EndedAt != nil:
			return domain.ErrQuestionClosed
		}
		if _, err := tx.NewInsert().Model(&row).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrDuplicateSubmission
			}
			return errors.Wrap(err, "insert response")
		}
		return nil
	})
	if err != nil {
		return domain.Response{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) CountResponses(ctx context.Context, questionID string) (int, error) {
	n, err := s.db.NewSelect().Model((*responseRow)(nil)).Where("question_id = ?", questionID).Count(ctx)
	return n, errors.Wrap(err, "count responses")
}

func (s *Store) CountStudentResponses(ctx context.Context, sessionID, studentID string) (int, error) {
	n, err := s.db.NewSelect().Model((*responseRow)(nil)).
		Join("JOIN questions AS q ON q.id = r.question_id").
		Where("r.student_id = ? AND q.session_id = ?", studentID, sessionID).
		Count(ctx)
	return n, errors.Wrap(err, "count student responses")
}

func (s *Store) ResponseCounts(ctx context.Context, sessionID string) (map[string]int, error) {
	var rows []struct {
		QuestionID string `bun:"question_id"`
		N          int    `bun:"n"`
	}
	err := s.db.NewSelect().Model((*responseRow)(nil)).
		ColumnExpr("r.question_id").
		ColumnExpr("count(*) AS n").
		Join("JOIN questions AS q ON q.id = r.question_id").
		Where("q.session_id = ?", sessionID).
		Group("r.question_id").
		Scan(ctx, &rows)
	if err != nil {
		return nil, errors.Wrap(err, "count responses per question")
	}
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.QuestionID] = r.N
	}
	return counts, nil
}

func (s *Store) CreateStudentQuestion(ctx context.Context, sq domain.StudentQuestion) (domain.StudentQuestion, error) {
	studentID := sq.StudentSessionID
	row := studentQuestionRow{
		ID:               uuid.NewString(),
		SessionID:        sq.SessionID,
		StudentSessionID: &studentID,
		Text:             sq.Text,
		CreatedAt:        sq.CreatedAt.UTC(),
	}
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return domain.StudentQuestion{}, errors.Wrap(err, "insert student question")
	}
	return row.toDomain(), nil
}

func (s *Store) ListStudentQuestions(ctx context.Context, sessionID string) ([]domain.StudentQuestion, error) {
	var rows []studentQuestionRow
	if err := s.db.NewSelect().Model(&rows).Where("session_id = ?", sessionID).Order("created_at ASC").Scan(ctx); err != nil {
		return nil, errors.Wrap(err, "list student questions")
	}
	out := make([]domain.StudentQuestion, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) UpvoteStudentQuestion(ctx context.Context, sessionID, questionID, studentID string) (domain.StudentQuestion, error) {
	var row studentQuestionRow
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		// a concurrent kick deletes the student row and then touches the
		// board through its foreign keys; lock in the same order
		var student studentRow
		err := tx.NewSelect().Model(&student).
			Where("id = ? AND session_id = ?", studentID, sessionID).
			For("SHARE").
			Scan(ctx)
		if err != nil {
			return notFound(err, domain.ErrStudentNotFound, "lock student")
		}
		if err := s.lockStudentQuestion(ctx, tx, sessionID, questionID, &row); err != nil {
			return err
		}
		vote := upvoteRow{StudentQuestionID: row.ID, StudentSessionID: studentID, CreatedAt: time.Now().UTC()}
		if _, err := tx.NewInsert().Model(&vote).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrDuplicateUpvote
			}
			return errors.Wrap(err, "insert upvote")
		}
		row.Upvotes++
		_, err = tx.NewUpdate().Model(&row).Column("upvotes").WherePK().Exec(ctx)
		return errors.Wrap(err, "increment upvotes")
	})
	if err != nil {
		return domain.StudentQuestion{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ToggleAnswered(ctx context.Context, sessionID, questionID string) (domain.StudentQuestion, error) {
	var row studentQuestionRow
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := s.lockStudentQuestion(ctx, tx, sessionID, questionID, &row); err != nil {
			return err
		}
		row.IsAnswered = !row.IsAnswered
		_, err := tx.NewUpdate().Model(&row).Column("is_answered").WherePK().Exec(ctx)
		return errors.Wrap(err, "toggle answered")
	})
	if err != nil {
		return domain.StudentQuestion{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) lockStudentQuestion(ctx context.Context, tx bun.Tx, sessionID, questionID string, row *studentQuestionRow) error {
	err := tx.NewSelect().Model(row).Where("id = ? AND session_id = ?", questionID, sessionID).For("UPDATE").Scan(ctx)
	return notFound(err, domain.ErrStudentQuestionNotFound, "lock student question")
}

func (s *Store) CreatePollResponse(ctx context.Context, response domain.PollResponse) (domain.PollResponse, error) {
	row := pollResponseRow{
		ID:               uuid.NewString(),
		SessionID:        response.SessionID,
		StudentSessionID: response.StudentSessionID,
		Answer:           string(response.Answer),
		CreatedAt:        response.CreatedAt.UTC(),
	}
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return domain.PollResponse{}, domain.ErrDuplicatePollResponse
		}
		return domain.PollResponse{}, errors.Wrap(err, "insert poll response")
	}
	return row.toDomain(), nil
}

func (s *Store) PollCounts(ctx context.Context, sessionID string) (map[domain.PollAnswer]int, error) {
	var rows []struct {
		Answer string `bun:"answer"`
		N      int    `bun:"n"`
	}
	err := s.db.NewSelect().Model((*pollResponseRow)(nil)).
		ColumnExpr("answer").
		ColumnExpr("count(*) AS n").
		Where("session_id = ?", sessionID).
		Group("answer").
		Scan(ctx, &rows)
	if err != nil {
		return nil, errors.Wrap(err, "count poll responses")
	}
	counts := make(map[domain.PollAnswer]int, len(rows))
	for _, r := range rows {
		counts[domain.PollAnswer(r.Answer)] = r.N
	}
	return counts, nil
}

func questionsToDomain(rows []questionRow) []domain.Question {
	out := make([]domain.Question, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out
}

// notFound maps sql.ErrNoRows to the given domain error and wraps anything else.
func notFound(err error, missing error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return missing
	}
	return errors.Wrap(err, op)
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.Field('C') == "23505"
}
