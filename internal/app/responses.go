package app

import (
	"context"
	"strings"

	"live-session-service/internal/domain"
)

// SubmitResponse records a student's answer and streams it to the session.
// When every joined student has answered, the question is closed early.
func (s *Service) SubmitResponse(ctx context.Context, sessionID, studentID, questionID, answer string) (domain.Response, error) {
	q, err := s.store.GetQuestion(ctx, sessionID, questionID)
	if err != nil {
		return domain.Response{}, err
	}
	if _, err := s.store.GetStudent(ctx, sessionID, studentID); err != nil {
		return domain.Response{}, err
	}
	if !q.IsLaunched {
		return domain.Response{}, domain.ErrQuestionNotLaunched
	}
	if q.Closed() {
		return domain.Response{}, domain.ErrQuestionClosed
	}
	answer, err = checkAnswer(q, answer)
	if err != nil {
		return domain.Response{}, err
	}
	if dup, err := s.store.HasResponse(ctx, questionID, studentID); err != nil {
		return domain.Response{}, err
	} else if dup {
		return domain.Response{}, domain.ErrDuplicateSubmission
	}

	resp, err := s.store.CreateResponse(ctx, domain.Response{
		QuestionID: questionID,
		StudentID:  studentID,
		Answer:     answer,
		CreatedAt:  s.now(),
	})
	if err != nil {
		return domain.Response{}, err
	}

	s.publish(ctx, sessionID, domain.EventQuestionResponse, domain.QuestionResponsePayload{
		QuestionID: questionID,
		OptionID:   answer,
	})

	if err := s.closeIfComplete(ctx, sessionID, questionID); err != nil {
		s.log.Error("completion check failed", "session_id", sessionID, "question_id", questionID, "error", err)
	}
	return resp, nil
}

// closeIfComplete is a latency optimisation only: racing submissions can miss
// equality, in which case the deadline closes the question.
func (s *Service) closeIfComplete(ctx context.Context, sessionID, questionID string) error {
	students, err := s.store.CountStudents(ctx, sessionID)
	if err != nil {
		return err
	}
	responses, err := s.store.CountResponses(ctx, questionID)
	if err != nil {
		return err
	}
	if students != responses {
		return nil
	}
	_, err = s.CloseQuestion(ctx, sessionID, questionID)
	return err
}

func checkAnswer(q domain.Question, answer string) (string, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", domain.ErrEmptyAnswer
	}
	if !q.Type.IsChoice() {
		return answer, nil
	}
	options := q.Options
	if q.Type == domain.QuestionTrueFalse {
		options = domain.TrueFalseOptions
	}
	for _, opt := range options {
		if opt == answer {
			return answer, nil
		}
	}
	return "", domain.ErrOptionNotFound
}

// GetStudentStats reports how many of the session's questions the student answered.
func (s *Service) GetStudentStats(ctx context.Context, sessionID, studentID string) (domain.StudentStats, error) {
	if _, err := s.store.GetStudent(ctx, sessionID, studentID); err != nil {
		return domain.StudentStats{}, err
	}
	answered, err := s.store.CountStudentResponses(ctx, sessionID, studentID)
	if err != nil {
		return domain.StudentStats{}, err
	}
	total, err := s.store.CountQuestions(ctx, sessionID)
	if err != nil {
		return domain.StudentStats{}, err
	}
	return domain.StudentStats{Answered: answered, Total: total}, nil
}
