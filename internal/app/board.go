package app

import (
	"context"
	"strings"

	"live-session-service/internal/domain"
)

// ActionKick is the only supported student action.
const ActionKick = "kick"

func (s *Service) SubmitStudentQuestion(ctx context.Context, sessionID, studentID, text string) (domain.StudentQuestion, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.StudentQuestion{}, domain.ErrEmptyAnswer
	}
	if _, err := s.store.GetStudent(ctx, sessionID, studentID); err != nil {
		return domain.StudentQuestion{}, err
	}
	sq, err := s.store.CreateStudentQuestion(ctx, domain.StudentQuestion{
		SessionID:        sessionID,
		StudentSessionID: studentID,
		Text:             text,
		CreatedAt:        s.now(),
	})
	if err != nil {
		return domain.StudentQuestion{}, err
	}
	s.publish(ctx, sessionID, domain.EventStudentQuestionUpdate, sq)
	return sq, nil
}

// UpvoteStudentQuestion counts one vote per student; repeats fail with domain.ErrDuplicateUpvote.
func (s *Service) UpvoteStudentQuestion(ctx context.Context, sessionID, questionID, studentID string) (domain.StudentQuestion, error) {
	if _, err := s.store.GetStudent(ctx, sessionID, studentID); err != nil {
		return domain.StudentQuestion{}, err
	}
	sq, err := s.store.UpvoteStudentQuestion(ctx, sessionID, questionID, studentID)
	if err != nil {
		return domain.StudentQuestion{}, err
	}
	s.publish(ctx, sessionID, domain.EventStudentQuestionUpdate, sq)
	return sq, nil
}

func (s *Service) ToggleAnswered(ctx context.Context, sessionID, questionID string) (domain.StudentQuestion, error) {
	sq, err := s.store.ToggleAnswered(ctx, sessionID, questionID)
	if err != nil {
		return domain.StudentQuestion{}, err
	}
	s.publish(ctx, sessionID, domain.EventStudentQuestionUpdate, sq)
	return sq, nil
}

// StudentAction applies a lecturer action to a student. Only kick exists: it
// removes the student and tells the room, including the kicked client.
func (s *Service) StudentAction(ctx context.Context, sessionID, studentID, action string) (domain.StudentSession, error) {
	if action != ActionKick {
		return domain.StudentSession{}, domain.ErrUnsupportedAction
	}
	student, err := s.store.DeleteStudent(ctx, sessionID, studentID)
	if err != nil {
		return domain.StudentSession{}, err
	}
	s.publish(ctx, sessionID, domain.EventStudentUpdate, student)
	s.publish(ctx, sessionID, domain.EventStudentKicked, domain.StudentKickedPayload{StudentID: student.ID})
	s.log.Info("student kicked", "session_id", sessionID, "student_id", student.ID)
	return student, nil
}
