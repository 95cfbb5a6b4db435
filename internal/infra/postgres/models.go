package postgres

import (
	"time"

	"github.com/uptrace/bun"

	"live-session-service/internal/domain"
)

type sessionRow struct {
	bun.BaseModel `bun:"table:live_sessions,alias:ls"`

	ID             string     `bun:"id,pk"`
	Title          string     `bun:"title"`
	LecturerID     string     `bun:"lecturer_id"`
	CourseID       string     `bun:"course_id"`
	InvitationCode string     `bun:"invitation_code"`
	IsActive       bool       `bun:"is_active"`
	StartTime      *time.Time `bun:"start_time"`
	EndTime        *time.Time `bun:"end_time"`
	CreatedAt      time.Time  `bun:"created_at"`

	Participants int `bun:"participants,scanonly"`
}

func (r sessionRow) toDomain() domain.Session {
	return domain.Session{
		ID:             r.ID,
		Title:          r.Title,
		LecturerID:     r.LecturerID,
		CourseID:       r.CourseID,
		InvitationCode: r.InvitationCode,
		IsActive:       r.IsActive,
		StartTime:      r.StartTime,
		EndTime:        r.EndTime,
		CreatedAt:      r.CreatedAt,
	}
}

type questionRow struct {
	bun.BaseModel `bun:"table:questions,alias:q"`

	ID         string     `bun:"id,pk"`
	SessionID  string     `bun:"session_id"`
	Ordinal    int        `bun:"ordinal"`
	Text       string     `bun:"text"`
	Type       string     `bun:"type"`
	Options    []string   `bun:"options,type:jsonb"`
	TimeLimit  int        `bun:"time_limit"`
	IsLaunched bool       `bun:"is_launched"`
	LaunchedAt *time.Time `bun:"launched_at"`
	EndedAt    *time.Time `bun:"ended_at"`
	CreatedAt  time.Time  `bun:"created_at"`
}

func (r questionRow) toDomain() domain.Question {
	options := r.Options
	if options == nil {
		options = []string{}
	}
	return domain.Question{
		ID:         r.ID,
		SessionID:  r.SessionID,
		Ordinal:    r.Ordinal,
		Text:       r.Text,
		Type:       domain.QuestionType(r.Type),
		Options:    options,
		TimeLimit:  r.TimeLimit,
		IsLaunched: r.IsLaunched,
		LaunchedAt: r.LaunchedAt,
		EndedAt:    r.EndedAt,
		CreatedAt:  r.CreatedAt,
	}
}

type studentRow struct {
	bun.BaseModel `bun:"table:student_sessions,alias:ss"`

	ID         string    `bun:"id,pk"`
	SessionID  string    `bun:"session_id"`
	Name       string    `bun:"name"`
	ExternalID string    `bun:"external_id"`
	CreatedAt  time.Time `bun:"created_at"`
}

func (r studentRow) toDomain() domain.StudentSession {
	return domain.StudentSession{
		ID:         r.ID,
		SessionID:  r.SessionID,
		Name:       r.Name,
		ExternalID: r.ExternalID,
		CreatedAt:  r.CreatedAt,
	}
}

type responseRow struct {
	bun.BaseModel `bun:"table:responses,alias:r"`

	ID         string    `bun:"id,pk"`
	QuestionID string    `bun:"question_id"`
	StudentID  string    `bun:"student_id"`
	Answer     string    `bun:"answer"`
	CreatedAt  time.Time `bun:"created_at"`
}

func (r responseRow) toDomain() domain.Response {
	return domain.Response{
		ID:         r.ID,
		QuestionID: r.QuestionID,
		StudentID:  r.StudentID,
		Answer:     r.Answer,
		CreatedAt:  r.CreatedAt,
	}
}

type studentQuestionRow struct {
	bun.BaseModel `bun:"table:student_questions,alias:sq"`

	ID               string    `bun:"id,pk"`
	SessionID        string    `bun:"session_id"`
	StudentSessionID *string   `bun:"student_session_id"`
	Text             string    `bun:"text"`
	Upvotes          int       `bun:"upvotes"`
	IsAnswered       bool      `bun:"is_answered"`
	CreatedAt        time.Time `bun:"created_at"`
}

func (r studentQuestionRow) toDomain() domain.StudentQuestion {
	sq := domain.StudentQuestion{
		ID:         r.ID,
		SessionID:  r.SessionID,
		Text:       r.Text,
		Upvotes:    r.Upvotes,
		IsAnswered: r.IsAnswered,
		CreatedAt:  r.CreatedAt,
	}
	if r.StudentSessionID != nil {
		sq.StudentSessionID = *r.StudentSessionID
	}
	return sq
}

type upvoteRow struct {
	bun.BaseModel `bun:"table:upvotes,alias:uv"`

	StudentQuestionID string    `bun:"student_question_id,pk"`
	StudentSessionID  string    `bun:"student_session_id,pk"`
	CreatedAt         time.Time `bun:"created_at"`
}

type pollResponseRow struct {
	bun.BaseModel `bun:"table:poll_responses,alias:pr"`

	ID               string    `bun:"id,pk"`
	SessionID        string    `bun:"session_id"`
	StudentSessionID string    `bun:"student_session_id"`
	Answer           string    `bun:"answer"`
	CreatedAt        time.Time `bun:"created_at"`
}

func (r pollResponseRow) toDomain() domain.PollResponse {
	return domain.PollResponse{
		ID:               r.ID,
		SessionID:        r.SessionID,
		StudentSessionID: r.StudentSessionID,
		Answer:           domain.PollAnswer(r.Answer),
		CreatedAt:        r.CreatedAt,
	}
}
