package app

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"live-session-service/internal/domain"
)

const topQuestionsLimit = 3

// GetAnalytics summarises an ended session.
func (s *Service) GetAnalytics(ctx context.Context, sessionID string) (domain.Analytics, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Analytics{}, err
	}
	if session.State() != domain.SessionEnded {
		return domain.Analytics{}, domain.ErrSessionNotEnded
	}

	var (
		participants int
		questions    []domain.Question
		counts       map[string]int
		poll         map[domain.PollAnswer]int
		board        []domain.StudentQuestion
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		participants, err = s.store.CountStudents(gctx, sessionID)
		return err
	})
	g.Go(func() (err error) {
		questions, err = s.store.ListQuestions(gctx, sessionID)
		return err
	})
	g.Go(func() (err error) {
		counts, err = s.store.ResponseCounts(gctx, sessionID)
		return err
	})
	g.Go(func() (err error) {
		poll, err = s.store.PollCounts(gctx, sessionID)
		return err
	})
	g.Go(func() (err error) {
		board, err = s.store.ListStudentQuestions(gctx, sessionID)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.Analytics{}, err
	}

	out := domain.Analytics{
		Title:        session.Title,
		Participants: participants,
		Questions:    make([]domain.QuestionRate, 0, len(questions)),
		PollResults:  pollDistribution(poll),
		TopQuestions: topQuestions(board, topQuestionsLimit),
	}
	if session.StartTime != nil {
		out.Date = session.StartTime.Format("2006-01-02")
		if session.EndTime != nil {
			out.Duration = formatDuration(session.EndTime.Sub(*session.StartTime))
		}
	}
	if out.Duration == "" {
		out.Duration = formatDuration(0)
	}
	for _, q := range questions {
		out.Questions = append(out.Questions, domain.QuestionRate{
			ID:           q.ID,
			Text:         q.Text,
			ResponseRate: percent(counts[q.ID], participants),
		})
	}
	return out, nil
}

// SubmitPollResponse stores a student's exit feedback once the session is over.
func (s *Service) SubmitPollResponse(ctx context.Context, sessionID, studentID string, answer domain.PollAnswer) (domain.PollResponse, error) {
	if !answer.Valid() {
		return domain.PollResponse{}, domain.ErrInvalidPollAnswer
	}
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.PollResponse{}, err
	}
	if _, err := s.store.GetStudent(ctx, sessionID, studentID); err != nil {
		return domain.PollResponse{}, err
	}
	if session.State() != domain.SessionEnded {
		return domain.PollResponse{}, domain.ErrSessionNotEnded
	}
	return s.store.CreatePollResponse(ctx, domain.PollResponse{
		SessionID:        sessionID,
		StudentSessionID: studentID,
		Answer:           answer,
		CreatedAt:        s.now(),
	})
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	minutes := int(d / time.Minute)
	return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
}

// percent rounds to two decimals.
func percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(whole)*10000) / 100
}

func pollDistribution(counts map[domain.PollAnswer]int) []domain.PollSlice {
	total := 0
	for _, n := range counts {
		total += n
	}
	out := make([]domain.PollSlice, 0, len(domain.PollAnswers))
	for _, a := range domain.PollAnswers {
		out = append(out, domain.PollSlice{Name: a, Value: percent(counts[a], total)})
	}
	return out
}

func topQuestions(board []domain.StudentQuestion, n int) []domain.TopQuestion {
	ranked := make([]domain.StudentQuestion, len(board))
	copy(ranked, board)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Upvotes != ranked[j].Upvotes {
			return ranked[i].Upvotes > ranked[j].Upvotes
		}
		return ranked[i].CreatedAt.Before(ranked[j].CreatedAt)
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	out := make([]domain.TopQuestion, 0, len(ranked))
	for _, sq := range ranked {
		out = append(out, domain.TopQuestion{
			ID:         sq.ID,
			Text:       sq.Text,
			Upvotes:    sq.Upvotes,
			IsAnswered: sq.IsAnswered,
		})
	}
	return out
}
