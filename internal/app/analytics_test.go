package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"live-session-service/internal/domain"
)

func TestAnalyticsRequiresEndedSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	session, _ := f.activeSession(t)
	ada := f.join(t, session, "Ada")

	if _, err := f.svc.GetAnalytics(ctx, session.ID); !errors.Is(err, domain.ErrSessionNotEnded) {
		t.Fatalf("expected state error, got %v", err)
	}
	if _, err := f.svc.SubmitPollResponse(ctx, session.ID, ada, domain.PollNeutral); !errors.Is(err, domain.ErrSessionNotEnded) {
		t.Fatalf("expected poll to wait for end, got %v", err)
	}
}

func TestAnalyticsSummary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	session, qs := f.activeSession(t, openQuestion("a", 30), openQuestion("b", 30))
	students := []string{f.join(t, session, "Ada"), f.join(t, session, "Bob"), f.join(t, session, "Cy"), f.join(t, session, "Di")}

	if _, err := f.svc.LaunchQuestion(ctx, session.ID, qs[0].ID); err != nil {
		t.Fatalf("launch: %v", err)
	}
	for _, id := range students[:3] {
		if _, err := f.svc.SubmitResponse(ctx, session.ID, id, qs[0].ID, "ok"); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	var board []domain.StudentQuestion
	for i, text := range []string{"first", "second", "third", "fourth"} {
		f.clock.Advance(time.Second)
		sq, err := f.svc.SubmitStudentQuestion(ctx, session.ID, students[i], text)
		if err != nil {
			t.Fatalf("submit question: %v", err)
		}
		board = append(board, sq)
	}
	vote := func(sq domain.StudentQuestion, voters ...string) {
		for _, v := range voters {
			if _, err := f.svc.UpvoteStudentQuestion(ctx, session.ID, sq.ID, v); err != nil {
				t.Fatalf("upvote: %v", err)
			}
		}
	}
	vote(board[3], students[0], students[1], students[2])
	vote(board[1], students[0])
	vote(board[2], students[0])

	f.clock.Advance(90 * time.Minute)
	if _, err := f.svc.EndSession(ctx, session.ID); err != nil {
		t.Fatalf("end: %v", err)
	}
	for i, a := range []domain.PollAnswer{domain.PollVeryHelpful, domain.PollVeryHelpful, domain.PollNeutral, domain.PollNotHelpful} {
		if _, err := f.svc.SubmitPollResponse(ctx, session.ID, students[i], a); err != nil {
			t.Fatalf("poll: %v", err)
		}
	}
	if _, err := f.svc.SubmitPollResponse(ctx, session.ID, students[0], domain.PollNeutral); !errors.Is(err, domain.ErrDuplicatePollResponse) {
		t.Fatalf("expected duplicate poll response, got %v", err)
	}
	if _, err := f.svc.SubmitPollResponse(ctx, session.ID, students[0], "Great"); !errors.Is(err, domain.ErrInvalidPollAnswer) {
		t.Fatalf("expected invalid poll answer, got %v", err)
	}

	got, err := f.svc.GetAnalytics(ctx, session.ID)
	if err != nil {
		t.Fatalf("analytics: %v", err)
	}
	if got.Date != "2024-03-01" || got.Duration != "1h 30m" || got.Participants != 4 {
		t.Fatalf("unexpected header %+v", got)
	}
	if got.Questions[0].ResponseRate != 75 || got.Questions[1].ResponseRate != 0 {
		t.Fatalf("unexpected response rates %+v", got.Questions)
	}
	want := map[domain.PollAnswer]float64{
		domain.PollVeryHelpful:     50,
		domain.PollSomewhatHelpful: 0,
		domain.PollNeutral:         25,
		domain.PollNotHelpful:      25,
	}
	if len(got.PollResults) != 4 {
		t.Fatalf("expected all four poll answers, got %+v", got.PollResults)
	}
	for _, slice := range got.PollResults {
		if slice.Value != want[slice.Name] {
			t.Fatalf("poll %q: expected %v, got %v", slice.Name, want[slice.Name], slice.Value)
		}
	}
	if len(got.TopQuestions) != 3 {
		t.Fatalf("expected top 3, got %d", len(got.TopQuestions))
	}
	order := []string{board[3].ID, board[1].ID, board[2].ID}
	for i, id := range order {
		if got.TopQuestions[i].ID != id {
			t.Fatalf("top question %d: expected %s, got %s", i, id, got.TopQuestions[i].ID)
		}
	}
}

func TestAnalyticsWithoutParticipants(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	session, _ := f.activeSession(t, openQuestion("a", 30))
	if _, err := f.svc.EndSession(ctx, session.ID); err != nil {
		t.Fatalf("end: %v", err)
	}
	got, err := f.svc.GetAnalytics(ctx, session.ID)
	if err != nil {
		t.Fatalf("analytics: %v", err)
	}
	if got.Duration != "0h 0m" || got.Questions[0].ResponseRate != 0 {
		t.Fatalf("unexpected analytics %+v", got)
	}
	for _, slice := range got.PollResults {
		if slice.Value != 0 {
			t.Fatalf("expected empty poll, got %+v", got.PollResults)
		}
	}
}
