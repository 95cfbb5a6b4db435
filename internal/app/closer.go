package app

import (
	"context"
	"sync"
	"time"

	"live-session-service/internal/domain"
)

// questionTimers holds the in-process countdown of every question launched here.
// The persisted deadline stays authoritative; the sweeper closes whatever a
// lost timer leaves behind.
type questionTimers struct {
	mu      sync.Mutex
	pending map[string]pendingClose
	stopped bool
}

type pendingClose struct {
	sessionID string
	timer     *time.Timer
}

func newQuestionTimers() *questionTimers {
	return &questionTimers{pending: make(map[string]pendingClose)}
}

func (t *questionTimers) schedule(sessionID, questionID string, after time.Duration, fire func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	if prev, ok := t.pending[questionID]; ok {
		prev.timer.Stop()
	}
	t.pending[questionID] = pendingClose{
		sessionID: sessionID,
		timer: time.AfterFunc(after, func() {
			t.forget(questionID)
			fire()
		}),
	}
}

func (t *questionTimers) forget(questionID string) {
	t.mu.Lock()
	delete(t.pending, questionID)
	t.mu.Unlock()
}

func (t *questionTimers) stop(questionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.pending[questionID]; ok {
		p.timer.Stop()
		delete(t.pending, questionID)
	}
}

func (t *questionTimers) cancelSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, p := range t.pending {
		if p.sessionID == sessionID {
			p.timer.Stop()
			delete(t.pending, id)
		}
	}
}

func (t *questionTimers) stopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	for id, p := range t.pending {
		p.timer.Stop()
		delete(t.pending, id)
	}
}

func (t *questionTimers) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (s *Service) scheduleClose(q domain.Question) {
	after := q.Deadline().Sub(s.now())
	if after < 0 {
		after = 0
	}
	sessionID, questionID := q.SessionID, q.ID
	s.timers.schedule(sessionID, questionID, after, func() {
		if _, err := s.CloseQuestion(context.Background(), sessionID, questionID); err != nil {
			s.log.Error("timed close failed", "session_id", sessionID, "question_id", questionID, "error", err)
		}
	})
}

// CloseQuestion finalises a launched question: it sets endedAt exactly once,
// tallies every response and broadcasts the results. The tally is read
// together with the close, so a closed question always has its results sent.
// Later calls return without broadcasting. The bool reports whether this call
// performed the close.
func (s *Service) CloseQuestion(ctx context.Context, sessionID, questionID string) (bool, error) {
	q, responses, closed, err := s.store.CloseQuestion(ctx, sessionID, questionID, s.now())
	if err != nil {
		return false, err
	}
	if !closed {
		return false, nil
	}
	s.timers.stop(questionID)

	s.publish(ctx, sessionID, domain.EventQuestionResults, domain.QuestionResultsPayload{
		QuestionID: q.ID,
		Results:    domain.Tally(responses),
	})
	s.log.Info("question closed", "session_id", sessionID, "question_id", q.ID, "responses", len(responses))
	return true, nil
}

// CloseDueQuestions closes every launched question whose deadline has passed
// and returns how many this call closed.
func (s *Service) CloseDueQuestions(ctx context.Context) (int, error) {
	due, err := s.store.DueQuestions(ctx, s.now())
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, q := range due {
		ok, err := s.CloseQuestion(ctx, q.SessionID, q.ID)
		if err != nil {
			s.log.Error("sweep close failed", "session_id", q.SessionID, "question_id", q.ID, "error", err)
			continue
		}
		if ok {
			closed++
		}
	}
	return closed, nil
}

// RunSweeper periodically closes overdue questions until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.CloseDueQuestions(ctx)
			if err != nil {
				s.log.Error("sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.log.Info("sweep closed questions", "count", n)
			}
		}
	}
}
