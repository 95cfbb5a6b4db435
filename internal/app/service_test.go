package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"live-session-service/internal/app"
	"live-session-service/internal/domain"
	"live-session-service/internal/infra/memory"
)

type recorded struct {
	sessionID string
	event     domain.Event
}

// recordingPublisher keeps every published event in order.
type recordingPublisher struct {
	mu     sync.Mutex
	events []recorded
	fail   error
}

func (p *recordingPublisher) Publish(_ context.Context, sessionID string, event domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recorded{sessionID: sessionID, event: event})
	return p.fail
}

func (p *recordingPublisher) named(name string) []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Event
	for _, r := range p.events {
		if r.event.Name == name {
			out = append(out, r.event)
		}
	}
	return out
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, r := range p.events {
		out = append(out, r.event.Name)
	}
	return out
}

func (p *recordingPublisher) waitFor(t *testing.T, name string, n int, timeout time.Duration) []domain.Event {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		events := p.named(name)
		if len(events) >= n {
			return events
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d %s events, got %d", n, name, len(events))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc   *app.Service
	store *memory.Store
	pub   *recordingPublisher
	clock *fakeClock
}

// fataler is the part of *testing.T and *rapid.T the fixture helpers need.
type fataler interface {
	Helper()
	Fatalf(format string, args ...any)
}

func newFixture(t *testing.T, opts ...app.Option) *fixture {
	t.Helper()
	f := buildFixture(nil, opts...)
	t.Cleanup(f.svc.Close)
	return f
}

// newWrappedFixture runs the service over wrap(store) so tests can interleave
// or fail store calls.
func newWrappedFixture(t *testing.T, wrap func(*memory.Store) app.Store, opts ...app.Option) *fixture {
	t.Helper()
	f := buildFixture(wrap, opts...)
	t.Cleanup(f.svc.Close)
	return f
}

// buildFixture leaves closing the service to the caller.
func buildFixture(wrap func(*memory.Store) app.Store, opts ...app.Option) *fixture {
	f := &fixture{
		store: memory.NewStore(),
		pub:   &recordingPublisher{},
		clock: &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	courses := memory.NewCourseRepository(memory.NewStaticCourseLoader(map[string]domain.Course{
		"CS101": {ID: "CS101", Title: "Intro to Computing", CourseCode: "CS101", LecturerID: "lecturer-1"},
	}), time.Minute)
	base := []app.Option{
		app.WithClock(f.clock.Now),
		app.WithTokenSource(func(int) (string, error) { return "AB12XZ", nil }),
	}
	var store app.Store = f.store
	if wrap != nil {
		store = wrap(f.store)
	}
	f.svc = app.NewService(store, courses, f.pub, append(base, opts...)...)
	return f
}

// activeSession creates and starts a session, returning it with its questions.
func (f *fixture) activeSession(t fataler, questions ...domain.NewQuestion) (domain.Session, []domain.Question) {
	t.Helper()
	ctx := context.Background()
	session, qs, err := f.svc.CreateSession(ctx, "lecturer-1", "Week 1", "CS101", questions)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := f.svc.StartSession(ctx, session.ID); err != nil {
		t.Fatalf("start session: %v", err)
	}
	return session, qs
}

func (f *fixture) join(t fataler, session domain.Session, name string) string {
	t.Helper()
	res, err := f.svc.JoinSession(context.Background(), session.InvitationCode, name, "ext-"+name)
	if err != nil {
		t.Fatalf("join %s: %v", name, err)
	}
	return res.StudentSessionID
}

func openQuestion(text string, limit int) domain.NewQuestion {
	return domain.NewQuestion{Text: text, Type: domain.QuestionOpenEnded, TimeLimit: limit}
}

func TestCreateSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	defs := []domain.NewQuestion{
		openQuestion("first", 30),
		{Text: "second", Type: domain.QuestionMCQ, Options: []string{"a", " b ", ""}, TimeLimit: 20},
		{Text: "third", Type: domain.QuestionTrueFalse, Options: []string{"yes"}, TimeLimit: 10},
	}
	session, _, err := f.svc.CreateSession(ctx, "lecturer-1", "Week 1", "CS101", defs)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if session.InvitationCode != "CS101-AB12XZ" {
		t.Fatalf("unexpected invitation code %q", session.InvitationCode)
	}
	if session.State() != domain.SessionUnstarted {
		t.Fatalf("expected unstarted, got %s", session.State())
	}

	snap, err := f.svc.GetSessionSnapshot(ctx, session.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Questions) != len(defs) {
		t.Fatalf("expected %d questions, got %d", len(defs), len(snap.Questions))
	}
	for i, q := range snap.Questions {
		if q.Text != defs[i].Text || q.IsLaunched || q.Ordinal != i+1 {
			t.Fatalf("question %d out of order or launched: %+v", i, q)
		}
	}
	if got := snap.Questions[1].Options; len(got) != 2 || got[1] != "b" {
		t.Fatalf("mcq options not normalised: %v", got)
	}
	if got := snap.Questions[2].Options; len(got) != 2 || got[0] != "True" {
		t.Fatalf("true/false options not fixed: %v", got)
	}
	if snap.Course == nil || snap.Course.Title != "Intro to Computing" {
		t.Fatalf("expected course in snapshot, got %+v", snap.Course)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, _, err := f.svc.CreateSession(ctx, "lecturer-1", "x", "MATH9", nil); !errors.Is(err, domain.ErrCourseNotFound) {
		t.Fatalf("expected course not found, got %v", err)
	}
	if _, _, err := f.svc.CreateSession(ctx, "lecturer-2", "x", "CS101", nil); !errors.Is(err, domain.ErrCourseNotFound) {
		t.Fatalf("expected foreign course rejected, got %v", err)
	}
	bad := []domain.NewQuestion{{Text: "pick", Type: domain.QuestionMCQ, Options: []string{"only"}, TimeLimit: 10}}
	if _, _, err := f.svc.CreateSession(ctx, "lecturer-1", "x", "CS101", bad); !errors.Is(err, domain.ErrInvalidQuestion) {
		t.Fatalf("expected invalid question, got %v", err)
	}
	if _, _, err := f.svc.CreateSession(ctx, "lecturer-1", "empty", "CS101", nil); err != nil {
		t.Fatalf("zero questions must be allowed: %v", err)
	}
}

func TestCreateSessionRetriesInvitationCode(t *testing.T) {
	ctx := context.Background()
	tokens := []string{"AAAAAA", "AAAAAA", "BBBBBB"}
	var mu sync.Mutex
	f := newFixture(t, app.WithTokenSource(func(int) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		tok := tokens[0]
		tokens = tokens[1:]
		return tok, nil
	}))

	first, _, err := f.svc.CreateSession(ctx, "lecturer-1", "a", "CS101", nil)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, _, err := f.svc.CreateSession(ctx, "lecturer-1", "b", "CS101", nil)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.InvitationCode == second.InvitationCode || second.InvitationCode != "CS101-BBBBBB" {
		t.Fatalf("expected retry to a fresh code, got %q and %q", first.InvitationCode, second.InvitationCode)
	}
}

func TestJoinRequiresActiveSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	session, _, err := f.svc.CreateSession(ctx, "lecturer-1", "Week 1", "CS101", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.JoinSession(ctx, session.InvitationCode, "Ada", "123456"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for unstarted session, got %v", err)
	}
	if _, err := f.svc.JoinSession(ctx, "CS101-NOPE00", "Ada", "123456"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for unknown code, got %v", err)
	}
}

func TestJoinThenKick(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	session, qs := f.activeSession(t, openQuestion("why?", 30))
	if session.InvitationCode != "CS101-AB12XZ" {
		t.Fatalf("unexpected code %q", session.InvitationCode)
	}

	res, err := f.svc.JoinSession(ctx, "CS101-AB12XZ", "Ada", "123456")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if res.SessionID != session.ID || res.StudentSessionID == "" {
		t.Fatalf("unexpected join result %+v", res)
	}
	if got := f.pub.named(domain.EventStudentUpdate); len(got) != 1 {
		t.Fatalf("expected roster update on join, got %d", len(got))
	}

	if _, err := f.svc.StudentAction(ctx, session.ID, res.StudentSessionID, "ban"); !errors.Is(err, domain.ErrUnsupportedAction) {
		t.Fatalf("expected unsupported action, got %v", err)
	}
	if _, err := f.svc.StudentAction(ctx, session.ID, res.StudentSessionID, app.ActionKick); err != nil {
		t.Fatalf("kick: %v", err)
	}

	kicked := f.pub.named(domain.EventStudentKicked)
	if len(kicked) != 1 {
		t.Fatalf("expected one kicked event, got %d", len(kicked))
	}
	if p := kicked[0].Payload.(domain.StudentKickedPayload); p.StudentID != res.StudentSessionID {
		t.Fatalf("kicked payload carries %q", p.StudentID)
	}
	if got := f.pub.named(domain.EventStudentUpdate); len(got) != 2 {
		t.Fatalf("expected roster update on kick, got %d", len(got))
	}

	if _, err := f.svc.LaunchQuestion(ctx, session.ID, qs[0].ID); err != nil {
		t.Fatalf("launch: %v", err)
	}
	if _, err := f.svc.SubmitResponse(ctx, session.ID, res.StudentSessionID, qs[0].ID, "because"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected kicked student to be unknown, got %v", err)
	}
}

func TestLaunchQuestionOnlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	session, qs := f.activeSession(t, openQuestion("q", 30))

	first, err := f.svc.LaunchQuestion(ctx, session.ID, qs[0].ID)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	f.clock.Advance(5 * time.Second)
	if _, err := f.svc.LaunchQuestion(ctx, session.ID, qs[0].ID); !errors.Is(err, domain.ErrQuestionAlreadyLaunched) || !errors.Is(err, domain.ErrState) {
		t.Fatalf("expected already launched state error, got %v", err)
	}
	if got := f.pub.named(domain.EventQuestionLaunched); len(got) != 1 {
		t.Fatalf("expected a single launch broadcast, got %d", len(got))
	}
	q, _ := f.store.GetQuestion(ctx, session.ID, qs[0].ID)
	if !q.LaunchedAt.Equal(*first.LaunchedAt) {
		t.Fatalf("launchedAt moved from %v to %v", first.LaunchedAt, q.LaunchedAt)
	}
}

func TestLaunchQuestionRequiresActiveSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	session, qs, err := f.svc.CreateSession(ctx, "lecturer-1", "Week 1", "CS101", []domain.NewQuestion{openQuestion("q", 30)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.LaunchQuestion(ctx, session.ID, qs[0].ID); !errors.Is(err, domain.ErrSessionNotActive) {
		t.Fatalf("expected not active, got %v", err)
	}
	if _, err := f.svc.StartSession(ctx, session.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.svc.LaunchQuestion(ctx, session.ID, "missing"); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected question not found, got %v", err)
	}
}

func TestFullCompletionBroadcastsResults(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	session, qs := f.activeSession(t, domain.NewQuestion{Text: "2+2", Type: domain.QuestionMCQ, Options: []string{"3", "4"}, TimeLimit: 60})
	ada := f.join(t, session, "Ada")

	if _, err := f.svc.LaunchQuestion(ctx, session.ID, qs[0].ID); err != nil {
		t.Fatalf("launch: %v", err)
	}
	if _, err := f.svc.SubmitResponse(ctx, session.ID, ada, qs[0].ID, "4"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	partial := f.pub.named(domain.EventQuestionResponse)
	if len(partial) != 1 || partial[0].Payload.(domain.QuestionResponsePayload).OptionID != "4" {
		t.Fatalf("expected one partial response event, got %+v", partial)
	}
	results := f.pub.named(domain.EventQuestionResults)
	if len(results) != 1 {
		t.Fatalf("expected automatic results, got %d", len(results))
	}
	payload := results[0].Payload.(domain.QuestionResultsPayload)
	if payload.QuestionID != qs[0].ID || len(payload.Results) != 1 || payload.Results["4"] != 1 {
		t.Fatalf("unexpected results %+v", payload)
	}
	q, _ := f.store.GetQuestion(ctx, session.ID, qs[0].ID)
	if !q.Closed() {
		t.Fatalf("expected question closed")
	}
}

func TestTimerClosesQuestionWithPartialResponses(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, app.WithClock(time.Now))
	session, qs := f.activeSession(t, openQuestion("quick", 1))
	ada := f.join(t, session, "Ada")
	f.join(t, session, "Bob")
	f.join(t, session, "Cy")

	if _, err := f.svc.LaunchQuestion(ctx, session.ID, qs[0].ID); err != nil {
		t.Fatalf("launch: %v", err)
	}
	if _, err := f.svc.SubmitResponse(ctx, session.ID, ada, qs[0].ID, "42"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := f.pub.named(domain.EventQuestionResults); len(got) != 0 {
		t.Fatalf("results must wait for the deadline, got %d", len(got))
	}

	results := f.pub.waitFor(t, domain.EventQuestionResults, 1, 3*time.Second)
	time.Sleep(200 * time.Millisecond)
	if got := f.pub.named(domain.EventQuestionResults); len(got) != 1 {
		t.Fatalf("expected exactly one results event, got %d", len(got))
	}
	total := 0
	for _, n := range results[0].Payload.(domain.QuestionResultsPayload).Results {
		total += n
	}
	if total != 1 {
		t.Fatalf("expected total count 1, got %d", total)
	}
	q, _ := f.store.GetQuestion(ctx, session.ID, qs[0].ID)
	if q.EndedAt == nil {
		t.Fatalf("expected endedAt set")
	}
}

func TestCompletionAndDeadlineCloseOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	session, qs := f.activeSession(t, openQuestion("q", 10))
	ada := f.join(t, session, "Ada")

	if _, err := f.svc.LaunchQuestion(ctx, session.ID, qs[0].ID); err != nil {
		t.Fatalf("launch: %v", err)
	}
	if _, err := f.svc.SubmitResponse(ctx, session.ID, ada, qs[0].ID, "yes"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// the deadline path fires after completion already closed the question
	f.clock.Advance(11 * time.Second)
	closed, err := f.svc.CloseQuestion(ctx, session.ID, qs[0].ID)
	if err != nil || closed {
		t.Fatalf("second close should be a no-op: closed=%v err=%v", closed, err)
	}
	n, err := f.svc.CloseDueQuestions(ctx)
	if err != nil || n != 0 {
		t.Fatalf("sweep should find nothing: n=%d err=%v", n, err)
	}
	if got := f.pub.named(domain.EventQuestionResults); len(got) != 1 {
		t.Fatalf("expected a single results event, got %d", len(got))
	}
}

func TestConcurrentSubmissionsCloseOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	session, qs := f.activeSession(t, openQuestion("q", 60))

	const students = 8
	ids := make([]string, students)
	for i := range ids {
		ids[i] = f.join(t, session, string(rune('A'+i)))
	}
	if _, err := f.svc.LaunchQuestion(ctx, session.ID, qs[0].ID); err != nil {
		t.Fatalf("launch: %v", err)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := f.svc.SubmitResponse(ctx, session.ID, id, qs[0].ID, "x"); err != nil {
				t.Errorf("submit: %v", err)
			}
		}(id)
	}
	wg.Wait()

	f.clock.Advance(time.Minute)
	if _, err := f.svc.CloseDueQuestions(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	results := f.pub.named(domain.EventQuestionResults)
	if len(results) != 1 {
		t.Fatalf("expected exactly one results event, got %d", len(results))
	}
	if got := results[0].Payload.(domain.QuestionResultsPayload).Results["x"]; got != students {
		t.Fatalf("expected %d answers tallied, got %d", students, got)
	}
}

func TestSubmitResponseRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	session, qs := f.activeSession(t,
		domain.NewQuestion{Text: "pick", Type: domain.QuestionMCQ, Options: []string{"a", "b"}, TimeLimit: 30},
		domain.NewQuestion{Text: "tf", Type: domain.QuestionTrueFalse, TimeLimit: 30},
	)
	ada := f.join(t, session, "Ada")
	f.join(t, session, "Bob")

	if _, err := f.svc.SubmitResponse(ctx, session.ID, ada, qs[0].ID, "a"); !errors.Is(err, domain.ErrQuestionNotLaunched) {
		t.Fatalf("expected not launched, got %v", err)
	}
	for _, q := range qs {
		if _, err := f.svc.LaunchQuestion(ctx, session.ID, q.ID); err != nil {
			t.Fatalf("launch: %v", err)
		}
	}
	if _, err := f.svc.SubmitResponse(ctx, session.ID, ada, qs[0].ID, "c"); !errors.Is(err, domain.ErrOptionNotFound) {
		t.Fatalf("expected option not found, got %v", err)
	}
	if _, err := f.svc.SubmitResponse(ctx, session.ID, ada, qs[1].ID, "maybe"); !errors.Is(err, domain.ErrOptionNotFound) {
		t.Fatalf("expected option not found for true/false, got %v", err)
	}
	if _, err := f.svc.SubmitResponse(ctx, session.ID, ada, qs[0].ID, "  "); !errors.Is(err, domain.ErrEmptyAnswer) {
		t.Fatalf("expected empty answer, got %v", err)
	}
	if _, err := f.svc.SubmitResponse(ctx, session.ID, ada, "other", "a"); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected question not found, got %v", err)
	}

	if _, err := f.svc.SubmitResponse(ctx, session.ID, ada, qs[0].ID, "a"); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := f.svc.SubmitResponse(ctx, session.ID, ada, qs[0].ID, "b"); !errors.Is(err, domain.ErrDuplicateSubmission) {
		t.Fatalf("expected duplicate submission, got %v", err)
	}
	if n, _ := f.store.CountResponses(ctx, qs[0].ID); n != 1 {
		t.Fatalf("expected exactly one stored response, got %d", n)
	}

	if _, err := f.svc.CloseQuestion(ctx, session.ID, qs[1].ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := f.svc.SubmitResponse(ctx, session.ID, ada, qs[1].ID, "True"); !errors.Is(err, domain.ErrQuestionClosed) {
		t.Fatalf("expected question closed, got %v", err)
	}
}

func TestBroadcastFailureDoesNotFailOperation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.pub.fail = errors.New("no subscribers")
	session, _ := f.activeSession(t)

	if _, err := f.svc.JoinSession(ctx, session.InvitationCode, "Ada", "1"); err != nil {
		t.Fatalf("join must succeed despite broadcast failure: %v", err)
	}
}

func TestStudentStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	session, qs := f.activeSession(t, openQuestion("a", 30), openQuestion("b", 30), openQuestion("c", 30))
	ada := f.join(t, session, "Ada")
	f.join(t, session, "Bob")

	for _, q := range qs[:2] {
		if _, err := f.svc.LaunchQuestion(ctx, session.ID, q.ID); err != nil {
			t.Fatalf("launch: %v", err)
		}
		if _, err := f.svc.SubmitResponse(ctx, session.ID, ada, q.ID, "ok"); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	stats, err := f.svc.GetStudentStats(ctx, session.ID, ada)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Answered != 2 || stats.Total != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if _, err := f.svc.GetStudentStats(ctx, session.ID, "stranger"); !errors.Is(err, domain.ErrStudentNotFound) {
		t.Fatalf("expected student not found, got %v", err)
	}
}

func TestStudentSnapshotShowsLatestLaunched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	session, qs := f.activeSession(t, openQuestion("a", 30), openQuestion("b", 30), openQuestion("c", 30))
	ada := f.join(t, session, "Ada")

	snap, err := f.svc.GetStudentSnapshot(ctx, session.ID, ada)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.CurrentQuestion != nil || len(snap.Questions) != 0 {
		t.Fatalf("expected no current question, got %+v", snap.CurrentQuestion)
	}

	for _, q := range qs[:2] {
		if _, err := f.svc.LaunchQuestion(ctx, session.ID, q.ID); err != nil {
			t.Fatalf("launch: %v", err)
		}
	}
	f.clock.Advance(12 * time.Second)

	snap, err = f.svc.GetStudentSnapshot(ctx, session.ID, ada)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Questions) != 1 || snap.CurrentQuestion == nil || snap.CurrentQuestion.ID != qs[1].ID {
		t.Fatalf("expected question b as current, got %+v", snap.CurrentQuestion)
	}
	if snap.CurrentQuestion.TimeRemaining != 18 {
		t.Fatalf("expected 18s remaining, got %d", snap.CurrentQuestion.TimeRemaining)
	}

	other, _, _ := f.svc.CreateSession(ctx, "lecturer-1", "other", "CS101", nil)
	if _, err := f.svc.GetStudentSnapshot(ctx, other.ID, ada); !errors.Is(err, domain.ErrStudentNotFound) {
		t.Fatalf("expected membership check, got %v", err)
	}
}

func TestEndSessionClosesOpenQuestionsFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	session, qs := f.activeSession(t, openQuestion("a", 30))
	ada := f.join(t, session, "Ada")
	f.join(t, session, "Bob")

	if _, err := f.svc.LaunchQuestion(ctx, session.ID, qs[0].ID); err != nil {
		t.Fatalf("launch: %v", err)
	}
	if _, err := f.svc.SubmitResponse(ctx, session.ID, ada, qs[0].ID, "x"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	ended, err := f.svc.EndSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.State() != domain.SessionEnded {
		t.Fatalf("expected ended, got %s", ended.State())
	}

	names := f.pub.names()
	if len(names) < 2 || names[len(names)-2] != domain.EventQuestionResults || names[len(names)-1] != domain.EventSessionEnded {
		t.Fatalf("expected results then sessionEnded, got %v", names)
	}
	if _, err := f.svc.StartSession(ctx, session.ID); !errors.Is(err, domain.ErrSessionEnded) {
		t.Fatalf("ended sessions must not restart, got %v", err)
	}
	if _, err := f.svc.EndSession(ctx, session.ID); !errors.Is(err, domain.ErrState) {
		t.Fatalf("expected state error on second end, got %v", err)
	}
}

func TestSweeperClosesQuestionsAfterRestart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	session, qs := f.activeSession(t, openQuestion("a", 5))
	if _, err := f.svc.LaunchQuestion(ctx, session.ID, qs[0].ID); err != nil {
		t.Fatalf("launch: %v", err)
	}
	// the launching process goes away with its timer
	f.svc.Close()

	courses := memory.NewCourseRepository(memory.NewStaticCourseLoader(nil), time.Minute)
	next := app.NewService(f.store, courses, f.pub, app.WithClock(f.clock.Now))
	t.Cleanup(next.Close)

	if n, _ := next.CloseDueQuestions(ctx); n != 0 {
		t.Fatalf("nothing is due yet, closed %d", n)
	}
	f.clock.Advance(5 * time.Second)
	n, err := next.CloseDueQuestions(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected one question closed, n=%d err=%v", n, err)
	}
	if got := f.pub.named(domain.EventQuestionResults); len(got) != 1 {
		t.Fatalf("expected results broadcast from the sweep, got %d", len(got))
	}
}

func TestRunSweeperStopsWithContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.svc.RunSweeper(ctx, 10*time.Millisecond)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("sweeper did not stop")
	}
}
