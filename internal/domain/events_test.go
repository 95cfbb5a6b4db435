package domain

import (
	"testing"

	"pgregory.net/rapid"
)

func TestTallyCountsEveryResponseOnce(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		answers := rapid.SliceOf(rapid.SampledFrom([]string{"A", "B", "C", "True", "42"})).Draw(t, "answers")
		responses := make([]Response, len(answers))
		want := map[string]int{}
		for i, a := range answers {
			responses[i] = Response{Answer: a}
			want[a]++
		}

		got := Tally(responses)
		total := 0
		for answer, n := range got {
			if n != want[answer] {
				t.Fatalf("answer %q: expected %d, got %d", answer, want[answer], n)
			}
			total += n
		}
		if total != len(responses) {
			t.Fatalf("expected total %d, got %d", len(responses), total)
		}
	})
}

func TestQuestionTimeRemaining(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		limit := rapid.IntRange(1, 600).Draw(t, "limit")
		elapsed := rapid.IntRange(0, 1200).Draw(t, "elapsed")
		launched := t0()
		q := Question{TimeLimit: limit, IsLaunched: true, LaunchedAt: &launched}

		got := q.TimeRemaining(launched.Add(secs(elapsed)))
		want := limit - elapsed
		if want < 0 {
			want = 0
		}
		if got != want {
			t.Fatalf("limit %d elapsed %d: expected %d, got %d", limit, elapsed, want, got)
		}
	})
}
