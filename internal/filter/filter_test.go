package filter

import (
	"context"
	"testing"
	"time"

	"github.com/railwatch/railwatch/internal/match"
	"github.com/railwatch/railwatch/internal/rules"
	"github.com/railwatch/railwatch/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.Config{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func railwayRules(t *testing.T) *rules.RuleSet {
	t.Helper()
	rs, err := rules.New("railway", []rules.Rule{
		{Strategy: match.StrategyWordSet, Groups: [][]string{{"train"}, {"fire"}}},
		{Strategy: match.StrategyAnyTerm, Terms: []string{"derailment", "locomotive"}},
	})
	if err != nil {
		t.Fatalf("rules.New: %v", err)
	}
	return rs
}

func seedMessages(t *testing.T, s *store.Store, msgs []store.Message) {
	t.Helper()
	if _, err := s.UpsertMessages(context.Background(), msgs); err != nil {
		t.Fatalf("UpsertMessages: %v", err)
	}
}

func day(n int) time.Time {
	return time.Date(2026, 4, n, 9, 0, 0, 0, time.UTC)
}

func TestRun_EvaluatesNewRecords(t *testing.T) {
	s := newTestStore(t)
	rs := railwayRules(t)
	seedMessages(t, s, []store.Message{
		{ID: "m1", Date: day(1), TextTranslate: "Train fire near the station"},
		{ID: "m2", Date: day(2), TextTranslate: "Weather report for Tuesday"},
		{ID: "m3", Date: day(3), TextTranslate: "Locomotive factory opens"},
	})

	res, err := NewController(s, nil).Run(context.Background(), rs, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Population != 3 || res.Reprocessed != 3 || res.FilteredIn != 2 {
		t.Errorf("unexpected counters: %+v", res)
	}

	frs, err := s.FilterResults(context.Background(), "railway")
	if err != nil {
		t.Fatalf("FilterResults: %v", err)
	}
	want := map[string]bool{"m1": true, "m2": false, "m3": true}
	for _, fr := range frs {
		if fr.Filtered != want[fr.ID] {
			t.Errorf("%s: filtered = %v, want %v", fr.ID, fr.Filtered, want[fr.ID])
		}
		if fr.RuleFingerprint != rs.Fingerprint() {
			t.Errorf("%s: fingerprint not stamped", fr.ID)
		}
	}
}

func TestRun_SecondRunIsNoop(t *testing.T) {
	s := newTestStore(t)
	rs := railwayRules(t)
	seedMessages(t, s, []store.Message{
		{ID: "m1", Date: day(1), TextTranslate: "train fire"},
	})
	c := NewController(s, nil)
	ctx := context.Background()

	if _, err := c.Run(ctx, rs, false); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	res, err := c.Run(ctx, rs, false)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if res.Reprocessed != 0 || res.Written != 0 {
		t.Errorf("second run with unchanged rules reprocessed %d, wrote %d", res.Reprocessed, res.Written)
	}
}

func TestRun_FingerprintChangeReprocessesAll(t *testing.T) {
	s := newTestStore(t)
	seedMessages(t, s, []store.Message{
		{ID: "m1", Date: day(1), TextTranslate: "train fire"},
		{ID: "m2", Date: day(2), TextTranslate: "derailment reported"},
	})
	c := NewController(s, nil)
	ctx := context.Background()

	rs := railwayRules(t)
	if _, err := c.Run(ctx, rs, false); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	// Drop the any-term rule: m2 should flip to negative on reprocessing.
	rs2, err := rules.New("railway", []rules.Rule{
		{Strategy: match.StrategyWordSet, Groups: [][]string{{"train"}, {"fire"}}},
	})
	if err != nil {
		t.Fatalf("rules.New: %v", err)
	}
	res, err := c.Run(ctx, rs2, false)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if res.Reprocessed != 2 {
		t.Errorf("reprocessed = %d, want 2", res.Reprocessed)
	}

	frs, _ := s.FilterResults(ctx, "railway")
	for _, fr := range frs {
		if fr.ID == "m2" && fr.Filtered {
			t.Error("m2 still filtered after the matching rule was removed")
		}
	}
}

func TestRun_FinalizedSurvivesRuleChange(t *testing.T) {
	s := newTestStore(t)
	seedMessages(t, s, []store.Message{
		{ID: "m1", Date: day(1), TextTranslate: "derailment reported"},
	})
	c := NewController(s, nil)
	ctx := context.Background()

	rs := railwayRules(t)
	if _, err := c.Run(ctx, rs, false); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if err := s.SetFinalized(ctx, "railway", "m1", true); err != nil {
		t.Fatalf("SetFinalized: %v", err)
	}

	rs2, err := rules.New("railway", []rules.Rule{
		{Strategy: match.StrategyWordSet, Groups: [][]string{{"train"}}},
	})
	if err != nil {
		t.Fatalf("rules.New: %v", err)
	}
	res, err := c.Run(ctx, rs2, false)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if res.SkippedFinalized != 1 || res.Reprocessed != 0 {
		t.Errorf("unexpected counters: %+v", res)
	}

	frs, _ := s.FilterResults(ctx, "railway")
	if len(frs) != 1 || !frs[0].Filtered || frs[0].RuleFingerprint != rs.Fingerprint() {
		t.Errorf("finalized row changed: %+v", frs[0])
	}
}

func TestRun_PreLabelSeedsPositive(t *testing.T) {
	s := newTestStore(t)
	rs := railwayRules(t)
	seedMessages(t, s, []store.Message{
		// No term match, but carries the theme tag.
		{ID: "m1", Date: day(1), TextTranslate: "no matching words here", PreLabel: "arrest, Railway"},
		// No translated text at all.
		{ID: "m2", Date: day(2), PreLabel: "railway"},
	})

	res, err := NewController(s, nil).Run(context.Background(), rs, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.FilteredIn != 2 {
		t.Errorf("FilteredIn = %d, want 2", res.FilteredIn)
	}
}

func TestRun_EmptyTranslationIsNegative(t *testing.T) {
	s := newTestStore(t)
	rs := railwayRules(t)
	seedMessages(t, s, []store.Message{
		{ID: "m1", Date: day(1), TextOriginal: "поезд", TextTranslate: "   "},
	})

	res, err := NewController(s, nil).Run(context.Background(), rs, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.FilteredIn != 0 || res.Reprocessed != 1 {
		t.Errorf("unexpected counters: %+v", res)
	}
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	s := newTestStore(t)
	rs := railwayRules(t)
	seedMessages(t, s, []store.Message{
		{ID: "m1", Date: day(1), TextTranslate: "train fire"},
	})

	res, err := NewController(s, nil).Run(context.Background(), rs, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Written != 0 {
		t.Errorf("dry run wrote %d rows", res.Written)
	}
	frs, _ := s.FilterResults(context.Background(), "railway")
	if len(frs) != 0 {
		t.Errorf("dry run persisted %d rows", len(frs))
	}
}

func TestHasPreLabel(t *testing.T) {
	cases := []struct {
		preLabel string
		theme    string
		want     bool
	}{
		{"", "railway", false},
		{"railway", "railway", true},
		{"arrest,railway", "railway", true},
		{"arrest, Railway ", "railway", true},
		{"railways", "railway", false},
	}
	for _, tc := range cases {
		if got := hasPreLabel(tc.preLabel, tc.theme); got != tc.want {
			t.Errorf("hasPreLabel(%q, %q) = %v, want %v", tc.preLabel, tc.theme, got, tc.want)
		}
	}
}
