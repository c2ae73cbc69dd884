package match

import (
	"testing"
)

func TestWordSet_FirstSatisfyingGroupWins(t *testing.T) {
	m, err := NewGroupMatcher(StrategyWordSet, [][]string{
		{"train", "fire"},
		{"rail", "derail"},
	})
	if err != nil {
		t.Fatalf("NewGroupMatcher: %v", err)
	}

	cases := []struct {
		text  string
		want  bool
		terms string
	}{
		{"A train caught fire near Moscow", true, "train,fire"},
		{"No railway news today", false, ""},
		{"Train fire and derailment", true, "train,fire"},
		{"the train is on fire, rail derail too", true, "train,fire"},
		{"rail workers report a derail", true, "rail,derail"},
	}
	for _, tc := range cases {
		got, terms := m.Match(tc.text)
		if got != tc.want || terms != tc.terms {
			t.Errorf("Match(%q) = (%v, %q), want (%v, %q)", tc.text, got, terms, tc.want, tc.terms)
		}
	}
}

func TestWordSet_WholeWordsOnly(t *testing.T) {
	m, err := NewGroupMatcher(StrategyWordSet, [][]string{{"rail"}})
	if err != nil {
		t.Fatalf("NewGroupMatcher: %v", err)
	}

	if ok, _ := m.Match("the railway is closed"); ok {
		t.Error("expected no match: 'rail' inside 'railway' is not a whole word")
	}
	if ok, _ := m.Match("the rail is blocked"); !ok {
		t.Error("expected match for whole word 'rail'")
	}
	if ok, _ := m.Match("rail."); !ok {
		t.Error("expected match at punctuation boundary")
	}
}

func TestWordSet_CyrillicBoundaries(t *testing.T) {
	m, err := NewGroupMatcher(StrategyWordSet, [][]string{{"поезд", "пожар"}})
	if err != nil {
		t.Fatalf("NewGroupMatcher: %v", err)
	}

	if ok, terms := m.Match("поезд загорелся, пожар потушен"); !ok || terms != "поезд,пожар" {
		t.Errorf("expected cyrillic whole-word match, got ok=%v terms=%q", ok, terms)
	}
	// "поездка" contains "поезд" but is a different word.
	if ok, _ := m.Match("поездка отменена, пожар потушен"); ok {
		t.Error("expected no match: 'поезд' inside 'поездка'")
	}
}

func TestSubstring_CatchesInflectedForms(t *testing.T) {
	m, err := NewGroupMatcher(StrategySubstring, [][]string{{"derail", "bridge"}})
	if err != nil {
		t.Fatalf("NewGroupMatcher: %v", err)
	}

	ok, terms := m.Match("derailment near the bridges")
	if !ok || terms != "derail,bridge" {
		t.Errorf("substring match = (%v, %q), want (true, %q)", ok, terms, "derail,bridge")
	}

	if ok, _ := m.Match("derailment only"); ok {
		t.Error("expected no match: group requires all terms")
	}
}

func TestSubstring_NoEscaping(t *testing.T) {
	// Substring search treats regex metacharacters literally by nature.
	m, err := NewGroupMatcher(StrategySubstring, [][]string{{"art. 205"}})
	if err != nil {
		t.Fatalf("NewGroupMatcher: %v", err)
	}
	if ok, _ := m.Match("charged under art. 205 today"); !ok {
		t.Error("expected literal substring match with dot")
	}
}

func TestAnyTerm_CollectsAllMatches(t *testing.T) {
	m, err := NewListMatcher([]string{"derailment", "rail incident", "sabotage"})
	if err != nil {
		t.Fatalf("NewListMatcher: %v", err)
	}

	ok, terms := m.Match("A Rail incident followed by a derailment")
	if !ok {
		t.Fatal("expected match")
	}
	// All matching entries are collected, not just the first, in list order.
	if terms != "derailment,rail incident" {
		t.Errorf("terms = %q, want %q", terms, "derailment,rail incident")
	}
}

func TestAnyTerm_CaseInsensitive(t *testing.T) {
	m, err := NewListMatcher([]string{"sabotage"})
	if err != nil {
		t.Fatalf("NewListMatcher: %v", err)
	}
	if ok, terms := m.Match("SABOTAGE suspected"); !ok || terms != "sabotage" {
		t.Errorf("expected case-insensitive match, got ok=%v terms=%q", ok, terms)
	}
}

func TestAnyTerm_EscapesMetacharacters(t *testing.T) {
	m, err := NewListMatcher([]string{"ст. 267"})
	if err != nil {
		t.Fatalf("NewListMatcher: %v", err)
	}
	if ok, _ := m.Match("дело по ст. 267 УК"); !ok {
		t.Error("expected escaped literal phrase match")
	}
	if ok, _ := m.Match("дело по стX 267 УК"); ok {
		t.Error("dot must be escaped, not a wildcard")
	}
}

func TestMatch_NoMatchReturnsEmpty(t *testing.T) {
	for _, s := range []Strategy{StrategyWordSet, StrategySubstring} {
		m, err := NewGroupMatcher(s, [][]string{{"nothing"}})
		if err != nil {
			t.Fatalf("NewGroupMatcher(%v): %v", s, err)
		}
		if ok, terms := m.Match("unrelated text"); ok || terms != "" {
			t.Errorf("strategy %v: expected (false, \"\"), got (%v, %q)", s, ok, terms)
		}
	}
}

func TestNewGroupMatcher_RejectsListStrategy(t *testing.T) {
	if _, err := NewGroupMatcher(StrategyAnyTerm, [][]string{{"x"}}); err == nil {
		t.Error("expected error for list strategy in NewGroupMatcher")
	}
}

func TestList_FindAllOrder(t *testing.T) {
	l, err := NewList([]string{"Kazan", "Moscow"})
	if err != nil {
		t.Fatalf("NewList: %v", err)
	}
	got := l.FindAll("Incident near Moscow and Kazan")
	if len(got) != 2 || got[0] != "Kazan" || got[1] != "Moscow" {
		t.Errorf("FindAll = %v, want [Kazan Moscow] (entry order)", got)
	}
}
