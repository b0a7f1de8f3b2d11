package card

import "testing"

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"HIGH":    LevelHigh,
		" high ":  LevelHigh,
		"urgent":  LevelHigh,
		"low":     LevelLow,
		"Medium":  LevelMedium,
		"":        LevelMedium,
		"unknown": LevelMedium,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestNormalizeFillsDefaults(t *testing.T) {
	c := Card{Title: "  Vision  ", Priority: "high"}
	c.Normalize()
	if c.Title != "Vision" || c.Priority != LevelHigh || c.ConfidenceLevel != LevelMedium {
		t.Fatalf("unexpected card %+v", c)
	}
	if c.Tags == nil || c.Relationships == nil || c.CardData == nil {
		t.Fatal("collections should be non-nil")
	}
}

func TestPatchApply(t *testing.T) {
	title := " New "
	prio := "low"
	tags := []string{"a"}
	p := Patch{Title: &title, Priority: &prio, Tags: &tags}
	if p.Empty() {
		t.Fatal("patch should not be empty")
	}
	c := Card{Title: "Old", Description: "keep", Priority: LevelHigh}
	p.Apply(&c)
	if c.Title != "New" || c.Priority != LevelLow || c.Description != "keep" || len(c.Tags) != 1 {
		t.Fatalf("unexpected card %+v", c)
	}
	if !(Patch{}).Empty() {
		t.Fatal("zero patch should be empty")
	}
}

func TestFilterMatches(t *testing.T) {
	c := Card{CardType: "vision", Title: "Win the Mid-Market", Description: "Expand share"}
	if !(Filter{CardType: "vision", Search: "mid-market"}).Matches(c) {
		t.Fatal("expected match on title")
	}
	if !(Filter{Search: "SHARE"}).Matches(c) {
		t.Fatal("expected match on description")
	}
	if (Filter{CardType: "okrs"}).Matches(c) {
		t.Fatal("type filter should exclude")
	}
}

func TestRegistry(t *testing.T) {
	if !ValidType("technical-requirements") || ValidType("made-up") {
		t.Fatal("registry lookup wrong")
	}
	info, ok := LookupType("personas")
	if !ok || info.Section != SectionBlueprint || len(info.Fields) == 0 {
		t.Fatalf("personas = %+v", info)
	}
	if !InSection("prd", SectionDevelopment) || InSection("vision", SectionDevelopment) {
		t.Fatal("section check wrong")
	}
	seen := map[string]bool{}
	for _, ti := range Types() {
		if seen[ti.Type] {
			t.Fatalf("duplicate type %s", ti.Type)
		}
		seen[ti.Type] = true
	}
	if len(TypeNames()) != len(Types()) {
		t.Fatal("TypeNames length mismatch")
	}
}
