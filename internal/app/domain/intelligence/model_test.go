package intelligence

import "testing"

func TestValidateDefaultsColor(t *testing.T) {
	g := Group{Name: " Competitors "}
	if err := g.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if g.Name != "Competitors" || g.Color != DefaultColor {
		t.Fatalf("unexpected %+v", g)
	}
}

func TestValidateRejectsBadColor(t *testing.T) {
	g := Group{Name: "x", Color: "blue"}
	if err := g.Validate(); err == nil {
		t.Fatal("expected color error")
	}
	if err := (&Group{}).Validate(); err == nil {
		t.Fatal("expected name error")
	}
}

func TestSameName(t *testing.T) {
	if !SameName("Market ", "market") || SameName("a", "b") {
		t.Fatal("SameName wrong")
	}
}
