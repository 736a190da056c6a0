package safety

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"
)

type campaign struct {
	ID   string
	Name string
}

func TestMatchPatternEnumeratesEveryItem(t *testing.T) {
	items := []campaign{
		{"1", "Brand - Search"},
		{"2", "Brand - Display"},
		{"3", "Generic - Search"},
	}
	re := regexp.MustCompile(`^Brand.*`)

	m, err := MatchPattern("Brand.*", items, 20,
		func(c campaign) bool { return re.MatchString(c.Name) },
		func(c campaign) string { return fmt.Sprintf("%s (id %s)", c.Name, c.ID) },
	)
	if err != nil {
		t.Fatalf("MatchPattern: %v", err)
	}
	if m.Total != 2 {
		t.Errorf("Total = %d, want 2", m.Total)
	}
	// The confirmation message lists the literal items, not a count or sample.
	for _, want := range []string{"Brand - Search (id 1)", "Brand - Display (id 2)"} {
		if !strings.Contains(m.ConfirmationMessage, want) {
			t.Errorf("confirmation message missing %q:\n%s", want, m.ConfirmationMessage)
		}
	}
}

func TestMatchPatternCeiling(t *testing.T) {
	// 25 matches against a ceiling of 20 — fail closed, nothing returned.
	var items []campaign
	for i := 0; i < 25; i++ {
		items = append(items, campaign{fmt.Sprint(i), fmt.Sprintf("Campaign %d", i)})
	}

	m, err := MatchPattern("Campaign.*", items, 20,
		func(campaign) bool { return true },
		func(c campaign) string { return c.Name },
	)
	if err == nil {
		t.Fatal("MatchPattern returned 25 matches past the ceiling of 20")
	}
	if m != nil {
		t.Error("match result must be nil on ceiling rejection")
	}
	if !errors.Is(err, ErrTooManyMatches) {
		t.Errorf("error = %v, want ErrTooManyMatches", err)
	}

	var tme *TooManyMatchesError
	if !errors.As(err, &tme) {
		t.Fatalf("error type = %T, want *TooManyMatchesError", err)
	}
	if tme.Matched != 25 || tme.Max != 20 {
		t.Errorf("TooManyMatchesError = %+v, want Matched=25 Max=20", tme)
	}
	if !strings.Contains(err.Error(), "narrow the pattern") {
		t.Errorf("error %q missing refine-your-pattern guidance", err)
	}
}

func TestMatchPatternNoMatches(t *testing.T) {
	m, err := MatchPattern("Nope.*", []campaign{{"1", "Brand"}}, 20,
		func(campaign) bool { return false },
		func(c campaign) string { return c.Name },
	)
	if err != nil {
		t.Fatalf("MatchPattern: %v", err)
	}
	if m.Total != 0 {
		t.Errorf("Total = %d, want 0", m.Total)
	}
}
