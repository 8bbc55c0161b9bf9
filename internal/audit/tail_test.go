package audit

import (
	"fmt"
	"testing"
)

func TestTail_NewestFirst(t *testing.T) {
	tail := NewTail(5)

	for i := 0; i < 3; i++ {
		tail.Add(Entry{Actor: "admin", Action: ActionSealIP, Subject: fmt.Sprintf("203.0.113.%d", i)})
	}

	recent := tail.Recent()
	if len(recent) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(recent))
	}
	if recent[0].Subject != "203.0.113.2" || recent[2].Subject != "203.0.113.0" {
		t.Errorf("unexpected order: %v", recent)
	}
}

func TestTail_OverwritesOldest(t *testing.T) {
	tail := NewTail(3)

	for i := 0; i < 5; i++ {
		tail.Add(Entry{Subject: fmt.Sprintf("s%d", i), Action: ActionForceLogout})
	}

	recent := tail.Recent()
	if len(recent) != 3 {
		t.Fatalf("expected 3 retained entries, got %d", len(recent))
	}
	for i, want := range []string{"s4", "s3", "s2"} {
		if recent[i].Subject != want {
			t.Errorf("recent[%d] = %s, want %s", i, recent[i].Subject, want)
		}
	}
}

func TestTail_Empty(t *testing.T) {
	tail := NewTail(0)
	if got := tail.Recent(); len(got) != 0 {
		t.Errorf("expected empty, got %v", got)
	}
	if tail.Len() != 0 {
		t.Errorf("expected zero length")
	}
}
