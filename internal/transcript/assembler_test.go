package transcript

import (
	"strings"
	"testing"
	"time"
)

func TestFinalize_ConcatenatesDeltasInOrder(t *testing.T) {
	tests := []struct {
		name   string
		deltas []string
	}{
		{"single", []string{"Hello"}},
		{"scenario", []string{"Tell ", "me ", "about yourself"}},
		{"unicode", []string{"Qu'est", "-ce ", "que ", "c'est ", "🙂"}},
		{"whitespace deltas", []string{"a", " ", " ", "b"}},
	}

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAssembler()
			for _, d := range tt.deltas {
				a.AppendDelta(d)
			}
			if got, want := a.Partial(), strings.Join(tt.deltas, ""); got != want {
				t.Errorf("Partial() = %q, want %q", got, want)
			}

			e, ok := a.Finalize("ignored when deltas arrived", now)
			if !ok {
				t.Fatal("expected an entry")
			}
			if want := strings.Join(tt.deltas, ""); e.Content != want {
				t.Errorf("content = %q, want %q", e.Content, want)
			}
			if e.Role != RoleInterviewer {
				t.Errorf("role = %s, want interviewer", e.Role)
			}
			if !e.Timestamp.Equal(now) {
				t.Errorf("timestamp = %v, want %v", e.Timestamp, now)
			}
			if a.Partial() != "" {
				t.Error("partial buffer should be cleared after finalize")
			}
		})
	}
}

func TestDeltasAloneNeverProduceEntry(t *testing.T) {
	a := NewAssembler()
	a.AppendDelta("Tell ")
	a.AppendDelta("me")

	if a.Len() != 0 {
		t.Fatalf("expected no entries before done, got %d", a.Len())
	}
	if a.Partial() != "Tell me" {
		t.Errorf("unexpected partial %q", a.Partial())
	}
}

func TestFinalize_FallbackAndEmpty(t *testing.T) {
	a := NewAssembler()

	e, ok := a.Finalize("Welcome to the interview.", time.Now())
	if !ok || e.Content != "Welcome to the interview." {
		t.Errorf("expected fallback transcript entry, got %+v ok=%v", e, ok)
	}

	if _, ok := a.Finalize("", time.Now()); ok {
		t.Error("empty utterance must not produce an entry")
	}
	if a.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", a.Len())
	}
}

func TestEntriesOrderAndIDs(t *testing.T) {
	a := NewAssembler()
	now := time.Now()

	a.AppendDelta("Question one?")
	a.Finalize("", now)
	a.AddCandidate("My answer.", now)
	if _, ok := a.AddCandidate("   ", now); ok {
		t.Error("blank candidate transcript must be ignored")
	}
	a.AppendDelta("Question two?")
	a.Finalize("", now)

	entries := a.Entries()
	wantRoles := []Role{RoleInterviewer, RoleCandidate, RoleInterviewer}
	if len(entries) != len(wantRoles) {
		t.Fatalf("expected %d entries, got %d", len(wantRoles), len(entries))
	}
	seen := map[string]bool{}
	for i, e := range entries {
		if e.Role != wantRoles[i] {
			t.Errorf("entry %d role = %s, want %s", i, e.Role, wantRoles[i])
		}
		if e.ID == "" || seen[e.ID] {
			t.Errorf("entry %d has empty or duplicate id %q", i, e.ID)
		}
		seen[e.ID] = true
	}

	entries[0].Content = "mutated"
	if a.Entries()[0].Content != "Question one?" {
		t.Error("Entries must return a copy")
	}
}

func TestReset(t *testing.T) {
	a := NewAssembler()
	a.AddCandidate("hi", time.Now())
	a.AppendDelta("open")
	a.Reset()

	if a.Len() != 0 || a.Partial() != "" {
		t.Error("expected empty assembler after Reset")
	}
	if _, ok := a.Finalize("", time.Now()); ok {
		t.Error("reset must discard the open utterance")
	}
}
