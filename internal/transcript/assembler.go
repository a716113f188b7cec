// Package transcript assembles the interview conversation log from streamed
// transcript events.
package transcript

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Role attributes a transcript entry to one side of the interview.
type Role string

const (
	RoleInterviewer Role = "interviewer"
	RoleCandidate   Role = "candidate"
)

// Entry is one finalized utterance. Entries are never mutated once appended.
type Entry struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Assembler accumulates interviewer deltas into an open utterance and keeps the
// ordered list of finalized entries. An open utterance only becomes an entry
// through Finalize.
//
// Assembler is not safe for concurrent use; its owner serializes access.
type Assembler struct {
	partial strings.Builder
	deltas  int
	entries []Entry
}

// NewAssembler returns an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{}
}

// AppendDelta adds streamed interviewer text to the open utterance.
func (a *Assembler) AppendDelta(delta string) {
	a.partial.WriteString(delta)
	a.deltas++
}

// Finalize closes the open utterance as an interviewer entry stamped at now.
// If no deltas arrived, fallback (the full transcript carried by the done
// event) is used instead. Returns false when there is nothing to record.
func (a *Assembler) Finalize(fallback string, now time.Time) (Entry, bool) {
	content := a.partial.String()
	if a.deltas == 0 {
		content = fallback
	}
	a.partial.Reset()
	a.deltas = 0

	if strings.TrimSpace(content) == "" {
		return Entry{}, false
	}
	return a.append(RoleInterviewer, content, now), true
}

// AddCandidate records a completed candidate utterance. Candidate speech has
// no streaming phase.
func (a *Assembler) AddCandidate(content string, now time.Time) (Entry, bool) {
	if strings.TrimSpace(content) == "" {
		return Entry{}, false
	}
	return a.append(RoleCandidate, content, now), true
}

func (a *Assembler) append(role Role, content string, now time.Time) Entry {
	e := Entry{
		ID:        ulid.Make().String(),
		Role:      role,
		Content:   content,
		Timestamp: now,
	}
	a.entries = append(a.entries, e)
	return e
}

// Partial returns the text of the open interviewer utterance.
func (a *Assembler) Partial() string {
	return a.partial.String()
}

// Entries returns a copy of the finalized entries in arrival order.
func (a *Assembler) Entries() []Entry {
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

func (a *Assembler) Len() int {
	return len(a.entries)
}

// Discard drops the open utterance without recording it.
func (a *Assembler) Discard() {
	a.partial.Reset()
	a.deltas = 0
}

// Reset discards the open utterance and every entry.
func (a *Assembler) Reset() {
	a.partial.Reset()
	a.deltas = 0
	a.entries = nil
}
