package client

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/raihanakbr/realtime-interview-relay/internal/protocol"
	"github.com/raihanakbr/realtime-interview-relay/internal/transcript"
)

// Phase is what the UI shows about the interview as a whole.
//
//	Idle → Connecting → Live → Ended
//	         │                   ↑
//	         └───────────────────┘
//
// End from any phase returns to Idle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseLive
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseConnecting:
		return "CONNECTING"
	case PhaseLive:
		return "LIVE"
	case PhaseEnded:
		return "ENDED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", p)
	}
}

// Snapshot is a read-only copy of the session state handed to the UI.
type Snapshot struct {
	Phase      Phase
	JobTitle   string
	Recording  bool
	Speaking   bool
	Transcript []transcript.Entry
	Partial    string
	Score      *protocol.InterviewScore
}

// Connected reports whether the interview is live.
func (s Snapshot) Connected() bool {
	return s.Phase == PhaseLive
}

// state is owned by one Session and changed only through apply and the
// lifecycle helpers below. Callers hold the session lock.
type state struct {
	phase     Phase
	jobTitle  string
	recording bool
	speaking  bool
	score     *protocol.InterviewScore

	transcript *transcript.Assembler
	scores     ScoreExtractor
}

func newState() *state {
	return &state{transcript: transcript.NewAssembler()}
}

// effects are the side effects of one event, run after the lock is released.
type effects struct {
	audio  []byte
	notice *Notice
	fatal  bool // the notice announces the relay closing the session
}

// apply folds one relay event into the state.
func (st *state) apply(ev protocol.Event, now time.Time) effects {
	var fx effects

	switch e := ev.(type) {
	case protocol.SessionCreated, protocol.SessionUpdated:
		if st.phase == PhaseConnecting {
			st.phase = PhaseLive
		}
	case protocol.SpeechStarted:
		st.recording = true
	case protocol.SpeechStopped:
		st.recording = false
	case protocol.AudioDelta:
		st.speaking = true
		pcm, err := base64.StdEncoding.DecodeString(e.Delta)
		if err != nil {
			log.Warn().Err(err).Msg("Dropping undecodable audio delta")
			break
		}
		fx.audio = pcm
	case protocol.TranscriptDelta:
		st.transcript.AppendDelta(e.Delta)
	case protocol.TranscriptDone:
		st.transcript.Finalize(e.Transcript, now)
		st.speaking = false
	case protocol.InputTranscriptionCompleted:
		st.transcript.AddCandidate(e.Transcript, now)
	case protocol.FunctionCallArgumentsDone:
		score, err := st.scores.Extract(e)
		if err != nil {
			log.Warn().Err(err).Str("name", e.Name).Msg("Ignoring function call")
			break
		}
		st.score = score
	case protocol.ErrorEvent:
		fx.notice = &Notice{Kind: NoticeServerError, Message: e.Text()}
		fx.fatal = e.FromRelay()
	default:
		// Unknown and informational types change nothing.
	}
	return fx
}

// endLive moves a connecting or live session to Ended, keeping transcript and
// score for display and clearing the indicators.
func (st *state) endLive() {
	st.phase = PhaseEnded
	st.recording = false
	st.speaking = false
	st.transcript.Discard()
}

// reset returns to the initial state.
func (st *state) reset() {
	st.phase = PhaseIdle
	st.jobTitle = ""
	st.recording = false
	st.speaking = false
	st.score = nil
	st.transcript.Reset()
}

func (st *state) snapshot() Snapshot {
	snap := Snapshot{
		Phase:      st.phase,
		JobTitle:   st.jobTitle,
		Recording:  st.recording,
		Speaking:   st.speaking,
		Transcript: st.transcript.Entries(),
		Partial:    st.transcript.Partial(),
	}
	if st.score != nil {
		score := *st.score
		snap.Score = &score
	}
	return snap
}
