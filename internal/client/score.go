package client

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/raihanakbr/realtime-interview-relay/internal/protocol"
)

var ErrNotScore = errors.New("not a scoring function call")

// ScoreExtractor turns the scoring function call into an InterviewScore.
type ScoreExtractor struct{}

// Extract parses the call's arguments. Calls to other functions return
// ErrNotScore; unparseable arguments return an error and must be dropped.
func (ScoreExtractor) Extract(call protocol.FunctionCallArgumentsDone) (*protocol.InterviewScore, error) {
	if call.Name != "" && call.Name != protocol.ScoreFunctionName {
		return nil, fmt.Errorf("%w: %s", ErrNotScore, call.Name)
	}

	var score protocol.InterviewScore
	if err := json.Unmarshal([]byte(call.Arguments), &score); err != nil {
		return nil, fmt.Errorf("parse score arguments: %w", err)
	}
	if err := score.Validate(); err != nil {
		// Out of range scores are still shown; the model owns the scale.
		log.Warn().Err(err).Msg("Score outside expected range")
	}
	return &score, nil
}
