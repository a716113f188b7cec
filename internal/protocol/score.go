package protocol

import "fmt"

// Score bounds the backend is asked to respect.
const (
	MinScore = 1
	MaxScore = 10
)

// ScoreFunctionName is the single tool registered with the backend.
const ScoreFunctionName = "provide_score_and_feedback"

// InterviewScore is the structured evaluation produced at the end of an interview.
type InterviewScore struct {
	OverallScore       int      `json:"overallScore"`
	CommunicationScore int      `json:"communicationScore"`
	TechnicalScore     int      `json:"technicalScore"`
	ExperienceScore    int      `json:"experienceScore"`
	Strengths          []string `json:"strengths"`
	Improvements       []string `json:"improvements"`
	DetailedFeedback   string   `json:"detailedFeedback"`
	Recommendation     string   `json:"recommendation"`
}

// Validate checks every numeric score is within [MinScore, MaxScore].
func (s InterviewScore) Validate() error {
	scores := []struct {
		name  string
		value int
	}{
		{"overallScore", s.OverallScore},
		{"communicationScore", s.CommunicationScore},
		{"technicalScore", s.TechnicalScore},
		{"experienceScore", s.ExperienceScore},
	}
	for _, sc := range scores {
		if sc.value < MinScore || sc.value > MaxScore {
			return fmt.Errorf("%s out of range: %d not in [%d, %d]", sc.name, sc.value, MinScore, MaxScore)
		}
	}
	return nil
}
