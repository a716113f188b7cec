package protocol

import "fmt"

// Audio and turn detection settings sent to the backend. Both directions use
// 16-bit PCM at 24kHz.
const (
	AudioFormatPCM16 = "pcm16"

	TurnDetectionServerVAD = "server_vad"
	VADThreshold           = 0.5
	VADPrefixPaddingMs     = 300
	VADSilenceDurationMs   = 500

	TranscriptionModel = "whisper-1"
	DefaultVoice       = "alloy"
)

// SessionUpdate is the configuration message the relay sends right after the
// backend connection opens.
type SessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

type SessionConfig struct {
	Modalities              []string             `json:"modalities"`
	Instructions            string               `json:"instructions"`
	Voice                   string               `json:"voice,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format"`
	OutputAudioFormat       string               `json:"output_audio_format"`
	InputAudioTranscription *TranscriptionConfig `json:"input_audio_transcription"`
	TurnDetection           *TurnDetection       `json:"turn_detection"`
	Tools                   []Tool               `json:"tools"`
	ToolChoice              string               `json:"tool_choice"`
}

type TranscriptionConfig struct {
	Model string `json:"model"`
}

type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

type Tool struct {
	Type        string     `json:"type"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Parameters  JSONSchema `json:"parameters"`
}

// JSONSchema is the subset of JSON Schema the tool definition needs.
type JSONSchema struct {
	Type        string                `json:"type"`
	Description string                `json:"description,omitempty"`
	Properties  map[string]JSONSchema `json:"properties,omitempty"`
	Items       *JSONSchema           `json:"items,omitempty"`
	Minimum     *int                  `json:"minimum,omitempty"`
	Maximum     *int                  `json:"maximum,omitempty"`
	Required    []string              `json:"required,omitempty"`
}

// SessionOptions are the per-interview inputs to NewSessionUpdate.
type SessionOptions struct {
	JobTitle string
	Voice    string
}

// NewSessionUpdate builds the session.update message for one interview.
func NewSessionUpdate(opts SessionOptions) SessionUpdate {
	voice := opts.Voice
	if voice == "" {
		voice = DefaultVoice
	}
	return SessionUpdate{
		Type: TypeSessionUpdate,
		Session: SessionConfig{
			Modalities:        []string{"text", "audio"},
			Instructions:      Instructions(opts.JobTitle),
			Voice:             voice,
			InputAudioFormat:  AudioFormatPCM16,
			OutputAudioFormat: AudioFormatPCM16,
			InputAudioTranscription: &TranscriptionConfig{
				Model: TranscriptionModel,
			},
			TurnDetection: &TurnDetection{
				Type:              TurnDetectionServerVAD,
				Threshold:         VADThreshold,
				PrefixPaddingMs:   VADPrefixPaddingMs,
				SilenceDurationMs: VADSilenceDurationMs,
			},
			Tools:      []Tool{ScoreTool()},
			ToolChoice: "auto",
		},
	}
}

// Instructions is the interviewer system prompt for jobTitle.
func Instructions(jobTitle string) string {
	return fmt.Sprintf(`You are a professional job interviewer conducting a live voice interview for a %q position.

Interview behaviour:
- Greet the candidate briefly and ask your first question about their background for the %s role.
- Ask one question at a time. Questions must be specific to the %s role: technical depth, relevant experience, and situational judgement.
- Listen to each answer and ask a natural follow-up question when an answer is vague or interesting.
- Keep your own turns short and conversational.
- After 3 to 4 question and answer exchanges, thank the candidate, tell them the interview is complete, and call the %s function with your evaluation.

Scoring: every score is an integer from %d to %d. Be fair and specific; base the feedback only on what the candidate actually said.`,
		jobTitle, jobTitle, jobTitle, ScoreFunctionName, MinScore, MaxScore)
}

// ScoreTool is the function definition whose parameters mirror InterviewScore.
func ScoreTool() Tool {
	minScore, maxScore := MinScore, MaxScore
	score := func(desc string) JSONSchema {
		return JSONSchema{Type: "integer", Description: desc, Minimum: &minScore, Maximum: &maxScore}
	}
	list := func(desc string) JSONSchema {
		return JSONSchema{Type: "array", Description: desc, Items: &JSONSchema{Type: "string"}}
	}

	return Tool{
		Type:        "function",
		Name:        ScoreFunctionName,
		Description: "Provide the final interview score and structured feedback for the candidate.",
		Parameters: JSONSchema{
			Type: "object",
			Properties: map[string]JSONSchema{
				"overallScore":       score("Overall interview performance"),
				"communicationScore": score("Clarity and structure of the candidate's answers"),
				"technicalScore":     score("Technical knowledge relevant to the role"),
				"experienceScore":    score("Relevance and depth of prior experience"),
				"strengths":          list("Specific strengths the candidate demonstrated"),
				"improvements":       list("Specific areas the candidate should improve"),
				"detailedFeedback":   {Type: "string", Description: "Detailed narrative feedback on the interview"},
				"recommendation":     {Type: "string", Description: "Hiring recommendation with a short justification"},
			},
			Required: ScoreFields(),
		},
	}
}

// ScoreFields lists the InterviewScore JSON fields in declaration order.
func ScoreFields() []string {
	return []string{
		"overallScore",
		"communicationScore",
		"technicalScore",
		"experienceScore",
		"strengths",
		"improvements",
		"detailedFeedback",
		"recommendation",
	}
}
