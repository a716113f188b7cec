package protocol

// Message type tags shared by the client, the relay and the realtime backend.
const (
	TypeStartInterview = "start_interview"
	TypeSessionUpdate  = "session.update"
	TypeSessionCreated = "session.created"
	TypeSessionUpdated = "session.updated"
	TypeError          = "error"

	TypeInputAudioAppend        = "input_audio_buffer.append"
	TypeInputAudioSpeechStarted = "input_audio_buffer.speech_started"
	TypeInputAudioSpeechStopped = "input_audio_buffer.speech_stopped"

	TypeResponseAudioDelta           = "response.audio.delta"
	TypeResponseAudioDone            = "response.audio.done"
	TypeResponseAudioTranscriptDelta = "response.audio_transcript.delta"
	TypeResponseAudioTranscriptDone  = "response.audio_transcript.done"
	TypeInputTranscriptionCompleted  = "conversation.item.input_audio_transcription.completed"
	TypeFunctionCallArgumentsDone    = "response.function_call_arguments.done"
	TypeResponseDone                 = "response.done"
)

// Event is one decoded protocol message. The set of implementations is closed;
// anything the decoder does not recognise becomes Unknown.
type Event interface {
	EventType() string
	isEvent()
}

// StartInterview is the first message a client must send to the relay.
type StartInterview struct {
	Type     string `json:"type"`
	JobTitle string `json:"jobTitle"`
}

// SessionCreated is sent by the backend once its session exists.
type SessionCreated struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`
	Session struct {
		ID    string `json:"id"`
		Model string `json:"model,omitempty"`
	} `json:"session"`
}

// SessionUpdated acknowledges a session.update.
type SessionUpdated struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`
}

// ErrorEvent carries either the relay's flat shape or the backend's nested one.
type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Error   *struct {
		Type    string `json:"type,omitempty"`
		Code    string `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error,omitempty"`
}

// Text returns the human readable part of the error, whichever shape it came in.
func (e ErrorEvent) Text() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Error != nil {
		return e.Error.Message
	}
	return ""
}

// FromRelay reports whether the relay itself raised the error. The relay closes
// the connection after sending one; backend errors leave the session running.
func (e ErrorEvent) FromRelay() bool {
	return e.Error == nil && e.Code != ""
}

// InputAudioAppend carries one base64 PCM16 mono 24kHz chunk.
type InputAudioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type SpeechStarted struct {
	Type         string `json:"type"`
	AudioStartMs int64  `json:"audio_start_ms,omitempty"`
	ItemID       string `json:"item_id,omitempty"`
}

type SpeechStopped struct {
	Type       string `json:"type"`
	AudioEndMs int64  `json:"audio_end_ms,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
}

// AudioDelta contains base64 PCM16 audio spoken by the interviewer.
type AudioDelta struct {
	Type       string `json:"type"`
	ResponseID string `json:"response_id,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
	Delta      string `json:"delta"`
}

type AudioDone struct {
	Type       string `json:"type"`
	ResponseID string `json:"response_id,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
}

// TranscriptDelta is one streamed piece of the interviewer's words.
type TranscriptDelta struct {
	Type       string `json:"type"`
	ResponseID string `json:"response_id,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
	Delta      string `json:"delta"`
}

// TranscriptDone closes the interviewer utterance opened by TranscriptDelta events.
type TranscriptDone struct {
	Type       string `json:"type"`
	ResponseID string `json:"response_id,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// InputTranscriptionCompleted is the candidate's own speech, transcribed in one piece.
type InputTranscriptionCompleted struct {
	Type       string `json:"type"`
	ItemID     string `json:"item_id,omitempty"`
	Transcript string `json:"transcript"`
}

// FunctionCallArgumentsDone carries the JSON encoded arguments of a tool call.
type FunctionCallArgumentsDone struct {
	Type      string `json:"type"`
	Name      string `json:"name,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	ItemID    string `json:"item_id,omitempty"`
	Arguments string `json:"arguments"`
}

type ResponseDone struct {
	Type string `json:"type"`
}

// Unknown is any message whose type the decoder does not know. It is ignored by
// consumers and forwarded untouched by the relay.
type Unknown struct {
	Type string
	Raw  []byte
}

func (StartInterview) EventType() string              { return TypeStartInterview }
func (SessionCreated) EventType() string              { return TypeSessionCreated }
func (SessionUpdated) EventType() string              { return TypeSessionUpdated }
func (ErrorEvent) EventType() string                  { return TypeError }
func (InputAudioAppend) EventType() string            { return TypeInputAudioAppend }
func (SpeechStarted) EventType() string               { return TypeInputAudioSpeechStarted }
func (SpeechStopped) EventType() string               { return TypeInputAudioSpeechStopped }
func (AudioDelta) EventType() string                  { return TypeResponseAudioDelta }
func (AudioDone) EventType() string                   { return TypeResponseAudioDone }
func (TranscriptDelta) EventType() string             { return TypeResponseAudioTranscriptDelta }
func (TranscriptDone) EventType() string              { return TypeResponseAudioTranscriptDone }
func (InputTranscriptionCompleted) EventType() string { return TypeInputTranscriptionCompleted }
func (FunctionCallArgumentsDone) EventType() string   { return TypeFunctionCallArgumentsDone }
func (ResponseDone) EventType() string                { return TypeResponseDone }
func (u Unknown) EventType() string                   { return u.Type }

func (StartInterview) isEvent()              {}
func (SessionCreated) isEvent()              {}
func (SessionUpdated) isEvent()              {}
func (ErrorEvent) isEvent()                  {}
func (InputAudioAppend) isEvent()            {}
func (SpeechStarted) isEvent()               {}
func (SpeechStopped) isEvent()               {}
func (AudioDelta) isEvent()                  {}
func (AudioDone) isEvent()                   {}
func (TranscriptDelta) isEvent()             {}
func (TranscriptDone) isEvent()              {}
func (InputTranscriptionCompleted) isEvent() {}
func (FunctionCallArgumentsDone) isEvent()   {}
func (ResponseDone) isEvent()                {}
func (Unknown) isEvent()                     {}
