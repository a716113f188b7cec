// Package protocol defines the JSON messages exchanged between the interview
// client, the relay and the realtime speech backend.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrMissingType      = errors.New("message has no type")
)

// envelope is decoded first to find out which concrete event to build.
type envelope struct {
	Type string `json:"type"`
}

// PeekType returns the type tag of raw without decoding the rest of the message.
func PeekType(raw []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if env.Type == "" {
		return "", ErrMissingType
	}
	return env.Type, nil
}

// Decode parses raw into its concrete Event. Unrecognised types decode to
// Unknown and never produce an error.
func Decode(raw []byte) (Event, error) {
	msgType, err := PeekType(raw)
	if err != nil {
		return nil, err
	}

	switch msgType {
	case TypeStartInterview:
		return decodeAs[StartInterview](raw)
	case TypeSessionCreated:
		return decodeAs[SessionCreated](raw)
	case TypeSessionUpdated:
		return decodeAs[SessionUpdated](raw)
	case TypeError:
		return decodeAs[ErrorEvent](raw)
	case TypeInputAudioAppend:
		return decodeAs[InputAudioAppend](raw)
	case TypeInputAudioSpeechStarted:
		return decodeAs[SpeechStarted](raw)
	case TypeInputAudioSpeechStopped:
		return decodeAs[SpeechStopped](raw)
	case TypeResponseAudioDelta:
		return decodeAs[AudioDelta](raw)
	case TypeResponseAudioDone:
		return decodeAs[AudioDone](raw)
	case TypeResponseAudioTranscriptDelta:
		return decodeAs[TranscriptDelta](raw)
	case TypeResponseAudioTranscriptDone:
		return decodeAs[TranscriptDone](raw)
	case TypeInputTranscriptionCompleted:
		return decodeAs[InputTranscriptionCompleted](raw)
	case TypeFunctionCallArgumentsDone:
		return decodeAs[FunctionCallArgumentsDone](raw)
	case TypeResponseDone:
		return decodeAs[ResponseDone](raw)
	default:
		cp := make([]byte, len(raw))
		copy(cp, raw)
		return Unknown{Type: msgType, Raw: cp}, nil
	}
}

func decodeAs[T Event](raw []byte) (Event, error) {
	var ev T
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return ev, nil
}

// Encode marshals an outbound message.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

// NewStartInterview builds the client's opening message.
func NewStartInterview(jobTitle string) StartInterview {
	return StartInterview{Type: TypeStartInterview, JobTitle: jobTitle}
}

// NewAudioAppend wraps one base64 encoded audio chunk.
func NewAudioAppend(audioBase64 string) InputAudioAppend {
	return InputAudioAppend{Type: TypeInputAudioAppend, Audio: audioBase64}
}

// NewError builds a relay originated error message.
func NewError(code, message string) ErrorEvent {
	return ErrorEvent{Type: TypeError, Code: code, Message: message}
}

// ValidJobTitle reports whether title has any non-whitespace content.
func ValidJobTitle(title string) bool {
	return strings.TrimSpace(title) != ""
}
