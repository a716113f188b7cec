package client

import "errors"

var (
	ErrJobTitleRequired     = errors.New("job title is required")
	ErrMicrophonePermission = errors.New("microphone access denied")
	ErrRelayUnavailable     = errors.New("AI interviewer unavailable")
	ErrAlreadyStarted       = errors.New("interview already started")
	ErrStartCanceled        = errors.New("interview start canceled")
)

// NoticeKind classifies user-facing notifications so the UI can tell a
// permission problem from a network one.
type NoticeKind int

const (
	NoticeValidation NoticeKind = iota
	NoticePermission
	NoticeUnavailable
	NoticeServerError
	NoticeConnectionLost
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeValidation:
		return "validation"
	case NoticePermission:
		return "permission"
	case NoticeUnavailable:
		return "unavailable"
	case NoticeServerError:
		return "server_error"
	case NoticeConnectionLost:
		return "connection_lost"
	default:
		return "unknown"
	}
}

// Notice is a message for the user.
type Notice struct {
	Kind    NoticeKind
	Message string
}

const (
	msgJobTitleRequired = "Please enter a job title to start the interview."
	msgMicrophoneDenied = "Microphone access was denied. Check your device permissions and try again."
	msgUnavailable      = "AI interviewer unavailable. Please try again later."
	msgConnectionLost   = "The connection to the AI interviewer was lost."
)
