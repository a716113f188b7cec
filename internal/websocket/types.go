package websocket

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// State is the lifecycle state of one relay session.
//
// State transitions:
//
//	Idle → AwaitingBackend → Relaying → Closed
//	  │          │
//	  └──────────┴──→ Closed
//
// Every path ends in Closed, which releases both sockets.
type State int

const (
	StateIdle State = iota
	StateAwaitingBackend
	StateRelaying
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAwaitingBackend:
		return "AWAITING_BACKEND"
	case StateRelaying:
		return "RELAYING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

var (
	ErrProtocolViolation  = errors.New("protocol violation")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrSessionExists      = errors.New("session id already in use")

	errSessionClosing = errors.New("session is closing")
)

// closeCode maps a close reason to the close frame code sent to the client.
func closeCode(reason string) int {
	switch reason {
	case ReasonProtocolViolation, ReasonInvalidJobTitle, ReasonStartTimeout:
		return websocket.ClosePolicyViolation
	case ReasonBackendUnavailable, ReasonBackendFailure:
		return websocket.CloseTryAgainLater
	case ReasonShutdown:
		return websocket.CloseGoingAway
	default:
		return websocket.CloseNormalClosure
	}
}

// Registry indexes live relay sessions by id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*RelaySession
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*RelaySession)}
}

// Add registers rs, failing if its id is already taken.
func (r *Registry) Add(rs *RelaySession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[rs.ID]; exists {
		return fmt.Errorf("%w: %s", ErrSessionExists, rs.ID)
	}
	r.sessions[rs.ID] = rs
	return nil
}

// Remove deregisters id. Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (r *Registry) Get(id string) (*RelaySession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rs, ok := r.sessions[id]
	return rs, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll begins closing every registered session.
func (r *Registry) CloseAll(reason string) {
	r.mu.RLock()
	sessions := make([]*RelaySession, 0, len(r.sessions))
	for _, rs := range r.sessions {
		sessions = append(sessions, rs)
	}
	r.mu.RUnlock()

	for _, rs := range sessions {
		rs.Close(reason)
	}
}
