package gateway

import (
	"sync"
	"time"

	"hls-engine/internal/player"
)

// SessionID uniquely identifies a player session hosted by the gateway.
type SessionID string

// SessionState is one hosted engine session. The engine is not safe for
// concurrent use, so every call into Session holds mu.
type SessionState struct {
	ID        SessionID
	URL       string
	CreatedAt time.Time

	mu      sync.Mutex
	session *player.Session
}

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	URL string `json:"url"`
}

// CreateSessionResponse is returned by POST /sessions.
type CreateSessionResponse struct {
	ID  SessionID `json:"id"`
	URL string    `json:"url"`
}

// SessionResponse is returned by GET /sessions/{id}.
type SessionResponse struct {
	ID        SessionID    `json:"id"`
	URL       string       `json:"url"`
	CreatedAt time.Time    `json:"created_at"`
	Stats     player.Stats `json:"stats"`
}
