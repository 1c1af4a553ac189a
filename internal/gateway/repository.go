package gateway

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository defines the concurrency-safe contract for storing hosted sessions.
type Repository interface {
	// Add assigns st a fresh ID and creation time and stores it. It fails with
	// ErrTooManySessions once the configured cap is reached.
	Add(st *SessionState) (SessionID, error)

	// Get returns the session with the given ID. The ok return is false if it
	// does not exist.
	Get(id SessionID) (st *SessionState, ok bool)

	// Remove deletes the session with the given ID. It fails with
	// ErrSessionNotFound if it does not exist.
	Remove(id SessionID) error

	// Count returns the number of stored sessions. Used for metrics.
	Count() int
}

var (
	// ErrSessionNotFound is returned for operations on an unknown session ID.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTooManySessions is returned by Add once the session cap is reached.
	ErrTooManySessions = errors.New("too many sessions")
)

// InMemoryRepository is a concurrency-safe in-memory implementation of Repository.
// It uses a Store for persistence; by default that is an InMemoryStore.
type InMemoryRepository struct {
	mu          sync.RWMutex
	store       Store
	maxSessions int
}

// NewInMemoryRepository constructs a repository holding at most maxSessions
// sessions with a default in-memory store. If maxSessions <= 0 there is no cap.
func NewInMemoryRepository(maxSessions int) *InMemoryRepository {
	return NewInMemoryRepositoryWithStore(NewInMemoryStore(), maxSessions)
}

// NewInMemoryRepositoryWithStore constructs a repository that uses the given Store.
// Useful for testing or for plugging in a different persistence backend.
func NewInMemoryRepositoryWithStore(store Store, maxSessions int) *InMemoryRepository {
	return &InMemoryRepository{store: store, maxSessions: maxSessions}
}

// Add implements Repository.Add.
func (r *InMemoryRepository) Add(st *SessionState) (SessionID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxSessions > 0 && len(r.store.ListSessionIDs()) >= r.maxSessions {
		return "", ErrTooManySessions
	}

	id := SessionID(uuid.NewString())
	for {
		if _, exists := r.store.GetSession(id); !exists {
			break
		}
		id = SessionID(uuid.NewString())
	}

	st.ID = id
	st.CreatedAt = time.Now().UTC()
	r.store.SetSession(st)
	return id, nil
}

// Get implements Repository.Get.
func (r *InMemoryRepository) Get(id SessionID) (*SessionState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.store.GetSession(id)
}

// Remove implements Repository.Remove.
func (r *InMemoryRepository) Remove(id SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.store.DeleteSession(id) {
		return ErrSessionNotFound
	}
	return nil
}

// Count implements Repository.Count.
func (r *InMemoryRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.store.ListSessionIDs())
}
