package gateway

import (
	"time"

	"hls-engine/internal/platform/metrics"
	"hls-engine/internal/player"
)

// Service hosts engine sessions for remote drivers. It creates sessions with
// the configured player options and serializes calls into each of them.
type Service struct {
	repo    Repository
	opts    []player.Option
	metrics *metrics.Metrics
}

// NewService returns a Service that stores sessions in repo and builds them
// with opts. Metrics may be nil to disable metric recording (e.g. in tests).
func NewService(repo Repository, m *metrics.Metrics, opts ...player.Option) *Service {
	return &Service{repo: repo, opts: opts, metrics: m}
}

// CreateSession creates a session for the playlist at rawURL. It fails with an
// InvalidInput engine error for a relative or malformed URL and with
// ErrTooManySessions once the repository is full.
func (s *Service) CreateSession(rawURL string) (*SessionState, error) {
	sess, err := player.NewSession(rawURL, s.opts...)
	if err != nil {
		s.engineError(err)
		return nil, err
	}
	st := &SessionState{URL: sess.URL(), session: sess}
	if _, err := s.repo.Add(st); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IncSessionsCreated()
	}
	return st, nil
}

// Play starts the session with the fetched text of its initial URL.
func (s *Service) Play(id SessionID, text []byte) error {
	return s.do(id, func(sess *player.Session) error {
		return s.engineError(sess.Play(text))
	})
}

// NextAction pops the next action of the session. ok is false when none is pending.
func (s *Service) NextAction(id SessionID) (action player.Action, ok bool, err error) {
	err = s.do(id, func(sess *player.Session) error {
		action, ok = sess.NextAction()
		return nil
	})
	if ok && s.metrics != nil {
		s.metrics.IncActions(string(action.Type))
	}
	return action, ok, err
}

// NextOutput pops the next fragmented MP4 chunk of the session, or returns nil.
func (s *Service) NextOutput(id SessionID) (chunk []byte, err error) {
	err = s.do(id, func(sess *player.Session) error {
		chunk = sess.NextOutput()
		return nil
	})
	if chunk != nil && s.metrics != nil {
		s.metrics.AddOutput(len(chunk))
	}
	return chunk, err
}

// HandleData delivers the bytes fetched for action actionID. fetchDuration is
// how long the driver spent fetching them; zero means unknown.
func (s *Service) HandleData(id SessionID, actionID player.ActionID, data []byte, fetchDuration time.Duration) error {
	if fetchDuration > 0 && s.metrics != nil {
		s.metrics.ObserveFetch(fetchDuration)
	}
	return s.do(id, func(sess *player.Session) error {
		return s.engineError(sess.HandleData(actionID, data))
	})
}

// HandleTimeout reports that the SetTimeout action actionID elapsed.
func (s *Service) HandleTimeout(id SessionID, actionID player.ActionID) error {
	return s.do(id, func(sess *player.Session) error {
		return s.engineError(sess.HandleTimeout(actionID))
	})
}

// Describe returns the session metadata and a stats snapshot.
func (s *Service) Describe(id SessionID) (SessionResponse, error) {
	st, ok := s.repo.Get(id)
	if !ok {
		return SessionResponse{}, ErrSessionNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return SessionResponse{
		ID:        st.ID,
		URL:       st.URL,
		CreatedAt: st.CreatedAt,
		Stats:     st.session.Stats(),
	}, nil
}

// Destroy removes the session. Outstanding actions of the session are dropped.
func (s *Service) Destroy(id SessionID) error {
	if err := s.repo.Remove(id); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.IncSessionsDestroyed()
	}
	return nil
}

// ActiveSessions returns the number of hosted sessions.
func (s *Service) ActiveSessions() int {
	return s.repo.Count()
}

func (s *Service) do(id SessionID, fn func(*player.Session) error) error {
	st, ok := s.repo.Get(id)
	if !ok {
		return ErrSessionNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return fn(st.session)
}

func (s *Service) engineError(err error) error {
	if err != nil && s.metrics != nil {
		s.metrics.IncEngineErrors(player.KindOf(err).String())
	}
	return err
}
