package playback

import (
	"sync"
)

// Registry hands out playback sessions keyed by user and device token. The
// same (user, token) pair always maps to the same session, created lazily on
// first use, so reconnecting clients resume their transcode instead of
// spawning a new one.
type Registry struct {
	svc *Service

	mu       sync.Mutex
	sessions map[registryKey]*Session
}

type registryKey struct {
	userID      string
	deviceToken string
}

// NewRegistry creates an empty Registry backed by the given service.
func NewRegistry(svc *Service) *Registry {
	return &Registry{
		svc:      svc,
		sessions: make(map[registryKey]*Session),
	}
}

// Get returns the playback session for a user and device token, creating it
// on first use.
func (r *Registry) Get(userID, deviceToken string) *Session {
	key := registryKey{userID: userID, deviceToken: deviceToken}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[key]; ok {
		return s
	}
	s := newSession(r.svc, userID)
	r.sessions[key] = s
	return s
}

// Lookup returns the playback session with the given ID, or nil.
func (r *Registry) Lookup(playbackID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sessions {
		if s.ID == playbackID {
			return s
		}
	}
	return nil
}

// ActiveTranscode reports whether any playback session currently owns the
// transcode with the given ID. The orphan sweep uses this to avoid deleting
// directories of live transcodes.
func (r *Registry) ActiveTranscode(transcodeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sessions {
		if cur := s.Current(); cur != nil && cur.ID == transcodeID {
			return true
		}
	}
	return false
}

// ActiveCount returns how many playback sessions have a running transcode.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, s := range r.sessions {
		if s.Current() != nil {
			count++
		}
	}
	return count
}

// CloseAll tears down every session's transcode. Called on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
