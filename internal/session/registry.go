package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Registry is the process-wide set of live sessions. It is the only
// structure shared between connections.
type Registry struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	maxSessions int
	opts        Options
}

// NewRegistry creates a registry. maxSessions <= 0 means unlimited.
func NewRegistry(maxSessions int, opts Options) *Registry {
	if opts.TranscriptSize <= 0 {
		opts.TranscriptSize = 500
	}
	if opts.InputQueue <= 0 {
		opts.InputQueue = 256
	}
	opts.Logger = opts.Logger.With().Str("component", "session").Logger()
	return &Registry{
		sessions:    make(map[string]*Session),
		maxSessions: maxSessions,
		opts:        opts,
	}
}

// Create registers a new idle session whose messages go to sender.
func (r *Registry) Create(sender Sender) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
		return nil, fmt.Errorf("%w (%d)", ErrMaxSessions, r.maxSessions)
	}

	id := uuid.New().String()
	sess := newSession(id, sender, &r.opts)
	r.sessions[id] = sess
	r.opts.Metrics.SessionOpened()
	sess.logger.Debug().Int("sessions", len(r.sessions)).Msg("session created")
	return sess, nil
}

// Get returns a session by ID.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// Remove terminates and forgets a session. Removing an unknown or already
// removed ID is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return
	}
	r.opts.Metrics.SessionClosed()
	sess.Terminate()
}

// List returns snapshots of all sessions, oldest first.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	result := make([]Snapshot, 0, len(r.sessions))
	for _, sess := range r.sessions {
		result = append(result, sess.Snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Shutdown removes every session and waits until their processes are gone
// or ctx ends.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	sessions := make([]*Session, 0, len(r.sessions))
	for id, sess := range r.sessions {
		ids = append(ids, id)
		sessions = append(sessions, sess)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.Remove(id)
	}
	for _, sess := range sessions {
		select {
		case <-sess.Closed():
		case <-ctx.Done():
			return fmt.Errorf("waiting for sessions: %w", ctx.Err())
		}
	}
	return nil
}
