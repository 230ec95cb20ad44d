package session

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/pneumoscan/internal/inference"
)

// DefaultMaxSessions bounds the number of live sessions kept in memory.
const DefaultMaxSessions = 1024

// ErrSessionNotFound is returned for unknown or evicted session IDs.
var ErrSessionNotFound = errors.New("session not found")

type registryEntry struct {
	session *Session
	queue   *Queue
}

// Registry owns the live sessions and their notification queues. When full,
// the oldest session is evicted.
type Registry struct {
	client      inference.Client
	history     HistoryAppender
	logger      *zap.Logger
	maxSessions int
	opts        []Option

	mu       sync.Mutex
	sessions map[string]registryEntry
	order    []string
}

// NewRegistry creates an empty registry. maxSessions <= 0 selects
// DefaultMaxSessions.
func NewRegistry(client inference.Client, hist HistoryAppender, logger *zap.Logger, maxSessions int, opts ...Option) *Registry {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Registry{
		client:      client,
		history:     hist,
		logger:      logger.Named("session_registry"),
		maxSessions: maxSessions,
		opts:        opts,
		sessions:    make(map[string]registryEntry),
	}
}

// Create starts a new idle session.
func (r *Registry) Create() *Session {
	id := uuid.NewString()
	queue := &Queue{}
	s := New(id, r.client, r.history, MultiNotifier(queue, LogNotifier(r.logger.With(zap.String("session_id", id)))), r.logger, r.opts...)

	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.order) >= r.maxSessions {
		oldest := r.order[0]
		r.order = r.order[1:]
		if entry, ok := r.sessions[oldest]; ok {
			entry.session.Reset()
			delete(r.sessions, oldest)
			r.logger.Info("evicted session", zap.String("session_id", oldest))
		}
	}
	r.sessions[id] = registryEntry{session: s, queue: queue}
	r.order = append(r.order, id)
	return s
}

// Get looks up a live session.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return entry.session, nil
}

// Drain returns and clears the pending notifications of a session.
func (r *Registry) Drain(id string) ([]Notification, error) {
	r.mu.Lock()
	entry, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return entry.queue.Drain(), nil
}

// Delete resets and forgets a session.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	entry.session.Reset()
	delete(r.sessions, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
