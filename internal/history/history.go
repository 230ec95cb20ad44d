package history

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/pneumoscan/internal/logging"
	"github.com/example/pneumoscan/internal/repository"
)

const (
	// Capacity is the maximum number of entries retained.
	Capacity = 20
	// DefaultKey is the storage key the log is kept under.
	DefaultKey = "scanHistory"
)

// Entry records one completed analysis.
type Entry struct {
	Prediction string    `json:"prediction"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
	Thumbnail  string    `json:"thumbnail"`
}

// Log is ordered newest first and never longer than Capacity.
type Log []Entry

// Prepend returns a new log with entry first, truncated to Capacity. The
// receiver is left untouched.
func (l Log) Prepend(entry Entry) Log {
	size := len(l) + 1
	if size > Capacity {
		size = Capacity
	}
	next := make(Log, 0, size)
	next = append(next, entry)
	for _, existing := range l {
		if len(next) == Capacity {
			break
		}
		next = append(next, existing)
	}
	return next
}

// Store persists the log as a single serialized value in a key-value
// repository. Reads fail open: a missing or undecodable value is an empty log.
type Store struct {
	kv     repository.KeyValue
	key    string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewStore constructs a store writing under key (DefaultKey when empty).
func NewStore(kv repository.KeyValue, key string, logger *zap.Logger) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{kv: kv, key: key, logger: logger.Named("history_store")}
}

// ReadAll returns the persisted log, or an empty log when storage is missing,
// unreachable or corrupt.
func (s *Store) ReadAll(ctx context.Context) Log {
	raw, err := s.kv.Get(ctx, s.key)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("history unreadable, treating as empty", zap.Error(err))
		}
		return Log{}
	}

	var log Log
	if err := json.Unmarshal(raw, &log); err != nil {
		s.logger.Warn("history corrupt, treating as empty", zap.Error(err))
		return Log{}
	}
	if log == nil {
		return Log{}
	}
	if len(log) > Capacity {
		log = log[:Capacity]
	}
	return log
}

// Append prepends entry and overwrites the stored log in one write. The
// resulting log is returned even when the write fails.
func (s *Store) Append(ctx context.Context, entry Entry) (Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.ReadAll(ctx).Prepend(entry)

	payload, err := json.Marshal(next)
	if err != nil {
		return next, logging.NewOperationError("history.encode", "", err)
	}
	if err := s.kv.Put(ctx, s.key, payload); err != nil {
		return next, logging.NewOperationError("history.append", "", err)
	}
	return next, nil
}
