package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/pneumoscan/internal/classifier"
	"github.com/example/pneumoscan/internal/history"
	"github.com/example/pneumoscan/internal/inference"
	"github.com/example/pneumoscan/internal/ingest"
	"github.com/example/pneumoscan/internal/logging"
)

// Status is the state of an upload session.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusPreviewing Status = "previewing"
	StatusAnalyzing  Status = "analyzing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var (
	// ErrNoFile is returned by Analyze when no file has been selected.
	ErrNoFile = errors.New("no file selected")
	// ErrAnalysisInProgress is returned by Analyze while a request is pending.
	ErrAnalysisInProgress = errors.New("analysis already in progress")
	// ErrNotReady is returned by Analyze outside the previewing state.
	ErrNotReady = errors.New("session is not ready for analysis")
	// ErrStaleResponse is returned when a decode or inference result arrives
	// after the session was reset or given a new file. The result is dropped.
	ErrStaleResponse = errors.New("session changed while operation was pending")
)

// HistoryAppender records completed analyses.
type HistoryAppender interface {
	Append(ctx context.Context, entry history.Entry) (history.Log, error)
}

// Snapshot is a consistent copy of the session state.
type Snapshot struct {
	ID          string             `json:"id"`
	Status      Status             `json:"status"`
	FileName    string             `json:"file_name,omitempty"`
	ContentType string             `json:"content_type,omitempty"`
	Preview     string             `json:"preview,omitempty"`
	Result      *classifier.Result `json:"result,omitempty"`
	Generation  uint64             `json:"generation"`
}

// Session ties file ingestion, the inference call, classification and the
// history log together for one user interaction.
//
// Every SelectFile commit and every Reset advances generation. Analyze
// remembers the generation it started under and drops the response when it
// no longer matches; the request context is cancelled as well, so a stale
// request stops early where the transport allows it. A pending decode commits
// only if no other selection or reset committed while it was running.
type Session struct {
	id       string
	client   inference.Client
	history  HistoryAppender
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time

	mu         sync.Mutex
	generation uint64
	status     Status
	file       *ingest.File
	preview    *ingest.Preview
	result     *classifier.Result
	cancel     context.CancelFunc
}

// Option configures a Session.
type Option func(*Session)

// WithClock overrides the clock used to timestamp history entries.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// New creates an idle session.
func New(id string, client inference.Client, hist HistoryAppender, notifier Notifier, logger *zap.Logger, opts ...Option) *Session {
	if notifier == nil {
		notifier = NotifierFunc(func(Notification) {})
	}
	s := &Session{
		id:       id,
		client:   client,
		history:  hist,
		notifier: notifier,
		logger:   logging.WithOperation(logger.Named("session"), "session", id),
		now:      time.Now,
		status:   StatusIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{ID: s.id, Status: s.status, Generation: s.generation}
	if s.file != nil {
		snap.FileName = s.file.Name
		snap.ContentType = s.file.ContentType
	}
	if s.preview != nil {
		snap.Preview = s.preview.DataURL
	}
	if s.result != nil {
		result := *s.result
		snap.Result = &result
	}
	return snap
}

func (s *Session) transitionLocked(to Status) {
	if s.status != to {
		s.logger.Debug("session transition", zap.String("from", string(s.status)), zap.String("to", string(to)))
	}
	s.status = to
}

// SelectFile validates and decodes a new file. On success any previous file,
// preview and result are discarded and the session becomes previewing. On
// rejection the session is left as it was.
func (s *Session) SelectFile(ctx context.Context, name, contentType string, r io.Reader, source ingest.Source) (Snapshot, error) {
	if err := ingest.Validate(contentType, source); err != nil {
		s.logger.Info("file rejected", zap.String("content_type", contentType), zap.String("source", string(source)))
		s.notifier.Notify(invalidFileTypeNotice)
		return s.Snapshot(), err
	}

	s.mu.Lock()
	startGen := s.generation
	s.mu.Unlock()

	file, preview, err := ingest.Ingest(ctx, name, contentType, r, source)
	if err != nil {
		if errors.Is(err, ingest.ErrFileTooLarge) {
			return s.RejectTooLarge(), err
		}
		return s.Snapshot(), err
	}

	s.mu.Lock()
	if startGen != s.generation {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.logger.Info("discarding superseded file decode", zap.String("file", name))
		return snap, ErrStaleResponse
	}
	s.generation++
	s.cancelPendingLocked()
	s.file = file
	s.preview = &preview
	s.result = nil
	s.transitionLocked(StatusPreviewing)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	return snap, nil
}

// RejectTooLarge reports a file over the upload limit. The session state is
// not changed.
func (s *Session) RejectTooLarge() Snapshot {
	s.logger.Info("file rejected", zap.String("reason", ingest.ErrFileTooLarge.Error()))
	s.notifier.Notify(fileTooLargeNotice)
	return s.Snapshot()
}

// Analyze submits the selected file to the inference service once and
// classifies the response. At most one request is outstanding per session.
func (s *Session) Analyze(ctx context.Context) (classifier.Result, error) {
	s.mu.Lock()
	switch {
	case s.status == StatusAnalyzing:
		s.mu.Unlock()
		return classifier.Result{}, ErrAnalysisInProgress
	case s.file == nil:
		s.mu.Unlock()
		return classifier.Result{}, ErrNoFile
	case s.status != StatusPreviewing:
		s.mu.Unlock()
		return classifier.Result{}, ErrNotReady
	}
	s.transitionLocked(StatusAnalyzing)
	generation := s.generation
	file := s.file
	thumbnail := s.preview.DataURL
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancel = cancel
	s.mu.Unlock()

	prediction, err := s.client.Predict(reqCtx, file)

	s.mu.Lock()
	if generation != s.generation {
		s.mu.Unlock()
		s.logger.Info("discarding stale inference response", zap.Uint64("generation", generation))
		return classifier.Result{}, ErrStaleResponse
	}
	s.cancel = nil
	if err != nil {
		s.transitionLocked(StatusFailed)
		s.transitionLocked(StatusPreviewing)
		s.mu.Unlock()

		err = logging.NewOperationError("session.analyze", s.id, err)
		s.logger.Warn("analysis failed", zap.Error(err))
		if errors.Is(err, inference.ErrMalformedResponse) {
			s.notifier.Notify(malformedResponseNotice)
		} else {
			s.notifier.Notify(analysisFailedNotice)
		}
		return classifier.Result{}, err
	}

	result := classifier.NewResult(prediction.Label, prediction.Confidence)
	s.result = &result
	s.transitionLocked(StatusCompleted)
	s.mu.Unlock()

	entry := history.Entry{
		Prediction: prediction.Label,
		Confidence: prediction.Confidence,
		Timestamp:  s.now().UTC(),
		Thumbnail:  thumbnail,
	}
	if _, err := s.history.Append(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Error("failed to persist history entry", zap.Error(logging.NewOperationError("session.record_history", s.id, err)))
	}

	s.logger.Info("analysis complete",
		zap.String("category", string(result.Category)),
		zap.Float64("confidence", result.Confidence),
	)
	s.notifier.Notify(analysisCompleteNotice)
	return result, nil
}

// Reset returns the session to idle, discarding file, preview and result.
// Pending decodes and requests are invalidated.
func (s *Session) Reset() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.cancelPendingLocked()
	s.file = nil
	s.preview = nil
	s.result = nil
	s.transitionLocked(StatusIdle)
	return s.snapshotLocked()
}

func (s *Session) cancelPendingLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}
