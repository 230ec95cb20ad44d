package session

import (
	"sync"

	"go.uber.org/zap"
)

// Severity selects how a notification is presented.
type Severity string

const (
	SeverityDefault     Severity = "default"
	SeverityDestructive Severity = "destructive"
)

// Notification is a transient, non-fatal message for the user.
type Notification struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
}

// Notifier receives the notifications a session produces.
type Notifier interface {
	Notify(Notification)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Notification)

// Notify calls f.
func (f NotifierFunc) Notify(n Notification) { f(n) }

// Queue buffers notifications until the presentation layer drains them.
type Queue struct {
	mu    sync.Mutex
	items []Notification
}

// Notify appends n to the queue.
func (q *Queue) Notify(n Notification) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, n)
}

// Drain returns and clears the queued notifications.
func (q *Queue) Drain() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	if items == nil {
		return []Notification{}
	}
	return items
}

// LogNotifier writes notifications to a structured logger.
func LogNotifier(logger *zap.Logger) Notifier {
	return NotifierFunc(func(n Notification) {
		fields := []zap.Field{zap.String("title", n.Title), zap.String("description", n.Description)}
		if n.Severity == SeverityDestructive {
			logger.Warn("notification", fields...)
			return
		}
		logger.Info("notification", fields...)
	})
}

// MultiNotifier fans a notification out to every non-nil notifier.
func MultiNotifier(notifiers ...Notifier) Notifier {
	return NotifierFunc(func(n Notification) {
		for _, notifier := range notifiers {
			if notifier != nil {
				notifier.Notify(n)
			}
		}
	})
}

var (
	invalidFileTypeNotice = Notification{
		Title:       "Invalid file type",
		Description: "Please upload a valid image file (JPG, JPEG, PNG)",
		Severity:    SeverityDestructive,
	}
	fileTooLargeNotice = Notification{
		Title:       "File too large",
		Description: "Please upload an image no larger than 10MB",
		Severity:    SeverityDestructive,
	}
	analysisCompleteNotice = Notification{
		Title:       "Analysis Complete",
		Description: "Your X-ray has been analyzed successfully",
		Severity:    SeverityDefault,
	}
	analysisFailedNotice = Notification{
		Title:       "Analysis Failed",
		Description: "Unable to connect to the inference service. Please ensure it is running.",
		Severity:    SeverityDestructive,
	}
	malformedResponseNotice = Notification{
		Title:       "Analysis Failed",
		Description: "The inference service returned an unexpected response.",
		Severity:    SeverityDestructive,
	}
)
