package service

import "time"

type NotificationLevel string

const (
	LevelInfo  NotificationLevel = "info"
	LevelError NotificationLevel = "error"
)

// Notification reports the outcome of a background job to whoever listens.
type Notification struct {
	Time    time.Time
	Source  string
	Level   NotificationLevel
	Message string
	Err     error
}

// Notifier is a buffered, drop-when-full channel of notifications. Publishers never block.
type Notifier struct {
	ch chan Notification
}

func NewNotifier(buffer int) *Notifier {
	if buffer <= 0 {
		buffer = 16
	}
	return &Notifier{ch: make(chan Notification, buffer)}
}

// C is the receive side. It is never closed.
func (n *Notifier) C() <-chan Notification {
	return n.ch
}

// Publish sends without blocking and reports whether the notification was queued.
func (n *Notifier) Publish(note Notification) bool {
	if n == nil {
		return false
	}
	if note.Time.IsZero() {
		note.Time = utcNow()
	}
	select {
	case n.ch <- note:
		return true
	default:
		return false
	}
}
