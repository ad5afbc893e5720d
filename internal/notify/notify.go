package notify

import "fmt"

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification represents a notification to be sent
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	RunID   string // Optional run reference
	PRURL   string // Optional PR URL
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// RunCompleted builds the notification for a run that delivered a PR
func RunCompleted(runID, prURL string, resolved, unresolved int) Notification {
	typ := NotifySuccess
	msg := fmt.Sprintf("%d fix(es) delivered", resolved)
	if unresolved > 0 {
		typ = NotifyWarning
		msg = fmt.Sprintf("%d fix(es) delivered, %d failure(s) left unresolved", resolved, unresolved)
	}
	return Notification{
		Title:   "Remediation run complete",
		Message: msg,
		Type:    typ,
		RunID:   runID,
		PRURL:   prURL,
	}
}

// RunFailed builds the notification for a run that ended in FAILED
func RunFailed(runID, reason string) Notification {
	return Notification{
		Title:   "Remediation run failed",
		Message: reason,
		Type:    NotifyError,
		RunID:   runID,
	}
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers
func (m *MultiNotifier) Send(n Notification) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }
