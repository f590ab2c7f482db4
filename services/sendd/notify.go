package sendd

import (
	"log/slog"
	"sync"
	"time"

	"payconfirm/core/submission"
	"payconfirm/observability"
)

// ActiveNotification is the notification currently shown to the user.
type ActiveNotification struct {
	submission.Notification
	ShownAt   time.Time `json:"shownAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// NotificationHub keeps at most one visible notification. A notification
// disappears once its duration elapses or the user dismisses it.
type NotificationHub struct {
	now      func() time.Time
	onChange func()

	mu     sync.Mutex
	active *ActiveNotification
}

// NewNotificationHub constructs a hub. onChange, when set, is invoked after a
// notification is shown or dismissed.
func NewNotificationHub(onChange func()) *NotificationHub {
	return &NotificationHub{now: time.Now, onChange: onChange}
}

// Notify replaces the visible notification.
func (h *NotificationHub) Notify(note submission.Notification) {
	now := h.now()
	if note.Duration <= 0 {
		note.Duration = submission.NotificationTTL
	}
	h.mu.Lock()
	h.active = &ActiveNotification{Notification: note, ShownAt: now, ExpiresAt: now.Add(note.Duration)}
	h.mu.Unlock()
	h.changed()
}

// Active returns the visible notification, if any.
func (h *NotificationHub) Active() (ActiveNotification, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active == nil {
		return ActiveNotification{}, false
	}
	if !h.now().Before(h.active.ExpiresAt) {
		h.active = nil
		return ActiveNotification{}, false
	}
	return *h.active, true
}

// Dismiss hides the visible notification. It reports whether one was shown.
func (h *NotificationHub) Dismiss() bool {
	_, visible := h.Active()
	h.mu.Lock()
	h.active = nil
	h.mu.Unlock()
	if visible {
		h.changed()
	}
	return visible
}

func (h *NotificationHub) changed() {
	if h.onChange != nil {
		h.onChange()
	}
}

// Haptics records success feedback. The daemon has no vibration motor, so the
// pulse is logged and counted for the client to replay.
type Haptics struct {
	logger  *slog.Logger
	metrics *observability.SubmissionMetrics
}

// NewHaptics constructs the feedback sink.
func NewHaptics(logger *slog.Logger, metrics *observability.SubmissionMetrics) *Haptics {
	if logger == nil {
		logger = slog.Default()
	}
	return &Haptics{logger: logger, metrics: metrics}
}

// Vibrate implements submission.Haptics.
func (h *Haptics) Vibrate(d time.Duration) {
	h.metrics.RecordHaptic()
	h.logger.Info("haptic feedback", slog.Duration("duration", d))
}
