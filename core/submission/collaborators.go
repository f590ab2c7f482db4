package submission

import (
	"context"
	"time"
)

const (
	// NotificationTTL is how long a failure notification stays visible unless
	// dismissed first.
	NotificationTTL = 60 * time.Second
	// SuccessVibration is the haptic pulse emitted after a successful payment.
	SuccessVibration = 32 * time.Millisecond
	// RefreshTimeout bounds the balance refresh that follows a successful
	// payment.
	RefreshTimeout = 10 * time.Second
)

// PaymentSubmitter executes the payment for the ambient payment request.
type PaymentSubmitter interface {
	SubmitPayment(ctx context.Context) error
}

// BalanceRefresher reloads balances after a payment. Failures are logged by
// the controller and never change the submission outcome.
type BalanceRefresher interface {
	RefreshBalance(ctx context.Context) error
}

// NotificationKind tags the severity of a notification.
type NotificationKind string

const (
	NotificationDanger NotificationKind = "danger"
)

// Notification is a long-lived, dismissible message surfaced to the user.
type Notification struct {
	Kind       NotificationKind `json:"kind"`
	Text       string           `json:"text"`
	ButtonText string           `json:"buttonText"`
	Duration   time.Duration    `json:"duration"`
}

// Notifier surfaces notifications to the user.
type Notifier interface {
	Notify(Notification)
}

// Haptics emits tactile feedback.
type Haptics interface {
	Vibrate(d time.Duration)
}

// SubmitterFunc adapts a function to PaymentSubmitter.
type SubmitterFunc func(ctx context.Context) error

// SubmitPayment implements PaymentSubmitter.
func (f SubmitterFunc) SubmitPayment(ctx context.Context) error { return f(ctx) }

// RefresherFunc adapts a function to BalanceRefresher.
type RefresherFunc func(ctx context.Context) error

// RefreshBalance implements BalanceRefresher.
func (f RefresherFunc) RefreshBalance(ctx context.Context) error { return f(ctx) }

type noopNotifier struct{}

func (noopNotifier) Notify(Notification) {}

type noopHaptics struct{}

func (noopHaptics) Vibrate(time.Duration) {}
