package sendd

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"payconfirm/core/submission"
	"payconfirm/observability"
)

func TestNotificationHubExpiresAfterDuration(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	changes := 0
	hub := NewNotificationHub(func() { changes++ })
	hub.now = func() time.Time { return now }

	hub.Notify(submission.Notification{Kind: submission.NotificationDanger, Text: "Error: boom", ButtonText: "Okay", Duration: submission.NotificationTTL})
	active, ok := hub.Active()
	require.True(t, ok)
	require.Equal(t, "Error: boom", active.Text)
	require.Equal(t, now.Add(60*time.Second), active.ExpiresAt)
	require.Equal(t, 1, changes)

	now = now.Add(59 * time.Second)
	_, ok = hub.Active()
	require.True(t, ok)

	now = now.Add(time.Second)
	_, ok = hub.Active()
	require.False(t, ok)
	require.False(t, hub.Dismiss())
	require.Equal(t, 1, changes)
}

func TestNotificationHubDismiss(t *testing.T) {
	hub := NewNotificationHub(nil)
	hub.Notify(submission.Notification{Text: "Error: boom"})
	active, ok := hub.Active()
	require.True(t, ok)
	require.Equal(t, submission.NotificationTTL, active.Duration)

	require.True(t, hub.Dismiss())
	_, ok = hub.Active()
	require.False(t, ok)
	require.False(t, hub.Dismiss())
}

func TestHapticsCountsVibrations(t *testing.T) {
	metrics := observability.Submission()
	before := counterValue(t, "payconfirm_submission_haptic_feedback_total")
	NewHaptics(nil, metrics).Vibrate(submission.SuccessVibration)
	require.Equal(t, before+1, counterValue(t, "payconfirm_submission_haptic_feedback_total"))
}

func counterValue(t *testing.T, name string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		total := 0.0
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
		return total
	}
	return 0
}
