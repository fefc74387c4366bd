package netmon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestMonitor(t *testing.T, holdoff time.Duration) (*Monitor, *time.Time) {
	t.Helper()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m := New(nil,
		WithHoldoff(holdoff),
		WithClock(func() time.Time { return now }),
	)
	return m, &now
}

func TestMonitorStartsOnline(t *testing.T) {
	m, _ := newTestMonitor(t, 5*time.Second)
	require.True(t, m.IsOnline())
}

func TestObserveHoldsOffTransition(t *testing.T) {
	m, now := newTestMonitor(t, 5*time.Second)

	m.Observe(false)
	require.True(t, m.IsOnline(), "first failing observation must not flip state")

	*now = now.Add(2 * time.Second)
	m.Observe(false)
	require.True(t, m.IsOnline(), "candidate inside hold-off window must not flip state")

	*now = now.Add(4 * time.Second)
	m.Observe(false)
	require.False(t, m.IsOnline(), "candidate held through window must commit")
}

func TestObserveSuppressesFlap(t *testing.T) {
	m, now := newTestMonitor(t, 5*time.Second)

	m.Observe(false)
	*now = now.Add(3 * time.Second)
	m.Observe(true) // agrees with committed state, resets the candidate
	*now = now.Add(3 * time.Second)
	m.Observe(false)
	require.True(t, m.IsOnline(), "flapping probe must not commit a transition")

	*now = now.Add(6 * time.Second)
	m.Observe(false)
	require.False(t, m.IsOnline())
}

func TestSubscribeNotifiesOncePerTransition(t *testing.T) {
	m, now := newTestMonitor(t, time.Second)

	var states []bool
	m.Subscribe(func(online bool) { states = append(states, online) })

	m.Observe(false)
	*now = now.Add(2 * time.Second)
	m.Observe(false)
	m.Observe(false) // already committed, must not re-notify
	m.SetOnline(true)
	m.SetOnline(true) // no change, no notification

	require.Equal(t, []bool{false, true}, states)
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	m, _ := newTestMonitor(t, 0)

	calls := 0
	unsubscribe := m.Subscribe(func(bool) { calls++ })

	m.SetOnline(false)
	unsubscribe()
	m.SetOnline(true)

	require.Equal(t, 1, calls)
}

func TestSetOnlineBypassesHoldoff(t *testing.T) {
	m, _ := newTestMonitor(t, time.Hour)

	m.SetOnline(false)
	require.False(t, m.IsOnline())

	m.SetOnline(true)
	require.True(t, m.IsOnline())
}

func TestSetOnlineDiscardsPendingCandidate(t *testing.T) {
	m, now := newTestMonitor(t, 5*time.Second)

	m.Observe(false)
	m.SetOnline(false)
	m.SetOnline(true)

	// The stale offline candidate must not commit after the host went online.
	*now = now.Add(10 * time.Second)
	m.Observe(true)
	require.True(t, m.IsOnline())
}

func TestHTTPProbe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	probe := HTTPProbe(server.URL)
	require.True(t, probe(context.Background()), "any HTTP response proves reachability")

	server.Close()
	require.False(t, probe(context.Background()))
}

func TestZeroHoldoffCommitsImmediately(t *testing.T) {
	m, _ := newTestMonitor(t, 0)

	m.Observe(false)
	require.False(t, m.IsOnline())
}
