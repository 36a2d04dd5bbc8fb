package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediscout/internal/app"
	"mediscout/internal/domain/appointment"
	"mediscout/internal/domain/auth"
	idb "mediscout/internal/infra/database"
	"mediscout/internal/infra/logger"
	"mediscout/internal/infra/medicover"
	"mediscout/internal/infra/scheduler"
)

// --- Fakes ---

type fakePoller struct {
	mu       sync.Mutex
	watches  []appointment.Watch
	listErr  error
	pollErrs map[int64]error
	polled   []int64
	onPoll   func(w appointment.Watch)
}

func (f *fakePoller) ListWatches(_ context.Context) ([]appointment.Watch, error) {
	return f.watches, f.listErr
}

func (f *fakePoller) PollWatch(_ context.Context, w appointment.Watch) error {
	f.mu.Lock()
	f.polled = append(f.polled, w.ID)
	f.mu.Unlock()
	if f.onPoll != nil {
		f.onPoll(w)
	}
	return f.pollErrs[w.ID]
}

func (f *fakePoller) polledIDs() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.polled...)
}

type staticAuthenticator struct {
	calls atomic.Int32
}

func (a *staticAuthenticator) Authenticate(_ context.Context, _ auth.Identity) (*auth.Credential, error) {
	a.calls.Add(1)
	return &auth.Credential{AccessToken: "token", ObtainedAt: time.Now()}, nil
}

type countingNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *countingNotifier) Send(_ context.Context, _ string, title string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
	return nil
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.titles)
}

func watches(ids ...int64) []appointment.Watch {
	var out []appointment.Watch
	for _, id := range ids {
		out = append(out, appointment.Watch{ID: id})
	}
	return out
}

func newScheduler(t *testing.T, p scheduler.WatchPoller, every time.Duration) *scheduler.WatchScheduler {
	t.Helper()
	sched, err := scheduler.Schedule("", every)
	require.NoError(t, err)
	return scheduler.NewWatchScheduler(p, sched, logger.Discard())
}

// --- Tests ---

func TestSchedule(t *testing.T) {
	s, err := scheduler.Schedule("", 90*time.Second)
	require.NoError(t, err)
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, base.Add(90*time.Second), s.Next(base))

	s, err = scheduler.Schedule("*/5 * * * *", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 5, 0, 0, time.UTC), s.Next(base))

	_, err = scheduler.Schedule("every tuesday", time.Minute)
	assert.Error(t, err)

	_, err = scheduler.Schedule("", 0)
	assert.Error(t, err)
}

func TestRunCycle_ContinuesAfterWatchFailure(t *testing.T) {
	p := &fakePoller{
		watches:  watches(1, 2, 3),
		pollErrs: map[int64]error{2: errors.New("api timeout")},
	}
	s := newScheduler(t, p, time.Minute)

	require.NoError(t, s.RunCycle(context.Background()))
	assert.Equal(t, []int64{1, 2, 3}, p.polledIDs())
}

func TestRunCycle_StopsOnStoreFailure(t *testing.T) {
	p := &fakePoller{
		watches:  watches(1, 2, 3),
		pollErrs: map[int64]error{2: fmt.Errorf("%w: disk full", idb.ErrStore)},
	}
	s := newScheduler(t, p, time.Minute)

	err := s.RunCycle(context.Background())
	assert.ErrorIs(t, err, idb.ErrStore)
	assert.Equal(t, []int64{1, 2}, p.polledIDs())
}

func TestRun_ReturnsStoreFailure(t *testing.T) {
	p := &fakePoller{listErr: fmt.Errorf("%w: locked", idb.ErrStore)}
	s := newScheduler(t, p, time.Minute)

	err := s.Run(context.Background())
	assert.ErrorIs(t, err, idb.ErrStore)
	assert.Equal(t, scheduler.StateIdle, s.State())
}

func TestRun_CancelBetweenWatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := &fakePoller{watches: watches(1, 2, 3)}
	p.onPoll = func(w appointment.Watch) {
		if w.ID == 1 {
			cancel()
		}
	}
	s := newScheduler(t, p, time.Minute)

	require.NoError(t, s.Run(ctx))
	assert.Equal(t, []int64{1}, p.polledIDs())
	assert.Equal(t, scheduler.StateShutdownRequested, s.State())
}

func TestRun_CancelDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := &fakePoller{watches: watches(1)}
	s := newScheduler(t, p, time.Hour)

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.State() == scheduler.StateSleeping }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
	assert.Equal(t, []int64{1}, p.polledIDs())
	assert.Equal(t, scheduler.StateShutdownRequested, s.State())
}

func TestRun_RepeatsAfterSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := &fakePoller{watches: watches(7)}
	var cycles atomic.Int32
	p.onPoll = func(appointment.Watch) {
		if cycles.Add(1) == 2 {
			cancel()
		}
	}
	s := newScheduler(t, p, time.Second)

	require.NoError(t, s.Run(ctx))
	assert.Equal(t, []int64{7, 7}, p.polledIDs())
}

// TestEndToEnd_NotifiesOncePerSlot wires the real ledger, API client and
// service against a fake API returning one matching slot.
func TestEndToEnd_NotifiesOncePerSlot(t *testing.T) {
	ctx := context.Background()

	var apiCalls atomic.Int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiCalls.Add(1)
		assert.Equal(t, "1", r.URL.Query().Get("RegionIds"))
		assert.Equal(t, "2", r.URL.Query().Get("SpecialtyIds"))
		assert.Equal(t, "2024-01-01", r.URL.Query().Get("StartTime"))
		_, _ = w.Write([]byte(`{"items":[{"appointmentDate":"2099-01-05T08:30:00","clinic":{"id":10,"name":"Centrum"},"doctor":{"id":20,"name":"Dr Nowak"},"specialty":{"id":2,"name":"Dermatolog"}}]}`))
	}))
	defer api.Close()

	ledger, err := idb.OpenLedger(ctx, filepath.Join(t.TempDir(), "appointments.db"),
		idb.WithClock(func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local) }))
	require.NoError(t, err)
	defer ledger.Close()

	authn := &staticAuthenticator{}
	client := medicover.NewClient(medicover.ClientConfig{APIURL: api.URL, MaxReauth: 1},
		authn, auth.Identity{Username: "u", Password: "p"}, logger.Discard())
	notifier := &countingNotifier{}
	svc := app.NewWatchService(client, ledger, ledger, notifier, logger.Discard())

	_, err = svc.AddWatch(ctx, appointment.SearchCriteria{
		RegionID:     1,
		SpecialtyIDs: []int64{2},
		StartDate:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local),
	})
	require.NoError(t, err)

	s := newScheduler(t, svc, time.Minute)

	require.NoError(t, s.RunCycle(ctx))
	assert.Equal(t, 1, notifier.count())
	assert.Equal(t, []string{"Dermatolog"}, notifier.titles)

	require.NoError(t, s.RunCycle(ctx))
	assert.Equal(t, 1, notifier.count(), "second cycle produces no notification")

	assert.Equal(t, int32(2), apiCalls.Load())
	assert.Equal(t, int32(1), authn.calls.Load())
}
