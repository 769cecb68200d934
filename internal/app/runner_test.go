package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"portal-notifier/internal/bootstrap"
	"portal-notifier/internal/components/telemetry"
	"portal-notifier/internal/notify"
	"portal-notifier/internal/portal"
	"portal-notifier/internal/portal/portaltest"
	"portal-notifier/internal/store"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newPortal(t testing.TB) *portaltest.Portal {
	p := portaltest.New("acme", "parent", "hunter2",
		portaltest.Student{
			Id:   "4821",
			Name: "Alice Smith",
			Enrollments: []portaltest.Enrollment{
				{
					Id:          "991",
					CourseId:    "10",
					Assignments: `{"assignments":[{"score_id":"s1","is_problem":1,"completion_status":"Late","assignment_description":"HW1"},{"score_id":"s2","is_problem":0}]}`,
				},
			},
		},
	)
	t.Cleanup(p.Close)
	return p
}

func newPushover(t testing.TB, status int) (*httptest.Server, *atomic.Int32) {
	count := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count.Add(1)
		w.Header().Set("content-type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusOK {
			_, _ = w.Write([]byte(`{"status":1,"request":"req"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":0,"errors":["application token is invalid"]}`))
	}))
	t.Cleanup(server.Close)
	return server, count
}

func newOptions(t testing.TB, portalUrl, pushoverUrl string, tel telemetry.API) Options {
	return Options{
		Bootstrap: bootstrap.Options{
			StoreUrl: filepath.Join(t.TempDir(), "portal.db"),
			Portal: portal.ClientOptions{
				BaseUrl:   portalUrl,
				Tenant:    "acme",
				RateLimit: rate.Inf,
				Timeout:   5 * time.Second,
			},
			Pushover: notify.PushoverOptions{
				Endpoint: pushoverUrl,
				Target:   notify.Target{UserKey: "user", AppToken: "token"},
				Timeout:  5 * time.Second,
			},
			Attempts: 1,
		},
		Credentials: portal.Credentials{Username: "parent", Password: "hunter2"},
		RunTimeout:  30 * time.Second,
		Telemetry:   tel,
	}
}

func TestRun(t *testing.T) {
	fake := newPortal(t)
	pushover, pushes := newPushover(t, http.StatusOK)
	tel := &telemetry.MemoryAPI{}
	runner := NewRunner(newOptions(t, fake.Url(), pushover.URL, tel))

	summary, err := runner.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, 1, summary.Sync.Students)
	require.Equal(t, 2, summary.Sync.Scores)
	require.Equal(t, 1, summary.Notified)
	require.Equal(t, int32(1), pushes.Load())

	// the store persists between runs so nothing is sent twice
	summary, err = runner.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, 0, summary.Notified)
	require.Equal(t, int32(1), pushes.Load())
	require.Equal(t, 2, fake.Logins())
	require.Empty(t, tel.Reports("broken"))
}

func TestRunNotificationFailure(t *testing.T) {
	fake := newPortal(t)
	pushover, _ := newPushover(t, http.StatusBadRequest)
	tel := &telemetry.MemoryAPI{}
	opts := newOptions(t, fake.Url(), pushover.URL, tel)

	_, err := NewRunner(opts).Run(context.Background())
	require.ErrorIs(t, err, notify.ErrNotification)
	require.NotEmpty(t, tel.Reports("broken"))

	s, err := store.Open(context.Background(), opts.Bootstrap.StoreUrl, tel)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	score, err := s.GetScore(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	require.False(t, score.Notified)
}

func TestRunSyncFailure(t *testing.T) {
	fake := newPortal(t)
	fake.FailPath("/app/dashboard", http.StatusBadGateway)
	pushover, pushes := newPushover(t, http.StatusOK)

	_, err := NewRunner(newOptions(t, fake.Url(), pushover.URL, &telemetry.MemoryAPI{})).Run(context.Background())
	require.ErrorIs(t, err, portal.ErrStatus)
	require.Equal(t, int32(0), pushes.Load())
}

func TestRunSkipsWhileInProgress(t *testing.T) {
	fake := newPortal(t)
	pushover, _ := newPushover(t, http.StatusOK)
	tel := &telemetry.MemoryAPI{}
	opts := newOptions(t, fake.Url(), pushover.URL, tel)

	entered := make(chan struct{})
	release := make(chan struct{})
	opts.Bootstrap.OpenStore = func(ctx context.Context, connString string, tel telemetry.API) (store.Store, error) {
		close(entered)
		<-release
		return store.Open(ctx, connString, tel)
	}
	runner := NewRunner(opts)

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = runner.Run(context.Background())
	}()

	<-entered
	_, err := runner.Run(context.Background())
	require.ErrorIs(t, err, ErrRunInProgress)
	require.Len(t, tel.Reports("warning"), 1)

	close(release)
	wg.Wait()
	require.NoError(t, firstErr)
}

type fakeCron struct {
	specs     []string
	callbacks []func()
	fail      error
}

func (f *fakeCron) Cron(spec string, callback func()) error {
	if f.fail != nil {
		return f.fail
	}
	f.specs = append(f.specs, spec)
	f.callbacks = append(f.callbacks, callback)
	return nil
}

func TestSchedule(t *testing.T) {
	fake := newPortal(t)
	pushover, pushes := newPushover(t, http.StatusOK)
	runner := NewRunner(newOptions(t, fake.Url(), pushover.URL, &telemetry.MemoryAPI{}))

	cron := &fakeCron{}
	err := runner.Schedule(context.Background(), cron, []string{"0 7 * * *", "0 16 * * *"})
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, []string{"0 7 * * *", "0 16 * * *"}, cron.specs)

	cron.callbacks[0]()
	require.Equal(t, 1, fake.Logins())
	require.Equal(t, int32(1), pushes.Load())
}

func TestScheduleInvalidSpec(t *testing.T) {
	runner := NewRunner(newOptions(t, "https://portal.test", "https://push.test", &telemetry.MemoryAPI{}))
	err := runner.Schedule(context.Background(), &fakeCron{fail: errors.New("bad spec")}, []string{"nope"})
	require.ErrorContains(t, err, "bad spec")
}
