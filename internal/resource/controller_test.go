package resource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docqa/indexer/internal/config"
	"github.com/docqa/indexer/internal/domain"
)

// fakeTenant is an httptest-backed model server whose health flips with the
// supervisor-driven running state.
type fakeTenant struct {
	mu      sync.Mutex
	running bool
	asleep  bool
	srv     *httptest.Server
}

func newFakeTenant(t *testing.T, running bool) *fakeTenant {
	t.Helper()
	ft := &fakeTenant{running: running}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		if !ft.running {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/sleep", func(w http.ResponseWriter, r *http.Request) {
		ft.mu.Lock()
		ft.asleep = true
		ft.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/wake_up", func(w http.ResponseWriter, r *http.Request) {
		ft.mu.Lock()
		ft.asleep = false
		ft.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	ft.srv = httptest.NewServer(mux)
	t.Cleanup(ft.srv.Close)
	return ft
}

func (ft *fakeTenant) setRunning(running bool) {
	ft.mu.Lock()
	ft.running = running
	ft.mu.Unlock()
}

func (ft *fakeTenant) isRunning() bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.running
}

func (ft *fakeTenant) isAsleep() bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.asleep
}

// fakeSupervisor flips the fake tenants' running state by container name.
type fakeSupervisor struct {
	mu      sync.Mutex
	tenants map[string]*fakeTenant
	starts  []string
	stops   []string
}

func (f *fakeSupervisor) Available() bool { return true }

func (f *fakeSupervisor) Start(ctx context.Context, container string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, container)
	f.tenants[container].setRunning(true)
	return nil
}

func (f *fakeSupervisor) Stop(ctx context.Context, container string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, container)
	f.tenants[container].setRunning(false)
	return nil
}

func testController(t *testing.T, tenants map[string]*fakeTenant, sup Supervisor) *Controller {
	t.Helper()
	cfg := &config.ResourceConfig{
		HTTPTimeout:   2 * time.Second,
		HealthTimeout: 500 * time.Millisecond,
		PollInterval:  20 * time.Millisecond,
		ReleaseSettle: 10 * time.Millisecond,
		Tenants:       map[string]config.TenantConfig{},
	}
	for name, ft := range tenants {
		cfg.Tenants[name] = config.TenantConfig{
			URL:          ft.srv.URL,
			Model:        "model/" + name,
			Container:    name,
			StartTimeout: time.Second,
		}
	}
	return NewController(cfg, sup)
}

func TestIsHealthy(t *testing.T) {
	up := newFakeTenant(t, true)
	down := newFakeTenant(t, false)
	ctrl := testController(t, map[string]*fakeTenant{"entity": up, "chat": down}, unavailableSupervisor{})

	ctx := context.Background()
	assert.True(t, ctrl.IsHealthy(ctx, "entity"))
	assert.False(t, ctrl.IsHealthy(ctx, "chat"))
	assert.False(t, ctrl.IsHealthy(ctx, "nonexistent"))

	// Unreachable endpoint, not just unhealthy.
	up.srv.Close()
	assert.False(t, ctrl.IsHealthy(ctx, "entity"))
}

func TestEnsureOnlyExclusivity(t *testing.T) {
	tenants := map[string]*fakeTenant{
		"entity": newFakeTenant(t, true),
		"chat":   newFakeTenant(t, false),
		"embed":  newFakeTenant(t, true),
	}
	sup := &fakeSupervisor{tenants: tenants}
	ctrl := testController(t, tenants, sup)

	err := ctrl.EnsureOnly(context.Background(), []string{"chat"}, 2*time.Second)
	require.NoError(t, err)

	assert.False(t, tenants["entity"].isRunning())
	assert.True(t, tenants["chat"].isRunning())
	assert.False(t, tenants["embed"].isRunning())

	assert.ElementsMatch(t, []string{"entity", "embed"}, sup.stops)
	assert.Equal(t, []string{"chat"}, sup.starts)
}

func TestEnsureOnlyNoneRequired(t *testing.T) {
	tenants := map[string]*fakeTenant{
		"entity": newFakeTenant(t, true),
		"embed":  newFakeTenant(t, true),
	}
	sup := &fakeSupervisor{tenants: tenants}
	ctrl := testController(t, tenants, sup)

	require.NoError(t, ctrl.EnsureOnly(context.Background(), nil, time.Second))
	assert.False(t, tenants["entity"].isRunning())
	assert.False(t, tenants["embed"].isRunning())
}

func TestEnsureOnlyRejectsUnknownTenant(t *testing.T) {
	tenants := map[string]*fakeTenant{"entity": newFakeTenant(t, true)}
	sup := &fakeSupervisor{tenants: tenants}
	ctrl := testController(t, tenants, sup)

	err := ctrl.EnsureOnly(context.Background(), []string{"reranker"}, time.Second)
	require.Error(t, err)
	assert.True(t, tenants["entity"].isRunning(), "unknown tenant must not disturb the others")
}

func TestWaitHealthyTimeout(t *testing.T) {
	down := newFakeTenant(t, false)
	ctrl := testController(t, map[string]*fakeTenant{"embed": down}, unavailableSupervisor{})

	err := ctrl.WaitHealthy(context.Background(), []string{"embed"}, 100*time.Millisecond)
	assert.ErrorIs(t, err, domain.ErrResourceTimeout)
}

func TestWaitHealthyRecovers(t *testing.T) {
	ft := newFakeTenant(t, false)
	ctrl := testController(t, map[string]*fakeTenant{"embed": ft}, unavailableSupervisor{})

	go func() {
		time.Sleep(60 * time.Millisecond)
		ft.setRunning(true)
	}()

	err := ctrl.WaitHealthy(context.Background(), []string{"embed"}, 2*time.Second)
	assert.NoError(t, err)
}

func TestStopWithoutSupervisorFallsBackToSleep(t *testing.T) {
	ft := newFakeTenant(t, true)
	ctrl := testController(t, map[string]*fakeTenant{"entity": ft}, unavailableSupervisor{})

	require.NoError(t, ctrl.Stop(context.Background(), "entity"))
	assert.True(t, ft.isAsleep())
	assert.True(t, ft.isRunning(), "sleep fallback must not kill the process")

	require.NoError(t, ctrl.Start(context.Background(), "entity"))
	assert.False(t, ft.isAsleep())
}

func TestSleepAndWake(t *testing.T) {
	ft := newFakeTenant(t, true)
	ctrl := testController(t, map[string]*fakeTenant{"chat": ft}, unavailableSupervisor{})

	ctx := context.Background()
	require.NoError(t, ctrl.Sleep(ctx, "chat", SleepLevelDiscard))
	assert.True(t, ft.isAsleep())

	require.NoError(t, ctrl.Wake(ctx, "chat"))
	assert.False(t, ft.isAsleep())
}
