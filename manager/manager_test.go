package manager_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/evochora/evochora/manager"
)

// fakeService is a minimal manager.Service double: Run blocks until Stop is
// called (or ctx is canceled), reporting runErr (if any) on return.
type fakeService struct {
	mu      sync.Mutex
	paused  bool
	stopped chan struct{}
	runErr  error
}

func newFakeService() *fakeService {
	return &fakeService{stopped: make(chan struct{})}
}

func (f *fakeService) Run(ctx context.Context) error {
	select {
	case <-f.stopped:
	case <-ctx.Done():
	}
	return f.runErr
}

func (f *fakeService) Pause() { f.mu.Lock(); f.paused = true; f.mu.Unlock() }
func (f *fakeService) Resume() {
	f.mu.Lock()
	f.paused = false
	f.mu.Unlock()
}
func (f *fakeService) Stop() {
	select {
	case <-f.stopped:
	default:
		close(f.stopped)
	}
}
func (f *fakeService) IsPaused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}
func (f *fakeService) State() string {
	if f.IsPaused() {
		return "paused"
	}
	return "running"
}

func TestStatusReflectsStartOrderThenRemaining(t *testing.T) {
	eng := newFakeService()
	persist := newFakeService()
	idx := newFakeService()
	extra := newFakeService()

	mgr := manager.New(
		manager.Named{Name: "indexer", Service: idx},
		manager.Named{Name: "engine", Service: eng},
		manager.Named{Name: "extra", Service: extra},
		manager.Named{Name: "persistence", Service: persist},
	)

	rows := mgr.Status()
	if len(rows) != 4 {
		t.Fatalf("Status() returned %d rows, want 4", len(rows))
	}
	want := []string{"engine", "persistence", "indexer"}
	for i, name := range want {
		if rows[i].Name != name {
			t.Fatalf("Status()[%d].Name = %q, want %q", i, rows[i].Name, name)
		}
	}
	if rows[3].Name != "extra" {
		t.Fatalf("Status()[3].Name = %q, want %q", rows[3].Name, "extra")
	}
}

func TestPauseUnknownServiceReturnsError(t *testing.T) {
	mgr := manager.New(manager.Named{Name: "engine", Service: newFakeService()})
	if err := mgr.Pause("nope"); err == nil {
		t.Fatal("Pause(\"nope\") returned nil error, want non-nil")
	}
}

func TestPauseAllPausesEveryService(t *testing.T) {
	eng := newFakeService()
	persist := newFakeService()
	mgr := manager.New(
		manager.Named{Name: "engine", Service: eng},
		manager.Named{Name: "persistence", Service: persist},
	)
	mgr.PauseAll()
	if !eng.IsPaused() || !persist.IsPaused() {
		t.Fatal("PauseAll() left a service unpaused")
	}
}

func TestStopAllCancelsContextAndUnblocksWait(t *testing.T) {
	eng := newFakeService()
	mgr := manager.New(manager.Named{Name: "engine", Service: eng})
	mgr.StartAll(context.Background())
	mgr.StopAll()

	done := make(chan struct{})
	go func() { mgr.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait() did not return after StopAll()")
	}
}

func TestErrorsReportsNonCanceledRunFailure(t *testing.T) {
	eng := newFakeService()
	eng.runErr = errors.New("boom")
	mgr := manager.New(manager.Named{Name: "engine", Service: eng})
	mgr.StartAll(context.Background())
	eng.Stop()

	select {
	case err := <-mgr.Errors():
		if err == nil {
			t.Fatal("Errors() delivered a nil error")
		}
	case <-time.After(time.Second):
		t.Fatal("Errors() did not deliver the service's Run error")
	}
}

func TestRouterServesStatus(t *testing.T) {
	mgr := manager.New(manager.Named{Name: "engine", Service: newFakeService()})
	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()
	mgr.Router().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("GET /status = %d, want 200", rec.Code)
	}
}
