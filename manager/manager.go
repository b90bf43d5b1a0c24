// Package manager implements the Service Manager (C5): a thin lifecycle
// wrapper coordinating the Engine, Persistence, and Indexer services as a
// single named set, per spec §4.5.
package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
)

// Service is the lifecycle surface every managed component exposes. Engine,
// persistence.Service, and indexer.Service all satisfy it without
// modification.
type Service interface {
	Run(ctx context.Context) error
	Pause()
	Resume()
	Stop()
	IsPaused() bool
	State() string
}

// Named pairs a Service with the name the CLI and status table address it
// by (spec §6 "start/pause/resume [service]").
type Named struct {
	Name    string
	Service Service
}

// startOrder is the fixed dependency order services must start in: the
// engine must be producing ticks before persistence can drain them, and
// persistence must be writing before the indexer has anything to read
// (spec §4.5 "Startup").
var startOrder = []string{"engine", "persistence", "indexer"}

// Manager coordinates a fixed set of named services, starting each as an
// independent goroutine and applying pause/resume/stop either to one named
// service or to all of them in startOrder (spec §4.5, §6).
type Manager struct {
	mu       sync.Mutex
	services map[string]Service
	errs     chan error
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	// router is the attachment point an external Debug Server (out of
	// scope per spec §1) mounts its own routes on. The Manager only
	// registers its own /status read route; everything else is the
	// caller's to add via Router().
	router *mux.Router
}

// New constructs a Manager over the given named services. Unknown names
// passed to later commands return an error; the set itself is fixed for the
// Manager's lifetime.
func New(named ...Named) *Manager {
	m := &Manager{services: map[string]Service{}, errs: make(chan error, 16), router: mux.NewRouter()}
	for _, n := range named {
		m.services[n.Name] = n.Service
	}
	m.router.HandleFunc("/status", m.serveStatus).Methods(http.MethodGet)
	return m
}

// Router returns the mux.Router a debug/read-side HTTP server mounts its
// own routes on, alongside the Manager's own /status route.
func (m *Manager) Router() *mux.Router { return m.router }

func (m *Manager) serveStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m.Status())
}

// Errors returns the channel on which any service's terminal Run error is
// reported, for the caller's own log/CLI loop to drain.
func (m *Manager) Errors() <-chan error { return m.errs }

// StartAll launches every known service's Run loop in startOrder, skipping
// any name in startOrder the Manager was not constructed with, and any
// remaining services (not in startOrder) after that in unspecified order.
func (m *Manager) StartAll(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	started := map[string]bool{}
	for _, name := range startOrder {
		svc, ok := m.services[name]
		if !ok {
			continue
		}
		started[name] = true
		m.runOne(ctx, name, svc)
	}
	for name, svc := range m.services {
		if started[name] {
			continue
		}
		m.runOne(ctx, name, svc)
	}
}

func (m *Manager) runOne(ctx context.Context, name string, svc Service) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := svc.Run(ctx); err != nil && ctx.Err() == nil {
			m.errs <- fmt.Errorf("manager: service %q stopped: %w", name, err)
		}
	}()
}

// Pause, Resume, and Stop apply the named lifecycle transition to a single
// service.
func (m *Manager) Pause(name string) error  { return m.call(name, Service.Pause) }
func (m *Manager) Resume(name string) error { return m.call(name, Service.Resume) }
func (m *Manager) Stop(name string) error   { return m.call(name, Service.Stop) }

func (m *Manager) call(name string, fn func(Service)) error {
	svc, ok := m.services[name]
	if !ok {
		return fmt.Errorf("manager: unknown service %q", name)
	}
	fn(svc)
	return nil
}

// PauseAll, ResumeAll, and StopAll apply the transition to every known
// service in startOrder (spec §4.5 composite commands).
func (m *Manager) PauseAll()  { m.forEachInOrder(Service.Pause) }
func (m *Manager) ResumeAll() { m.forEachInOrder(Service.Resume) }
func (m *Manager) StopAll() {
	m.forEachInOrder(Service.Stop)
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (m *Manager) forEachInOrder(fn func(Service)) {
	for _, name := range startOrder {
		if svc, ok := m.services[name]; ok {
			fn(svc)
		}
	}
	for name, svc := range m.services {
		if !contains(startOrder, name) {
			fn(svc)
		}
	}
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// Wait blocks until every started service's Run loop has returned.
func (m *Manager) Wait() { m.wg.Wait() }

// StatusRow is one line of the status table the CLI renders (spec §6
// "status").
type StatusRow struct {
	Name  string
	State string
}

// Status returns one row per known service, in startOrder first, then any
// remaining services.
func (m *Manager) Status() []StatusRow {
	var rows []StatusRow
	seen := map[string]bool{}
	for _, name := range startOrder {
		if svc, ok := m.services[name]; ok {
			rows = append(rows, StatusRow{Name: name, State: svc.State()})
			seen[name] = true
		}
	}
	for name, svc := range m.services {
		if !seen[name] {
			rows = append(rows, StatusRow{Name: name, State: svc.State()})
		}
	}
	return rows
}
