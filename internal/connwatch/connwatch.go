// Package connwatch keeps track of whether the services a character
// depends on (the model endpoint and each MCP server) are reachable.
//
// Each watched service is checked right away. While it is down the check
// is retried on an exponential schedule capped at MaxDelay; once it
// answers, it settles to one check per Interval. Transitions
// between ready and down are logged and reported through the optional
// OnChange callback.
package connwatch

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Check reports whether a service is reachable. It returns nil when healthy
// and must be safe for concurrent use.
type Check func(ctx context.Context) error

// Schedule controls check timing.
type Schedule struct {
	// InitialDelay is the first retry delay after a failed check (default: 2s).
	InitialDelay time.Duration
	// MaxDelay caps the retry delay (default: 60s).
	MaxDelay time.Duration
	// Multiplier grows the retry delay after each failure (default: 2.0).
	Multiplier float64
	// Interval is the delay between checks while healthy (default: 60s).
	Interval time.Duration
	// Timeout bounds a single check (default: 10s).
	Timeout time.Duration
}

// DefaultSchedule retries at 2s, 4s, 8s ... up to 60s and polls a healthy
// service once a minute.
func DefaultSchedule() Schedule {
	return Schedule{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		Interval:     60 * time.Second,
		Timeout:      10 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultSchedule.
func (s Schedule) withDefaults() Schedule {
	d := DefaultSchedule()
	if s.InitialDelay <= 0 {
		s.InitialDelay = d.InitialDelay
	}
	if s.MaxDelay <= 0 {
		s.MaxDelay = d.MaxDelay
	}
	if s.MaxDelay < s.InitialDelay {
		s.MaxDelay = s.InitialDelay
	}
	if s.Multiplier < 1 {
		s.Multiplier = d.Multiplier
	}
	if s.Interval <= 0 {
		s.Interval = d.Interval
	}
	if s.Timeout <= 0 {
		s.Timeout = d.Timeout
	}
	return s
}

// Status is the health of one watched service.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	Failures  int       `json:"consecutive_failures,omitempty"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// Config configures a Monitor.
type Config struct {
	Schedule Schedule
	// OnChange is called after the first check of a service and whenever
	// it flips between ready and down. It runs on the watcher's
	// goroutine and must not block. err is nil when the service became
	// ready.
	OnChange func(name string, err error)
	Logger   *slog.Logger
}

// Monitor runs one watcher goroutine per service.
type Monitor struct {
	schedule Schedule
	onChange func(string, error)
	logger   *slog.Logger

	mu       sync.RWMutex
	watchers map[string]*watcher
	wg       sync.WaitGroup
	cancels  []context.CancelFunc
}

// New creates a Monitor. No service is watched until Watch.
func New(cfg Config) *Monitor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		schedule: cfg.Schedule.withDefaults(),
		onChange: cfg.OnChange,
		logger:   logger,
		watchers: make(map[string]*watcher),
	}
}

// ErrDuplicate is returned when a name is watched twice.
var ErrDuplicate = errors.New("connwatch: service already watched")

// Watch starts probing a service in the background until ctx is cancelled
// or Stop is called.
func (m *Monitor) Watch(ctx context.Context, name string, check Check) error {
	if name == "" {
		return errors.New("connwatch: empty service name")
	}
	if check == nil {
		return errors.New("connwatch: nil check")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.watchers[name]; ok {
		return ErrDuplicate
	}

	w := &watcher{name: name, check: check}
	m.watchers[name] = w

	ctx, cancel := context.WithCancel(ctx)
	m.cancels = append(m.cancels, cancel)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ctx, w)
	}()
	return nil
}

// Status returns every watched service sorted by name.
func (m *Monitor) Status() []Status {
	m.mu.RLock()
	out := make([]Status, 0, len(m.watchers))
	for _, w := range m.watchers {
		out = append(out, w.status())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Ready reports whether the named service answered its last check.
func (m *Monitor) Ready(name string) bool {
	m.mu.RLock()
	w, ok := m.watchers[name]
	m.mu.RUnlock()
	return ok && w.status().Ready
}

// Stop cancels every watcher and waits for them to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancels := m.cancels
	m.cancels = nil
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	m.wg.Wait()
}

func (m *Monitor) run(ctx context.Context, w *watcher) {
	delay := m.schedule.InitialDelay
	for {
		err := m.check(ctx, w)
		if ctx.Err() != nil {
			return
		}

		changed := w.record(err)
		switch {
		case err == nil && changed:
			m.logger.Info("service ready", "service", w.name)
		case err != nil && changed:
			m.logger.Warn("service unreachable", "service", w.name, "error", err)
		case err != nil:
			m.logger.Debug("service still unreachable",
				"service", w.name,
				"next_delay", delay.String(),
				"error", err,
			)
		}
		if changed && m.onChange != nil {
			m.onChange(w.name, err)
		}

		next := m.schedule.Interval
		if err != nil {
			next = delay
			delay = time.Duration(float64(delay) * m.schedule.Multiplier)
			if delay > m.schedule.MaxDelay {
				delay = m.schedule.MaxDelay
			}
		} else {
			delay = m.schedule.InitialDelay
		}

		if !sleep(ctx, next) {
			return
		}
	}
}

func (m *Monitor) check(ctx context.Context, w *watcher) error {
	ctx, cancel := context.WithTimeout(ctx, m.schedule.Timeout)
	defer cancel()
	return w.check(ctx)
}

type watcher struct {
	name  string
	check Check

	mu        sync.Mutex
	ready     bool
	checked   bool
	failures  int
	lastCheck time.Time
	lastErr   error
}

// record stores a check result and reports whether it is the first
// result or readiness flipped.
func (w *watcher) record(err error) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	ready := err == nil
	changed := ready != w.ready || !w.checked

	w.checked = true
	w.ready = ready
	w.lastErr = err
	w.lastCheck = time.Now()
	if ready {
		w.failures = 0
	} else {
		w.failures++
	}
	return changed
}

func (w *watcher) status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := Status{
		Name:      w.name,
		Ready:     w.ready,
		Failures:  w.failures,
		LastCheck: w.lastCheck,
	}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// sleep waits d or until ctx is done. It reports whether the full delay
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
