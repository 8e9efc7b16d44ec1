package degrade

import (
	"context"
	"sync"
	"time"

	"github.com/stateset/stateset-mcp-server-sub001/observe"
)

// Level is the discrete health state of an upstream service.
type Level int

const (
	// Healthy means the service is operating normally.
	Healthy Level = iota
	// Degraded means the service is failing often enough to watch.
	Degraded
	// Partial means part of the service's surface is failing. The
	// failure-streak thresholds skip this level; it is set manually.
	Partial
	// Fallback means fallback data sources are actively serving.
	Fallback
	// Unavailable means the primary is skipped entirely.
	Unavailable
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Partial:
		return "partial"
	case Fallback:
		return "fallback"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Observer receives level-change notifications. Register one via
// Manager.AddObserver; methods are called outside manager locks.
type Observer interface {
	LevelChanged(service string, from, to Level)
}

// Config configures a Manager.
type Config struct {
	// DegradedThreshold is the failure streak that marks a service
	// degraded.
	// Default: 3
	DegradedThreshold int

	// FallbackThreshold is the failure streak that activates fallback.
	// Default: 6
	FallbackThreshold int

	// UnavailableThreshold is the failure streak that marks a service
	// unavailable.
	// Default: 9
	UnavailableThreshold int

	// Logger receives degradation logs. Default: no-op.
	Logger observe.Logger

	// Metrics records executed operations. Default: no-op.
	Metrics observe.Metrics
}

// Status is a read-only snapshot of one service's health.
type Status struct {
	Name                string
	Level               Level
	ConsecutiveFailures int
	LastError           string
	LastFailure         time.Time
	FallbackActive      bool
}

// serviceState is the mutable record behind a Status.
type serviceState struct {
	level          Level
	failures       int
	lastError      string
	lastFailure    time.Time
	fallbackActive bool
}

// Manager tracks degradation state per service. Construct one at process
// start and pass it to every component that needs it.
type Manager struct {
	config Config

	mu        sync.Mutex
	services  map[string]*serviceState
	observers []Observer
}

// NewManager creates a new degradation manager.
func NewManager(config Config) *Manager {
	// Apply defaults
	if config.DegradedThreshold <= 0 {
		config.DegradedThreshold = 3
	}
	if config.FallbackThreshold <= 0 {
		config.FallbackThreshold = 6
	}
	if config.UnavailableThreshold <= 0 {
		config.UnavailableThreshold = 9
	}
	if config.Logger == nil {
		config.Logger = observe.NopLogger()
	}
	if config.Metrics == nil {
		config.Metrics = observe.NopMetrics()
	}
	config.Logger = config.Logger.WithComponent("degrade")

	return &Manager{
		config:   config,
		services: make(map[string]*serviceState),
	}
}

// AddObserver registers an observer for level changes.
func (m *Manager) AddObserver(obs Observer) {
	m.mu.Lock()
	m.observers = append(m.observers, obs)
	m.mu.Unlock()
}

// RecordFailure adds one failure to the service's streak and escalates
// its level when a threshold is crossed.
func (m *Manager) RecordFailure(service string, cause error) {
	m.mu.Lock()
	st := m.ensureLocked(service)
	st.failures++
	if cause != nil {
		st.lastError = cause.Error()
	}
	st.lastFailure = time.Now()

	from := st.level
	switch {
	case st.failures >= m.config.UnavailableThreshold:
		st.level = Unavailable
	case st.failures >= m.config.FallbackThreshold:
		st.level = Fallback
	case st.failures >= m.config.DegradedThreshold:
		st.level = Degraded
	}
	st.fallbackActive = st.level >= Fallback
	to := st.level
	failures := st.failures
	observers := m.observersLocked()
	m.mu.Unlock()

	if from != to {
		m.config.Logger.Warn(context.Background(), "service level escalated",
			observe.Field{Key: "service", Value: service},
			observe.Field{Key: "from", Value: from.String()},
			observe.Field{Key: "to", Value: to.String()},
			observe.Field{Key: "failures", Value: failures},
		)
		for _, obs := range observers {
			obs.LevelChanged(service, from, to)
		}
	}
}

// RecordSuccess resets the service to Healthy from any level. A single
// success fully recovers the service.
func (m *Manager) RecordSuccess(service string) {
	m.mu.Lock()
	st := m.ensureLocked(service)
	from := st.level
	st.level = Healthy
	st.failures = 0
	st.lastError = ""
	st.fallbackActive = false
	observers := m.observersLocked()
	m.mu.Unlock()

	if from != Healthy {
		m.config.Logger.Info(context.Background(), "service recovered",
			observe.Field{Key: "service", Value: service},
			observe.Field{Key: "from", Value: from.String()},
		)
		for _, obs := range observers {
			obs.LevelChanged(service, from, Healthy)
		}
	}
}

// SetLevel places a service at an explicit level, bypassing the streak
// thresholds. Used for manual intervention (e.g. marking a service
// Partial during a known incident).
func (m *Manager) SetLevel(service string, level Level) {
	m.mu.Lock()
	st := m.ensureLocked(service)
	from := st.level
	st.level = level
	st.fallbackActive = level >= Fallback
	observers := m.observersLocked()
	m.mu.Unlock()

	if from != level {
		for _, obs := range observers {
			obs.LevelChanged(service, from, level)
		}
	}
}

// Level returns the current level for a service. Unknown services are
// Healthy.
func (m *Manager) Level(service string) Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.services[service]; ok {
		return st.level
	}
	return Healthy
}

// Status returns a snapshot of one service.
func (m *Manager) Status(service string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.services[service]
	if !ok {
		return Status{}, false
	}
	return m.statusLocked(service, st), true
}

// Snapshot returns a snapshot of every registered service.
func (m *Manager) Snapshot() map[string]Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Status, len(m.services))
	for name, st := range m.services {
		out[name] = m.statusLocked(name, st)
	}
	return out
}

func (m *Manager) statusLocked(name string, st *serviceState) Status {
	return Status{
		Name:                name,
		Level:               st.level,
		ConsecutiveFailures: st.failures,
		LastError:           st.lastError,
		LastFailure:         st.lastFailure,
		FallbackActive:      st.fallbackActive,
	}
}

func (m *Manager) ensureLocked(service string) *serviceState {
	st, ok := m.services[service]
	if !ok {
		st = &serviceState{level: Healthy}
		m.services[service] = st
	}
	return st
}

func (m *Manager) observersLocked() []Observer {
	out := make([]Observer, len(m.observers))
	copy(out, m.observers)
	return out
}
