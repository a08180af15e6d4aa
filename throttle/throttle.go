package throttle

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Config sets the tenant start rate of one job.
type Config struct {
	// Job is the job name.
	Job string

	// Rate is the sustained tenant starts per second. Zero disables
	// limiting.
	Rate float64

	// Burst is the token-bucket burst size. Defaults to 1 when Rate is
	// set.
	Burst int
}

func (c Config) normalized() Config {
	if c.Rate > 0 && c.Burst <= 0 {
		c.Burst = 1
	}
	return c
}

// Manager holds per-job limiters. It is safe for concurrent use.
type Manager struct {
	mu         sync.Mutex
	configured map[string]Config
	jobs       map[string]*jobState
}

type jobState struct {
	config  Config
	limiter *rate.Limiter
}

// NewManager creates a Manager with the given job configurations. They
// apply to jobs that set no rate of their own.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		configured: make(map[string]Config, len(configs)),
		jobs:       make(map[string]*jobState, len(configs)),
	}
	for _, cfg := range configs {
		cfg = cfg.normalized()
		m.configured[cfg.Job] = cfg
		m.jobs[cfg.Job] = newJobState(cfg)
	}
	return m
}

func newJobState(cfg Config) *jobState {
	js := &jobState{config: cfg}
	if cfg.Rate > 0 {
		js.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst)
	}
	return js
}

// Ensure brings job's limiter in line with the rate its definition
// declares. A positive perSecond overrides any configured rate; zero
// falls back to the configuration given to NewManager, or to no limit.
// The existing limiter, and the tokens it has spent, are kept when
// nothing changed.
func (m *Manager) Ensure(job string, perSecond float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	want, ok := m.configured[job]
	if perSecond > 0 {
		want, ok = Config{Job: job, Rate: perSecond}.normalized(), true
	}
	if !ok || want.Rate <= 0 {
		delete(m.jobs, job)
		return
	}
	if js := m.jobs[job]; js != nil && js.config == want {
		return
	}
	m.jobs[job] = newJobState(want)
}

// Gate returns a function that waits on job's limiter, or nil when job
// is not limited.
func (m *Manager) Gate(job string) func(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if js := m.jobs[job]; js != nil && js.limiter != nil {
		return js.limiter.Wait
	}
	return nil
}

// Rate returns job's effective rate, zero when unlimited.
func (m *Manager) Rate(job string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if js := m.jobs[job]; js != nil {
		return js.config.Rate
	}
	return 0
}
