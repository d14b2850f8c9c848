package memory

import (
	"context"
	"math"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"smart-gallery/internal/logging"
	"smart-gallery/internal/metrics"
)

// Config configures a Monitor.
type Config struct {
	// LimitBytes is the reference limit; 0 uses the runtime's GOMEMLIMIT.
	LimitBytes int64
	// PauseAt is the heap share of the limit at which Wait starts blocking.
	PauseAt float64
	// ResumeAt is the share below which blocked callers are released.
	ResumeAt      float64
	CheckInterval time.Duration
}

// DefaultConfig returns the thresholds used by the sync pipeline.
func DefaultConfig() Config {
	return Config{
		PauseAt:       0.85,
		ResumeAt:      0.7,
		CheckInterval: 2 * time.Second,
	}
}

// Monitor samples heap usage and holds back new work while it is above the
// pause threshold. A nil Monitor never blocks.
type Monitor struct {
	cfg   Config
	limit int64
	alloc func() uint64

	mu      sync.Mutex
	current uint64
	paused  bool
	resume  chan struct{}

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewMonitor creates a monitor. Without any limit it never pauses.
func NewMonitor(cfg Config) *Monitor {
	def := DefaultConfig()
	if cfg.PauseAt <= 0 || cfg.PauseAt > 1 {
		cfg.PauseAt = def.PauseAt
	}
	if cfg.ResumeAt <= 0 || cfg.ResumeAt >= cfg.PauseAt {
		cfg.ResumeAt = cfg.PauseAt * 0.8
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}

	limit := cfg.LimitBytes
	if limit <= 0 {
		if l := debug.SetMemoryLimit(-1); l > 0 && l < math.MaxInt64 {
			limit = l
		}
	}
	if limit <= 0 {
		logging.Debug("Memory monitor: no limit configured, backpressure disabled")
	}

	return &Monitor{
		cfg:   cfg,
		limit: limit,
		alloc: heapAlloc,
		stop:  make(chan struct{}),
	}
}

func heapAlloc() uint64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.HeapAlloc
}

// Enabled reports whether the monitor has a limit to enforce.
func (m *Monitor) Enabled() bool {
	return m != nil && m.limit > 0
}

// Start begins periodic sampling.
func (m *Monitor) Start() {
	if !m.Enabled() {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sample()
			case <-m.stop:
				return
			}
		}
	}()
}

// Stop ends sampling and releases every waiting caller.
func (m *Monitor) Stop() {
	if m == nil {
		return
	}
	select {
	case <-m.stop:
		return
	default:
	}
	close(m.stop)
	m.wg.Wait()

	m.mu.Lock()
	m.setPausedLocked(false)
	m.mu.Unlock()
}

func (m *Monitor) sample() {
	current := m.alloc()
	usage := float64(current) / float64(m.limit)
	metrics.MemoryUsageRatio.Set(usage)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = current

	switch {
	case !m.paused && usage >= m.cfg.PauseAt:
		logging.Warn("Memory at %.0f%% of %s, pausing new work", usage*100, FormatBytes(m.limit))
		m.setPausedLocked(true)
		metrics.MemoryPausesTotal.Inc()
		go runtime.GC()
	case m.paused && usage < m.cfg.ResumeAt:
		logging.Info("Memory at %.0f%% of %s, resuming", usage*100, FormatBytes(m.limit))
		m.setPausedLocked(false)
	}
}

func (m *Monitor) setPausedLocked(paused bool) {
	if paused == m.paused {
		return
	}
	m.paused = paused
	if paused {
		m.resume = make(chan struct{})
		metrics.MemoryPaused.Set(1)
		return
	}
	close(m.resume)
	metrics.MemoryPaused.Set(0)
}

// Wait returns immediately unless memory is above the pause threshold, in
// which case it blocks until usage drops, the monitor stops, or ctx ends.
func (m *Monitor) Wait(ctx context.Context) error {
	if !m.Enabled() {
		return ctx.Err()
	}

	m.mu.Lock()
	if !m.paused {
		m.mu.Unlock()
		return ctx.Err()
	}
	resume := m.resume
	m.mu.Unlock()

	select {
	case <-resume:
		return nil
	case <-m.stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Paused reports whether new work is currently held back.
func (m *Monitor) Paused() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// Usage returns the last sampled heap size and its share of the limit.
func (m *Monitor) Usage() (current, limit int64, ratio float64) {
	if !m.Enabled() {
		return 0, 0, 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current = math.MaxInt64
	if m.current <= math.MaxInt64 {
		current = int64(m.current)
	}
	return current, m.limit, float64(m.current) / float64(m.limit)
}
