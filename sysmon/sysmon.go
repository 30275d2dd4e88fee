// Package sysmon samples the process's CPU and memory use once per interval
// and keeps a bounded history of samples for status reporting.
package sysmon

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultInterval = time.Second
	DefaultHistory  = 60
)

// Sample is one measurement. CPU is the fraction of one core used since the
// previous sample; it can exceed 1 on multi-core machines.
type Sample struct {
	At     time.Time
	CPU    float64
	Memory uint64
}

// Report is the history split into parallel series, oldest first. The
// slices are shared between callers and must not be modified.
type Report struct {
	CPU    []float64
	Memory []uint64
}

// Monitor records samples. Sampling writes under the lock; reports are
// built under it and reused until the next sample lands.
type Monitor struct {
	clock    clockwork.Clock
	log      *slog.Logger
	interval time.Duration
	max      int

	cpuTime func() (time.Duration, error)
	memory  func() uint64
	started time.Time
	lastAt  time.Time
	lastCPU time.Duration

	mu      sync.RWMutex
	history []Sample
	report  *Report
}

type Option func(*Monitor)

func WithClock(c clockwork.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.log = l
		}
	}
}

// WithInterval sets the sampling interval of Run.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithHistory bounds the number of retained samples.
func WithHistory(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.max = n
		}
	}
}

func New(opts ...Option) *Monitor {
	m := &Monitor{
		clock:    clockwork.NewRealClock(),
		log:      slog.Default(),
		interval: DefaultInterval,
		max:      DefaultHistory,
		cpuTime:  processCPUTime,
		memory:   processMemory,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.started = m.clock.Now()
	m.lastAt = m.started
	if t, err := m.cpuTime(); err == nil {
		m.lastCPU = t
	}
	return m
}

// StartTime is when the monitor was created.
func (m *Monitor) StartTime() time.Time { return m.started }

// Run samples every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			if err := m.Sample(); err != nil {
				m.log.WarnContext(ctx, "sysmon.sample.fail", slog.String("err", err.Error()))
			}
		}
	}
}

// Sample takes one measurement now. Run calls it on every tick; it must not
// be called concurrently with itself.
func (m *Monitor) Sample() error {
	now := m.clock.Now()
	cpu, err := m.cpuTime()
	if err != nil {
		return err
	}

	var frac float64
	if elapsed := now.Sub(m.lastAt); elapsed > 0 {
		frac = float64(cpu-m.lastCPU) / float64(elapsed)
	}
	m.lastAt = now
	m.lastCPU = cpu

	s := Sample{At: now, CPU: frac, Memory: m.memory()}

	m.mu.Lock()
	m.history = append(m.history, s)
	if over := len(m.history) - m.max; over > 0 {
		m.history = append(m.history[:0:0], m.history[over:]...)
	}
	m.report = nil
	m.mu.Unlock()
	return nil
}

// History returns a copy of the retained samples, oldest first.
func (m *Monitor) History() []Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Sample(nil), m.history...)
}

// Report returns the history as series. The same report is returned until
// a new sample is taken.
func (m *Monitor) Report() *Report {
	m.mu.RLock()
	r := m.report
	m.mu.RUnlock()
	if r != nil {
		return r
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.report == nil {
		r := &Report{
			CPU:    make([]float64, len(m.history)),
			Memory: make([]uint64, len(m.history)),
		}
		for i, s := range m.history {
			r.CPU[i] = s.CPU
			r.Memory[i] = s.Memory
		}
		m.report = r
	}
	return m.report
}

// processMemory is the memory the Go runtime holds from the operating
// system.
func processMemory() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.Sys
}
