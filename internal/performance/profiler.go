package performance

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/parcelmap/server/internal/metrics"
)

// Profiler keeps per-operation timing statistics for the editing core.
// Every recorded sample is also observed on the operation duration
// histogram. A nil *Profiler is valid and records nothing.
type Profiler struct {
	mu        sync.RWMutex
	stats     map[string]*Stat
	enabled   bool
	startTime time.Time
}

// Stat holds timing statistics for a single operation name.
type Stat struct {
	Name      string
	Count     int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
	LastTime  time.Duration
	LastCall  time.Time
}

// AverageTime returns the mean duration.
func (s *Stat) AverageTime() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.TotalTime / time.Duration(s.Count)
}

// Operation is one running timing started by Start.
type Operation struct {
	profiler *Profiler
	name     string
	start    time.Time
}

// NewProfiler creates a profiler.
func NewProfiler(enabled bool) *Profiler {
	return &Profiler{
		stats:     make(map[string]*Stat),
		enabled:   enabled,
		startTime: time.Now(),
	}
}

// Start begins timing name. It returns nil when profiling is off.
func (p *Profiler) Start(name string) *Operation {
	if !p.IsEnabled() {
		return nil
	}
	return &Operation{profiler: p, name: name, start: time.Now()}
}

// End records the elapsed time since Start.
func (o *Operation) End() {
	if o == nil {
		return
	}
	o.profiler.Record(o.name, time.Since(o.start))
}

// Record adds a sample for name.
func (p *Profiler) Record(name string, duration time.Duration) {
	if !p.IsEnabled() {
		return
	}

	metrics.OperationDurationMs.WithLabelValues(name).Observe(float64(duration) / float64(time.Millisecond))

	p.mu.Lock()
	defer p.mu.Unlock()

	stat, ok := p.stats[name]
	if !ok {
		stat = &Stat{Name: name, MinTime: duration, MaxTime: duration}
		p.stats[name] = stat
	}
	stat.Count++
	stat.TotalTime += duration
	stat.LastTime = duration
	stat.LastCall = time.Now()
	if duration < stat.MinTime {
		stat.MinTime = duration
	}
	if duration > stat.MaxTime {
		stat.MaxTime = duration
	}
}

// GetStat returns a copy of the statistics for name, or nil.
func (p *Profiler) GetStat(name string) *Stat {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	stat, ok := p.stats[name]
	if !ok {
		return nil
	}
	cp := *stat
	return &cp
}

// Snapshot returns copies of all statistics sorted by name.
func (p *Profiler) Snapshot() []Stat {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Stat, 0, len(p.stats))
	for _, stat := range p.stats {
		out = append(out, *stat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Reset clears all statistics.
func (p *Profiler) Reset() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats = make(map[string]*Stat)
	p.startTime = time.Now()
}

// Report renders the statistics as a text table.
func (p *Profiler) Report() string {
	stats := p.Snapshot()
	if len(stats) == 0 {
		return "No performance metrics recorded"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-32s %8s %10s %10s %10s %10s\n", "Operation", "Count", "Avg", "Min", "Max", "Last")
	for _, s := range stats {
		fmt.Fprintf(&b, "%-32s %8d %10s %10s %10s %10s\n",
			s.Name,
			s.Count,
			s.AverageTime().Round(time.Microsecond),
			s.MinTime.Round(time.Microsecond),
			s.MaxTime.Round(time.Microsecond),
			s.LastTime.Round(time.Microsecond),
		)
	}
	return b.String()
}

// LogReport writes one structured log line per operation.
func (p *Profiler) LogReport(log *zap.SugaredLogger) {
	if log == nil {
		return
	}
	for _, s := range p.Snapshot() {
		log.Infow("operation timing",
			"operation", s.Name,
			"count", s.Count,
			"avg_ms", ms(s.AverageTime()),
			"max_ms", ms(s.MaxTime))
	}
}

type statJSON struct {
	Name    string    `json:"name"`
	Count   int64     `json:"count"`
	TotalMs float64   `json:"total_ms"`
	AvgMs   float64   `json:"avg_ms"`
	MinMs   float64   `json:"min_ms"`
	MaxMs   float64   `json:"max_ms"`
	LastMs  float64   `json:"last_ms"`
	Last    time.Time `json:"last_call"`
}

type reportJSON struct {
	StartTime time.Time  `json:"start_time"`
	RuntimeMs float64    `json:"runtime_ms"`
	Enabled   bool       `json:"enabled"`
	Stats     []statJSON `json:"operations"`
}

// JSONReport renders the statistics as JSON with millisecond durations.
func (p *Profiler) JSONReport() ([]byte, error) {
	report := reportJSON{Stats: []statJSON{}}
	if p != nil {
		p.mu.RLock()
		report.StartTime = p.startTime
		report.RuntimeMs = ms(time.Since(p.startTime))
		report.Enabled = p.enabled
		p.mu.RUnlock()
	}
	for _, s := range p.Snapshot() {
		report.Stats = append(report.Stats, statJSON{
			Name:    s.Name,
			Count:   s.Count,
			TotalMs: ms(s.TotalTime),
			AvgMs:   ms(s.AverageTime()),
			MinMs:   ms(s.MinTime),
			MaxMs:   ms(s.MaxTime),
			LastMs:  ms(s.LastTime),
			Last:    s.LastCall,
		})
	}
	return json.MarshalIndent(report, "", "  ")
}

// Enable turns profiling on.
func (p *Profiler) Enable() {
	p.setEnabled(true)
}

// Disable turns profiling off.
func (p *Profiler) Disable() {
	p.setEnabled(false)
}

func (p *Profiler) setEnabled(v bool) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = v
}

// IsEnabled reports whether samples are being recorded.
func (p *Profiler) IsEnabled() bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enabled
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
