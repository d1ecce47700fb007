package metrics

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Resources is one resource sample of the webfsd process.
type Resources struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	RSSBytes   uint64    `json:"rss_bytes"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds"`
	SampledAt  time.Time `json:"sampled_at"`
}

// ResourceCollector samples CPU and memory of the supervised PID at a fixed interval.
type ResourceCollector struct {
	name     string
	interval time.Duration
	pid      func() int

	mu   sync.Mutex
	last Resources
	proc *gopsproc.Process

	cpu     prometheus.Gauge
	rss     prometheus.Gauge
	threads prometheus.Gauge
	fds     prometheus.Gauge
}

// NewResourceCollector samples the PID returned by pid every interval; pid returns 0 when nothing runs.
func NewResourceCollector(name string, interval time.Duration, pid func() int) *ResourceCollector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	labels := prometheus.Labels{"name": name}
	gauge := func(metric, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        metric,
			Help:        help,
			ConstLabels: labels,
		})
	}
	return &ResourceCollector{
		name:     name,
		interval: interval,
		pid:      pid,
		cpu:      gauge("cpu_percent", "CPU usage of the webfsd process."),
		rss:      gauge("memory_rss_bytes", "Resident memory of the webfsd process."),
		threads:  gauge("threads", "Thread count of the webfsd process."),
		fds:      gauge("open_fds", "Open file descriptors of the webfsd process (Unix only)."),
	}
}

func (c *ResourceCollector) Register(r prometheus.Registerer) error {
	for _, g := range []prometheus.Collector{c.cpu, c.rss, c.threads, c.fds} {
		if err := registerOne(r, g); err != nil {
			return err
		}
	}
	return nil
}

// Run samples until ctx is cancelled.
func (c *ResourceCollector) Run(ctx context.Context) {
	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		c.Sample()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Sample takes one reading. A missing process resets the gauges.
func (c *ResourceCollector) Sample() (Resources, bool) {
	pid := int32(c.pid())
	c.mu.Lock()
	defer c.mu.Unlock()
	if pid <= 0 {
		c.reset()
		return Resources{}, false
	}
	// keep the handle across samples so CPUPercent measures the interval
	if c.proc == nil || c.proc.Pid != pid {
		p, err := gopsproc.NewProcess(pid)
		if err != nil {
			c.reset()
			return Resources{}, false
		}
		c.proc = p
	}
	mem, err := c.proc.MemoryInfo()
	if err != nil {
		slog.Debug("resource sample failed", "name", c.name, "pid", pid, "err", err)
		c.reset()
		return Resources{}, false
	}
	r := Resources{PID: pid, RSSBytes: mem.RSS, SampledAt: time.Now()}
	if v, err := c.proc.CPUPercent(); err == nil {
		r.CPUPercent = v
	}
	if v, err := c.proc.NumThreads(); err == nil {
		r.NumThreads = v
	}
	if runtime.GOOS != "windows" {
		if v, err := c.proc.NumFDs(); err == nil {
			r.NumFDs = v
		}
	}
	c.last = r
	c.cpu.Set(r.CPUPercent)
	c.rss.Set(float64(r.RSSBytes))
	c.threads.Set(float64(r.NumThreads))
	c.fds.Set(float64(r.NumFDs))
	return r, true
}

// Last returns the most recent successful sample.
func (c *ResourceCollector) Last() (Resources, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.last.PID != 0
}

func (c *ResourceCollector) reset() {
	c.proc = nil
	c.last = Resources{}
	c.cpu.Set(0)
	c.rss.Set(0)
	c.threads.Set(0)
	c.fds.Set(0)
}
