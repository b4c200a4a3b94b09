package metrics

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// MetricsManager owns the Prometheus registry and the host/runtime collectors
type MetricsManager struct {
	// System metrics
	systemCPUUsage    *prometheus.GaugeVec
	systemMemoryUsage *prometheus.GaugeVec

	// Go runtime metrics
	goGoroutines    *prometheus.GaugeVec
	goHeapAlloc     *prometheus.GaugeVec
	goHeapSys       *prometheus.GaugeVec
	goGCPauseNs     prometheus.Histogram
	goGCCPUFraction *prometheus.GaugeVec

	registry *prometheus.Registry

	initialized bool
	mu          sync.RWMutex
}

var (
	instance *MetricsManager
	once     sync.Once
)

// GetInstance returns the process MetricsManager
func GetInstance() *MetricsManager {
	once.Do(func() {
		instance = &MetricsManager{
			registry: prometheus.NewRegistry(),
		}
	})
	return instance
}

// Registry returns the registry every esistatus metric is registered on
func (mm *MetricsManager) Registry() *prometheus.Registry {
	return mm.registry
}

// InitializeMetrics registers the system collectors (thread-safe)
func (mm *MetricsManager) InitializeMetrics() {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	if mm.initialized {
		return
	}

	mm.systemCPUUsage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "esistatus_system_cpu_usage_percent",
			Help: "Current CPU usage percentage",
		},
		[]string{"service", "core"},
	)

	mm.systemMemoryUsage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "esistatus_system_memory_usage_bytes",
			Help: "Current memory usage in bytes",
		},
		[]string{"service", "type"},
	)

	mm.goGoroutines = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "esistatus_go_goroutines",
			Help: "Number of goroutines that currently exist",
		},
		[]string{"service"},
	)

	mm.goHeapAlloc = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "esistatus_go_heap_alloc_bytes",
			Help: "Heap memory usage in bytes",
		},
		[]string{"service"},
	)

	mm.goHeapSys = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "esistatus_go_heap_sys_bytes",
			Help: "Heap memory reserved in bytes",
		},
		[]string{"service"},
	)

	mm.goGCPauseNs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "esistatus_go_gc_pause_nanoseconds",
			Help:    "GC pause time in nanoseconds",
			Buckets: prometheus.ExponentialBuckets(1000, 2, 20),
		},
	)

	mm.goGCCPUFraction = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "esistatus_go_gc_cpu_fraction",
			Help: "Fraction of CPU time used by GC",
		},
		[]string{"service"},
	)

	mm.registry.MustRegister(
		mm.systemCPUUsage,
		mm.systemMemoryUsage,
		mm.goGoroutines,
		mm.goHeapAlloc,
		mm.goHeapSys,
		mm.goGCPauseNs,
		mm.goGCCPUFraction,
	)

	mm.initialized = true
}

// StartSystemMetrics collects host and runtime metrics every interval until
// ctx is cancelled. It does nothing when system metrics are disabled.
func StartSystemMetrics(ctx context.Context, service string, interval time.Duration) {
	if !SystemMetricsEnabled() {
		return
	}

	mm := GetInstance()
	mm.InitializeMetrics()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mm.collectSystemMetrics(service)
				mm.collectGoRuntimeMetrics(service)
			}
		}
	}()
}

// collectSystemMetrics collects host-level metrics
func (mm *MetricsManager) collectSystemMetrics(service string) {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	if !mm.initialized {
		return
	}

	if cpuPercentages, err := cpu.Percent(0, true); err == nil {
		for i, percentage := range cpuPercentages {
			mm.systemCPUUsage.WithLabelValues(service, fmt.Sprintf("cpu%d", i)).Set(percentage)
		}
	}

	if vmstat, err := mem.VirtualMemory(); err == nil {
		mm.systemMemoryUsage.WithLabelValues(service, "total").Set(float64(vmstat.Total))
		mm.systemMemoryUsage.WithLabelValues(service, "available").Set(float64(vmstat.Available))
		mm.systemMemoryUsage.WithLabelValues(service, "used").Set(float64(vmstat.Used))
		mm.systemMemoryUsage.WithLabelValues(service, "free").Set(float64(vmstat.Free))
	}
}

// collectGoRuntimeMetrics collects Go runtime metrics
func (mm *MetricsManager) collectGoRuntimeMetrics(service string) {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	if !mm.initialized {
		return
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	mm.goGoroutines.WithLabelValues(service).Set(float64(runtime.NumGoroutine()))
	mm.goHeapAlloc.WithLabelValues(service).Set(float64(m.HeapAlloc))
	mm.goHeapSys.WithLabelValues(service).Set(float64(m.HeapSys))
	mm.goGCPauseNs.Observe(float64(m.PauseNs[(m.NumGC+255)%256]))
	mm.goGCCPUFraction.WithLabelValues(service).Set(m.GCCPUFraction)
}
