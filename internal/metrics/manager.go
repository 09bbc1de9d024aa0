package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Manager handles all application metrics
type Manager struct {
	prometheus *PrometheusMetrics
	logger     *logrus.Entry
	startTime  time.Time
}

var (
	defaultManager *Manager
	managerOnce    sync.Once
)

// NewManager returns the process-wide metrics manager. Metrics register
// against the default Prometheus registry, so there is exactly one.
func NewManager() *Manager {
	managerOnce.Do(func() {
		defaultManager = &Manager{
			prometheus: NewPrometheusMetrics(),
			logger:     logrus.WithField("component", "metrics"),
			startTime:  time.Now(),
		}
	})
	return defaultManager
}

// GetPrometheusMetrics returns the Prometheus metrics instance
func (m *Manager) GetPrometheusMetrics() *PrometheusMetrics {
	return m.prometheus
}

// UpdateSystemMetrics updates system-level metrics like memory and goroutines
func (m *Manager) UpdateSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.prometheus.MemoryUsage.Set(float64(memStats.Alloc))
	m.prometheus.GoroutineCount.Set(float64(runtime.NumGoroutine()))
	m.prometheus.ApplicationUptime.Set(time.Since(m.startTime).Seconds())
}
