package manager

import (
	"sync/atomic"
	"time"

	"github.com/zhangcong2019/hsf-pipeline/internal/metrics"
)

// watchdogTick is fixed regardless of MaxPipelineLifetime.
const watchdogTick = 5 * time.Second

// watchdogLoop reclaims every pipeline whose heartbeat is older than
// MaxPipelineLifetime, releasing its weight and dropping its
// connections with a Pipeline timeout response. It advances healthCheck
// on every tick, independent of whether any pipeline was reclaimed, so
// readiness probes can detect a stalled watchdog goroutine.
func (m *Manager) watchdogLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.reapIdlePipelines()
			atomic.AddInt64(&m.healthCheck, 1)
			metrics.HealthCheckTotal.Inc()
		}
	}
}

func (m *Manager) reapIdlePipelines() {
	var stale []*pipelineEntry

	m.worklistMu.Lock()
	for handle, e := range m.worklist {
		if e.idleFor() >= m.cfg.MaxPipelineLifetime {
			stale = append(stale, e)
			delete(m.worklist, handle)
		}
	}
	m.worklistMu.Unlock()

	for _, e := range stale {
		e.p.Stop()
		m.weight.Release(int64(e.weight))
		metrics.WeightBudgetInUse.Sub(float64(e.weight))
		metrics.PipelinesActive.Dec()
		e.dropConnections()
		m.log.WithField("handle", e.handle).Info("watchdog reclaimed idle pipeline")
	}
}
