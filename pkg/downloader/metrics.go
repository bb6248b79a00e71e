package downloader

import (
	"fmt"
	"time"

	"github.com/rcrowley/go-metrics"

	"xfer/pkg/transfer"
)

// Immutable
type managerMetrics struct {
	registry    metrics.Registry
	transferred metrics.Meter
	duration    metrics.Timer
}

func newManagerMetrics(registry metrics.Registry) *managerMetrics {
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	return &managerMetrics{
		registry:    registry,
		transferred: metrics.GetOrRegisterMeter("transfer.bytes", registry),
		duration:    metrics.GetOrRegisterTimer("transfer.duration", registry),
	}
}

func (m *managerMetrics) rejected() {
	metrics.GetOrRegisterCounter("transfer.rejected", m.registry).Inc(1)
}

func (m *managerMetrics) record(scheme transfer.Scheme, out transfer.Outcome, d time.Duration) {
	metrics.GetOrRegisterCounter(fmt.Sprintf("transfer.%s.requests", scheme), m.registry).Inc(1)
	if !out.Success() {
		metrics.GetOrRegisterCounter(fmt.Sprintf("transfer.%s.failures.%s", scheme, out.Kind()), m.registry).Inc(1)
	}
	m.transferred.Mark(out.Transferred)
	m.duration.Update(d)
}
