package metrics

import (
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/craftstock-backend/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const outcomeOK = "ok"

// InventoryMetrics records stock operations and the transactions behind them.
type InventoryMetrics struct {
	operations *prometheus.CounterVec
	retries    *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewInventoryMetrics registers the inventory metrics on the provided registerer.
func NewInventoryMetrics(reg prometheus.Registerer) *InventoryMetrics {
	if reg == nil {
		return &InventoryMetrics{}
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_operations_total",
		Help: "Inventory operations by action and outcome.",
	}, []string{"action", "outcome"})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_tx_retries_total",
		Help: "Transaction attempts retried after a conflict or timeout.",
	}, []string{"operation"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "inventory_tx_duration_seconds",
		Help:    "Wall time of inventory units of work including retries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	reg.MustRegister(operations, retries, duration)
	return &InventoryMetrics{
		operations: operations,
		retries:    retries,
		duration:   duration,
	}
}

// ObserveOperation counts one service-level operation; the outcome is "ok" or the error code.
func (m *InventoryMetrics) ObserveOperation(action string, err error) {
	if m == nil || m.operations == nil {
		return
	}
	m.operations.WithLabelValues(normalizeLabel(action), outcome(err)).Inc()
}

// ObserveTx implements db.TxObserver.
func (m *InventoryMetrics) ObserveTx(operation string, attempts int, elapsed time.Duration, _ error) {
	if m == nil || m.duration == nil {
		return
	}
	operation = normalizeLabel(operation)
	m.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
	if attempts > 1 {
		m.retries.WithLabelValues(operation).Add(float64(attempts - 1))
	}
}

func outcome(err error) string {
	if err == nil {
		return outcomeOK
	}
	if typed := pkgerrors.As(err); typed != nil {
		return strings.ToLower(string(typed.Code()))
	}
	return strings.ToLower(string(pkgerrors.CodeInternal))
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
