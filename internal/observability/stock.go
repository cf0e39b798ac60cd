package observability

import "github.com/prometheus/client_golang/prometheus"

// StockMetrics mencatat pergerakan dan penolakan ledger stok.
type StockMetrics struct {
	movements  *prometheus.CounterVec
	units      *prometheus.CounterVec
	rejections *prometheus.CounterVec
}

// NewStockMetrics mendaftarkan metrik stok pada registerer.
func NewStockMetrics(registerer prometheus.Registerer) *StockMetrics {
	movements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_stock_movements_total",
		Help: "Jumlah pergerakan stok yang tercatat per jenis.",
	}, []string{"kind"})
	units := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_stock_movement_units_total",
		Help: "Jumlah unit stok per arah pergerakan.",
	}, []string{"direction"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_stock_rejections_total",
		Help: "Jumlah pergerakan stok yang ditolak per alasan.",
	}, []string{"reason"})
	registerer.MustRegister(movements, units, rejections)
	return &StockMetrics{movements: movements, units: units, rejections: rejections}
}

// ObserveMovement mencatat satu pergerakan dengan efek bertanda.
func (m *StockMetrics) ObserveMovement(kind string, delta int64) {
	if m == nil {
		return
	}
	m.movements.WithLabelValues(kind).Inc()
	switch {
	case delta > 0:
		m.units.WithLabelValues("in").Add(float64(delta))
	case delta < 0:
		m.units.WithLabelValues("out").Add(float64(-delta))
	}
}

// ObserveRejection mencatat penolakan.
func (m *StockMetrics) ObserveRejection(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}
