package node

import (
	"math/big"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/shanmukanaks/protocol/consensus"
	"github.com/shanmukanaks/protocol/exchange"
	"github.com/shanmukanaks/protocol/lightclient"
)

// Metrics exports ledger activity. It is bound to a registry rather than the
// global one so tests and embedded services do not collide.
type Metrics struct {
	Operations *prometheus.CounterVec
	Rejections *prometheus.CounterVec
	Fees       prometheus.Gauge
	Vaults     prometheus.Gauge
	Swaps      prometheus.Gauge
	Forks      *prometheus.CounterVec
	HeaderTip  prometheus.Gauge
	Published  *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exchange_operations_total",
				Help: "Exchange operations by outcome",
			},
			[]string{"op", "result"},
		),
		Rejections: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exchange_rejections_total",
				Help: "Rejected exchange operations by error code",
			},
			[]string{"op", "code"},
		),
		Fees: f.NewGauge(prometheus.GaugeOpts{
			Name: "exchange_accumulated_fees",
			Help: "Protocol fees awaiting payout, in token base units",
		}),
		Vaults: f.NewGauge(prometheus.GaugeOpts{
			Name: "exchange_vault_commitments",
			Help: "Length of the vault commitment sequence",
		}),
		Swaps: f.NewGauge(prometheus.GaugeOpts{
			Name: "exchange_swap_commitments",
			Help: "Length of the swap commitment sequence",
		}),
		Forks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lightclient_forks_detected_total",
				Help: "Forks reported by the watchtower",
			},
			[]string{"kind"},
		),
		HeaderTip: f.NewGauge(prometheus.GaugeOpts{
			Name: "lightclient_header_tip_height",
			Help: "Height of the canonical header chain tip",
		}),
		Published: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exchange_notifications_total",
				Help: "Change notifications by sink and outcome",
			},
			[]string{"sink", "result"},
		),
	}
}

func (m *Metrics) ObserveOperation(op string, err error) {
	switch code, ok := consensus.CodeOf(err); {
	case err == nil:
		m.Operations.WithLabelValues(op, "ok").Inc()
	case ok:
		m.Operations.WithLabelValues(op, "rejected").Inc()
		m.Rejections.WithLabelValues(op, string(code)).Inc()
	default:
		m.Operations.WithLabelValues(op, "error").Inc()
	}
}

func (m *Metrics) ObserveLedger(vaults, swaps uint64, fees *uint256.Int) {
	m.Vaults.Set(float64(vaults))
	m.Swaps.Set(float64(swaps))
	f, _ := new(big.Float).SetInt(fees.ToBig()).Float64()
	m.Fees.Set(f)
}

func (m *Metrics) ObserveFork(kind lightclient.ForkKind) {
	m.Forks.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) ObserveHeaderTip(height uint32) {
	m.HeaderTip.Set(float64(height))
}

func (m *Metrics) ObservePublish(sink string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Published.WithLabelValues(sink, result).Inc()
}

var _ exchange.Observer = (*Metrics)(nil)
