package metrics

import "github.com/prometheus/client_golang/prometheus"

var DispatchAttemptsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dispatch_attempts_total",
		Help: "Total number of outbox messages processed by dispatch workers",
	},
	[]string{"channel", "outcome"},
)

var DispatchRetriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dispatch_retries_total",
		Help: "Total number of dispatch retries scheduled",
	},
	[]string{"channel"},
)

var ClaimedMessages = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "outbox_claimed_messages_total",
		Help: "Total number of outbox messages claimed per poll cycle",
	},
	[]string{"channel"},
)

var ProviderCallDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "provider_call_duration_seconds",
		Help:    "Duration of messaging provider calls",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"channel", "call"},
)

var WalletDebitsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "wallet_debits_total",
		Help: "Total number of wallet debits committed",
	},
	[]string{"kind"},
)

var WalletCreditsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "wallet_credits_total",
		Help: "Total number of wallet credits committed",
	},
	[]string{"kind"},
)

var LowBalanceAlertsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "low_balance_alerts_total",
		Help: "Total number of low-balance alert messages enqueued",
	},
)

var PaymentRecoveriesTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "payment_ambiguous_recoveries_total",
		Help: "Total number of top-ups settled via the status-query recovery path",
	},
)

func InitWorkerMetrics() {
	prometheus.MustRegister(DispatchAttemptsTotal)
	prometheus.MustRegister(DispatchRetriesTotal)
	prometheus.MustRegister(ClaimedMessages)
	prometheus.MustRegister(ProviderCallDuration)
	prometheus.MustRegister(WalletDebitsTotal)
	prometheus.MustRegister(LowBalanceAlertsTotal)
}

func InitAPIMetrics() {
	prometheus.MustRegister(WalletCreditsTotal)
	prometheus.MustRegister(WalletDebitsTotal)
	prometheus.MustRegister(PaymentRecoveriesTotal)
}
