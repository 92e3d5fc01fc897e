package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the raffle service.
type Metrics struct {
	// --- Purchases ---
	PurchasesApplied  prometheus.Counter
	PurchasesRejected *prometheus.CounterVec
	TicketsSold       prometheus.Counter
	PurchaseDuration  prometheus.Histogram

	// --- Draws ---
	DrawsTotal       *prometheus.CounterVec
	DrawDuration     prometheus.Histogram
	DrawConflicts    prometheus.Counter
	DrawPopulation   prometheus.Histogram

	// --- Payments ---
	PaymentEvents     *prometheus.CounterVec
	PaymentDuplicates prometheus.Counter
	PaymentRefunds    *prometheus.CounterVec

	// --- Scheduler ---
	ScheduleEntries  prometheus.Gauge
	ScheduleFires    *prometheus.CounterVec
	ScheduleSweeps   prometheus.Counter

	// --- Notifications ---
	NotificationsSent    *prometheus.CounterVec
	NotificationDrops    prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	opDurBuckets := []float64{
		0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0,
	}

	return &Metrics{
		PurchasesApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "raffle_purchases_applied_total",
			Help: "Ticket purchases recorded",
		}),

		PurchasesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "raffle_purchases_rejected_total",
			Help: "Purchases rejected (not_active, capacity, threshold)",
		}, []string{"reason"}),

		TicketsSold: promauto.NewCounter(prometheus.CounterOpts{
			Name: "raffle_tickets_sold_total",
			Help: "Individual ticket entries sold",
		}),

		PurchaseDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "raffle_purchase_duration_seconds",
			Help:    "Time to record a purchase including trigger evaluation",
			Buckets: opDurBuckets,
		}),

		DrawsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "raffle_draws_total",
			Help: "Listing draws by outcome and trigger source",
		}, []string{"outcome", "trigger"}),

		DrawDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "raffle_draw_duration_seconds",
			Help:    "Time to execute a draw end to end",
			Buckets: opDurBuckets,
		}),

		DrawConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "raffle_draw_conflicts_total",
			Help: "Optimistic-concurrency retries during draws",
		}),

		DrawPopulation: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "raffle_draw_population",
			Help:    "Tickets in the population at draw time",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),

		PaymentEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "raffle_payment_events_total",
			Help: "Payment events processed by result",
		}, []string{"result"}),

		PaymentDuplicates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "raffle_payment_duplicates_total",
			Help: "Duplicate payment-completed deliveries absorbed",
		}),

		PaymentRefunds: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "raffle_payment_refunds_total",
			Help: "Refunds issued by reason",
		}, []string{"reason"}),

		ScheduleEntries: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "raffle_schedule_entries",
			Help: "Deadline timers currently armed",
		}),

		ScheduleFires: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "raffle_schedule_fires_total",
			Help: "Deadline fires by source (timer, sweep, startup)",
		}, []string{"source"}),

		ScheduleSweeps: promauto.NewCounter(prometheus.CounterOpts{
			Name: "raffle_schedule_sweeps_total",
			Help: "Backstop sweep runs",
		}),

		NotificationsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "raffle_notifications_sent_total",
			Help: "Notifications handed to the sink",
		}, []string{"kind"}),

		NotificationDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "raffle_notification_drops_total",
			Help: "Notifications dropped due to full channel",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "raffle_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "raffle_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}
