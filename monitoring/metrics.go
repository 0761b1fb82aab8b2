package monitoring

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	claimOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slot_claim_operations_total",
			Help: "Slot claim attempts by outcome",
		},
		[]string{"date", "status"},
	)

	releaseOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_release_operations_total",
			Help: "Booking releases by reason",
		},
		[]string{"reason"},
	)

	paymentOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_outcomes_total",
			Help: "Terminal payment attempt outcomes",
		},
		[]string{"outcome"},
	)

	providerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_requests_total",
			Help: "Outbound STK push requests by status",
		},
		[]string{"status"},
	)

	heldSlots = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "held_slots_total",
			Help: "Current number of held (pending or confirmed) slots",
		},
	)

	openAttempts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "open_payment_attempts_total",
			Help: "Payment attempts awaiting a provider result",
		},
	)

	sweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sweep_duration_seconds",
			Help:    "Duration of expired-attempt sweeps",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)
)

func TrackClaim(date, status string) {
	claimOperations.WithLabelValues(date, status).Inc()
}

func TrackRelease(reason string) {
	releaseOperations.WithLabelValues(reason).Inc()
}

func TrackPaymentOutcome(outcome string) {
	paymentOutcomes.WithLabelValues(outcome).Inc()
}

func TrackProviderRequest(status string) {
	providerRequests.WithLabelValues(status).Inc()
}

func TrackSweep(d time.Duration) {
	sweepDuration.Observe(d.Seconds())
}

// Monitor periodically samples gauge metrics out of Redis.
type Monitor struct {
	redis *redis.Client
}

func NewMonitor(redisClient *redis.Client) *Monitor {
	monitor := &Monitor{redis: redisClient}

	go monitor.collectMetrics()

	return monitor
}

func (m *Monitor) collectMetrics() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		ctx := context.Background()

		slotKeys, _ := m.redis.Keys(ctx, "slot:*").Result()
		heldSlots.Set(float64(len(slotKeys)))

		attemptKeys, _ := m.redis.Keys(ctx, "pay:attempt:*").Result()
		open := 0
		for _, key := range attemptKeys {
			state, err := m.redis.HGet(ctx, key, "state").Result()
			if err != nil {
				continue
			}
			if state == "opened" || state == "provider_accepted" {
				open++
			}
		}
		openAttempts.Set(float64(open))
	}
}
