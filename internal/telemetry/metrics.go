package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "certiquest"

var (
	// PointsConsumed counts successful debits by operation (create, update, submit).
	PointsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "points",
		Name:      "consumed_total",
		Help:      "Points debited from user balances.",
	}, []string{"operation"})

	PointsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "points",
		Name:      "rejected_total",
		Help:      "Debits rejected because of an insufficient balance.",
	}, []string{"operation"})

	// QuestionsServed counts questions handed out by the pool by source (cache, generated, placeholder).
	QuestionsServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "question_pool",
		Name:      "served_total",
		Help:      "Questions returned by the question pool.",
	}, []string{"source"})

	GenerationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "question_pool",
		Name:      "generation_failures_total",
		Help:      "Generator failures absorbed by the placeholder fallback.",
	}, []string{"reason"})

	QuotaViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "quota",
		Name:      "violations_total",
		Help:      "Quiz requests rejected by the plan quota.",
	}, []string{"plan"})

	Submissions = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "score",
		Name:      "submission_percentage",
		Help:      "Score percentage of evaluated submissions.",
		Buckets:   prometheus.LinearBuckets(0, 10, 11),
	})

	EventHandlerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "event",
		Name:      "handler_failures_total",
		Help:      "Event handlers that returned an error or panicked.",
	}, []string{"event"})
)
