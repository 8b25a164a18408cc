package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "collector"

const (
	// OutcomeSent labels notifications handed to a channel without error
	OutcomeSent = "sent"
	// OutcomeFailed labels notifications whose resolution or dispatch failed
	OutcomeFailed = "failed"
	// OutcomeSkipped labels records that produced no notification
	OutcomeSkipped = "skipped"
)

var (
	nodeRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "node_records_total",
			Help:      "Records processed by each worker graph node.",
		},
		[]string{"graph_id", "node_id"},
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alarm",
			Name:      "notifications_total",
			Help:      "Alarm notifications partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	notificationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "alarm",
			Name:      "notification_seconds",
			Help:      "Latency of notification channel dispatch in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups partitioned by cache and result.",
		},
		[]string{"cache", "result"},
	)

	ingestedMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "messages_total",
			Help:      "Messages consumed from the broker partitioned by subject kind and result.",
		},
		[]string{"kind", "result"},
	)

	hostCPUPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "cpu_percent",
			Help:      "CPU usage of the collector host in percent.",
		},
	)

	hostMemoryPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "memory_percent",
			Help:      "Memory usage of the collector host in percent.",
		},
	)
)

// Register attaches collector metrics to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		nodeRecordsTotal,
		notificationsTotal,
		notificationSeconds,
		cacheLookupsTotal,
		ingestedMessagesTotal,
		hostCPUPercent,
		hostMemoryPercent,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveNode counts one record entering a graph node
func ObserveNode(graphID, nodeID int) {
	nodeRecordsTotal.WithLabelValues(strconv.Itoa(graphID), strconv.Itoa(nodeID)).Inc()
}

// ObserveNotification records a notification outcome and, for dispatches, its latency
func ObserveNotification(duration time.Duration, outcome string) {
	notificationsTotal.WithLabelValues(outcome).Inc()
	if outcome == OutcomeSkipped {
		return
	}
	if duration < 0 {
		duration = 0
	}
	notificationSeconds.Observe(duration.Seconds())
}

// ObserveCacheLookup counts a cache hit or miss
func ObserveCacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(cache, result).Inc()
}

// ObserveIngest counts one consumed broker message
func ObserveIngest(kind string, ok bool) {
	result := "ok"
	if !ok {
		result = "malformed"
	}
	ingestedMessagesTotal.WithLabelValues(kind, result).Inc()
}

// SetHostUsage publishes the latest host resource sample
func SetHostUsage(cpuPercent, memoryPercent float64) {
	hostCPUPercent.Set(cpuPercent)
	hostMemoryPercent.Set(memoryPercent)
}
