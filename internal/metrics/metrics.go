// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/saleskit/ltc-backend/internal/domain"
)

var (
	initOnce sync.Once

	teamSyncsTotalCounter     *prometheus.CounterVec
	syncStageChangesCounter   *prometheus.CounterVec
	syncDurationMetric        prometheus.Histogram
	skillRunsTotalCounter     *prometheus.CounterVec
	skillRunDurationMetric    prometheus.Histogram
	streamChunksCounter       prometheus.Counter
	documentsGeneratedCounter prometheus.Counter
)

const (
	SyncOutcomeSuccess = "success"
	SyncOutcomeSkipped = "skipped"
	SyncOutcomeError   = "error"
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		teamSyncsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "team_syncs_total",
				Help: "Total number of per-team sync runs by outcome.",
			},
			[]string{"outcome"},
		)

		syncStageChangesCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_stage_changes_total",
				Help: "Total number of stage changes applied by syncs, by kind.",
			},
			[]string{"kind"},
		)

		syncDurationMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "team_sync_duration_seconds",
				Help:    "Duration of per-team sync runs in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		)

		skillRunsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skill_runs_total",
				Help: "Total number of skill runs reaching a terminal status.",
			},
			[]string{"status"},
		)

		skillRunDurationMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "skill_run_duration_seconds",
				Help:    "Duration of skill runs from start to terminal event in seconds.",
				Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
		)

		streamChunksCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stream_chunks_total",
				Help: "Total number of LLM chunks relayed to clients.",
			},
		)

		documentsGeneratedCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "documents_generated_total",
				Help: "Total number of documents synthesized from completed runs.",
			},
		)

		prometheus.MustRegister(
			teamSyncsTotalCounter,
			syncStageChangesCounter,
			syncDurationMetric,
			skillRunsTotalCounter,
			skillRunDurationMetric,
			streamChunksCounter,
			documentsGeneratedCounter,
		)

		// Ensure counter vectors are visible at /metrics before first increment.
		for _, outcome := range []string{SyncOutcomeSuccess, SyncOutcomeSkipped, SyncOutcomeError} {
			teamSyncsTotalCounter.WithLabelValues(outcome)
		}
		for _, kind := range []string{"added", "updated", "skipped"} {
			syncStageChangesCounter.WithLabelValues(kind)
		}
		for _, status := range []domain.InteractionStatus{
			domain.InteractionCompleted,
			domain.InteractionFailed,
			domain.InteractionCancelled,
		} {
			skillRunsTotalCounter.WithLabelValues(string(status))
		}
	})
}

func IncTeamSync(outcome string) {
	Init()
	teamSyncsTotalCounter.WithLabelValues(outcome).Inc()
}

func AddSyncStageChanges(kind string, n int) {
	Init()
	syncStageChangesCounter.WithLabelValues(kind).Add(float64(n))
}

func ObserveSyncDuration(d time.Duration) {
	Init()
	syncDurationMetric.Observe(d.Seconds())
}

func IncSkillRunStatus(status domain.InteractionStatus) {
	Init()
	skillRunsTotalCounter.WithLabelValues(string(status)).Inc()
}

func ObserveSkillRunDuration(d time.Duration) {
	Init()
	skillRunDurationMetric.Observe(d.Seconds())
}

func IncStreamChunks() {
	Init()
	streamChunksCounter.Inc()
}

func IncDocumentsGenerated() {
	Init()
	documentsGeneratedCounter.Inc()
}
