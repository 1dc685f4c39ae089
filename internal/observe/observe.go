// Package observe is the structured observability hook for the search: the
// controller reports lifecycle events (iteration start/end, node created,
// evaluation completed, checkpoint saved) and this package turns them into
// counters, cost tracking, Prometheus metrics, and optional periodic logs.
package observe

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Iteration outcomes reported by the search controller.
const (
	OutcomeExpanded = "expanded"
	OutcomeRevisit  = "revisit"
	OutcomeFailed   = "failed"
)

var (
	iterationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ideaforge_iterations_total",
		Help: "Completed search iterations by outcome",
	}, []string{"outcome"})

	nodesCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ideaforge_nodes_created_total",
		Help: "Idea nodes committed to the tree",
	})

	oracleCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ideaforge_oracle_calls_total",
		Help: "Oracle calls by kind and status",
	}, []string{"kind", "status"})

	oracleTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ideaforge_oracle_tokens_total",
		Help: "Tokens exchanged with the oracle",
	}, []string{"kind", "direction"})

	oracleCostTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ideaforge_oracle_cost_usd_total",
		Help: "Estimated oracle spend in USD",
	})

	checkpointSavesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ideaforge_checkpoint_saves_total",
		Help: "Snapshots written to disk",
	})

	treeSizeGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ideaforge_tree_size",
		Help: "Nodes currently in the tree",
	})

	bestScoreGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ideaforge_best_aggregate_score",
		Help: "Highest aggregate score seen this run",
	})

	iterationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ideaforge_iteration_duration_seconds",
		Help:    "Wall time per iteration, oracle calls included",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})
)

// Config controls what the telemetry records.
type Config struct {
	Enabled      bool `mapstructure:"enabled"`
	CostTracking bool `mapstructure:"cost_tracking"`
	PeriodicLogs bool `mapstructure:"periodic_logs"`
}

// Telemetry aggregates search activity. Safe for concurrent use.
type Telemetry struct {
	config  Config
	logger  *log.Logger
	mu      sync.RWMutex
	metrics Metrics
}

// Metrics is the mutable counter state. Snapshot returns deep copies so
// readers never see a map being written.
type Metrics struct {
	Iterations        int64
	IterationFailures int64
	Revisits          int64
	NodesCreated      int64
	CheckpointSaves   int64
	LastCheckpointAt  time.Time
	BestAggregate     float64
	TreeSize          int

	OracleCalls    map[string]int64
	OracleFailures map[string]int64
	OracleTokens   map[string]int64

	TotalCost      float64
	ModelCosts     map[string]float64
	OperationCosts map[string]float64
}

// NewTelemetry creates a telemetry sink. A disabled sink still accepts every
// call and does nothing, so callers never need nil checks.
func NewTelemetry(cfg Config) *Telemetry {
	return &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: Metrics{
			OracleCalls:    make(map[string]int64),
			OracleFailures: make(map[string]int64),
			OracleTokens:   make(map[string]int64),
			ModelCosts:     make(map[string]float64),
			OperationCosts: make(map[string]float64),
		},
	}
}

// RecordIteration registers a finished iteration with its outcome.
func (t *Telemetry) RecordIteration(outcome string, dur time.Duration) {
	if !t.config.Enabled {
		return
	}
	t.mu.Lock()
	switch outcome {
	case OutcomeFailed:
		t.metrics.IterationFailures++
	case OutcomeRevisit:
		t.metrics.Revisits++
		t.metrics.Iterations++
	default:
		t.metrics.Iterations++
	}
	t.mu.Unlock()
	iterationsTotal.WithLabelValues(outcome).Inc()
	iterationDuration.Observe(dur.Seconds())
}

// RecordNodeCreated registers a committed node and the current tree size.
func (t *Telemetry) RecordNodeCreated(depth int, directive string, treeSize int) {
	if !t.config.Enabled {
		return
	}
	t.mu.Lock()
	t.metrics.NodesCreated++
	t.metrics.TreeSize = treeSize
	t.mu.Unlock()
	nodesCreatedTotal.Inc()
	treeSizeGauge.Set(float64(treeSize))
}

// RecordEvaluation registers a completed evaluation.
func (t *Telemetry) RecordEvaluation(aggregate float64) {
	if !t.config.Enabled {
		return
	}
	t.mu.Lock()
	if aggregate > t.metrics.BestAggregate {
		t.metrics.BestAggregate = aggregate
		bestScoreGauge.Set(aggregate)
	}
	t.mu.Unlock()
}

// RecordOracleCall registers one oracle round trip. kind is "generate" or
// "evaluate".
func (t *Telemetry) RecordOracleCall(kind, model string, promptTokens, completionTokens int, cost float64, success bool) {
	if !t.config.Enabled {
		return
	}
	status := "ok"
	if !success {
		status = "error"
	}
	t.mu.Lock()
	t.metrics.OracleCalls[kind]++
	if !success {
		t.metrics.OracleFailures[kind]++
	}
	t.metrics.OracleTokens[kind] += int64(promptTokens + completionTokens)
	if t.config.CostTracking && success {
		t.metrics.TotalCost += cost
		t.metrics.ModelCosts[model] += cost
		t.metrics.OperationCosts[kind] += cost
	}
	t.mu.Unlock()
	oracleCallsTotal.WithLabelValues(kind, status).Inc()
	oracleTokensTotal.WithLabelValues(kind, "prompt").Add(float64(promptTokens))
	oracleTokensTotal.WithLabelValues(kind, "completion").Add(float64(completionTokens))
	if t.config.CostTracking && success {
		oracleCostTotal.Add(cost)
	}
}

// RecordCheckpoint registers a snapshot write.
func (t *Telemetry) RecordCheckpoint(path string, nodes int) {
	if !t.config.Enabled {
		return
	}
	t.mu.Lock()
	t.metrics.CheckpointSaves++
	t.metrics.LastCheckpointAt = time.Now()
	t.mu.Unlock()
	checkpointSavesTotal.Inc()
}

// Snapshot returns a deep copy of the current metrics.
func (t *Telemetry) Snapshot() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := t.metrics
	out.OracleCalls = copyMap(t.metrics.OracleCalls)
	out.OracleFailures = copyMap(t.metrics.OracleFailures)
	out.OracleTokens = copyMap(t.metrics.OracleTokens)
	out.ModelCosts = copyMap(t.metrics.ModelCosts)
	out.OperationCosts = copyMap(t.metrics.OperationCosts)
	return out
}

// StartPeriodicLogging emits a summary line on the given cadence until ctx
// is cancelled. No-op unless periodic logs are enabled.
func (t *Telemetry) StartPeriodicLogging(ctx context.Context, every time.Duration) {
	if !t.config.Enabled || !t.config.PeriodicLogs {
		return
	}
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m := t.Snapshot()
				t.logger.Printf("iterations=%d failures=%d nodes=%d best=%.3f cost=$%.4f",
					m.Iterations, m.IterationFailures, m.NodesCreated, m.BestAggregate, m.TotalCost)
			}
		}
	}()
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
