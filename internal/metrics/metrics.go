package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	SessionsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reasoner_sessions_started_total",
			Help: "Total number of research sessions started",
		},
		[]string{"mode"},
	)

	SessionsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reasoner_sessions_completed_total",
			Help: "Total number of research sessions completed",
		},
		[]string{"mode", "outcome"},
	)

	SessionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reasoner_session_duration_seconds",
			Help:    "Research session duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"mode"},
	)

	SessionIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reasoner_session_iterations",
			Help:    "Research iterations consumed per session",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
	)

	SessionTokensUsed = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reasoner_session_tokens_used",
			Help:    "Total tokens consumed per session",
			Buckets: []float64{500, 1000, 5000, 10000, 50000, 100000},
		},
	)

	// Agent metrics
	AgentCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reasoner_agent_calls_total",
			Help: "Total number of agent invocations",
		},
		[]string{"agent", "status"},
	)

	AgentCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reasoner_agent_call_duration_seconds",
			Help:    "Agent invocation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"agent"},
	)

	AgentRepairAttempts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reasoner_agent_repair_attempts",
			Help:    "Structured-output attempts consumed per agent call",
			Buckets: []float64{1, 2, 3},
		},
		[]string{"agent"},
	)

	// Critic metrics
	CriticVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reasoner_critic_verdicts_total",
			Help: "Critic verdicts by value and whether auto-escalation applied",
		},
		[]string{"verdict", "escalated"},
	)

	// Gap resolution metrics
	GapResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reasoner_gap_resolutions_total",
			Help: "Gap resolutions by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	GapRoundDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reasoner_gap_round_duration_seconds",
			Help:    "Per-round gap resolution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 3, 5, 10, 30},
		},
	)

	// Guard metrics
	GuardViolations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reasoner_guard_violations_total",
			Help: "Citations stripped by the hallucination guard",
		},
	)

	// Chain analysis metrics
	ChainCycles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reasoner_chain_cycles_total",
			Help: "Reasoning chains containing at least one dependency cycle",
		},
	)

	ChainCriticalNodes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reasoner_chain_critical_nodes",
			Help:    "Critical nodes flagged per chain analysis",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		},
	)

	// Degradation metrics
	DegradedSessions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reasoner_degraded_sessions_total",
			Help: "Sessions finished on a best-effort draft after exhausting iterations",
		},
	)

	ContextEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reasoner_context_evictions_total",
			Help: "History segments evicted by the context budget",
		},
	)
)
