// Package orchestrator drives the actor-critic research loop: source
// filtering, clarification, bounded analyst/critic iterations with gap
// resolution in between, then writing and citation validation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meridian-search/reasoner/internal/agents"
	"github.com/meridian-search/reasoner/internal/budget"
	"github.com/meridian-search/reasoner/internal/chain"
	"github.com/meridian-search/reasoner/internal/config"
	"github.com/meridian-search/reasoner/internal/degradation"
	"github.com/meridian-search/reasoner/internal/gaps"
	"github.com/meridian-search/reasoner/internal/guard"
	"github.com/meridian-search/reasoner/internal/llm"
	"github.com/meridian-search/reasoner/internal/metrics"
	"github.com/meridian-search/reasoner/internal/sources"
	"github.com/meridian-search/reasoner/internal/streaming"
	"github.com/meridian-search/reasoner/internal/tracing"
)

// Orchestrator owns the session state machine. One Run call is one
// session; the orchestrator itself is stateless across sessions and
// safe for concurrent use.
type Orchestrator struct {
	cfg       *config.ReasonerConfig
	registry  *sources.Registry
	analyst   *agents.Analyst
	critic    *agents.Critic
	writer    *agents.Writer
	clarifier *agents.Clarifier
	resolver  *gaps.Resolver
	events    *streaming.Manager
	logger    *zap.Logger
}

// New wires the agents, the gap resolver, and the event stream onto a
// shared LLM invoker.
func New(cfg *config.ReasonerConfig, registry *sources.Registry, invoker llm.Invoker, events *streaming.Manager, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if events == nil {
		events = streaming.NewManager(cfg.Streaming.RingCapacity)
	}
	sc := llm.NewStructuredClient(invoker, cfg.Budget.MaxLLMAttempts, cfg.Budget.RetryBaseDelay, logger)
	return &Orchestrator{
		cfg:       cfg,
		registry:  registry,
		analyst:   agents.NewAnalyst(sc, cfg.Features.ArgumentGraphs, logger),
		critic:    agents.NewCritic(sc, cfg.Features.StructuredCritique, logger),
		writer:    agents.NewWriter(sc, logger),
		clarifier: agents.NewClarifier(sc, logger),
		resolver:  gaps.NewResolver(gaps.NewStaticKnowledge(invoker), cfg.Providers, cfg.Timeouts.GapProvider, logger),
		events:    events,
		logger:    logger,
	}
}

// Events exposes the progress-event manager for transport layers.
func (o *Orchestrator) Events() *streaming.Manager { return o.events }

// SetProviderFlags applies hot-reloaded gap channel flags.
func (o *Orchestrator) SetProviderFlags(flags config.ProviderFlags) {
	o.resolver.SetFlags(flags)
}

// Run executes one session. It returns a final result, a
// clarification request, or an error (NoValidSourcesError or a
// SessionError wrapping an exhausted agent failure). Cancellation of
// ctx aborts in-flight calls and discards partial work.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	sessionID := uuid.NewString()
	mode := req.Mode
	if mode == "" {
		mode = sources.ModeDiscovery
	}
	log := o.logger.With(zap.String("session_id", sessionID))
	start := time.Now()
	metrics.SessionsStarted.WithLabelValues(string(mode)).Inc()
	ctx, span := tracing.StartSessionSpan(ctx, sessionID, string(mode))
	defer span.End()
	defer metrics.SessionDuration.WithLabelValues(string(mode)).Observe(time.Since(start).Seconds())

	log.Info("session started",
		zap.String("mode", string(mode)),
		zap.Int("documents", len(req.Documents)))
	o.emit(ctx, sessionID, streaming.StageSessionStarted, 0, "research session started", 2)

	// Source filtering. An empty result is fatal and not retried.
	o.emit(ctx, sessionID, streaming.StageSourceFiltering, 0, "filtering sources by tier", 5)
	filtered, err := sources.Filter(req.Documents, mode, o.registry, log)
	if err != nil {
		o.emit(ctx, sessionID, streaming.StageFailed, 0, "no valid sources after filtering", 100)
		metrics.SessionsCompleted.WithLabelValues(string(mode), "no_valid_sources").Inc()
		return nil, err
	}
	sm := sources.NewSourceMap()
	sm.AppendAll(filtered)
	usage := budget.NewUsageTracker()

	// Clarification check. A failing clarifier never blocks research.
	if o.cfg.Features.Clarifier {
		o.emit(ctx, sessionID, streaming.StageClarifierChecking, 0, "checking query for ambiguity", 10)
		var cl agents.ClarifierOutput
		err := o.callAgent(ctx, "clarifier", o.cfg.Timeouts.Clarifier, func(ctx context.Context) error {
			out, u, err := o.clarifier.Check(ctx, req.Query)
			cl = out
			usage.Record("clarifier", 0, u.InputTokens, u.OutputTokens, u.Attempts)
			return err
		})
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			log.Warn("clarifier failed, proceeding to research", zap.Error(err))
		case len(cl.Ambiguities) > 0:
			log.Info("clarification required", zap.Int("questions", len(cl.Ambiguities)))
			metrics.SessionsCompleted.WithLabelValues(string(mode), "clarification").Inc()
			return &Result{Clarification: &ClarificationRequest{
				SessionID: sessionID,
				Questions: cl.Ambiguities,
			}}, nil
		}
	}

	maxIter := o.cfg.Research.MaxIterations
	if maxIter <= 0 {
		maxIter = 3
	}

	tracker := degradation.NewTracker()
	var (
		enrichments []string
		prevDraft   string
		prevCritic  *agents.CriticOutput
		chosen      degradation.Snapshot
		decided     bool
	)

	for iter := 1; iter <= maxIter; iter++ {
		base := 10 + 70*(iter-1)/maxIter
		width := 70 / maxIter
		rc := o.buildContext(req.Query, mode, iter, sm, enrichments, prevDraft, prevCritic)

		o.emit(ctx, sessionID, streaming.StageAnalystAnalyzing, iter, "analyst drafting", base+width/4)
		aout, err := o.runAnalyst(ctx, iter, rc, prevCritic, usage)
		if err != nil {
			return nil, o.fail(ctx, sessionID, mode, "analyst call failed", tracker, err)
		}

		// Gap sub-loop: resolve, then let the analyst redraft against
		// the enriched context within the same iteration.
		if len(aout.Gaps) > 0 {
			o.emit(ctx, sessionID, streaming.StageGapSearchStarted, iter,
				fmt.Sprintf("resolving %d knowledge gaps", len(aout.Gaps)), base+width/2)
			roundStart := time.Now()
			roundCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeouts.GapRound)
			resolutions := o.resolver.Resolve(roundCtx, aout.Gaps, sm)
			cancel()
			metrics.GapRoundDuration.Observe(time.Since(roundStart).Seconds())

			resolved := 0
			for _, r := range resolutions {
				outcome := "unresolved"
				if r.Resolved {
					outcome = "resolved"
					resolved++
				}
				metrics.GapResolutions.WithLabelValues(string(r.Gap.Channel), outcome).Inc()
				enrichments = append(enrichments, r.ContextLine())
			}
			log.Info("gap round finished",
				zap.Int("iteration", iter),
				zap.Int("requested", len(resolutions)),
				zap.Int("resolved", resolved))
			o.emit(ctx, sessionID, streaming.StageGapSearchDone, iter,
				fmt.Sprintf("%d of %d gaps resolved", resolved, len(resolutions)), base+width/2)

			rc = o.buildContext(req.Query, mode, iter, sm, enrichments, prevDraft, prevCritic)
			aout, err = o.runAnalyst(ctx, iter, rc, prevCritic, usage)
			if err != nil {
				return nil, o.fail(ctx, sessionID, mode, "analyst call failed after gap resolution", tracker, err)
			}
		}

		o.emit(ctx, sessionID, streaming.StageCriticReviewing, iter, "critic reviewing draft", base+3*width/4)
		var cout agents.CriticOutput
		err = o.callAgent(ctx, "critic", o.cfg.Timeouts.Critic, func(ctx context.Context) error {
			out, u, err := o.critic.Review(ctx, rc, aout)
			cout = out
			usage.Record("critic", iter, u.InputTokens, u.OutputTokens, u.Attempts)
			return err
		})
		if err != nil {
			return nil, o.fail(ctx, sessionID, mode, "critic call failed", tracker, err)
		}

		var analysis *chain.Analysis
		if o.cfg.Features.ChainAnalysis && len(aout.ArgumentNodes) > 0 {
			o.emit(ctx, sessionID, streaming.StageChainAnalyzing, iter, "validating reasoning chain", base+3*width/4)
			a := chain.Analyze(aout.ArgumentNodes, cout.Weaknesses, chain.Config{
				CriticalImpactThreshold: o.cfg.Research.CriticalImpactThreshold,
				ConfidenceFloor:         o.cfg.Research.ConfidenceFloor,
				InflationMargin:         o.cfg.Research.InflationMargin,
			})
			analysis = &a
			if a.HasCycles {
				metrics.ChainCycles.Inc()
				log.Warn("reasoning chain contains cycles",
					zap.String("cycle_details", a.CycleDetails))
			}
			metrics.ChainCriticalNodes.Observe(float64(len(a.CriticalNodes)))
		}

		reviewed := agents.EscalateVerdict(cout, o.cfg.Research.EscalationThreshold)
		metrics.CriticVerdicts.WithLabelValues(
			string(reviewed.Verdict), strconv.FormatBool(reviewed.Escalated)).Inc()
		score := tracker.Record(iter, aout, reviewed, analysis)
		log.Info("iteration reviewed",
			zap.Int("iteration", iter),
			zap.String("verdict", string(reviewed.Verdict)),
			zap.Bool("escalated", reviewed.Escalated),
			zap.Float64("score", score))

		if reviewed.Verdict != agents.VerdictReject {
			chosen, _ = tracker.Best()
			decided = true
			break
		}
		prevDraft = aout.Draft
		prevCritic = &reviewed
	}

	if !decided {
		// Iteration budget exhausted on REJECT: hand the writer the
		// best draft so far rather than failing with nothing.
		best, ok := tracker.Best()
		if !ok {
			return nil, o.fail(ctx, sessionID, mode, "no draft produced", tracker, nil)
		}
		chosen = best
		metrics.DegradedSessions.Inc()
		log.Warn("iteration budget exhausted, degrading to best draft",
			zap.Int("best_iteration", chosen.Iteration),
			zap.Float64("score", chosen.Score))
		o.emit(ctx, sessionID, streaming.StageDegraded, maxIter,
			"iteration budget exhausted; using best draft", 80)
	}

	final, err := o.write(ctx, sessionID, mode, req.Query, sm, chosen, usage, tracker)
	if err != nil {
		return nil, err
	}
	final.ChainAnalysis = chosen.Analysis
	final.Degraded = !decided
	final.Usage = usage.Totals()

	metrics.SessionIterations.Observe(float64(final.IterationsUsed))
	metrics.SessionTokensUsed.Observe(float64(final.Usage.InputTokens + final.Usage.OutputTokens))
	outcome := "completed"
	if final.Degraded {
		outcome = "degraded"
	}
	metrics.SessionsCompleted.WithLabelValues(string(mode), outcome).Inc()
	o.emit(ctx, sessionID, streaming.StageComplete, final.IterationsUsed, "research complete", 100)
	log.Info("session finished",
		zap.String("outcome", outcome),
		zap.Int("iterations", final.IterationsUsed),
		zap.Int("sources_used", len(final.SourcesUsed)),
		zap.Duration("elapsed", time.Since(start)))
	return &Result{Final: final}, nil
}

// runAnalyst dispatches research on the first pass and revision once a
// critique exists, under the analyst timeout.
func (o *Orchestrator) runAnalyst(ctx context.Context, iter int, rc agents.ResearchContext, prevCritic *agents.CriticOutput, usage *budget.UsageTracker) (agents.AnalystOutput, error) {
	var aout agents.AnalystOutput
	err := o.callAgent(ctx, "analyst", o.cfg.Timeouts.Analyst, func(ctx context.Context) error {
		var u llm.Usage
		var err error
		if prevCritic == nil {
			aout, u, err = o.analyst.Research(ctx, rc)
		} else {
			aout, u, err = o.analyst.Revise(ctx, rc, *prevCritic)
		}
		usage.Record("analyst", iter, u.InputTokens, u.OutputTokens, u.Attempts)
		return err
	})
	return aout, err
}

// write plans (for long drafts), composes, and validates citations.
func (o *Orchestrator) write(ctx context.Context, sessionID string, mode sources.Mode, query string, sm *sources.SourceMap, chosen degradation.Snapshot, usage *budget.UsageTracker, tracker *degradation.Tracker) (*FinalResult, error) {
	draft := chosen.Analyst.Draft
	whitelist := chosen.Analyst.CitationsUsed
	rc := agents.ResearchContext{
		Query:     query,
		Mode:      mode,
		Iteration: chosen.Iteration,
		Sources:   sm.Records(),
	}

	var plan *agents.WriterPlan
	if o.cfg.Features.PlanAndWrite && len(draft) > o.cfg.Research.PlanThresholdChars {
		o.emit(ctx, sessionID, streaming.StageWriterPlanning, chosen.Iteration, "outlining report", 85)
		var p agents.WriterPlan
		err := o.callAgent(ctx, "writer", o.cfg.Timeouts.Writer, func(ctx context.Context) error {
			out, u, err := o.writer.Plan(ctx, rc, draft)
			p = out
			usage.Record("writer", chosen.Iteration, u.InputTokens, u.OutputTokens, u.Attempts)
			return err
		})
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			// Plan failure degrades to single-shot composition.
			o.logger.Warn("writer plan failed, composing single-shot",
				zap.String("session_id", sessionID), zap.Error(err))
		} else {
			plan = &p
		}
	}

	o.emit(ctx, sessionID, streaming.StageWriterComposing, chosen.Iteration, "composing report", 90)
	var wout agents.WriterOutput
	err := o.callAgent(ctx, "writer", o.cfg.Timeouts.Writer, func(ctx context.Context) error {
		out, u, err := o.writer.Compose(ctx, rc, draft, whitelist, plan)
		wout = out
		usage.Record("writer", chosen.Iteration, u.InputTokens, u.OutputTokens, u.Attempts)
		return err
	})
	if err != nil {
		return nil, o.fail(ctx, sessionID, mode, "writer call failed", tracker, err)
	}

	o.emit(ctx, sessionID, streaming.StageGuardValidating, chosen.Iteration, "validating citations", 95)
	validated := guard.Verify(wout, whitelist)
	if n := validated.Violations(); n > 0 {
		metrics.GuardViolations.Add(float64(n))
		o.logger.Warn("hallucination guard stripped citations",
			zap.String("session_id", sessionID),
			zap.Ints("stripped", validated.Stripped))
	}

	used := make([]sources.SourceRecord, 0, len(validated.SourcesUsed))
	for _, id := range validated.SourcesUsed {
		if rec, ok := sm.Get(id); ok {
			used = append(used, rec)
		}
	}

	final := &FinalResult{
		SessionID:      sessionID,
		Report:         validated.Report,
		SourcesUsed:    used,
		Confidence:     validated.Confidence,
		IterationsUsed: chosen.Iteration,
		Methodology:    validated.Methodology,
	}
	if o.cfg.Features.ArgumentGraphs {
		final.ArgumentGraph = chosen.Analyst.ArgumentNodes
	}
	return final, nil
}

// buildContext assembles the per-call research context under the
// character budget. The query, source listing, and latest critique are
// essential and never trimmed; enrichments and the previous draft are
// history, evicted oldest first.
func (o *Orchestrator) buildContext(query string, mode sources.Mode, iter int, sm *sources.SourceMap, enrichments []string, prevDraft string, prevCritic *agents.CriticOutput) agents.ResearchContext {
	cb := budget.NewContextBudget(o.cfg.Budget.ContextCharBudget, o.logger)
	cb.Add("query", budget.SegmentEssential, query)
	cb.Add("sources", budget.SegmentEssential, sourceListing(sm.Records()))
	if prevCritic != nil {
		cb.Add("critique", budget.SegmentEssential, prevCritic.Critique)
	}
	cb.Add("prev_draft", budget.SegmentHistory, prevDraft)
	for i, e := range enrichments {
		cb.Add(fmt.Sprintf("enrichment_%03d", i), budget.SegmentHistory, e)
	}

	var kept []string
	keptDraft := ""
	for _, seg := range cb.Surviving() {
		switch {
		case seg.Label == "prev_draft":
			keptDraft = seg.Text
		case strings.HasPrefix(seg.Label, "enrichment_"):
			kept = append(kept, seg.Text)
		}
	}
	if n := cb.Evicted(); n > 0 {
		metrics.ContextEvictions.Add(float64(n))
	}
	return agents.ResearchContext{
		Query:       query,
		Mode:        mode,
		Iteration:   iter,
		Sources:     sm.Records(),
		Enrichments: kept,
		PrevDraft:   keptDraft,
		PrevCritic:  prevCritic,
	}
}

// sourceListing approximates the prompt cost of the source map for
// budget accounting.
func sourceListing(recs []sources.SourceRecord) string {
	var b strings.Builder
	for _, r := range recs {
		fmt.Fprintf(&b, "[%d] %s (%s) %s\n", r.ID, r.Title, r.Label, r.Locator)
		if r.Snippet != "" {
			b.WriteString(r.Snippet)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// callAgent runs fn under the per-agent timeout. An outer timeout is
// retried once, then escalated; any other error escalates directly.
func (o *Orchestrator) callAgent(ctx context.Context, name string, timeout time.Duration, fn func(context.Context) error) error {
	attempt := func() error {
		callCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		start := time.Now()
		err := fn(callCtx)
		metrics.AgentCallDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.AgentCalls.WithLabelValues(name, status).Inc()
		return err
	}

	err := attempt()
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		o.logger.Warn("agent call timed out, retrying once", zap.String("agent", name))
		return attempt()
	}
	return err
}

// fail builds the structured session error, attaching the best draft
// produced so far.
func (o *Orchestrator) fail(ctx context.Context, sessionID string, mode sources.Mode, reason string, tracker *degradation.Tracker, err error) error {
	if ctx.Err() != nil {
		// Caller disconnect: discard partial work, no events.
		return ctx.Err()
	}
	partial := ""
	if best, ok := tracker.Best(); ok {
		partial = best.Analyst.Draft
	}
	o.emit(ctx, sessionID, streaming.StageFailed, 0, reason, 100)
	metrics.SessionsCompleted.WithLabelValues(string(mode), "failed").Inc()
	return &SessionError{
		SessionID:    sessionID,
		Reason:       reason,
		PartialDraft: partial,
		Err:          err,
	}
}

// emit publishes a progress event. Fire and forget: delivery failure
// never affects the loop, and nothing is emitted after cancellation.
func (o *Orchestrator) emit(ctx context.Context, sessionID string, stage streaming.Stage, iteration int, message string, progress int) {
	if ctx.Err() != nil {
		return
	}
	o.events.Publish(streaming.Event{
		SessionID:       sessionID,
		Stage:           stage,
		Iteration:       iteration,
		TotalIterations: o.cfg.Research.MaxIterations,
		Message:         message,
		Progress:        float64(progress),
	})
}
