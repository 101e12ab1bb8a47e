// Package orchestrator fans captures out to the signal collaborators, fuses
// the results through the decision policy and assembles the immutable
// decision record. Evaluate never returns an error: every failure mode ends
// in a structured verdict.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/Abdul9010150809/VERSHIELD-AI/pkg/detector"
	"github.com/Abdul9010150809/VERSHIELD-AI/pkg/fusion"
	"github.com/Abdul9010150809/VERSHIELD-AI/pkg/models"
	"github.com/Abdul9010150809/VERSHIELD-AI/pkg/semcache"
)

const (
	// DefaultTimeout bounds the whole signal acquisition fan-out.
	DefaultTimeout = 5 * time.Second

	// Fail-safe substitutions for signal legs that miss the deadline.
	fallbackLiveness = models.LivenessReal
	fallbackAcoustic = 0.3

	errTruncateAt = 100
)

// Config tunes the orchestrator.
type Config struct {
	Timeout time.Duration
	Fusion  fusion.Config
}

// Orchestrator coordinates one evaluation.
type Orchestrator struct {
	liveness detector.LivenessDetector
	acoustic detector.AcousticDetector
	reasoner detector.Reasoner
	cache    *semcache.Cache
	cfg      Config
	now      func() time.Time
}

// New builds an orchestrator. The cache may be nil; collaborators may be
// disabled but must not be nil.
func New(liveness detector.LivenessDetector, acoustic detector.AcousticDetector, reasoner detector.Reasoner, cache *semcache.Cache, cfg Config) *Orchestrator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Orchestrator{
		liveness: liveness,
		acoustic: acoustic,
		reasoner: reasoner,
		cache:    cache,
		cfg:      cfg,
		now:      time.Now,
	}
}

// EvalRequest is one evaluation's input. Raw media does not outlive the
// call; only payload sizes are carried into the record path.
type EvalRequest struct {
	Tenant        string
	Video         []byte
	Audio         []byte
	Amount        float64
	PriorCaptures []models.CaptureSample
}

// Evaluate runs the full pipeline and always produces a decision record.
func (o *Orchestrator) Evaluate(ctx context.Context, req EvalRequest) (rec models.DecisionRecord) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("%v", r)
			if len(msg) > errTruncateAt {
				msg = msg[:errTruncateAt]
			}
			log.Printf("orchestrator: recovered panic: %s", msg)
			rec = models.DecisionRecord{
				DecisionID:        uuid.NewString(),
				Tenant:            req.Tenant,
				Verdict:           fusion.VerdictBlock,
				Reasoning:         "Internal decision error: " + msg,
				TransactionAmount: req.Amount,
				Degraded:          true,
				CreatedAt:         o.now().UTC(),
			}
		}
	}()

	liveness, acousticRisk, signals, degraded := o.acquireSignals(ctx, req)
	visionScore := liveness.Score()

	verdict, reasoning, cacheHit := o.reason(ctx, req.Tenant, liveness, acousticRisk, req.Amount, degraded)

	current := []models.CaptureSample{
		{Modality: models.ModalityVideo, PayloadSize: len(req.Video)},
		{Modality: models.ModalityAudio, PayloadSize: len(req.Audio)},
	}
	var mismatches []string
	mismatch := false
	if len(req.PriorCaptures) > 0 {
		cmp := fusion.CompareCaptures(req.PriorCaptures, current)
		mismatches = cmp.Notes
		mismatch = cmp.Mismatch
	}

	verdict, escalation := fusion.Tighten(o.cfg.Fusion, verdict, fusion.Inputs{
		Liveness:        liveness,
		AcousticRisk:    acousticRisk,
		Amount:          req.Amount,
		CaptureMismatch: mismatch,
		Degraded:        degraded,
	})
	if escalation != "" {
		reasoning = reasoning + " Security adjustment: " + escalation
	}

	return models.DecisionRecord{
		DecisionID:        uuid.NewString(),
		Tenant:            req.Tenant,
		Verdict:           verdict,
		Reasoning:         reasoning,
		VisionScore:       visionScore,
		AcousticScore:     acousticRisk,
		TransactionAmount: req.Amount,
		Mismatches:        mismatches,
		Signals:           signals,
		Degraded:          degraded,
		CacheHit:          cacheHit,
		CreatedAt:         o.now().UTC(),
	}
}

type livenessResult struct {
	decision models.Liveness
	err      error
	latency  time.Duration
}

type acousticResult struct {
	score   float64
	err     error
	latency time.Duration
}

// acquireSignals fans out both detectors under one shared deadline. Legs
// that complete keep their real values; legs that error or miss the
// deadline get the fail-safe substitutions at the join.
func (o *Orchestrator) acquireSignals(ctx context.Context, req EvalRequest) (models.Liveness, float64, []models.RiskSignal, bool) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	livenessCh := make(chan livenessResult, 1)
	acousticCh := make(chan acousticResult, 1)
	start := o.now()

	go func() {
		d, err := o.liveness.DetectLiveness(ctx, req.Video)
		livenessCh <- livenessResult{decision: d, err: err, latency: time.Since(start)}
	}()
	go func() {
		s, err := o.acoustic.AnalyzeRisk(ctx, req.Audio)
		acousticCh <- acousticResult{score: s, err: err, latency: time.Since(start)}
	}()

	liveness := fallbackLiveness
	acoustic := fallbackAcoustic
	degraded := false
	signals := make([]models.RiskSignal, 0, 3)

	applyLiveness := func(r livenessResult) {
		if r.err != nil {
			log.Printf("orchestrator: liveness leg failed: %v", r.err)
			degraded = true
			signals = append(signals, models.RiskSignal{Source: models.SourceVision, Value: fallbackLiveness.Score(), Available: false, Latency: r.latency})
			return
		}
		liveness = r.decision
		signals = append(signals, models.RiskSignal{Source: models.SourceVision, Value: r.decision.Score(), Available: true, Latency: r.latency})
	}
	applyAcoustic := func(r acousticResult) {
		if r.err != nil {
			log.Printf("orchestrator: acoustic leg failed: %v", r.err)
			degraded = true
			signals = append(signals, models.RiskSignal{Source: models.SourceAcoustic, Value: fallbackAcoustic, Available: false, Latency: r.latency})
			return
		}
		acoustic = r.score
		signals = append(signals, models.RiskSignal{Source: models.SourceAcoustic, Value: r.score, Available: true, Latency: r.latency})
	}

	// When the deadline fires, a result delivered just before it may still be
	// sitting in the buffered channel; select chooses between ready cases at
	// random, so each deadline arm re-checks the channel before substituting.
	select {
	case r := <-livenessCh:
		applyLiveness(r)
	case <-ctx.Done():
		select {
		case r := <-livenessCh:
			applyLiveness(r)
		default:
			log.Printf("orchestrator: liveness leg missed deadline")
			degraded = true
			signals = append(signals, models.RiskSignal{Source: models.SourceVision, Value: fallbackLiveness.Score(), Available: false, Latency: time.Since(start)})
		}
	}

	select {
	case r := <-acousticCh:
		applyAcoustic(r)
	case <-ctx.Done():
		select {
		case r := <-acousticCh:
			applyAcoustic(r)
		default:
			log.Printf("orchestrator: acoustic leg missed deadline")
			degraded = true
			signals = append(signals, models.RiskSignal{Source: models.SourceAcoustic, Value: fallbackAcoustic, Available: false, Latency: time.Since(start)})
		}
	}

	return liveness, acoustic, signals, degraded
}

// reason resolves the verdict through the cache, the reasoner, or the local
// fallback table, in that order.
func (o *Orchestrator) reason(ctx context.Context, tenant string, liveness models.Liveness, acousticRisk, amount float64, degraded bool) (string, string, bool) {
	query := reasoningQuery(tenant, liveness, acousticRisk, amount)

	if o.cache != nil {
		if hit, ok := o.cache.Get(ctx, query); ok {
			return hit.Verdict, hit.Reasoning, true
		}
	}

	res, err := o.reasoner.Evaluate(ctx, detector.ReasoningRequest{
		Tenant:       tenant,
		Liveness:     liveness,
		AcousticRisk: acousticRisk,
		Amount:       amount,
	})
	if err != nil {
		if !errors.Is(err, detector.ErrUnavailable) {
			log.Printf("orchestrator: reasoner failed, local fallback: %v", err)
		}
		verdict, reasoning := fusion.FallbackDecide(liveness, acousticRisk, amount)
		return verdict, reasoning + " (Fallback mode)", false
	}

	// Only genuine reasoner answers from clean signal runs are cacheable.
	if o.cache != nil && !degraded {
		o.cache.Put(ctx, query, res.Verdict, res.Reasoning)
	}
	return res.Verdict, res.Reasoning, false
}

// reasoningQuery is the deterministic cache key text. Identical fused
// inputs always produce the identical query.
func reasoningQuery(tenant string, liveness models.Liveness, acousticRisk, amount float64) string {
	if tenant == "" {
		tenant = "default"
	}
	return fmt.Sprintf("tenant=%s liveness=%s acoustic=%.2f amount=%.2f", tenant, liveness, acousticRisk, amount)
}
