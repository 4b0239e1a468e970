// File: internal/pipeline/engine.go

// Package pipeline orchestrates one scan end to end: evidence collection,
// two-tier model scoring, branch correction, calibration, and policy. Every
// stage that moves the verdict leaves a node in the decision graph.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/elara-sec/verdict/api/schemas"
	"github.com/elara-sec/verdict/internal/calibration"
	"github.com/elara-sec/verdict/internal/collectors"
	"github.com/elara-sec/verdict/internal/config"
	"github.com/elara-sec/verdict/internal/graph"
	"github.com/elara-sec/verdict/internal/metrics"
	"github.com/elara-sec/verdict/internal/policy"
	"github.com/elara-sec/verdict/internal/render"
)

// Engine runs the scoring pipeline. Construct once and share; Scan is safe
// for concurrent use.
type Engine struct {
	logger     *zap.Logger
	cfg        config.PipelineConfig
	runner     *collectors.Runner
	renderer   render.Renderer
	stage2     *stage2Runner
	calibrator *calibration.Calibrator
	policy     *policy.Engine
}

// NewEngine wires the pipeline from its parts.
func NewEngine(
	logger *zap.Logger,
	cfg config.PipelineConfig,
	runner *collectors.Runner,
	renderer render.Renderer,
	llm schemas.LLMClient,
	calibrator *calibration.Calibrator,
	policyEngine *policy.Engine,
) *Engine {
	return &Engine{
		logger:     logger.Named("pipeline"),
		cfg:        cfg,
		runner:     runner,
		renderer:   renderer,
		stage2:     &stage2Runner{logger: logger.Named("stage2"), llm: llm, consensusModels: cfg.ConsensusModels},
		calibrator: calibrator,
		policy:     policyEngine,
	}
}

// gateDecision is the stage2_gate node payload.
type gateDecision struct {
	Stage1Confidence float64 `json:"stage1_confidence"`
	Threshold        float64 `json:"threshold"`
	RunStage2        bool    `json:"run_stage2"`
	Reason           string  `json:"reason"`
}

// Scan scores one URL. An error return means the scan itself failed (invalid
// target, collector phase abort, or an internal invariant violation);
// degraded evidence never fails a scan.
func (e *Engine) Scan(ctx context.Context, rawURL string) (*schemas.ScanResult, error) {
	started := time.Now()

	target, err := collectors.NewTarget(rawURL)
	if err != nil {
		return nil, err
	}

	log := e.logger.With(zap.String("url", target.Raw))
	builder := graph.NewBuilder()

	// Render first so content-dependent collectors see the snapshot.
	if e.cfg.RenderEnabled {
		snap, err := e.renderer.Capture(ctx, target.Raw)
		if err != nil {
			log.Warn("Page capture failed; content checks will degrade.", zap.Error(err))
		} else {
			target.Snapshot = snap
		}
	}

	colResult, err := e.runner.Run(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("collector phase: %w", err)
	}

	scoreRatio := 0.0
	if colResult.MaxScore > 0 {
		scoreRatio = colResult.RiskScore / colResult.MaxScore
	}
	builder.Append("collectors",
		map[string]string{"url": target.Raw},
		map[string]any{
			"risk_score": colResult.RiskScore,
			"max_score":  colResult.MaxScore,
			"categories": colResult.Categories,
			"evidence":   colResult.Evidence,
		},
		scoreRatio)

	stage1 := runStage1(target, colResult.Evidence, scoreRatio)
	builder.Append("stage1", nil, stage1, stage1.Probability-scoreRatio)
	probability := stage1.Probability

	gate := gateDecision{
		Stage1Confidence: stage1.Confidence,
		Threshold:        e.cfg.Stage2Threshold,
		RunStage2:        stage1.Confidence < e.cfg.Stage2Threshold,
	}
	if gate.RunStage2 {
		gate.Reason = fmt.Sprintf("stage-1 confidence %.2f below threshold %.2f", stage1.Confidence, e.cfg.Stage2Threshold)
	} else {
		gate.Reason = fmt.Sprintf("stage-1 confidence %.2f meets threshold %.2f", stage1.Confidence, e.cfg.Stage2Threshold)
	}
	builder.Append("stage2_gate", nil, gate, 0)

	var stage2 *schemas.StageOutput
	stage2Ran := false
	if gate.RunStage2 {
		out, err := e.stage2.run(ctx, target, colResult.Evidence)
		if err != nil {
			// Full Stage-2 failure falls back to Stage-1; the graph records it.
			metrics.Stage2Invocations.WithLabelValues("fallback").Inc()
			log.Warn("Stage-2 failed entirely; falling back to stage-1 output.", zap.Error(err))
			builder.Append("stage2", nil, map[string]string{"fallback": err.Error()}, 0)
		} else {
			stage2 = out
			stage2Ran = true
			combined := e.cfg.Stage1Weight*stage1.Probability + e.cfg.Stage2Weight*out.Probability
			builder.Append("stage2", nil, out, combined-probability)
			probability = combined
			metrics.Stage2Invocations.WithLabelValues("ran").Inc()
		}
	} else {
		metrics.Stage2Invocations.WithLabelValues("skipped").Inc()
	}

	corr := correctForBranch(probability, colResult.Evidence.Reachability)
	builder.Append("branch", nil, corr, corr.After-corr.Before)
	probability = corr.After

	cal, err := e.calibrator.Calibrate(probability, calibration.Features{
		Completeness: colResult.Evidence.Completeness(),
		Stage2Ran:    stage2Ran,
	})
	if err != nil {
		return nil, fmt.Errorf("calibration: %w", err)
	}
	builder.Append("calibration", nil, map[string]float64{
		"probability": cal.Probability,
		"lower":       cal.Lower,
		"upper":       cal.Upper,
		"coverage":    e.calibrator.Coverage(),
	}, 0)

	// The statistical verdict honors both views: the additive evidence score
	// and the calibrated model probability. The stricter one wins.
	level := schemas.RiskLevelForScore(colResult.RiskScore, colResult.MaxScore).
		Max(schemas.RiskLevelForScore(cal.Probability, 1))

	override := e.policy.Evaluate(colResult.Evidence, level)
	if override != nil {
		level = override.ForcedLevel
	}
	builder.Append("policy", nil, override, 0)

	result := &schemas.ScanResult{
		ID:            uuid.NewString(),
		URL:           target.Raw,
		ScannedAt:     started.UTC(),
		RiskScore:     colResult.RiskScore,
		MaxScore:      colResult.MaxScore,
		RiskLevel:     level,
		Probability:   cal.Probability,
		Interval:      schemas.ConfidenceInterval{Lower: cal.Lower, Upper: cal.Upper},
		Stage1:        stage1,
		Stage2:        stage2,
		Evidence:      colResult.Evidence,
		Findings:      colResult.Findings,
		Categories:    colResult.Categories,
		Override:      override,
		DecisionGraph: builder.Build(),
	}

	if err := result.Validate(); err != nil {
		// An invariant violation is a pipeline defect, not a property of the
		// target. Fail loudly.
		return nil, fmt.Errorf("scan result invariant violated: %w", err)
	}

	metrics.ScansTotal.WithLabelValues(string(level)).Inc()
	metrics.ScanDuration.Observe(time.Since(started).Seconds())
	log.Info("Scan complete.",
		zap.String("risk_level", string(level)),
		zap.Float64("probability", cal.Probability),
		zap.Float64("risk_score", colResult.RiskScore),
		zap.Bool("stage2_ran", stage2Ran),
		zap.Duration("duration", time.Since(started)))

	return result, nil
}
