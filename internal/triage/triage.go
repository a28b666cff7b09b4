// Package triage wires the full classification pipeline (C1-C8) behind a
// small public API: Classify, SubmitFeedback, Promote, AccuracyStats,
// SimilarPastCases, and SystemStats.
package triage

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"medtriage/internal/assembler"
	"medtriage/internal/catalog"
	"medtriage/internal/config"
	"medtriage/internal/corpus"
	"medtriage/internal/embedding"
	"medtriage/internal/ensemble"
	"medtriage/internal/extract"
	"medtriage/internal/learning"
	"medtriage/internal/llm"
	"medtriage/internal/reasoninggraph"
	"medtriage/internal/types"
)

// Request is a single classification request, validated before use.
type Request struct {
	Text string `validate:"required,min=3"`
}

// Result is the outcome of a Classify call: the assembled verdict plus the
// prediction ID feedback must reference.
type Result struct {
	Verdict      assembler.Verdict
	PredictionID string
}

// SystemStats reports the pipeline's component sizes for observability.
type SystemStats struct {
	CorpusCaseCount     int
	GraphNodeCount      int
	GraphEdgeCount      int
	GraphEmergencyTypes int
	LLMModel            string
	LLMProvider         string
}

// classifier is the seam between Triage and the C5 LLM adapter. *llm.Classifier
// satisfies it structurally; tests substitute a stub so Classify never makes
// a network call.
type classifier interface {
	Classify(ctx context.Context, input llm.ClassificationInput) (*types.SourceMatch, error)
}

// Triage composes the C1-C8 pipeline into one stateful handle.
type Triage struct {
	cfg      *config.Config
	catalog  *catalog.Catalog
	corpus   *corpus.Corpus
	graph    *reasoninggraph.Graph
	llm      classifier
	store    *learning.Store
	validate *validator.Validate

	// recordCh feeds a small worker pool that persists predictions off the
	// request path, so a slow SQLite write never adds latency to Classify's
	// returned verdict. Sized by cfg.Learning.RecordQueueDepth/RecordWorkers.
	recordCh chan types.Prediction
	recordWG sync.WaitGroup
}

// New constructs the pipeline from cfg.
func New(cfg *config.Config) (*Triage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	embedder := embedding.NewLocalEmbedder(nil)

	cs, err := corpus.New(corpus.Config{PersistPath: cfg.Storage.VectorStorePath, Embedder: embedder})
	if err != nil {
		return nil, fmt.Errorf("open case corpus: %w", err)
	}

	store, err := learning.New(cfg.Storage.SQLitePath, time.Duration(cfg.Storage.SQLiteTimeoutMs)*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("open learning store: %w", err)
	}

	llmClassifier := llm.New(llm.Config{
		Model:              cfg.LLM.Model,
		APIKeyEnv:          cfg.LLM.APIKeyEnv,
		Timeout:            time.Duration(cfg.LLM.TimeoutMs) * time.Millisecond,
		BreakerMaxFailures: cfg.LLM.BreakerMaxFailures,
	})

	t := newWithDeps(cfg, catalog.New(), cs, reasoninggraph.New(), llmClassifier, store)
	log.Printf("[INFO] triage pipeline ready (env=%s)", cfg.Server.Environment)
	return t, nil
}

func newWithDeps(cfg *config.Config, cat *catalog.Catalog, cs *corpus.Corpus, g *reasoninggraph.Graph, c classifier, store *learning.Store) *Triage {
	queueDepth := cfg.Learning.RecordQueueDepth
	if queueDepth < 1 {
		queueDepth = 1
	}
	workers := cfg.Learning.RecordWorkers
	if workers < 1 {
		workers = 1
	}

	t := &Triage{
		cfg:      cfg,
		catalog:  cat,
		corpus:   cs,
		graph:    g,
		llm:      c,
		store:    store,
		validate: validator.New(),
		recordCh: make(chan types.Prediction, queueDepth),
	}

	for i := 0; i < workers; i++ {
		t.recordWG.Add(1)
		go t.recordWorker()
	}

	return t
}

// recordWorker drains recordCh until it is closed by Close. A failed write
// is logged and dropped - losing at most the one in-flight record, per the
// concurrency model's accepted tradeoff for never blocking Classify.
func (t *Triage) recordWorker() {
	defer t.recordWG.Done()
	for p := range t.recordCh {
		if err := t.store.RecordPrediction(context.Background(), p); err != nil {
			log.Printf("[WARN] failed to record prediction: %v", err)
		}
	}
}

// Classify runs a free-text report through the full ensemble pipeline and
// records the resulting prediction for later feedback.
func (t *Triage) Classify(ctx context.Context, req Request) (Result, error) {
	if err := t.validate.Struct(req); err != nil {
		return Result{}, fmt.Errorf("invalid request: %w", err)
	}

	age := extract.ExtractAgeGroup(req.Text)
	reportingMode := extract.DetectReportingMode(req.Text)

	// Stage A: age is a hard gate, not a per-condition heuristic. Without it,
	// age-driven severity escalation (reasoninggraph.EscalateByAge) can't be
	// evaluated for ANY condition, so Stage B is never entered and no source
	// is queried.
	if age == types.AgeUnknown {
		verdict := assembler.AssembleAgeClarification(nil)
		return t.recordAndReturn(req.Text, verdict, nil, nil, nil, nil, reportingMode), nil
	}

	symptoms := extract.ExtractSymptoms(req.Text)

	var vectorMatch, graphMatch *types.SourceMatch

	if matches, err := t.corpus.Query(ctx, req.Text, 1); err != nil {
		log.Printf("[WARN] case corpus query failed, vector source abstains: %v", err)
	} else if len(matches) > 0 {
		vectorMatch = &types.SourceMatch{
			Condition:  matches[0].Case.Condition,
			Confidence: matches[0].Confidence,
			Reasoning:  "closest matching case in the semantic corpus",
		}
	}

	if candidates := t.graph.FindBySymptoms(symptoms); len(candidates) > 0 {
		graphMatch = &types.SourceMatch{
			Condition:  candidates[0].Condition,
			Confidence: candidates[0].Score,
			Reasoning:  "matched symptoms against the reasoning graph",
		}
	}

	llmMatch, err := t.llm.Classify(ctx, llm.ClassificationInput{
		CaseText:      req.Text,
		Conditions:    t.catalog.Conditions(),
		VectorHint:    vectorMatch,
		GraphHint:     graphMatch,
		ReportingMode: reportingMode,
	})
	if err != nil {
		return Result{}, fmt.Errorf("llm classify: %w", err)
	}

	decision := ensemble.Decide(ensemble.Input{Vector: vectorMatch, Graph: graphMatch, LLM: llmMatch}, ensemble.Params{
		Weights:             ensemble.Weights{Vector: t.cfg.Ensemble.VectorWeight, Graph: t.cfg.Ensemble.GraphWeight, LLM: t.cfg.Ensemble.LLMWeight},
		AgreementBoost:      t.cfg.Ensemble.AgreementBoost,
		ConfidenceCap:       t.cfg.Ensemble.ConfidenceCap,
		AbstentionThreshold: t.cfg.Ensemble.AbstentionThreshold,
		DefaultRequiresSOS:  t.cfg.Ensemble.DefaultRequiresSOS,
		SeverityOf: func(c types.Condition) types.Severity {
			entry, ok := t.catalog.Get(c)
			if !ok {
				return ""
			}
			return entry.Severity
		},
	})

	verdict := assembler.Assemble(assembler.Inputs{
		Decision:       decision,
		Catalog:        t.catalog,
		ReasoningGraph: t.graph,
		Age:            age,
		Vector:         vectorMatch,
		GraphVote:      graphMatch,
		LLM:            llmMatch,
	})

	return t.recordAndReturn(req.Text, verdict, decision.SourcesUsed, vectorMatch, graphMatch, llmMatch, reportingMode), nil
}

// recordAndReturn enqueues the prediction for async persistence and builds
// the Result returned to the caller. sourcesUsed/vectorMatch/graphMatch/
// llmMatch are nil for the Stage A age-gate path, since no source voted.
func (t *Triage) recordAndReturn(caseText string, verdict assembler.Verdict, sourcesUsed []string, vectorMatch, graphMatch, llm *types.SourceMatch, reportingMode types.ReportingMode) Result {
	predictionID := uuid.NewString()
	pred := types.Prediction{
		ID:                predictionID,
		CaseText:          caseText,
		PredictedType:     verdict.Type,
		PredictedSeverity: verdict.Severity,
		Confidence:        verdict.Confidence,
		SourcesUsed:       sourcesUsed,
		VectorMatch:       vectorMatch,
		GraphMatch:        graphMatch,
		LLMMatch:          llm,
		ReportingMode:     reportingMode,
		CreatedAt:         time.Now(),
	}
	select {
	case t.recordCh <- pred:
	default:
		log.Printf("[WARN] record queue full, dropping prediction %s", predictionID)
	}

	return Result{Verdict: verdict, PredictionID: predictionID}
}

// SubmitFeedback records a verified correction or confirmation of a past
// prediction (spec invariant I3: at most one feedback per prediction).
func (t *Triage) SubmitFeedback(ctx context.Context, predictionID string, wasCorrect bool, actualType types.Condition, actualSeverity types.Severity, notes, verifiedBy string) error {
	return t.store.RecordFeedback(ctx, types.Feedback{
		PredictionID:   predictionID,
		WasCorrect:     wasCorrect,
		ActualType:     actualType,
		ActualSeverity: actualSeverity,
		UserNotes:      notes,
		VerifiedBy:     verifiedBy,
	})
}

// Promote runs an explicit retraining-promotion batch. It is never
// triggered automatically by Classify or SubmitFeedback.
func (t *Triage) Promote(ctx context.Context, minConfidence float64, maxPerRun int) (learning.PromoteResult, error) {
	return t.store.Promote(ctx, t.corpus, minConfidence, maxPerRun)
}

// AccuracyStats reports the pipeline's running accuracy metrics.
func (t *Triage) AccuracyStats(ctx context.Context) (learning.AccuracyStats, error) {
	return t.store.AccuracyStats(ctx)
}

// SimilarPastCases finds verified past cases with overlapping keywords.
func (t *Triage) SimilarPastCases(ctx context.Context, text string, limit int) ([]learning.SimilarCase, error) {
	return t.store.SimilarPastCases(ctx, text, limit)
}

// SystemStats reports component sizes for observability.
func (t *Triage) SystemStats(ctx context.Context) (SystemStats, error) {
	return SystemStats{
		CorpusCaseCount:     t.corpus.Count(),
		GraphNodeCount:      t.graph.NodeCount(),
		GraphEdgeCount:      t.graph.EdgeCount(),
		GraphEmergencyTypes: t.graph.EmergencyTypeCount(),
		LLMModel:            t.cfg.LLM.Model,
		LLMProvider:         "anthropic",
	}, nil
}

// Close stops the record worker pool, waits for in-flight writes to
// finish, and releases the pipeline's underlying resources.
func (t *Triage) Close() error {
	close(t.recordCh)
	t.recordWG.Wait()
	return t.store.Close()
}
