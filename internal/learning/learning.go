// Package learning implements the learning subsystem (C7): it persists
// every prediction and its eventual feedback, queues incorrect predictions
// for retraining, promotes verified corrections into the case corpus in
// explicit batches, and reports accuracy statistics.
package learning

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	_ "modernc.org/sqlite"

	"medtriage/internal/types"
)

// Sentinel errors, following the teacher's not-found error pattern
// (internal/storage/sqlite.go's sql.ErrNoRows checks) but exported so
// callers can distinguish these two cases from other failures.
var (
	ErrPredictionNotFound = errors.New("learning: prediction not found")
	ErrFeedbackExists     = errors.New("learning: feedback already recorded for this prediction")
)

// Promoter is the subset of the case corpus the learning subsystem needs
// to promote a corrected case back into retrieval (spec invariant I5).
// Kept as an interface so learning doesn't need to know how the corpus is
// stored.
type Promoter interface {
	Promote(ctx context.Context, text string, cond types.Condition, sev types.Severity) (types.Case, error)
}

// Store is the SQLite-backed learning subsystem.
type Store struct {
	db *sql.DB

	promoteMu sync.Mutex // serializes Promote runs

	predictionsRecorded prometheus.Counter
	feedbackRecorded    prometheus.Counter
	promotions          prometheus.Counter
	confidence          prometheus.Histogram
}

// New opens (or creates) the learning store at path and runs its schema
// migration. path may be ":memory:" for tests.
func New(path string, timeout time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout("+fmt.Sprint(timeout.Milliseconds())+")")
	if err != nil {
		return nil, fmt.Errorf("open learning store: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writes; avoid lock contention

	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return nil, fmt.Errorf("set journal mode: %w", err)
	}

	s := &Store{
		db: db,
		predictionsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medtriage_predictions_recorded_total",
			Help: "Total predictions recorded by the learning subsystem.",
		}),
		feedbackRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medtriage_feedback_recorded_total",
			Help: "Total feedback records recorded by the learning subsystem.",
		}),
		promotions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medtriage_cases_promoted_total",
			Help: "Total retraining entries promoted into the case corpus.",
		}),
		confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "medtriage_prediction_confidence",
			Help:    "Distribution of final ensemble confidence across recorded predictions.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
	}

	if err := s.migrate(); err != nil {
		return nil, err
	}
	log.Printf("[INFO] learning store opened at %s", path)
	return s, nil
}

// Collectors exposes the store's prometheus counters for registration.
func (s *Store) Collectors() []prometheus.Collector {
	return []prometheus.Collector{s.predictionsRecorded, s.feedbackRecorded, s.promotions, s.confidence}
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS predictions (
			id TEXT PRIMARY KEY,
			user_input TEXT NOT NULL,
			predicted_type TEXT NOT NULL,
			predicted_severity TEXT NOT NULL,
			confidence REAL NOT NULL,
			sources_used TEXT NOT NULL,
			reporting_mode TEXT NOT NULL DEFAULT 'unknown',
			prediction_timestamp DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS feedback (
			id TEXT PRIMARY KEY,
			prediction_id TEXT NOT NULL REFERENCES predictions(id),
			was_correct BOOLEAN NOT NULL,
			actual_type TEXT,
			actual_severity TEXT,
			user_notes TEXT,
			verified_by TEXT,
			feedback_timestamp DATETIME NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_feedback_prediction ON feedback(prediction_id);`,
		`CREATE TABLE IF NOT EXISTS retraining_queue (
			id TEXT PRIMARY KEY,
			user_input TEXT NOT NULL,
			correct_type TEXT NOT NULL,
			correct_severity TEXT NOT NULL,
			prediction_id TEXT,
			used_for_training BOOLEAN NOT NULL DEFAULT 0,
			added_timestamp DATETIME NOT NULL,
			training_timestamp DATETIME
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// RecordPrediction persists a classification outcome.
func (s *Store) RecordPrediction(ctx context.Context, p types.Prediction) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	reportingMode := p.ReportingMode
	if reportingMode == "" {
		reportingMode = types.ReportingUnknown
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO predictions (id, user_input, predicted_type, predicted_severity, confidence, sources_used, reporting_mode, prediction_timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.CaseText, string(p.PredictedType), string(p.PredictedSeverity), p.Confidence,
		strings.Join(p.SourcesUsed, ","), string(reportingMode), p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record prediction: %w", err)
	}
	s.predictionsRecorded.Inc()
	s.confidence.Observe(p.Confidence)
	return nil
}

// RecordFeedback persists feedback on a prediction (at most once per
// prediction — spec invariant I3, enforced by the unique index). When the
// feedback marks a prediction incorrect and names the actual type, the
// correction is auto-enqueued for retraining. Feedback on an unknown
// prediction ID returns ErrPredictionNotFound and writes nothing.
func (s *Store) RecordFeedback(ctx context.Context, f types.Feedback) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record feedback: %w", err)
	}
	defer tx.Rollback()

	var predictionCount int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM predictions WHERE id = ?`, f.PredictionID).Scan(&predictionCount); err != nil {
		return fmt.Errorf("look up prediction for feedback: %w", err)
	}
	if predictionCount == 0 {
		return ErrPredictionNotFound
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO feedback (id, prediction_id, was_correct, actual_type, actual_severity, user_notes, verified_by, feedback_timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.PredictionID, f.WasCorrect, string(f.ActualType), string(f.ActualSeverity), f.UserNotes, f.VerifiedBy, f.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrFeedbackExists
		}
		return fmt.Errorf("insert feedback: %w", err)
	}

	if !f.WasCorrect && f.ActualType != "" {
		var userInput string
		err := tx.QueryRowContext(ctx, `SELECT user_input FROM predictions WHERE id = ?`, f.PredictionID).Scan(&userInput)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrPredictionNotFound
		}
		if err != nil {
			return fmt.Errorf("look up prediction for retraining queue: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO retraining_queue (id, user_input, correct_type, correct_severity, prediction_id, used_for_training, added_timestamp)
			 VALUES (?, ?, ?, ?, ?, 0, ?)`,
			uuid.NewString(), userInput, string(f.ActualType), string(f.ActualSeverity), f.PredictionID, time.Now(),
		)
		if err != nil {
			return fmt.Errorf("enqueue retraining entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit feedback: %w", err)
	}
	s.feedbackRecorded.Inc()
	return nil
}

// LearningCandidates returns queued retraining entries with a prediction
// confidence at or above minConfidence, not yet used for training.
func (s *Store) LearningCandidates(ctx context.Context, minConfidence float64, limit int) ([]types.RetrainingEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.user_input, r.correct_type, r.correct_severity, r.prediction_id, r.used_for_training, r.added_timestamp
		 FROM retraining_queue r
		 JOIN predictions p ON p.id = r.prediction_id
		 WHERE r.used_for_training = 0 AND p.confidence >= ?
		 ORDER BY r.added_timestamp ASC
		 LIMIT ?`,
		minConfidence, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query learning candidates: %w", err)
	}
	defer rows.Close()

	var out []types.RetrainingEntry
	for rows.Next() {
		var e types.RetrainingEntry
		var correctType, correctSeverity string
		if err := rows.Scan(&e.ID, &e.UserInput, &correctType, &correctSeverity, &e.PredictionID, &e.UsedForTraining, &e.AddedAt); err != nil {
			return nil, fmt.Errorf("scan learning candidate: %w", err)
		}
		e.CorrectType = types.Condition(correctType)
		e.CorrectSeverity = types.Severity(correctSeverity)
		out = append(out, e)
	}
	return out, rows.Err()
}

// PromoteResult summarizes one promotion run.
type PromoteResult struct {
	ExamplesAdded  int
	TotalAvailable int
}

// Promote pushes up to maxPerRun learning candidates (confidence >=
// minConfidence) into the case corpus and marks them used. Promotion never
// runs automatically - callers invoke it explicitly (spec §7, "promote is
// never automatic"). It is idempotent: a candidate already marked
// used_for_training is excluded by LearningCandidates on the next call.
// Concurrent calls are serialized, so no candidate is promoted twice.
func (s *Store) Promote(ctx context.Context, corpus Promoter, minConfidence float64, maxPerRun int) (PromoteResult, error) {
	s.promoteMu.Lock()
	defer s.promoteMu.Unlock()

	candidates, err := s.LearningCandidates(ctx, minConfidence, maxPerRun)
	if err != nil {
		return PromoteResult{}, err
	}

	total, err := s.countAvailableCandidates(ctx, minConfidence)
	if err != nil {
		return PromoteResult{}, err
	}

	added := 0
	for _, c := range candidates {
		if _, err := corpus.Promote(ctx, c.UserInput, c.CorrectType, c.CorrectSeverity); err != nil {
			log.Printf("[WARN] promote candidate %s failed, leaving queued: %v", c.ID, err)
			continue
		}
		if _, err := s.db.ExecContext(ctx,
			`UPDATE retraining_queue SET used_for_training = 1, training_timestamp = ? WHERE id = ?`,
			time.Now(), c.ID,
		); err != nil {
			return PromoteResult{}, fmt.Errorf("mark candidate trained: %w", err)
		}
		added++
		s.promotions.Inc()
	}

	return PromoteResult{ExamplesAdded: added, TotalAvailable: total}, nil
}

func (s *Store) countAvailableCandidates(ctx context.Context, minConfidence float64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM retraining_queue r JOIN predictions p ON p.id = r.prediction_id
		 WHERE r.used_for_training = 0 AND p.confidence >= ?`,
		minConfidence,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count available candidates: %w", err)
	}
	return n, nil
}

// AccuracyStats summarizes prediction quality over all recorded feedback.
type AccuracyStats struct {
	TotalPredictions       int
	PredictionsWithFeedback int
	CorrectPredictions     int
	OverallAccuracy        float64
	AccuracyByType         map[types.Condition]float64
	CommonMistakes         []ConfusionPair
	RecentTrend            string
	FeedbackCoveragePct    float64
}

// ConfusionPair is one (predicted, actual) mismatch and how often it occurred.
type ConfusionPair struct {
	Predicted types.Condition
	Actual    types.Condition
	Count     int
}

// AccuracyStats computes the subsystem's running accuracy report.
func (s *Store) AccuracyStats(ctx context.Context) (AccuracyStats, error) {
	stats := AccuracyStats{AccuracyByType: map[types.Condition]float64{}}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM predictions`).Scan(&stats.TotalPredictions); err != nil {
		return stats, fmt.Errorf("count predictions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT p.predicted_type, f.was_correct, f.actual_type
		 FROM feedback f JOIN predictions p ON p.id = f.prediction_id`,
	)
	if err != nil {
		return stats, fmt.Errorf("query feedback: %w", err)
	}
	defer rows.Close()

	type typeTally struct{ correct, total int }
	byType := map[types.Condition]*typeTally{}
	confusion := map[[2]types.Condition]int{}

	for rows.Next() {
		var predicted, actual string
		var wasCorrect bool
		if err := rows.Scan(&predicted, &wasCorrect, &actual); err != nil {
			return stats, fmt.Errorf("scan feedback row: %w", err)
		}
		pc := types.Condition(predicted)

		stats.PredictionsWithFeedback++
		if wasCorrect {
			stats.CorrectPredictions++
		} else if actual != "" {
			confusion[[2]types.Condition{pc, types.Condition(actual)}]++
		}

		t, ok := byType[pc]
		if !ok {
			t = &typeTally{}
			byType[pc] = t
		}
		t.total++
		if wasCorrect {
			t.correct++
		}
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	if stats.PredictionsWithFeedback > 0 {
		stats.OverallAccuracy = float64(stats.CorrectPredictions) / float64(stats.PredictionsWithFeedback)
	}
	if stats.TotalPredictions > 0 {
		stats.FeedbackCoveragePct = float64(stats.PredictionsWithFeedback) / float64(stats.TotalPredictions) * 100
	}
	for cond, t := range byType {
		if t.total > 0 {
			stats.AccuracyByType[cond] = float64(t.correct) / float64(t.total)
		}
	}

	type pair struct {
		key   [2]types.Condition
		count int
	}
	pairs := make([]pair, 0, len(confusion))
	for k, c := range confusion {
		pairs = append(pairs, pair{k, c})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].count > pairs[j].count })
	if len(pairs) > 10 {
		pairs = pairs[:10]
	}
	for _, p := range pairs {
		stats.CommonMistakes = append(stats.CommonMistakes, ConfusionPair{
			Predicted: p.key[0], Actual: p.key[1], Count: p.count,
		})
	}

	trend, err := s.recentTrend(ctx)
	if err != nil {
		return stats, err
	}
	stats.RecentTrend = trend

	return stats, nil
}

func (s *Store) recentTrend(ctx context.Context) (string, error) {
	now := time.Now()
	last7 := now.AddDate(0, 0, -7)
	prior7 := now.AddDate(0, 0, -14)

	accuracyInWindow := func(from, to time.Time) (float64, int, error) {
		var correct, total int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*), COALESCE(SUM(CASE WHEN f.was_correct THEN 1 ELSE 0 END), 0)
			 FROM feedback f
			 WHERE f.feedback_timestamp >= ? AND f.feedback_timestamp < ?`,
			from, to,
		).Scan(&total, &correct)
		if err != nil {
			return 0, 0, err
		}
		if total == 0 {
			return 0, 0, nil
		}
		return float64(correct) / float64(total), total, nil
	}

	recentAcc, recentN, err := accuracyInWindow(last7, now)
	if err != nil {
		return "", fmt.Errorf("recent trend window: %w", err)
	}
	priorAcc, priorN, err := accuracyInWindow(prior7, last7)
	if err != nil {
		return "", fmt.Errorf("prior trend window: %w", err)
	}

	if recentN == 0 || priorN == 0 {
		return "insufficient_data", nil
	}
	switch {
	case recentAcc > priorAcc+0.01:
		return "improving", nil
	case recentAcc < priorAcc-0.01:
		return "declining", nil
	default:
		return "stable", nil
	}
}

// ReportingModeBreakdown counts recorded predictions by reporting mode
// (self, third_party, unknown) - a C7 analytics view over the descriptive
// signal extracted by internal/extract. It never influences SOS gating.
func (s *Store) ReportingModeBreakdown(ctx context.Context) (map[types.ReportingMode]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT reporting_mode, COUNT(*) FROM predictions GROUP BY reporting_mode`)
	if err != nil {
		return nil, fmt.Errorf("query reporting mode breakdown: %w", err)
	}
	defer rows.Close()

	out := map[types.ReportingMode]int{}
	for rows.Next() {
		var mode string
		var count int
		if err := rows.Scan(&mode, &count); err != nil {
			return nil, fmt.Errorf("scan reporting mode row: %w", err)
		}
		out[types.ReportingMode(mode)] = count
	}
	return out, rows.Err()
}

// SimilarCase is one verified past case ranked by keyword overlap with a
// query.
type SimilarCase struct {
	UserInput  string
	ActualType types.Condition
	Similarity float64
}

// SimilarPastCases ranks verified feedback (was_correct, or incorrect
// feedback naming the actual type) by keyword overlap with text, keeping
// only matches above a 0.3 overlap ratio.
func (s *Store) SimilarPastCases(ctx context.Context, text string, limit int) ([]SimilarCase, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.user_input, COALESCE(NULLIF(f.actual_type, ''), p.predicted_type)
		 FROM feedback f JOIN predictions p ON p.id = f.prediction_id
		 WHERE f.was_correct OR COALESCE(f.actual_type, '') <> ''`,
	)
	if err != nil {
		return nil, fmt.Errorf("query similar past cases: %w", err)
	}
	defer rows.Close()

	keywords := keywordSet(text)
	if len(keywords) == 0 {
		return nil, nil
	}

	var candidates []SimilarCase
	for rows.Next() {
		var userInput, actualType string
		if err := rows.Scan(&userInput, &actualType); err != nil {
			return nil, fmt.Errorf("scan similar case row: %w", err)
		}
		other := keywordSet(userInput)
		overlap := overlapRatio(keywords, other)
		if overlap > 0.3 {
			candidates = append(candidates, SimilarCase{
				UserInput:  userInput,
				ActualType: types.Condition(actualType),
				Similarity: overlap,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Similarity > candidates[j].Similarity })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

func keywordSet(text string) map[string]bool {
	words := strings.Fields(strings.ToLower(text))
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

func overlapRatio(a, b map[string]bool) float64 {
	if len(a) == 0 {
		return 0
	}
	matches := 0
	for w := range a {
		if b[w] {
			matches++
		}
	}
	return float64(matches) / float64(len(a))
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
