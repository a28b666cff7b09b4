// Package types holds the value types shared across the triage pipeline.
package types

import "time"

// Condition identifies an emergency type in the knowledge catalog.
type Condition string

const (
	ConditionCardiacArrest      Condition = "cardiac_arrest"
	ConditionChoking            Condition = "choking"
	ConditionSevereBleeding     Condition = "severe_bleeding"
	ConditionHeartAttack        Condition = "heart_attack"
	ConditionStroke             Condition = "stroke"
	ConditionSeizure            Condition = "seizure"
	ConditionDiabeticEmergency  Condition = "diabetic_emergency"
	ConditionAllergicReaction   Condition = "allergic_reaction"
	ConditionPoisoning          Condition = "poisoning"
	ConditionBurn               Condition = "burn"
	ConditionFracture           Condition = "fracture"
	ConditionFainting           Condition = "fainting"
	ConditionHypothermia        Condition = "hypothermia"
	ConditionHeatStroke         Condition = "heat_stroke"
	ConditionMinorCut           Condition = "minor_cut"
	ConditionBreathingDifficulty Condition = "breathing_difficulty"

	// Pseudo-conditions a verdict can carry instead of a catalog entry.
	ConditionNeedsClarification    Condition = "needs_clarification"
	ConditionNeedsAgeClarification Condition = "needs_age_clarification"
	ConditionUnknown               Condition = "unknown"
)

// Severity is an ordered emergency severity level.
type Severity string

const (
	SeverityMild     Severity = "MILD"
	SeverityModerate Severity = "MODERATE"
	SeveritySevere   Severity = "SEVERE"
	SeverityCritical Severity = "CRITICAL"
)

var severityRank = map[Severity]int{
	SeverityMild:     0,
	SeverityModerate: 1,
	SeveritySevere:   2,
	SeverityCritical: 3,
}

// Rank returns the ordinal position of the severity, lowest first. Unknown
// severities rank below SeverityMild so they never win a Max comparison.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// Max returns the more severe of the two severities.
func (s Severity) Max(other Severity) Severity {
	if other.Rank() > s.Rank() {
		return other
	}
	return s
}

// AgeBucket is the patient age group used for risk escalation.
type AgeBucket string

const (
	AgeChild   AgeBucket = "child"
	AgeAdult   AgeBucket = "adult"
	AgeElderly AgeBucket = "elderly"
	AgeUnknown AgeBucket = ""
)

// ReportingMode distinguishes a patient self-reporting from a bystander
// describing someone else's condition. It is a descriptive signal only:
// it never gates SOS by itself.
type ReportingMode string

const (
	ReportingSelf       ReportingMode = "self"
	ReportingThirdParty ReportingMode = "third_party"
	ReportingUnknown    ReportingMode = "unknown"
)

// Step is one instruction in a catalog entry's response plan.
type Step struct {
	Title      string `json:"title"`
	Detail     string `json:"detail"`
	TimerS     int    `json:"timer_s,omitempty"`
	CadenceBPM int    `json:"cadence_bpm,omitempty"`
	Critical   bool   `json:"critical,omitempty"`
}

// CatalogEntry is one condition's static knowledge-catalog record (C1).
type CatalogEntry struct {
	Condition          Condition `json:"condition"`
	Keywords           []string  `json:"keywords"`
	Severity           Severity  `json:"severity"`
	RequiresSOS        bool      `json:"requires_sos"`
	RequiresHelpers    bool      `json:"requires_helpers"`
	Steps              []Step    `json:"steps"`
	Bring              []string  `json:"bring"`
	HelperInstructions string    `json:"helper_instructions,omitempty"`
	Symptoms           []string  `json:"symptoms"`
	Contraindications  []string  `json:"contraindications"`
	ClarifyingQuestions []string `json:"clarifying_questions,omitempty"`
}

// Case is one exemplar in the semantic case corpus (C2).
type Case struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Condition Condition `json:"condition"`
	Severity  Severity  `json:"severity"`
	Verified  bool      `json:"verified"`
	Source    string    `json:"source"` // "seed" | "promoted"
	CreatedAt time.Time `json:"created_at"`
}

// SourceMatch records one ensemble source's vote for external transparency.
type SourceMatch struct {
	Condition  Condition `json:"type"`
	Confidence float64   `json:"confidence"`
	Reasoning  string    `json:"reasoning,omitempty"`
}

// AgeEscalation records why and how severity was bumped for age.
type AgeEscalation struct {
	ShouldEscalate bool    `json:"should_escalate"`
	SeverityChange string  `json:"severity_change,omitempty"`
	RiskMultiplier float64 `json:"risk_multiplier,omitempty"`
	Reason         string  `json:"reason,omitempty"`
}

// Progression describes a condition this emergency can progress to.
type Progression struct {
	Condition   Condition `json:"condition"`
	Probability float64   `json:"probability"`
	Severity    Severity  `json:"severity"`
}

// Treatment is a recommended action ranked by priority.
type Treatment struct {
	Name     string `json:"name"`
	Priority int    `json:"priority"`
}

// PossibleEmergency is one candidate offered during abstention.
type PossibleEmergency struct {
	Condition  Condition `json:"type"`
	Confidence float64   `json:"confidence"`
}

// Prediction is a single classification outcome recorded for learning (C7).
type Prediction struct {
	ID                string       `json:"id"`
	CaseText          string       `json:"user_input"`
	PredictedType     Condition    `json:"predicted_type"`
	PredictedSeverity Severity     `json:"predicted_severity"`
	Confidence        float64      `json:"confidence"`
	SourcesUsed       []string     `json:"sources_used"`
	VectorMatch       *SourceMatch `json:"vector_match,omitempty"`
	GraphMatch        *SourceMatch `json:"graph_match,omitempty"`
	LLMMatch          *SourceMatch `json:"llm_match,omitempty"`
	ReportingMode     ReportingMode `json:"reporting_mode,omitempty"`
	CreatedAt         time.Time    `json:"prediction_timestamp"`
}

// Feedback is a verified correction or confirmation of a Prediction (C7).
type Feedback struct {
	ID             string    `json:"id"`
	PredictionID   string    `json:"prediction_id"`
	WasCorrect     bool      `json:"was_correct"`
	ActualType     Condition `json:"actual_type"`
	ActualSeverity Severity  `json:"actual_severity"`
	UserNotes      string    `json:"user_notes,omitempty"`
	VerifiedBy     string    `json:"verified_by"`
	CreatedAt      time.Time `json:"feedback_timestamp"`
}

// RetrainingEntry is a corrected example queued for promotion into the
// case corpus (C7).
type RetrainingEntry struct {
	ID               string    `json:"id"`
	UserInput        string    `json:"user_input"`
	CorrectType      Condition `json:"correct_type"`
	CorrectSeverity  Severity  `json:"correct_severity"`
	PredictionID     string    `json:"prediction_id,omitempty"`
	UsedForTraining  bool      `json:"used_for_training"`
	AddedAt          time.Time `json:"added_timestamp"`
	TrainedAt        time.Time `json:"training_timestamp,omitempty"`
}
