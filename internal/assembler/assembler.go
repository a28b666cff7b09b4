// Package assembler implements the response assembler (C8): it takes the
// ensemble's decision plus the catalog, reasoning-graph, and age-escalation
// data and builds the final verdict returned to the caller.
package assembler

import (
	"time"

	"medtriage/internal/ensemble"
	"medtriage/internal/reasoninggraph"
	"medtriage/internal/types"
)

const emergencySOSNumber = "911"

// Verdict is the final, caller-facing triage result.
type Verdict struct {
	Type          types.Condition `json:"type"`
	Severity      types.Severity  `json:"severity"`
	Confidence    float64         `json:"confidence"`
	RequiresSOS   bool            `json:"requires_sos"`
	SOSNumber     string          `json:"sos_number,omitempty"`
	RequiresHelpers bool          `json:"requires_helpers"`

	Steps              []types.Step `json:"steps,omitempty"`
	Bring              []string     `json:"bring,omitempty"`
	HelperInstructions string       `json:"helper_instructions,omitempty"`
	Symptoms           []string     `json:"symptoms,omitempty"`
	Contraindications  []string     `json:"contraindications,omitempty"`

	Sources     []string            `json:"sources"`
	VectorMatch *types.SourceMatch  `json:"vector_match,omitempty"`
	GraphMatch  *types.SourceMatch  `json:"graph_match,omitempty"`
	LLMMatch    *types.SourceMatch  `json:"llm_match,omitempty"`

	AgeEscalation *types.AgeEscalation `json:"age_escalation,omitempty"`

	ProgressionRisks    []types.Progression `json:"progression_risks,omitempty"`
	TimeCriticalMinutes int                 `json:"time_critical_minutes,omitempty"`

	ClarifyingQuestions []string                  `json:"clarifying_questions,omitempty"`
	PossibleEmergencies []types.PossibleEmergency `json:"possible_emergencies,omitempty"`

	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Inputs bundles everything the assembler needs beyond the ensemble's
// decision: the catalog lookup, the reasoning graph (for progression/time
// data), the detected age bucket, and the three raw source matches (kept
// for transparency in the response even when one or more abstained).
type Inputs struct {
	Decision       ensemble.Decision
	Catalog        CatalogLookup
	ReasoningGraph *reasoninggraph.Graph
	Age            types.AgeBucket
	Vector         *types.SourceMatch
	GraphVote      *types.SourceMatch // graph source's own vote, distinct from ReasoningGraph
	LLM            *types.SourceMatch
}

// CatalogLookup is the subset of catalog.Catalog the assembler needs.
type CatalogLookup interface {
	Get(cond types.Condition) (types.CatalogEntry, bool)
}

// genericClarifyingQuestions pads the top candidate's own clarifying
// questions up to three, and supplies all three when the candidate has no
// catalog questions of its own.
var genericClarifyingQuestions = []string{
	"Can you describe what's happening right now?",
	"Is the person conscious and responsive?",
	"Has anything like this happened before?",
}

// ageClarificationQuestions is the fixed two-question list Stage A asks
// when age is missing (spec §4.6 Stage A / §8 scenario 6).
var ageClarificationQuestions = []string{
	"Could you tell me the patient's approximate age?",
	"Is the patient a child, an adult, or elderly?",
}

// genericUnknownSteps is the generic step list attached when the decided
// condition has no catalog entry (spec §4.6 Stage D unknown-condition path).
var genericUnknownSteps = []types.Step{
	{Title: "Call 911 if in doubt", Detail: "This report didn't match a known emergency type. When uncertain, treat it as a potential emergency and call emergency services.", Critical: true},
	{Title: "Stay with the person", Detail: "Keep monitoring their breathing and responsiveness until help arrives or the situation is clarified.", Critical: true},
}

// Assemble builds the final Verdict from a decided ensemble outcome.
func Assemble(in Inputs) Verdict {
	now := time.Now()

	if in.Decision.Abstained {
		return assembleAbstention(in, now)
	}

	entry, found := in.Catalog.Get(in.Decision.Type)

	v := Verdict{
		Type:        in.Decision.Type,
		Confidence:  in.Decision.Confidence,
		Sources:     in.Decision.SourcesUsed,
		VectorMatch: in.Vector,
		GraphMatch:  in.GraphVote,
		LLMMatch:    in.LLM,
		Timestamp:   now,
	}

	if found {
		v.Severity = entry.Severity
		v.RequiresSOS = entry.RequiresSOS
		v.RequiresHelpers = entry.RequiresHelpers
		v.Steps = entry.Steps
		v.Bring = entry.Bring
		v.HelperInstructions = entry.HelperInstructions
		v.Symptoms = entry.Symptoms
		v.Contraindications = entry.Contraindications
	} else {
		// Unmatched condition: defaults to requiring SOS rather than
		// silently under-triaging (spec §4.6 Stage D unknown-condition path).
		v.Type = types.ConditionUnknown
		v.Severity = types.SeveritySevere
		v.RequiresSOS = true
		v.Steps = genericUnknownSteps
	}

	if v.RequiresSOS {
		v.SOSNumber = emergencySOSNumber
	}

	if in.Age != types.AgeUnknown && in.ReasoningGraph != nil {
		esc := in.ReasoningGraph.EscalateByAge(in.Age, in.Decision.Type)
		if esc.ShouldEscalate || esc.RiskMultiplier > 0 {
			v.AgeEscalation = &esc
			v.Severity = escalateSeverity(v.Severity, esc)
		}
	}

	if in.ReasoningGraph != nil {
		v.ProgressionRisks = in.ReasoningGraph.ProgressionRisk(in.Decision.Type)
		if minutes, ok := in.ReasoningGraph.TimeCriticalMinutes(in.Decision.Type); ok {
			v.TimeCriticalMinutes = minutes
		}
	}

	return v
}

func assembleAbstention(in Inputs, now time.Time) Verdict {
	v := Verdict{
		Type:                types.ConditionNeedsClarification,
		Severity:            types.SeverityModerate,
		Confidence:          in.Decision.Confidence,
		Sources:             in.Decision.SourcesUsed,
		VectorMatch:         in.Vector,
		GraphMatch:          in.GraphVote,
		LLMMatch:            in.LLM,
		PossibleEmergencies: in.Decision.PossibleEmergencies,
		Message:             "I need more information to assess this safely. Please answer the following:",
		Timestamp:           now,
	}

	v.ClarifyingQuestions = clarifyingQuestions(in)
	return v
}

// clarifyingQuestions picks up to 3 questions: the top candidate's own
// first two, padded with a generic question, matching the reference
// "top-3, generalized" behavior (spec §4.9 supplemented feature extends
// this to all 16 conditions instead of a hardcoded 14).
func clarifyingQuestions(in Inputs) []string {
	var out []string

	if len(in.Decision.PossibleEmergencies) > 0 {
		top := in.Decision.PossibleEmergencies[0].Condition
		if entry, ok := in.Catalog.Get(top); ok && len(entry.ClarifyingQuestions) > 0 {
			n := 2
			if len(entry.ClarifyingQuestions) < n {
				n = len(entry.ClarifyingQuestions)
			}
			out = append(out, entry.ClarifyingQuestions[:n]...)
		}
	}
	for _, q := range genericClarifyingQuestions {
		if len(out) >= 3 {
			break
		}
		out = append(out, q)
	}
	if len(out) > 3 {
		out = out[:3]
	}
	return out
}

// AssembleAgeClarification builds the Stage A verdict returned whenever the
// report carries no age bucket; no source has been queried at that point.
func AssembleAgeClarification(sourcesUsed []string) Verdict {
	return Verdict{
		Type:                types.ConditionNeedsAgeClarification,
		Severity:            types.SeverityMild,
		Sources:             sourcesUsed,
		ClarifyingQuestions: append([]string(nil), ageClarificationQuestions...),
		Message:             "To check for age-related risk factors, could you tell me the patient's approximate age?",
		Timestamp:           time.Now(),
	}
}

// escalateSeverity applies an age-driven severity bump, never lowering
// severity below the catalog default (spec invariant I6).
func escalateSeverity(base types.Severity, esc types.AgeEscalation) types.Severity {
	if esc.SeverityChange == "" {
		return base
	}
	// severity_change strings are of the form "MODERATE to SEVERE": the
	// escalation never exceeds CRITICAL and never goes below the catalog
	// default severity.
	target := severityFromChangeString(esc.SeverityChange)
	return base.Max(target)
}

func severityFromChangeString(change string) types.Severity {
	switch {
	case contains(change, "CRITICAL"):
		return types.SeverityCritical
	case contains(change, "SEVERE"):
		return types.SeveritySevere
	case contains(change, "MODERATE"):
		return types.SeverityModerate
	default:
		return types.SeverityMild
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
