// Package ensemble implements the weighted-vote decider (C6): it fuses the
// vector, graph, and LLM sources into one decision, applies an agreement
// boost, and abstains below a confidence threshold. Age escalation, SOS
// gating, and progression lookup are applied afterwards by the assembler.
package ensemble

import (
	"sort"

	"medtriage/internal/types"
)

// sourceName identifies one of the three ensemble inputs.
type sourceName string

const (
	sourceVector sourceName = "vector_db"
	sourceGraph  sourceName = "knowledge_graph"
	sourceLLM    sourceName = "gemini_ai"
)

// Weights are the ensemble's per-source vote weights.
type Weights struct {
	Vector float64
	Graph  float64
	LLM    float64
}

func (w Weights) of(s sourceName) float64 {
	switch s {
	case sourceVector:
		return w.Vector
	case sourceGraph:
		return w.Graph
	case sourceLLM:
		return w.LLM
	default:
		return 0
	}
}

// Params are the ensemble's tunable constants (spec §6), normally sourced
// from config.EnsembleConfig.
type Params struct {
	Weights             Weights
	AgreementBoost       float64
	ConfidenceCap        float64
	AbstentionThreshold  float64
	DefaultRequiresSOS   bool

	// SeverityOf looks up a condition's catalog default severity, used to
	// break a Stage B vote tie before falling back to lexicographic order
	// (spec §4.3/§4.6: "prefer higher catalog default severity; then
	// lexicographic"). Nil falls back to lexicographic-only ordering.
	SeverityOf func(types.Condition) types.Severity
}

// Input bundles the three sources' votes. A nil field means that source
// did not vote (e.g. the graph found no matching symptoms, or the LLM
// failed closed).
type Input struct {
	Vector *types.SourceMatch
	Graph  *types.SourceMatch
	LLM    *types.SourceMatch
}

// Decision is stage B+C's output: the winning type, its boosted
// confidence, whether the ensemble abstained, and the candidates offered
// during abstention.
type Decision struct {
	Abstained            bool
	Type                 types.Condition
	Confidence           float64
	SourcesUsed          []string
	PossibleEmergencies   []types.PossibleEmergency
}

// Decide runs stages B (weighted vote + agreement boost) and C (abstention).
func Decide(in Input, p Params) Decision {
	votes := map[types.Condition]float64{}
	sourceType := map[sourceName]types.Condition{}
	var sourcesUsed []string
	var totalWeight float64

	record := func(name sourceName, m *types.SourceMatch) {
		if m == nil {
			return
		}
		w := p.Weights.of(name)
		votes[m.Condition] += m.Confidence * w
		sourceType[name] = m.Condition
		sourcesUsed = append(sourcesUsed, string(name))
		totalWeight += w
	}
	record(sourceVector, in.Vector)
	record(sourceGraph, in.Graph)
	record(sourceLLM, in.LLM)

	if len(votes) == 0 || totalWeight == 0 {
		return Decision{
			Abstained:   true,
			Type:        types.ConditionNeedsClarification,
			Confidence:  0,
			SourcesUsed: sourcesUsed,
		}
	}

	winnerType, winnerScore := pickWinner(votes, p.SeverityOf)
	finalConfidence := winnerScore / totalWeight

	agreeing := 0
	for _, name := range []sourceName{sourceVector, sourceGraph, sourceLLM} {
		if t, ok := sourceType[name]; ok && t == winnerType {
			agreeing++
		}
	}
	if agreeing >= 2 {
		finalConfidence = finalConfidence * p.AgreementBoost
		if finalConfidence > p.ConfidenceCap {
			finalConfidence = p.ConfidenceCap
		}
	}

	if finalConfidence < p.AbstentionThreshold {
		return Decision{
			Abstained:          true,
			Type:               types.ConditionNeedsClarification,
			Confidence:         finalConfidence,
			SourcesUsed:        sourcesUsed,
			PossibleEmergencies: possibleEmergencies(votes, len(sourcesUsed)),
		}
	}

	return Decision{
		Abstained:   false,
		Type:        winnerType,
		Confidence:  finalConfidence,
		SourcesUsed: sourcesUsed,
	}
}

// pickWinner returns the highest-scoring condition. Ties are broken first
// by higher catalog default severity (via severityOf, when given), then
// deterministically by condition name so repeated runs over the same
// input are stable.
func pickWinner(votes map[types.Condition]float64, severityOf func(types.Condition) types.Severity) (types.Condition, float64) {
	type scored struct {
		cond  types.Condition
		score float64
	}
	all := make([]scored, 0, len(votes))
	for c, s := range votes {
		all = append(all, scored{c, s})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		if severityOf != nil {
			si, sj := severityOf(all[i].cond).Rank(), severityOf(all[j].cond).Rank()
			if si != sj {
				return si > sj
			}
		}
		return all[i].cond < all[j].cond
	})
	return all[0].cond, all[0].score
}

// possibleEmergencies surfaces the top 3 candidates during abstention,
// each normalized by the number of sources that actually voted.
func possibleEmergencies(votes map[types.Condition]float64, numSources int) []types.PossibleEmergency {
	if numSources == 0 {
		return nil
	}
	type scored struct {
		cond  types.Condition
		score float64
	}
	all := make([]scored, 0, len(votes))
	for c, s := range votes {
		all = append(all, scored{c, s})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].cond < all[j].cond
	})
	if len(all) > 3 {
		all = all[:3]
	}
	out := make([]types.PossibleEmergency, 0, len(all))
	for _, s := range all {
		out = append(out, types.PossibleEmergency{
			Condition:  s.cond,
			Confidence: s.score / float64(numSources),
		})
	}
	return out
}
