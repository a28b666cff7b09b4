package ensemble

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medtriage/internal/types"
)

func defaultParams() Params {
	return Params{
		Weights:             Weights{Vector: 0.3, Graph: 0.4, LLM: 0.5},
		AgreementBoost:      1.2,
		ConfidenceCap:       0.99,
		AbstentionThreshold: 0.35,
		DefaultRequiresSOS:  true,
	}
}

func TestDecideAllThreeAgreeAppliesBoost(t *testing.T) {
	in := Input{
		Vector: &types.SourceMatch{Condition: types.ConditionCardiacArrest, Confidence: 0.9},
		Graph:  &types.SourceMatch{Condition: types.ConditionCardiacArrest, Confidence: 0.9},
		LLM:    &types.SourceMatch{Condition: types.ConditionCardiacArrest, Confidence: 0.9},
	}
	d := Decide(in, defaultParams())

	require.False(t, d.Abstained)
	assert.Equal(t, types.ConditionCardiacArrest, d.Type)
	// unboosted confidence is 0.9 (all sources agree at the same score),
	// boosted by 1.2 but capped at 0.99.
	assert.InDelta(t, 0.99, d.Confidence, 0.0001)
}

func TestDecideNoAgreementNoBoost(t *testing.T) {
	in := Input{
		LLM: &types.SourceMatch{Condition: types.ConditionHeartAttack, Confidence: 0.5},
	}
	d := Decide(in, defaultParams())

	require.False(t, d.Abstained)
	assert.Equal(t, types.ConditionHeartAttack, d.Type)
	assert.InDelta(t, 0.5, d.Confidence, 0.0001)
}

func TestDecideBelowAbstentionThresholdNeedsClarification(t *testing.T) {
	in := Input{
		Vector: &types.SourceMatch{Condition: types.ConditionMinorCut, Confidence: 0.3},
	}
	d := Decide(in, defaultParams())

	assert.True(t, d.Abstained)
	assert.Equal(t, types.ConditionNeedsClarification, d.Type)
	assert.NotEmpty(t, d.PossibleEmergencies)
}

func TestDecideExactlyAtThresholdIsNotAbstention(t *testing.T) {
	// A single LLM vote at confidence 0.35 with weight 1.0 produces a final
	// confidence of exactly 0.35. The comparison is strict less-than, so
	// this must NOT abstain.
	params := defaultParams()
	params.Weights.LLM = 1.0

	in := Input{LLM: &types.SourceMatch{Condition: types.ConditionFracture, Confidence: 0.35}}
	d := Decide(in, params)

	assert.False(t, d.Abstained)
	assert.Equal(t, types.ConditionFracture, d.Type)
	assert.InDelta(t, 0.35, d.Confidence, 0.0001)
}

func TestDecideNoSourcesVotedAbstains(t *testing.T) {
	d := Decide(Input{}, defaultParams())
	assert.True(t, d.Abstained)
	assert.Equal(t, types.ConditionNeedsClarification, d.Type)
	assert.Empty(t, d.SourcesUsed)
}

func TestDecideTwoOfThreeAgreeTriggersBoost(t *testing.T) {
	in := Input{
		Vector: &types.SourceMatch{Condition: types.ConditionChoking, Confidence: 0.8},
		Graph:  &types.SourceMatch{Condition: types.ConditionChoking, Confidence: 0.8},
		LLM:    &types.SourceMatch{Condition: types.ConditionStroke, Confidence: 0.2},
	}
	d := Decide(in, defaultParams())

	require.False(t, d.Abstained)
	assert.Equal(t, types.ConditionChoking, d.Type)
}

func TestDecideTieBreaksBySeverityBeforeLexicographic(t *testing.T) {
	// Use heart_attack (CRITICAL) vs. burn (MODERATE) to make the severity
	// tie-break observable: "burn" sorts before "heart_attack"
	// lexicographically, so a lexicographic-only tie-break would wrongly
	// pick "burn".
	params := defaultParams()
	params.SeverityOf = func(c types.Condition) types.Severity {
		switch c {
		case types.ConditionHeartAttack:
			return types.SeverityCritical
		case types.ConditionBurn:
			return types.SeverityModerate
		default:
			return ""
		}
	}

	in := Input{
		Vector: &types.SourceMatch{Condition: types.ConditionBurn, Confidence: 0.5},
		Graph:  &types.SourceMatch{Condition: types.ConditionHeartAttack, Confidence: 0.5},
	}
	// Equal weight*confidence products tie the raw score; severity breaks it.
	params.Weights = Weights{Vector: 0.4, Graph: 0.4, LLM: 0.5}

	d := Decide(in, params)
	assert.Equal(t, types.ConditionHeartAttack, d.Type)
}

func TestPossibleEmergenciesCappedAtThree(t *testing.T) {
	in := Input{
		Vector: &types.SourceMatch{Condition: types.ConditionMinorCut, Confidence: 0.1},
		Graph:  &types.SourceMatch{Condition: types.ConditionBurn, Confidence: 0.15},
		LLM:    &types.SourceMatch{Condition: types.ConditionFainting, Confidence: 0.2},
	}
	d := Decide(in, defaultParams())
	assert.True(t, d.Abstained)
	assert.LessOrEqual(t, len(d.PossibleEmergencies), 3)
}
