package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medtriage/internal/types"
)

func TestNewPopulatesAllConditions(t *testing.T) {
	c := New()
	assert.Equal(t, 16, c.Size())

	expected := []types.Condition{
		types.ConditionCardiacArrest, types.ConditionChoking, types.ConditionSevereBleeding,
		types.ConditionHeartAttack, types.ConditionStroke, types.ConditionSeizure,
		types.ConditionDiabeticEmergency, types.ConditionAllergicReaction, types.ConditionPoisoning,
		types.ConditionBurn, types.ConditionFracture, types.ConditionFainting,
		types.ConditionHypothermia, types.ConditionHeatStroke, types.ConditionMinorCut,
		types.ConditionBreathingDifficulty,
	}
	for _, cond := range expected {
		assert.True(t, c.Has(cond), "expected catalog to have %s", cond)
	}
}

func TestGetCardiacArrest(t *testing.T) {
	c := New()
	entry, ok := c.Get(types.ConditionCardiacArrest)
	require.True(t, ok)

	assert.Equal(t, types.SeverityCritical, entry.Severity)
	assert.True(t, entry.RequiresSOS)
	assert.True(t, entry.RequiresHelpers)
	assert.NotEmpty(t, entry.Steps)
	assert.NotEmpty(t, entry.Contraindications)
}

func TestHeartAttackReconciledNaming(t *testing.T) {
	c := New()
	_, ok := c.Get(types.ConditionHeartAttack)
	assert.True(t, ok, "heart_attack must exist under its reconciled name")

	_, ok = c.Get(types.Condition("chest_pain_cardiac"))
	assert.False(t, ok, "the original chest_pain_cardiac name must not leak into the catalog")
}

func TestMinorCutIsLowSeverityNoSOS(t *testing.T) {
	c := New()
	entry, ok := c.Get(types.ConditionMinorCut)
	require.True(t, ok)

	assert.Equal(t, types.SeverityMild, entry.Severity)
	assert.False(t, entry.RequiresSOS)
	assert.False(t, entry.RequiresHelpers)
}

func TestGetUnknownConditionNotFound(t *testing.T) {
	c := New()
	_, ok := c.Get(types.ConditionUnknown)
	assert.False(t, ok)

	_, ok = c.Get(types.ConditionNeedsClarification)
	assert.False(t, ok)
}

func TestConditionsMatchesEntryCount(t *testing.T) {
	c := New()
	assert.Len(t, c.Conditions(), c.Size())
}

func TestEverySeverityIsRankable(t *testing.T) {
	c := New()
	for _, cond := range c.Conditions() {
		entry, ok := c.Get(cond)
		require.True(t, ok)
		assert.GreaterOrEqual(t, entry.Severity.Rank(), 0, "condition %s has unranked severity %q", cond, entry.Severity)
	}
}
