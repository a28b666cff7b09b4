package corpus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medtriage/internal/types"
)

func newTestCorpus(t *testing.T) *Corpus {
	t.Helper()
	c, err := New(Config{})
	require.NoError(t, err)
	return c
}

func TestSeedAndQueryReturnsClosestCase(t *testing.T) {
	c := newTestCorpus(t)
	ctx := context.Background()

	err := c.Seed(ctx, []types.Case{
		{ID: "1", Text: "person is not breathing and unresponsive", Condition: types.ConditionCardiacArrest, Severity: types.SeverityCritical, Verified: true, Source: "seed", CreatedAt: time.Now()},
		{ID: "2", Text: "small paper cut on finger, light bleeding", Condition: types.ConditionMinorCut, Severity: types.SeverityMild, Verified: true, Source: "seed", CreatedAt: time.Now()},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, c.Count())

	matches, err := c.Query(ctx, "he collapsed and is not breathing", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, types.ConditionCardiacArrest, matches[0].Case.Condition)
}

func TestQueryOnEmptyCorpusReturnsNoMatches(t *testing.T) {
	c := newTestCorpus(t)
	matches, err := c.Query(context.Background(), "anything", 3)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestPromoteAddsVerifiedCase(t *testing.T) {
	c := newTestCorpus(t)
	ctx := context.Background()

	cs, err := c.Promote(ctx, "patient seized for two minutes then came to", types.ConditionSeizure, types.SeveritySevere)
	require.NoError(t, err)
	assert.True(t, cs.Verified)
	assert.Equal(t, "promoted", cs.Source)

	matches, err := c.Query(ctx, "seizure that lasted a couple minutes", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, types.ConditionSeizure, matches[0].Case.Condition)
	assert.Equal(t, "promoted", matches[0].Case.Source)
}

func TestQueryConfidenceDerivedFromDistanceAndNeverNegative(t *testing.T) {
	c := newTestCorpus(t)
	ctx := context.Background()
	require.NoError(t, c.Seed(ctx, []types.Case{
		{ID: "1", Text: "person is not breathing and unresponsive", Condition: types.ConditionCardiacArrest, Severity: types.SeverityCritical, Source: "seed", CreatedAt: time.Now()},
		{ID: "2", Text: "small paper cut on finger, light bleeding", Condition: types.ConditionMinorCut, Severity: types.SeverityMild, Source: "seed", CreatedAt: time.Now()},
	}))

	matches, err := c.Query(ctx, "unrelated text about the weather today", 2)
	require.NoError(t, err)
	for _, m := range matches {
		assert.GreaterOrEqual(t, m.Distance, 0.0)
		assert.LessOrEqual(t, m.Distance, 2.0)
		assert.GreaterOrEqual(t, m.Confidence, 0.0)
		assert.InDelta(t, 1-m.Distance/2, m.Confidence, 0.0001)
	}
}

func TestQueryResultCountClampedToCorpusSize(t *testing.T) {
	c := newTestCorpus(t)
	ctx := context.Background()
	require.NoError(t, c.Seed(ctx, []types.Case{
		{ID: "1", Text: "burn from hot stove", Condition: types.ConditionBurn, Severity: types.SeverityModerate, Source: "seed", CreatedAt: time.Now()},
	}))

	matches, err := c.Query(ctx, "burned my hand", 10)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}
