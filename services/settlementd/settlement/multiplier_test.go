package settlement

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"idlechain/services/settlementd/models"
)

var settleAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestResolvePermanentPlusBoost(t *testing.T) {
	r := NewResolver(settleAt, nil)
	got, err := r.Resolve(ParticipantState{
		ID:                    "alice",
		PermanentBonusPercent: decimal.NewFromInt(20),
		Boosts: []BoostInput{
			{Kind: models.BoostKindCapacity, Percent: decimal.NewFromInt(50), ExpiresAt: settleAt.Add(time.Hour)},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "1.70", got.StringFixed(2))
}

func TestResolveIgnoresExpiredAndForeignBoosts(t *testing.T) {
	r := NewResolver(settleAt, nil)
	got, err := r.Resolve(ParticipantState{
		ID: "bob",
		Boosts: []BoostInput{
			{Kind: models.BoostKindCapacity, Percent: decimal.NewFromInt(100), ExpiresAt: settleAt.Add(-time.Second)},
			{Kind: models.BoostKindCapacity, Percent: decimal.NewFromInt(100), ExpiresAt: settleAt},
			{Kind: "cosmetic", Percent: decimal.NewFromInt(300), ExpiresAt: settleAt.Add(time.Hour)},
		},
	})
	require.NoError(t, err)
	require.True(t, got.Equal(decimal.NewFromInt(1)))
}

func TestResolveStacksBoostsAdditively(t *testing.T) {
	r := NewResolver(settleAt, &SeasonInput{ID: 1, BonusMultiplier: decimal.RequireFromString("1.5")})
	got, err := r.Resolve(ParticipantState{
		ID: "carol",
		Boosts: []BoostInput{
			{Kind: models.BoostKindCapacity, Percent: decimal.NewFromInt(50), ExpiresAt: settleAt.Add(time.Minute)},
			{Kind: models.BoostKindCapacity, Percent: decimal.NewFromInt(50), ExpiresAt: settleAt.Add(time.Minute)},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "2.50", got.StringFixed(2))
}

func TestResolveSeasonBelowOneContributesNothing(t *testing.T) {
	r := NewResolver(settleAt, &SeasonInput{ID: 2, BonusMultiplier: decimal.RequireFromString("0.5")})
	got, err := r.Resolve(ParticipantState{ID: "dave"})
	require.NoError(t, err)
	require.True(t, got.Equal(decimal.NewFromInt(1)))
}

func TestResolveRejectsMalformedInputs(t *testing.T) {
	r := NewResolver(settleAt, nil)
	cases := []ParticipantState{
		{ID: "neg-perm", PermanentBonusPercent: decimal.NewFromInt(-5)},
		{ID: "neg-boost", Boosts: []BoostInput{{Kind: models.BoostKindCapacity, Percent: decimal.NewFromInt(-1), ExpiresAt: settleAt.Add(time.Hour)}}},
	}
	for _, tc := range cases {
		_, err := r.Resolve(tc)
		var resErr *ResolutionError
		require.ErrorAs(t, err, &resErr, tc.ID)
		require.Equal(t, tc.ID, resErr.ParticipantID)
	}
}

func TestResolveSkipsExpiredMalformedBoosts(t *testing.T) {
	r := NewResolver(settleAt, nil)
	got, err := r.Resolve(ParticipantState{
		ID: "erin",
		Boosts: []BoostInput{
			{Kind: models.BoostKindCapacity, Percent: decimal.NewFromInt(-40), ExpiresAt: settleAt.Add(-time.Hour)},
			{Kind: models.BoostKindCapacity, Percent: decimal.NewFromInt(10)},
			{Kind: models.BoostKindCapacity, Percent: decimal.NewFromInt(25), ExpiresAt: settleAt.Add(time.Hour)},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "1.25", got.StringFixed(2))
}
