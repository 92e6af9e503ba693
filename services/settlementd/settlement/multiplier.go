package settlement

import (
	"time"

	"github.com/shopspring/decimal"

	"idlechain/services/settlementd/models"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Resolver turns a participant's bonus inputs into one effective multiplier.
// Every participant of a block is resolved against the same instant.
type Resolver struct {
	at          time.Time
	seasonBonus decimal.Decimal
}

// NewResolver binds the settlement timestamp and the season in force. A nil
// season or one below 1.0 contributes nothing.
func NewResolver(at time.Time, season *SeasonInput) *Resolver {
	r := &Resolver{at: at, seasonBonus: decimal.Zero}
	if season != nil && season.BonusMultiplier.GreaterThan(one) {
		r.seasonBonus = season.BonusMultiplier.Sub(one)
	}
	return r
}

// At returns the settlement timestamp the resolver evaluates boosts against.
func (r *Resolver) At() time.Time { return r.at }

// Resolve returns 1 + permanent% + season bonus + Σ active capacity boost%.
// Bonuses stack additively. A boost counts only while its expiry is strictly
// after the settlement timestamp; expired boosts are not validated.
func (r *Resolver) Resolve(p ParticipantState) (decimal.Decimal, error) {
	if p.PermanentBonusPercent.IsNegative() {
		return decimal.Zero, &ResolutionError{ParticipantID: p.ID, Reason: "negative permanent bonus " + p.PermanentBonusPercent.String()}
	}
	boostPercent := decimal.Zero
	for _, b := range p.Boosts {
		if b.Kind != models.BoostKindCapacity || !b.ExpiresAt.After(r.at) {
			continue
		}
		if b.Percent.IsNegative() {
			return decimal.Zero, &ResolutionError{ParticipantID: p.ID, Reason: "negative boost percent " + b.Percent.String()}
		}
		boostPercent = boostPercent.Add(b.Percent)
	}
	return one.
		Add(p.PermanentBonusPercent.Div(hundred)).
		Add(r.seasonBonus).
		Add(boostPercent.Div(hundred)), nil
}
