package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	TierFree    = "free"
	TierBronze  = "bronze"
	TierSilver  = "silver"
	TierGold    = "gold"
	TierDiamond = "diamond"
)

// Per tier settings: how much the daily claim grants and how debit cost is scaled
type TierConfig struct {
	DailyClaim     decimal.Decimal
	RateMultiplier decimal.Decimal
}

var tierConfigs = map[string]TierConfig{
	TierFree:    {DailyClaim: decimal.NewFromInt(10), RateMultiplier: decimal.NewFromInt(1)},
	TierBronze:  {DailyClaim: decimal.NewFromInt(15), RateMultiplier: decimal.RequireFromString("0.95")},
	TierSilver:  {DailyClaim: decimal.NewFromInt(20), RateMultiplier: decimal.RequireFromString("0.9")},
	TierGold:    {DailyClaim: decimal.NewFromInt(25), RateMultiplier: decimal.RequireFromString("0.85")},
	TierDiamond: {DailyClaim: decimal.NewFromInt(30), RateMultiplier: decimal.RequireFromString("0.8")},
}

// Config for the tier, unknown tiers get free tier settings
func TierFor(tier string) TierConfig {
	if cfg, ok := tierConfigs[tier]; ok {
		return cfg
	}
	return tierConfigs[TierFree]
}

type Account struct {
	ID             uuid.UUID
	CreatedAt      time.Time
	Username       string
	HashedPassword string

	// Balance is written only by the ledger service
	Balance decimal.Decimal

	Tier        string
	LastClaimAt *time.Time // nil if account never claimed
	Flagged     bool
	Admin       bool
}
