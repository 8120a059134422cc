package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Credit cost per outcome class for one gateway
type GatewayPricing struct {
	GatewayID string
	Approved  decimal.Decimal
	Live      decimal.Decimal
	UpdatedAt time.Time
}

// Pricing used when a gateway has no config row or the store is unreachable
func DefaultPricing(gatewayID string) GatewayPricing {
	return GatewayPricing{
		GatewayID: gatewayID,
		Approved:  decimal.NewFromInt(5),
		Live:      decimal.NewFromInt(3),
	}
}

// Cost of a single outcome under this pricing. Everything outside
// approved/live (dead, declined, error, captcha) is always free.
func (p GatewayPricing) CostFor(outcome string) decimal.Decimal {
	switch outcome {
	case OutcomeApproved:
		return p.Approved
	case OutcomeLive:
		return p.Live
	default:
		return decimal.Zero
	}
}
