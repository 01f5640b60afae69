package risk

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// ValidatorConfig holds the policy limits. Empty lists and invalid
// NullDecimals disable the corresponding check.
type ValidatorConfig struct {
	MinBalance       decimal.NullDecimal
	MinOrderSize     decimal.NullDecimal
	MaxPositionSize  decimal.NullDecimal
	MaxTotalExposure decimal.NullDecimal
	MarketWhitelist  []string
	MarketBlacklist  []string
}

// Validator applies the pre-trade policy checks.
type Validator struct {
	cfg ValidatorConfig
}

// NewValidator returns a Validator for cfg.
func NewValidator(cfg ValidatorConfig) *Validator {
	cfg.MarketWhitelist = slices.Clone(cfg.MarketWhitelist)
	cfg.MarketBlacklist = slices.Clone(cfg.MarketBlacklist)
	return &Validator{cfg: cfg}
}

// Validate checks trade against the current balance and the signed net
// position in its market (positive long, negative short). Checks run in
// order and the first failure decides the result:
//
//  1. minimum balance threshold
//  2. balance covers the notional of a buy
//  3. minimum order notional
//  4. market whitelist, or blacklist when no whitelist is set
//  5. resulting position magnitude
//  6. resulting notional exposure
func (v *Validator) Validate(trade domain.Trade, balance, netPosition decimal.Decimal) domain.ValidationResult {
	notional := trade.Notional()

	if minBal := v.cfg.MinBalance; minBal.Valid && balance.LessThan(minBal.Decimal) {
		return domain.Reject(fmt.Sprintf("balance %s below minimum threshold %s", balance, minBal.Decimal))
	}

	if trade.Side == domain.SideBuy && balance.LessThan(notional) {
		return domain.Reject(fmt.Sprintf("insufficient balance for trade: %s < %s", balance, notional))
	}

	if minOrder := v.cfg.MinOrderSize; minOrder.Valid && notional.LessThan(minOrder.Decimal) {
		return domain.Reject(fmt.Sprintf("order notional %s below minimum %s", notional, minOrder.Decimal))
	}

	if len(v.cfg.MarketWhitelist) > 0 {
		if !slices.Contains(v.cfg.MarketWhitelist, trade.Market) {
			return domain.Reject(fmt.Sprintf("market %s not in whitelist", trade.Market))
		}
	} else if slices.Contains(v.cfg.MarketBlacklist, trade.Market) {
		return domain.Reject(fmt.Sprintf("market %s is blacklisted", trade.Market))
	}

	resulting := netPosition.Add(trade.Size)
	if trade.Side == domain.SideSell {
		resulting = netPosition.Sub(trade.Size)
	}

	if maxPos := v.cfg.MaxPositionSize; maxPos.Valid && resulting.Abs().GreaterThan(maxPos.Decimal) {
		return domain.Reject(fmt.Sprintf("resulting position %s exceeds max position size %s", resulting.Abs(), maxPos.Decimal))
	}

	if maxExp := v.cfg.MaxTotalExposure; maxExp.Valid {
		exposure := resulting.Mul(trade.Price).Abs()
		if exposure.GreaterThan(maxExp.Decimal) {
			return domain.Reject(fmt.Sprintf("resulting exposure %s exceeds max total exposure %s", exposure, maxExp.Decimal))
		}
	}

	return domain.Accept()
}
