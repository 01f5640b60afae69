// Package risk sizes mirrored orders and applies pre-trade policy checks.
// Both types are pure and safe for concurrent use.
package risk

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// ErrNegativeSize is returned when a source trade reports a negative size.
var ErrNegativeSize = fmt.Errorf("%w: source size cannot be negative", domain.ErrInvalidOrder)

// divisionPlaces bounds the precision of scale-down divisions.
const divisionPlaces = 18

// CalculatorConfig holds the sizing limits. Unset optional limits are
// represented by an invalid NullDecimal.
type CalculatorConfig struct {
	CopyRatio decimal.Decimal
	// MaxPositionSize caps the order size in base units.
	MaxPositionSize decimal.NullDecimal
	// MinOrderSize is a notional floor when a price is known, a size floor
	// otherwise.
	MinOrderSize      decimal.NullDecimal
	TickSize          decimal.NullDecimal
	MarginRequirement decimal.NullDecimal
	RespectBalance    bool
	EnforceMinimum    bool
}

// Calculator computes the size of a mirrored order.
type Calculator struct {
	cfg CalculatorConfig
}

// NewCalculator validates cfg and returns a Calculator.
func NewCalculator(cfg CalculatorConfig) (*Calculator, error) {
	var errs []error
	if !cfg.CopyRatio.IsPositive() {
		errs = append(errs, fmt.Errorf("copy ratio must be positive, got %s", cfg.CopyRatio))
	}
	limits := []struct {
		name  string
		value decimal.NullDecimal
	}{
		{"max position size", cfg.MaxPositionSize},
		{"min order size", cfg.MinOrderSize},
		{"tick size", cfg.TickSize},
	}
	for _, l := range limits {
		if l.value.Valid && !l.value.Decimal.IsPositive() {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", l.name, l.value.Decimal))
		}
	}
	if m := cfg.MarginRequirement; m.Valid && (!m.Decimal.IsPositive() || m.Decimal.GreaterThan(decimal.NewFromInt(1))) {
		errs = append(errs, fmt.Errorf("margin requirement must be in (0, 1], got %s", m.Decimal))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("risk: calculator config: %w", errors.Join(errs...))
	}
	return &Calculator{cfg: cfg}, nil
}

// Calculate returns the target order size for a source trade of sourceSize.
// price may be nil, in which case limits are compared against raw size and
// the balance stage is skipped. A zero result means "do not trade".
//
// Stages run in a fixed order and each commits before the next: copy ratio,
// minimum order size, maximum position size, balance, minimum re-check, tick
// rounding.
func (c *Calculator) Calculate(sourceSize, balance decimal.Decimal, price *decimal.Decimal) (decimal.Decimal, error) {
	if sourceSize.IsNegative() {
		return decimal.Zero, ErrNegativeSize
	}
	if sourceSize.IsZero() {
		return decimal.Zero, nil
	}
	if price != nil && !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: price must be positive, got %s", domain.ErrInvalidOrder, price)
	}

	size := sourceSize.Mul(c.cfg.CopyRatio)

	if floor := c.cfg.MinOrderSize; floor.Valid && c.basis(size, price).LessThan(floor.Decimal) {
		if !c.cfg.EnforceMinimum {
			return decimal.Zero, nil
		}
		size = floor.Decimal
		if price != nil {
			size = divCeil(floor.Decimal, *price)
		}
	}

	if limit := c.cfg.MaxPositionSize; limit.Valid && size.GreaterThan(limit.Decimal) {
		size = limit.Decimal
	}

	if price != nil && !balance.IsNegative() {
		perUnit := *price
		if m := c.cfg.MarginRequirement; m.Valid {
			perUnit = perUnit.Mul(m.Decimal)
		}
		if size.Mul(perUnit).GreaterThan(balance) {
			if !c.cfg.RespectBalance {
				return decimal.Zero, nil
			}
			size = decimal.Min(size, divFloor(balance, perUnit))
		}
	}

	if c.belowMinimum(size, price) {
		return decimal.Zero, nil
	}

	if tick := c.cfg.TickSize; tick.Valid {
		q, _ := size.QuoRem(tick.Decimal, 0)
		size = q.Mul(tick.Decimal)
		// flooring can push an enforced minimum back under the floor
		if c.belowMinimum(size, price) {
			return decimal.Zero, nil
		}
	}

	if !size.IsPositive() {
		return decimal.Zero, nil
	}
	return size, nil
}

func (c *Calculator) belowMinimum(size decimal.Decimal, price *decimal.Decimal) bool {
	floor := c.cfg.MinOrderSize
	return floor.Valid && c.basis(size, price).LessThan(floor.Decimal)
}

// basis is the quantity limits compare against: notional with a price,
// raw size without.
func (c *Calculator) basis(size decimal.Decimal, price *decimal.Decimal) decimal.Decimal {
	if price == nil {
		return size
	}
	return size.Mul(*price)
}

// divFloor returns a/b rounded down so that result × b never exceeds a.
func divFloor(a, b decimal.Decimal) decimal.Decimal {
	q, _ := a.QuoRem(b, divisionPlaces)
	return q
}

// divCeil returns a/b rounded up so that result × b is never below a.
func divCeil(a, b decimal.Decimal) decimal.Decimal {
	q, r := a.QuoRem(b, divisionPlaces)
	if !r.IsZero() {
		q = q.Add(decimal.New(1, -divisionPlaces))
	}
	return q
}
