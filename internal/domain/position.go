package domain

import "github.com/shopspring/decimal"

// PositionSide is the direction of an open exchange position.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// Position is one open position as reported by the exchange. An empty Side
// counts as long.
type Position struct {
	Market string
	Side   PositionSide
	Size   decimal.Decimal
}

// NetPosition returns the sum of long sizes minus the sum of short sizes.
// Sizes are taken as magnitudes so a venue reporting shorts as negative
// numbers is handled the same way.
func NetPosition(positions []Position) decimal.Decimal {
	net := decimal.Zero
	for _, p := range positions {
		if p.Side == PositionShort {
			net = net.Sub(p.Size.Abs())
			continue
		}
		net = net.Add(p.Size.Abs())
	}
	return net
}
