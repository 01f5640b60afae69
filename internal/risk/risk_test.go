package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/copybot/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func opt(s string) decimal.NullDecimal { return decimal.NewNullDecimal(d(s)) }

func ptr(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func mustCalculator(t *testing.T, cfg CalculatorConfig) *Calculator {
	t.Helper()
	c, err := NewCalculator(cfg)
	require.NoError(t, err)
	return c
}

func TestNewCalculatorRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  CalculatorConfig
	}{
		{"zero ratio", CalculatorConfig{CopyRatio: decimal.Zero}},
		{"negative ratio", CalculatorConfig{CopyRatio: d("-1")}},
		{"zero max", CalculatorConfig{CopyRatio: d("1"), MaxPositionSize: opt("0")}},
		{"negative min", CalculatorConfig{CopyRatio: d("1"), MinOrderSize: opt("-1")}},
		{"zero tick", CalculatorConfig{CopyRatio: d("1"), TickSize: opt("0")}},
		{"margin above one", CalculatorConfig{CopyRatio: d("1"), MarginRequirement: opt("1.5")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCalculator(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestCalculateScenario(t *testing.T) {
	c := mustCalculator(t, CalculatorConfig{
		CopyRatio:       d("0.5"),
		MaxPositionSize: opt("20"),
		MinOrderSize:    opt("0.1"),
		TickSize:        opt("0.5"),
		EnforceMinimum:  true,
	})

	got, err := c.Calculate(d("50"), d("10000"), ptr("100"))
	require.NoError(t, err)
	assert.True(t, got.Equal(d("20")), got.String())
}

func TestCalculateSourceSize(t *testing.T) {
	c := mustCalculator(t, CalculatorConfig{CopyRatio: d("1")})

	_, err := c.Calculate(d("-1"), d("100"), nil)
	assert.ErrorIs(t, err, ErrNegativeSize)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	got, err := c.Calculate(decimal.Zero, d("100"), ptr("10"))
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestCalculateStages(t *testing.T) {
	tests := []struct {
		name    string
		cfg     CalculatorConfig
		source  string
		balance string
		price   *decimal.Decimal
		want    string
	}{
		{
			name:   "ratio only",
			cfg:    CalculatorConfig{CopyRatio: d("2")},
			source: "1.25", balance: "-1", want: "2.5",
		},
		{
			name:   "minimum enforced on notional",
			cfg:    CalculatorConfig{CopyRatio: d("0.1"), MinOrderSize: opt("10"), EnforceMinimum: true},
			source: "1", balance: "1000", price: ptr("20"), want: "0.5",
		},
		{
			name:   "minimum not enforced",
			cfg:    CalculatorConfig{CopyRatio: d("0.1"), MinOrderSize: opt("10")},
			source: "1", balance: "1000", price: ptr("20"), want: "0",
		},
		{
			name:   "minimum on raw size without price",
			cfg:    CalculatorConfig{CopyRatio: d("1"), MinOrderSize: opt("2"), EnforceMinimum: true},
			source: "1", balance: "0", want: "2",
		},
		{
			name:   "max caps size",
			cfg:    CalculatorConfig{CopyRatio: d("1"), MaxPositionSize: opt("3")},
			source: "10", balance: "1000", price: ptr("1"), want: "3",
		},
		{
			name:   "insufficient balance returns zero",
			cfg:    CalculatorConfig{CopyRatio: d("1")},
			source: "10", balance: "50", price: ptr("10"), want: "0",
		},
		{
			name:   "respect balance scales down",
			cfg:    CalculatorConfig{CopyRatio: d("1"), RespectBalance: true},
			source: "10", balance: "50", price: ptr("10"), want: "5",
		},
		{
			name:   "margin requirement",
			cfg:    CalculatorConfig{CopyRatio: d("1"), MarginRequirement: opt("0.1"), RespectBalance: true},
			source: "10", balance: "50", price: ptr("100"), want: "5",
		},
		{
			name:   "balance scale down below minimum is dust",
			cfg:    CalculatorConfig{CopyRatio: d("1"), MinOrderSize: opt("60"), RespectBalance: true, EnforceMinimum: true},
			source: "10", balance: "50", price: ptr("10"), want: "0",
		},
		{
			name:   "tick floors",
			cfg:    CalculatorConfig{CopyRatio: d("1"), TickSize: opt("0.25")},
			source: "1.99", balance: "-1", want: "1.75",
		},
		{
			name:   "tick floor below minimum",
			cfg:    CalculatorConfig{CopyRatio: d("1"), TickSize: opt("1"), MinOrderSize: opt("10"), EnforceMinimum: true},
			source: "0.1", balance: "1000", price: ptr("3"), want: "0",
		},
		{
			name:   "negative balance skips balance stage",
			cfg:    CalculatorConfig{CopyRatio: d("1")},
			source: "10", balance: "-1", price: ptr("10"), want: "10",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := mustCalculator(t, tt.cfg)
			got, err := c.Calculate(d(tt.source), d(tt.balance), tt.price)
			require.NoError(t, err)
			assert.True(t, got.Equal(d(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestCalculateProperties(t *testing.T) {
	base := CalculatorConfig{
		MaxPositionSize: opt("20"),
		MinOrderSize:    opt("5"),
		TickSize:        opt("0.01"),
		RespectBalance:  true,
		EnforceMinimum:  true,
	}
	ratios := []string{"0.01", "0.05", "0.1", "0.3", "0.5", "1", "1.5", "2", "5", "10"}
	sources := []string{"0.5", "3", "17", "250"}
	price := ptr("7.3")

	for _, src := range sources {
		prev := decimal.Zero
		for _, r := range ratios {
			cfg := base
			cfg.CopyRatio = d(r)
			c := mustCalculator(t, cfg)

			got, err := c.Calculate(d(src), d("90"), price)
			require.NoError(t, err)

			assert.True(t, got.GreaterThanOrEqual(prev), "source %s ratio %s: %s < %s", src, r, got, prev)
			assert.True(t, got.LessThanOrEqual(d("20")), "exceeds max: %s", got)
			if !got.IsZero() {
				assert.True(t, got.Mul(*price).GreaterThanOrEqual(d("5")), "dust order %s", got)
				assert.True(t, got.Mul(*price).LessThanOrEqual(d("90")), "unaffordable %s", got)
			}
			prev = got
		}
	}
}

func testTrade(t *testing.T, market string, side domain.Side, price, size string) domain.Trade {
	t.Helper()
	tr, err := domain.NewTrade("t-1", "0x1111111111111111111111111111111111111111", market, side,
		d(price), d(size), time.Now(),
		"0x2222222222222222222222222222222222222222222222222222222222222222")
	require.NoError(t, err)
	return tr
}

func TestValidateMinimumBalance(t *testing.T) {
	v := NewValidator(ValidatorConfig{MinBalance: opt("100")})

	res := v.Validate(testTrade(t, "ETH-USDC", domain.SideSell, "1", "1"), d("50"), decimal.Zero)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Reason, "balance")
	assert.Contains(t, res.Reason, "50")
	assert.Contains(t, res.Reason, "100")
}

func TestValidateWhitelistOverridesBlacklist(t *testing.T) {
	v := NewValidator(ValidatorConfig{
		MarketWhitelist: []string{"A"},
		MarketBlacklist: []string{"A"},
	})

	res := v.Validate(testTrade(t, "A", domain.SideBuy, "1", "1"), d("100"), decimal.Zero)
	assert.True(t, res.Valid, res.Reason)

	res = v.Validate(testTrade(t, "B", domain.SideBuy, "1", "1"), d("100"), decimal.Zero)
	assert.False(t, res.Valid)
	assert.Equal(t, "market B not in whitelist", res.Reason)
}

func TestValidateChecks(t *testing.T) {
	cfg := ValidatorConfig{
		MinBalance:       opt("10"),
		MinOrderSize:     opt("5"),
		MaxPositionSize:  opt("10"),
		MaxTotalExposure: opt("5000"),
		MarketBlacklist:  []string{"DOGE-USDC"},
	}
	v := NewValidator(cfg)

	tests := []struct {
		name    string
		trade   domain.Trade
		balance string
		net     string
		reason  string
	}{
		{"accepted", testTrade(t, "ETH-USDC", domain.SideBuy, "100", "2"), "1000", "0", ""},
		{"buy over balance", testTrade(t, "ETH-USDC", domain.SideBuy, "1000", "2"), "50", "0",
			"insufficient balance for trade: 50 < 2000"},
		{"sell ignores cost", testTrade(t, "ETH-USDC", domain.SideSell, "1000", "2"), "50", "3", ""},
		{"below min order", testTrade(t, "ETH-USDC", domain.SideBuy, "1", "2"), "1000", "0",
			"order notional 2 below minimum 5"},
		{"blacklisted", testTrade(t, "DOGE-USDC", domain.SideBuy, "1", "10"), "1000", "0",
			"market DOGE-USDC is blacklisted"},
		{"buy exceeds position", testTrade(t, "ETH-USDC", domain.SideBuy, "10", "3"), "1000", "9",
			"resulting position 12 exceeds max position size 10"},
		{"sell reduces long", testTrade(t, "ETH-USDC", domain.SideSell, "10", "3"), "1000", "9", ""},
		{"sell extends short", testTrade(t, "ETH-USDC", domain.SideSell, "10", "3"), "1000", "-9",
			"resulting position 12 exceeds max position size 10"},
		{"exposure", testTrade(t, "ETH-USDC", domain.SideBuy, "600", "2"), "100000", "8",
			"resulting exposure 6000 exceeds max total exposure 5000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Validate(tt.trade, d(tt.balance), d(tt.net))
			if tt.reason == "" {
				assert.True(t, res.Valid, res.Reason)
				return
			}
			assert.False(t, res.Valid)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}
}

func TestValidateFirstFailureWins(t *testing.T) {
	v := NewValidator(ValidatorConfig{
		MinBalance:      opt("100"),
		MinOrderSize:    opt("1000"),
		MarketWhitelist: []string{"X"},
	})
	res := v.Validate(testTrade(t, "Y", domain.SideBuy, "1", "1"), d("50"), decimal.Zero)
	assert.Equal(t, "balance 50 below minimum threshold 100", res.Reason)
}
