package lending

import (
	"fmt"
	"math/big"
)

// Config captures the runtime configuration for the lending coordinator.
type Config struct {
	// LoanTermSeconds is the time between issuance and the due time.
	LoanTermSeconds uint64 `toml:"LoanTermSeconds"`
	// MinLoanSeconds is the shortest hold before a repayment stops counting
	// as flash-loan behaviour.
	MinLoanSeconds      uint64   `toml:"MinLoanSeconds"`
	RepaymentReward     int64    `toml:"RepaymentReward"`
	LatePenalty         int64    `toml:"LatePenalty"`
	FlashLoanPenalty    int64    `toml:"FlashLoanPenalty"`
	DefaultPenalty      int64    `toml:"DefaultPenalty"`
	InitialLiquidityWei *big.Int `toml:"InitialLiquidityWei"`
}

// DefaultConfig returns the coordinator defaults.
func DefaultConfig() Config {
	return Config{
		LoanTermSeconds:     30 * 24 * 60 * 60,
		MinLoanSeconds:      60 * 60,
		RepaymentReward:     50,
		LatePenalty:         25,
		FlashLoanPenalty:    100,
		DefaultPenalty:      150,
		InitialLiquidityWei: big.NewInt(0),
	}
}

// ApplyDefaults fills every zero field from DefaultConfig and keeps the
// values the caller set.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.LoanTermSeconds == 0 {
		c.LoanTermSeconds = d.LoanTermSeconds
	}
	if c.MinLoanSeconds == 0 {
		c.MinLoanSeconds = d.MinLoanSeconds
	}
	if c.RepaymentReward == 0 {
		c.RepaymentReward = d.RepaymentReward
	}
	if c.LatePenalty == 0 {
		c.LatePenalty = d.LatePenalty
	}
	if c.FlashLoanPenalty == 0 {
		c.FlashLoanPenalty = d.FlashLoanPenalty
	}
	if c.DefaultPenalty == 0 {
		c.DefaultPenalty = d.DefaultPenalty
	}
	c.EnsureDefaults()
}

// EnsureDefaults populates nil big.Int fields so RLP and TOML handling is safe.
func (c *Config) EnsureDefaults() {
	if c.InitialLiquidityWei == nil {
		c.InitialLiquidityWei = big.NewInt(0)
	}
}

// Validate rejects configurations the coordinator cannot run with.
func (c Config) Validate() error {
	if c.LoanTermSeconds == 0 {
		return fmt.Errorf("lending config: LoanTermSeconds must be positive")
	}
	if c.MinLoanSeconds >= c.LoanTermSeconds {
		return fmt.Errorf("lending config: MinLoanSeconds (%d) must be below LoanTermSeconds (%d)", c.MinLoanSeconds, c.LoanTermSeconds)
	}
	for name, value := range map[string]int64{
		"RepaymentReward":  c.RepaymentReward,
		"LatePenalty":      c.LatePenalty,
		"FlashLoanPenalty": c.FlashLoanPenalty,
		"DefaultPenalty":   c.DefaultPenalty,
	} {
		if value < 0 {
			return fmt.Errorf("lending config: %s must not be negative", name)
		}
	}
	if c.InitialLiquidityWei != nil && c.InitialLiquidityWei.Sign() < 0 {
		return fmt.Errorf("lending config: InitialLiquidityWei must not be negative")
	}
	return nil
}
