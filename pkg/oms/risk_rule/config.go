package riskrule

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type Config struct {
	Mode        string                `yaml:"mode"`
	BandPercent decimal.Decimal       `yaml:"band_percent"`
	Limits      map[string]LimitPrice `yaml:"limits"`
}

// FromConfig builds the guard selected by cfg.Mode. An empty mode is off.
func FromConfig(cfg Config) ([]RiskRule, error) {
	switch cfg.Mode {
	case "", ModeOff:
		return nil, nil
	case ModePostOnly:
		return []RiskRule{PostOnlyRule{}}, nil
	case ModeBand:
		if cfg.BandPercent.Sign() <= 0 {
			return nil, fmt.Errorf("price guard %s needs a positive band_percent", ModeBand)
		}
		return []RiskRule{PriceBandRule{Percent: cfg.BandPercent}}, nil
	case ModeLimits:
		return []RiskRule{NewLimitPriceRule(cfg.Limits)}, nil
	}
	return nil, fmt.Errorf("unknown price guard mode %q", cfg.Mode)
}
