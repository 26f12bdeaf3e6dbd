// Package billing holds the per-minute pricing arithmetic for consultations.
package billing

import (
	"fmt"
	"math"
	"strings"

	"github.com/lexconsult/consult-control-plane/internal/model"
)

const (
	FreeTrialSeconds = 120
	DefaultCurrency  = "₹"
)

type Policy struct {
	Mode             model.PricingMode
	RatePerMinute    float64
	FixedFee         float64
	FreeTrialSeconds int
}

func NewPolicy(mode model.PricingMode, ratePerMinute, fixedFee float64) Policy {
	return Policy{
		Mode:             mode,
		RatePerMinute:    ratePerMinute,
		FixedFee:         fixedFee,
		FreeTrialSeconds: FreeTrialSeconds,
	}
}

func (p Policy) trial() int {
	if p.FreeTrialSeconds <= 0 {
		return FreeTrialSeconds
	}
	return p.FreeTrialSeconds
}

// BillableSeconds is the time past the free window.
func (p Policy) BillableSeconds(elapsed int) int {
	return max(0, elapsed-p.trial())
}

func (p Policy) InTrial(elapsed int) bool {
	return elapsed <= p.trial()
}

// Cost returns the charge for elapsed seconds rounded to two decimals.
func (p Policy) Cost(elapsed int) float64 {
	variable := float64(p.BillableSeconds(elapsed)) * (p.RatePerMinute / 60)
	if p.Mode == model.PricingFixedFee {
		return Round2(p.FixedFee + variable)
	}
	return Round2(variable)
}

// LowBalance reports whether remaining funds cover less than two minutes.
func (p Policy) LowBalance(remaining float64) bool {
	return remaining > 0 && remaining < 2*p.RatePerMinute
}

// TrialLabel is the status shown while inside the free window.
func (p Policy) TrialLabel() string {
	if p.Mode == model.PricingFixedFee {
		return "Base Charge Active"
	}
	return "Free Intro"
}

func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

func FormatAmount(currency string, v float64) string {
	return fmt.Sprintf("%s%.2f", currency, Round2(v))
}

func ParseMode(raw string) (model.PricingMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "flat", "flat_rate", "flat-rate":
		return model.PricingFlat, nil
	case "fixed", "fixed_fee", "fixed-fee":
		return model.PricingFixedFee, nil
	default:
		return "", fmt.Errorf("unknown pricing mode %q", raw)
	}
}
