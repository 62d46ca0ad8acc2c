/*

This file contains the long-lived vault policy and the governance patch applied on top of it.

*/

package types

import (
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	sdktypes "github.com/cosmos/cosmos-sdk/types"
)

// Policy is the persisted configuration the rebalancing engine runs under.
type Policy struct {
	LTVAim           sdkmath.LegacyDec `json:"ltv_aim"`
	LTVMin           sdkmath.LegacyDec `json:"ltv_min"`
	LTVMax           sdkmath.LegacyDec `json:"ltv_max"`
	CollateralMaxLTV sdkmath.LegacyDec `json:"collateral_max_ltv"` // fraction of collateral value the lender lets us borrow
	BufferPart       sdkmath.LegacyDec `json:"buffer_part"`
	PriceTimeframe   time.Duration     `json:"price_timeframe"`
	StableDenom      string            `json:"stable_denom"`
	MaxIterations    uint8             `json:"max_iterations"`

	// OverLoanBalanceValue is the deposit value we aim to hold per unit of loan before profit goes to rewards.
	OverLoanBalanceValue sdkmath.LegacyDec `json:"over_loan_balance_value"`
	HarvestInterval      time.Duration     `json:"harvest_interval"`
	Governance           string            `json:"governance"`
}

// Validate checks every invariant a policy must hold before it is committed.
func (p Policy) Validate() error {
	if err := p.validate(); err != nil {
		return errors.Join(ErrInvalidPolicy, err)
	}
	return nil
}

func (p Policy) validate() error {
	for name, d := range map[string]sdkmath.LegacyDec{
		"ltv_aim":                 p.LTVAim,
		"ltv_min":                 p.LTVMin,
		"ltv_max":                 p.LTVMax,
		"collateral_max_ltv":      p.CollateralMaxLTV,
		"buffer_part":             p.BufferPart,
		"over_loan_balance_value": p.OverLoanBalanceValue,
	} {
		if d.IsNil() {
			return fmt.Errorf("%s is not set", name)
		}
	}

	one := sdkmath.LegacyOneDec()
	if p.LTVMin.IsNegative() {
		return fmt.Errorf("ltv_min %s cannot be negative", p.LTVMin)
	}
	if !p.LTVMin.LT(p.LTVAim) || !p.LTVAim.LT(p.LTVMax) {
		return fmt.Errorf("ltv thresholds must satisfy min < aim < max, got %s / %s / %s", p.LTVMin, p.LTVAim, p.LTVMax)
	}
	if p.LTVMax.GT(one) {
		return fmt.Errorf("ltv_max %s cannot exceed 1", p.LTVMax)
	}
	if !p.CollateralMaxLTV.IsPositive() || p.CollateralMaxLTV.GT(one) {
		return fmt.Errorf("collateral_max_ltv %s must be in (0, 1]", p.CollateralMaxLTV)
	}
	if p.MaxIterations == 0 {
		return errors.New("max_iterations must be at least 1")
	}
	if !p.BufferPart.IsPositive() {
		return fmt.Errorf("buffer_part %s must be positive", p.BufferPart)
	}
	// The saga has to be able to walk from ltv_max back to ltv_aim in buffer-sized steps.
	steps := p.LTVMax.Sub(p.LTVAim).Quo(p.BufferPart)
	if steps.GT(sdkmath.LegacyNewDec(int64(p.MaxIterations))) {
		return fmt.Errorf("buffer_part %s too small: (ltv_max - ltv_aim) / buffer_part = %s exceeds max_iterations %d",
			p.BufferPart, steps, p.MaxIterations)
	}
	if p.PriceTimeframe <= 0 {
		return errors.New("price_timeframe must be positive")
	}
	if err := sdktypes.ValidateDenom(p.StableDenom); err != nil {
		return fmt.Errorf("stable_denom: %w", err)
	}
	if p.OverLoanBalanceValue.LT(one) {
		return fmt.Errorf("over_loan_balance_value %s must be at least 1", p.OverLoanBalanceValue)
	}
	if p.HarvestInterval < 0 {
		return errors.New("harvest_interval cannot be negative")
	}
	if p.Governance == "" {
		return errors.New("governance address cannot be empty")
	}
	return nil
}

// PolicyPatch carries the subset of policy fields a governance update changes.
type PolicyPatch struct {
	LTVAim               *sdkmath.LegacyDec `json:"ltv_aim,omitempty"`
	LTVMin               *sdkmath.LegacyDec `json:"ltv_min,omitempty"`
	LTVMax               *sdkmath.LegacyDec `json:"ltv_max,omitempty"`
	CollateralMaxLTV     *sdkmath.LegacyDec `json:"collateral_max_ltv,omitempty"`
	BufferPart           *sdkmath.LegacyDec `json:"buffer_part,omitempty"`
	PriceTimeframe       *time.Duration     `json:"price_timeframe,omitempty"`
	StableDenom          *string            `json:"stable_denom,omitempty"`
	MaxIterations        *uint8             `json:"max_iterations,omitempty"`
	OverLoanBalanceValue *sdkmath.LegacyDec `json:"over_loan_balance_value,omitempty"`
	HarvestInterval      *time.Duration     `json:"harvest_interval,omitempty"`
	Governance           *string            `json:"governance,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (pp PolicyPatch) IsEmpty() bool {
	return pp == PolicyPatch{}
}

// Apply returns a copy of p with every set field of the patch replaced.
func (pp PolicyPatch) Apply(p Policy) Policy {
	if pp.LTVAim != nil {
		p.LTVAim = *pp.LTVAim
	}
	if pp.LTVMin != nil {
		p.LTVMin = *pp.LTVMin
	}
	if pp.LTVMax != nil {
		p.LTVMax = *pp.LTVMax
	}
	if pp.CollateralMaxLTV != nil {
		p.CollateralMaxLTV = *pp.CollateralMaxLTV
	}
	if pp.BufferPart != nil {
		p.BufferPart = *pp.BufferPart
	}
	if pp.PriceTimeframe != nil {
		p.PriceTimeframe = *pp.PriceTimeframe
	}
	if pp.StableDenom != nil {
		p.StableDenom = *pp.StableDenom
	}
	if pp.MaxIterations != nil {
		p.MaxIterations = *pp.MaxIterations
	}
	if pp.OverLoanBalanceValue != nil {
		p.OverLoanBalanceValue = *pp.OverLoanBalanceValue
	}
	if pp.HarvestInterval != nil {
		p.HarvestInterval = *pp.HarvestInterval
	}
	if pp.Governance != nil {
		p.Governance = *pp.Governance
	}
	return p
}
