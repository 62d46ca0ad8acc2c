/*

This file contains the stable transfer tax model: a proportional rate bounded by an absolute cap.
Planning works on LegacyDec amounts; the Int helpers round in the direction that never overspends.

*/

package tax

import (
	"context"
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
)

var (
	ErrInvalidRate = errors.New("tax rate must be within [0, 1]")
	ErrInvalidCap  = errors.New("tax cap cannot be negative")
)

// Terms are the tax parameters applied to one stable transfer.
type Terms struct {
	Rate sdkmath.LegacyDec `json:"rate"`
	Cap  sdkmath.Int       `json:"cap"`
}

// NewTerms validates and builds tax terms.
func NewTerms(rate sdkmath.LegacyDec, cap sdkmath.Int) (Terms, error) {
	if rate.IsNil() || rate.IsNegative() || rate.GT(sdkmath.LegacyOneDec()) {
		return Terms{}, fmt.Errorf("%w: %v", ErrInvalidRate, rate)
	}
	if cap.IsNil() || cap.IsNegative() {
		return Terms{}, fmt.Errorf("%w: %v", ErrInvalidCap, cap)
	}
	return Terms{Rate: rate, Cap: cap}, nil
}

// Zero returns terms that charge nothing.
func Zero() Terms {
	return Terms{Rate: sdkmath.LegacyZeroDec(), Cap: sdkmath.ZeroInt()}
}

// Tax is the amount withheld when x is transferred.
func (t Terms) Tax(x sdkmath.LegacyDec) sdkmath.LegacyDec {
	if !x.IsPositive() {
		return sdkmath.LegacyZeroDec()
	}
	return sdkmath.LegacyMinDec(x.MulRoundUp(t.Rate), sdkmath.LegacyNewDecFromInt(t.Cap))
}

// Net is what arrives when x is sent.
func (t Terms) Net(x sdkmath.LegacyDec) sdkmath.LegacyDec {
	if !x.IsPositive() {
		return sdkmath.LegacyZeroDec()
	}
	return x.Sub(t.Tax(x))
}

// Gross is what has to be sent for x to arrive. Rounded up.
func (t Terms) Gross(x sdkmath.LegacyDec) sdkmath.LegacyDec {
	if !x.IsPositive() {
		return sdkmath.LegacyZeroDec()
	}
	capped := x.Add(sdkmath.LegacyNewDecFromInt(t.Cap))
	keep := sdkmath.LegacyOneDec().Sub(t.Rate)
	if !keep.IsPositive() {
		return capped
	}
	return sdkmath.LegacyMinDec(x.QuoRoundUp(keep), capped)
}

// NetInt floors Net of an integer amount.
func (t Terms) NetInt(x sdkmath.Int) sdkmath.Int {
	return t.Net(sdkmath.LegacyNewDecFromInt(x)).TruncateInt()
}

// GrossInt ceils Gross of an integer amount.
func (t Terms) GrossInt(x sdkmath.Int) sdkmath.Int {
	return t.Gross(sdkmath.LegacyNewDecFromInt(x)).Ceil().TruncateInt()
}

// Oracle returns the current tax terms for a denomination.
// Callers fetch terms on every planning call and never hold them across a saga iteration.
type Oracle interface {
	Terms(ctx context.Context, denom string) (Terms, error)
}

// StaticOracle serves fixed terms, typically loaded from configuration.
type StaticOracle struct {
	terms Terms
}

func NewStaticOracle(terms Terms) *StaticOracle {
	return &StaticOracle{terms: terms}
}

func (o *StaticOracle) Terms(_ context.Context, _ string) (Terms, error) {
	return o.terms, nil
}
