// Package calculator computes margin, settlement fee and order validity for
// a prospective position from the latest offer and wallet snapshots.
package calculator

import (
	"fmt"

	"github.com/shopspring/decimal"

	"taker-terminal/internal/model"
)

// Input is everything a quote depends on. A zero WalletBalance stands in
// for an unknown wallet.
type Input struct {
	Offer         model.Offer
	Leverage      model.Leverage
	Quantity      decimal.Decimal
	WalletBalance decimal.Decimal
	Submitting    bool
}

// Flags are the individual validity checks. Each is true when the check fails.
type Flags struct {
	BalanceTooLow         bool
	QuantityTooHigh       bool
	QuantityTooLow        bool
	QuantityNotPositive   bool
	QuantityNotLotAligned bool
	NoOffer               bool
	// NoLeverageTier is set when the chosen leverage has no row in the offer,
	// which would otherwise price the trade at zero margin.
	NoLeverageTier bool
}

// Valid reports whether every check passed.
func (f Flags) Valid() bool {
	return !f.BalanceTooLow &&
		!f.QuantityTooHigh &&
		!f.QuantityTooLow &&
		!f.QuantityNotPositive &&
		!f.QuantityNotLotAligned &&
		!f.NoOffer &&
		!f.NoLeverageTier
}

type Quote struct {
	Margin        decimal.Decimal
	SettlementFee decimal.Decimal
	Flags         Flags
	Warning       Warning
	CanSubmit     bool
}

// Compute prices the order described by in. It never panics on a zero lot
// size; such an offer is simply not lot-aligned.
func Compute(in Input) Quote {
	o := in.Offer
	q := in.Quantity

	tier, hasTier := o.Tier(in.Leverage)

	var margin, fee decimal.Decimal
	if hasTier && o.LotSize.IsPositive() {
		margin = q.Mul(tier.MarginPerLot).Div(o.LotSize)
		fee = q.Mul(tier.InitialFundingFeePerLot).Div(o.LotSize)
	}

	flags := Flags{
		BalanceTooLow:         in.WalletBalance.LessThan(margin),
		QuantityTooHigh:       q.GreaterThan(o.MaxQuantity),
		QuantityTooLow:        q.LessThan(o.MinQuantity),
		QuantityNotPositive:   !q.IsPositive(),
		QuantityNotLotAligned: !LotAligned(q, o.LotSize),
		NoOffer:               !o.HasLiquidity(),
		NoLeverageTier:        !hasTier,
	}

	return Quote{
		Margin:        margin,
		SettlementFee: fee,
		Flags:         flags,
		Warning:       flags.Warning(),
		CanSubmit:     flags.Valid() && !in.Submitting,
	}
}

// LotAligned reports whether quantity is a whole multiple of lotSize.
func LotAligned(quantity, lotSize decimal.Decimal) bool {
	if !lotSize.IsPositive() {
		return false
	}
	return quantity.Mod(lotSize).IsZero()
}

// Warning is the single message surfaced when one or more checks fail.
type Warning int

const (
	WarningNone Warning = iota
	WarningBalanceTooLow
	WarningNotLotAligned
	WarningQuantityTooHigh
	WarningQuantityTooLow
	WarningNoOffer
	WarningNoLeverageTier
)

// Warning picks the highest priority failed check: balance, lot alignment,
// too high, too low or not positive, no offer, then missing tier.
func (f Flags) Warning() Warning {
	switch {
	case f.BalanceTooLow:
		return WarningBalanceTooLow
	case f.QuantityNotLotAligned:
		return WarningNotLotAligned
	case f.QuantityTooHigh:
		return WarningQuantityTooHigh
	case f.QuantityTooLow || f.QuantityNotPositive:
		return WarningQuantityTooLow
	case f.NoOffer:
		return WarningNoOffer
	case f.NoLeverageTier:
		return WarningNoLeverageTier
	}
	return WarningNone
}

func (w Warning) String() string {
	switch w {
	case WarningBalanceTooLow:
		return "balance_too_low"
	case WarningNotLotAligned:
		return "not_lot_aligned"
	case WarningQuantityTooHigh:
		return "quantity_too_high"
	case WarningQuantityTooLow:
		return "quantity_too_low"
	case WarningNoOffer:
		return "no_offer"
	case WarningNoLeverageTier:
		return "no_leverage_tier"
	}
	return "none"
}

// Message renders the warning for the user against the offer it was
// computed from.
func (w Warning) Message(o model.Offer) (title, description string) {
	switch w {
	case WarningBalanceTooLow:
		return "Not enough balance to open a new position!", "Deposit more into your wallet."
	case WarningNotLotAligned:
		return fmt.Sprintf("Quantity is not in increments of %s!", o.LotSize), fmt.Sprintf("Increment is %s", o.LotSize)
	case WarningQuantityTooHigh:
		return "Quantity too high!", fmt.Sprintf("Max available liquidity is %s", o.MaxQuantity)
	case WarningQuantityTooLow:
		return "Quantity too low!", fmt.Sprintf("Min quantity is %s", o.MinQuantity)
	case WarningNoOffer:
		return "Limited liquidity in maker!", "The maker you are connected has no active offers"
	case WarningNoLeverageTier:
		return "Leverage unavailable!", "The selected leverage is not offered by the maker."
	}
	return "", ""
}
