package model

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Leverage is a whole leverage multiple such as 2 for 2x.
type Leverage int

// LeverageDetail is one row of a maker's leverage tier table. Per-lot
// figures are in BTC.
type LeverageDetail struct {
	Leverage                Leverage        `json:"leverage"`
	MarginPerLot            decimal.Decimal `json:"margin_per_lot"`
	InitialFundingFeePerLot decimal.Decimal `json:"initial_funding_fee_per_lot"`
	LiquidationPrice        decimal.Decimal `json:"liquidation_price"`
}

// MakerOffer is the raw payload of the long_offer and short_offer topics.
type MakerOffer struct {
	ID                           uuid.UUID        `json:"id"`
	Price                        decimal.Decimal  `json:"price"`
	FundingRateAnnualizedPercent decimal.Decimal  `json:"funding_rate_annualized_percent"`
	FundingRateHourlyPercent     decimal.Decimal  `json:"funding_rate_hourly_percent"`
	MinQuantity                  decimal.Decimal  `json:"min_quantity"`
	MaxQuantity                  decimal.Decimal  `json:"max_quantity"`
	LotSize                      decimal.Decimal  `json:"lot_size"`
	LeverageDetails              []LeverageDetail `json:"leverage_details"`
}

// Offer is the normalized shape the calculator consumes. ID and Price are
// nil when the maker has no liquidity on this side.
type Offer struct {
	ID                    *uuid.UUID
	Price                 *decimal.Decimal
	FundingRateAnnualized *decimal.Decimal
	FundingRateHourly     *decimal.Decimal
	MinQuantity           decimal.Decimal
	MaxQuantity           decimal.Decimal
	LotSize               decimal.Decimal
	LeverageDetails       []LeverageDetail
}

// HasLiquidity reports whether the offer carries an identifier.
func (o Offer) HasLiquidity() bool {
	return o.ID != nil
}

// Tier returns the leverage row matching l.
func (o Offer) Tier(l Leverage) (LeverageDetail, bool) {
	for _, d := range o.LeverageDetails {
		if d.Leverage == l {
			return d, true
		}
	}
	return LeverageDetail{}, false
}

// LeverageChoices lists the offered leverages in table order.
func (o Offer) LeverageChoices() []Leverage {
	out := make([]Leverage, 0, len(o.LeverageDetails))
	for _, d := range o.LeverageDetails {
		out = append(out, d.Leverage)
	}
	return out
}

// TradeIntent is built right before an order is submitted.
type TradeIntent struct {
	OfferID  uuid.UUID
	Quantity decimal.Decimal
	Leverage Leverage
}
