// Package offer turns raw maker offers into the shape the trade calculator
// consumes.
package offer

import (
	"github.com/shopspring/decimal"

	"taker-terminal/internal/model"
)

// HourlyRateDecimals is the precision kept for the hourly funding rate.
const HourlyRateDecimals = 5

// DefaultLotSize is used while no offer is known.
var DefaultLotSize = decimal.NewFromInt(100)

// FromMaker normalizes a maker offer. A nil offer yields an empty,
// never-submittable offer with lot size 100.
func FromMaker(m *model.MakerOffer) model.Offer {
	if m == nil {
		return model.Offer{
			MinQuantity:     decimal.Zero,
			MaxQuantity:     decimal.Zero,
			LotSize:         DefaultLotSize,
			LeverageDetails: []model.LeverageDetail{},
		}
	}

	id := m.ID
	price := m.Price
	annualized := m.FundingRateAnnualizedPercent
	hourly := m.FundingRateHourlyPercent.Round(HourlyRateDecimals)

	details := make([]model.LeverageDetail, len(m.LeverageDetails))
	copy(details, m.LeverageDetails)

	return model.Offer{
		ID:                    &id,
		Price:                 &price,
		FundingRateAnnualized: &annualized,
		FundingRateHourly:     &hourly,
		MinQuantity:           m.MinQuantity,
		MaxQuantity:           m.MaxQuantity,
		LotSize:               m.LotSize,
		LeverageDetails:       details,
	}
}

// ForTaker picks the maker offer a taker trades against: a taker going long
// takes the maker's short offer and the other way round.
func ForTaker(side model.Position, makerLong, makerShort *model.MakerOffer) model.Offer {
	if side == model.PositionLong {
		return FromMaker(makerShort)
	}
	return FromMaker(makerLong)
}
