package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"taker-terminal/internal/model"
)

// Exchange is the taker daemon's HTTP surface.
type Exchange interface {
	// Trading
	PlaceOrder(ctx context.Context, req *OrderRequest) error
	CalculateMargin(ctx context.Context, req *MarginRequest) (decimal.Decimal, error)

	// Wallet
	Withdraw(ctx context.Context, req *WithdrawRequest) (string, error)
	Sync(ctx context.Context) error
}

type OrderRequest struct {
	OfferID  uuid.UUID       `json:"offer_id"`
	Quantity decimal.Decimal `json:"quantity"`
	Leverage model.Leverage  `json:"leverage"`
}

func NewOrderRequest(intent model.TradeIntent) *OrderRequest {
	return &OrderRequest{
		OfferID:  intent.OfferID,
		Quantity: intent.Quantity,
		Leverage: intent.Leverage,
	}
}

// The daemon expects bare JSON numbers; decimal marshals to strings.
func (r OrderRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		OfferID  uuid.UUID      `json:"offer_id"`
		Quantity json.Number    `json:"quantity"`
		Leverage model.Leverage `json:"leverage"`
	}{r.OfferID, json.Number(r.Quantity.String()), r.Leverage})
}

type MarginRequest struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Leverage model.Leverage  `json:"leverage"`
}

func (r MarginRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Price    json.Number    `json:"price"`
		Quantity json.Number    `json:"quantity"`
		Leverage model.Leverage `json:"leverage"`
	}{json.Number(r.Price.String()), json.Number(r.Quantity.String()), r.Leverage})
}

type MarginResponse struct {
	Margin decimal.Decimal `json:"margin"`
}

type WithdrawRequest struct {
	Amount  decimal.Decimal `json:"amount"`
	Fee     decimal.Decimal `json:"fee"`
	Address string          `json:"address"`
}

func (r WithdrawRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount  json.Number `json:"amount"`
		Fee     json.Number `json:"fee"`
		Address string      `json:"address"`
	}{json.Number(r.Amount.String()), json.Number(r.Fee.String()), r.Address})
}

// APIError is a non-2xx daemon response.
type APIError struct {
	Status      int
	Description string
}

func (e *APIError) Error() string {
	desc := e.Description
	if desc == "" {
		desc = http.StatusText(e.Status)
	}
	return fmt.Sprintf("daemon returned %d: %s", e.Status, desc)
}
