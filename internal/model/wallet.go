package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// WalletInfo is the payload of the wallet topic. Balance is in BTC.
type WalletInfo struct {
	Balance       decimal.Decimal `json:"balance"`
	Address       string          `json:"address"`
	LastUpdatedAt int64           `json:"last_updated_at"`
}

func (w WalletInfo) LastUpdated() time.Time {
	return time.Unix(w.LastUpdatedAt, 0).UTC()
}

// ConnectionStatus is the payload of the maker_status topic.
type ConnectionStatus struct {
	Online bool `json:"online"`
}

// IdentityInfo is kept opaque; the terminal only forwards it.
type IdentityInfo = json.RawMessage
