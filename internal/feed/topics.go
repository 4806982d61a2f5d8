package feed

import "taker-terminal/internal/model"

const (
	TopicWallet      = "wallet"
	TopicLongOffer   = "long_offer"
	TopicShortOffer  = "short_offer"
	TopicIdentity    = "identity"
	TopicCfds        = "cfds"
	TopicMakerStatus = "maker_status"
)

// Topics are the cells of every topic the daemon publishes. Offer cells hold
// nil while the maker offers no liquidity on that side.
type Topics struct {
	Wallet      *Cell[model.WalletInfo]
	LongOffer   *Cell[*model.MakerOffer]
	ShortOffer  *Cell[*model.MakerOffer]
	Identity    *Cell[model.IdentityInfo]
	Cfds        *Cell[[]model.Cfd]
	MakerStatus *Cell[model.ConnectionStatus]
}

func RegisterTopics(a *Aggregator) *Topics {
	return &Topics{
		Wallet:      Register[model.WalletInfo](a, TopicWallet, nil),
		LongOffer:   Register[*model.MakerOffer](a, TopicLongOffer, nil),
		ShortOffer:  Register[*model.MakerOffer](a, TopicShortOffer, nil),
		Identity:    Register[model.IdentityInfo](a, TopicIdentity, nil),
		Cfds:        Register[[]model.Cfd](a, TopicCfds, nil),
		MakerStatus: Register[model.ConnectionStatus](a, TopicMakerStatus, nil),
	}
}

// MakerOnline defaults to offline until a status arrives.
func (t *Topics) MakerOnline() bool {
	return t.MakerStatus.Get().Online
}
