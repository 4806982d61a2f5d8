// Package terminal ties the feeds, the calculator and the daemon client
// together into the taker's view of the market.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"taker-terminal/internal/calculator"
	"taker-terminal/internal/config"
	"taker-terminal/internal/exchange"
	"taker-terminal/internal/feed"
	"taker-terminal/internal/logger"
	"taker-terminal/internal/model"
	"taker-terminal/internal/notify"
	"taker-terminal/internal/offer"
	"taker-terminal/internal/order"
	"taker-terminal/pkg/ws"
)

// TradeState is what the user has entered for one side.
type TradeState struct {
	Quantity      decimal.Decimal
	Leverage      model.Leverage
	UserHasEdited bool
}

// TradeView is everything needed to render one side's order form.
type TradeView struct {
	Side  model.Position
	Offer model.Offer
	State TradeState
	Quote calculator.Quote
	// Leverages are the choices the offer has tiers for.
	Leverages []model.Leverage
	// WarningVisible is false while the maker is offline, even if the quote
	// carries a warning.
	WarningVisible     bool
	WarningTitle       string
	WarningDescription string
}

type Components struct {
	Aggregator *feed.Aggregator
	Topics     *feed.Topics
	PriceFeed  *ws.PriceFeed
	Exchange   exchange.Exchange
	Submitter  *order.Submitter
	Board      *notify.Board
}

type Terminal struct {
	aggregator *feed.Aggregator
	topics     *feed.Topics
	prices     *ws.PriceFeed
	exchange   exchange.Exchange
	submitter  *order.Submitter
	board      *notify.Board
	cfg        config.TradeConfig
	log        *logger.Entry

	mu     sync.Mutex
	trades map[model.Position]*TradeState
}

func New(c Components, cfg config.TradeConfig) *Terminal {
	if c.Topics == nil {
		c.Topics = feed.RegisterTopics(c.Aggregator)
	}
	if c.Submitter == nil {
		c.Submitter = order.NewSubmitter(c.Exchange, nil)
	}
	if c.Board == nil {
		c.Board = notify.NewBoard()
	}

	t := &Terminal{
		aggregator: c.Aggregator,
		topics:     c.Topics,
		prices:     c.PriceFeed,
		exchange:   c.Exchange,
		submitter:  c.Submitter,
		board:      c.Board,
		cfg:        cfg,
		log:        logger.GetLogger().WithComponent("terminal"),
		trades:     make(map[model.Position]*TradeState),
	}

	for _, side := range []model.Position{model.PositionLong, model.PositionShort} {
		t.trades[side] = &TradeState{
			Quantity: decimal.Zero,
			Leverage: model.Leverage(cfg.DefaultLeverage),
		}
	}

	// A taker long fills the maker's short offer and the other way round.
	t.topics.ShortOffer.Subscribe(func(*model.MakerOffer) { t.followMinQuantity(model.PositionLong) })
	t.topics.LongOffer.Subscribe(func(*model.MakerOffer) { t.followMinQuantity(model.PositionShort) })
	t.topics.MakerStatus.Subscribe(t.onMakerStatus)

	t.aggregator.Connected().Subscribe(t.onConnectionChanged)
	t.onConnectionChanged(t.aggregator.Connected().Get())

	return t
}

// Start runs the daemon feed and the price feed until ctx is done or one of
// them gives up.
func (t *Terminal) Start(ctx context.Context) error {
	t.log.Info("starting terminal")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.aggregator.Run(ctx) })
	if t.prices != nil {
		g.Go(func() error { return t.prices.Run(ctx) })
	}

	err := g.Wait()
	t.log.WithError(err).Info("terminal stopped")
	return err
}

func (t *Terminal) Board() *notify.Board {
	return t.board
}

// Offer is the normalized offer the given taker side trades against.
func (t *Terminal) Offer(side model.Position) model.Offer {
	return offer.ForTaker(side, t.topics.LongOffer.Get(), t.topics.ShortOffer.Get())
}

func (t *Terminal) TradeState(side model.Position) TradeState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return *t.trades[side]
}

// SetQuantity records a user edit; the quantity no longer follows the
// offer's minimum afterwards.
func (t *Terminal) SetQuantity(side model.Position, q decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.trades[side]
	st.Quantity = q
	st.UserHasEdited = true
}

func (t *Terminal) SetLeverage(side model.Position, l model.Leverage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.trades[side].Leverage = l
}

func (t *Terminal) followMinQuantity(side model.Position) {
	minQuantity := t.Offer(side).MinQuantity

	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.trades[side]
	if st.UserHasEdited {
		return
	}
	st.Quantity = minQuantity
}

// Trade computes the current quote for side from the latest snapshots.
func (t *Terminal) Trade(side model.Position) TradeView {
	o := t.Offer(side)
	st := t.TradeState(side)
	wallet := t.topics.Wallet.Get()

	q := calculator.Compute(calculator.Input{
		Offer:         o,
		Leverage:      st.Leverage,
		Quantity:      st.Quantity,
		WalletBalance: wallet.Balance,
		Submitting:    t.submitter.InFlight(),
	})

	view := TradeView{
		Side:      side,
		Offer:     o,
		State:     st,
		Quote:     q,
		Leverages: o.LeverageChoices(),
	}
	if q.Warning != calculator.WarningNone && t.topics.MakerOnline() {
		view.WarningVisible = true
		view.WarningTitle, view.WarningDescription = q.Warning.Message(o)
	}
	return view
}

// Submit places an order for side with the current quantity and leverage.
// Daemon and transport failures are also shown as notifications; a blocked
// or pending order is not.
func (t *Terminal) Submit(ctx context.Context, side model.Position) error {
	view := t.Trade(side)

	intent := model.TradeIntent{
		OfferID:  uuid.Nil,
		Quantity: view.State.Quantity,
		Leverage: view.State.Leverage,
	}
	if view.Offer.ID != nil {
		intent.OfferID = *view.Offer.ID
	}

	var check func(context.Context)
	if t.cfg.VerifyMargin {
		check = func(ctx context.Context) { t.verifyMargin(ctx, view) }
	}

	err := t.submitter.SubmitWithCheck(ctx, intent, view.Quote.Flags, check)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, order.ErrNotSubmittable), errors.Is(err, order.ErrSubmissionPending):
		return err
	}

	t.board.Show(notify.Notification{
		Level:       notify.LevelError,
		Title:       "Error: Submitting Order",
		Description: describe(err),
		Duration:    notify.DefaultDuration,
	})
	return err
}

// verifyMargin compares the local margin with the daemon's. A mismatch or
// failure is only logged; the local figure stays authoritative.
func (t *Terminal) verifyMargin(ctx context.Context, view TradeView) {
	if view.Offer.Price == nil {
		return
	}
	remote, err := t.exchange.CalculateMargin(ctx, &exchange.MarginRequest{
		Price:    *view.Offer.Price,
		Quantity: view.State.Quantity,
		Leverage: view.State.Leverage,
	})
	entry := t.log.WithFields(logger.Fields{
		"side":         string(view.Side),
		"local_margin": view.Quote.Margin.String(),
	})
	if err != nil {
		entry.WithError(err).Warn("margin verification failed")
		return
	}
	if !remote.Equal(view.Quote.Margin) {
		entry.WithField("remote_margin", remote.String()).Warn("daemon margin differs from local margin")
	}
}

// Withdraw asks the daemon to send funds and returns the transaction URL.
func (t *Terminal) Withdraw(ctx context.Context, req *exchange.WithdrawRequest) (string, error) {
	url, err := t.exchange.Withdraw(ctx, req)
	if err != nil {
		t.board.Show(notify.Notification{
			Level:       notify.LevelError,
			Title:       "Error: Withdrawing",
			Description: describe(err),
			Duration:    notify.DefaultDuration,
		})
		return "", err
	}

	t.board.Show(notify.Notification{
		Level:       notify.LevelInfo,
		Title:       "Withdraw successful",
		Description: url,
		Duration:    notify.DefaultDuration,
	})
	return url, nil
}

// SyncWallet asks the daemon to resynchronize the wallet. The refreshed
// balance arrives on the wallet topic.
func (t *Terminal) SyncWallet(ctx context.Context) error {
	if err := t.exchange.Sync(ctx); err != nil {
		t.board.Show(notify.Notification{
			Level:       notify.LevelError,
			Title:       "Error: Syncing Wallet",
			Description: describe(err),
			Duration:    notify.DefaultDuration,
		})
		return err
	}
	return nil
}

// Wallet returns the latest wallet snapshot and whether one has arrived.
func (t *Terminal) Wallet() (model.WalletInfo, bool) {
	return t.topics.Wallet.Latest()
}

func (t *Terminal) Identity() (model.IdentityInfo, bool) {
	return t.topics.Identity.Latest()
}

// Positions splits the latest position list into open and closed.
func (t *Terminal) Positions() (open, closed []model.Cfd) {
	return model.Partition(t.topics.Cfds.Get())
}

func (t *Terminal) ReferencePrice() (decimal.Decimal, bool) {
	if t.prices == nil {
		return decimal.Zero, false
	}
	return t.prices.ReferencePrice().Latest()
}

// PriceFeedConnected reports whether the reference price socket is open.
func (t *Terminal) PriceFeedConnected() bool {
	if t.prices == nil {
		return false
	}
	return t.prices.Connected().Get()
}

func (t *Terminal) MakerOnline() bool {
	return t.topics.MakerOnline()
}

// NextFundingEvent is the next full UTC hour after now. There is none while
// the maker offers no liquidity on either side.
func (t *Terminal) NextFundingEvent(now time.Time) (time.Time, bool) {
	if !t.Offer(model.PositionLong).HasLiquidity() && !t.Offer(model.PositionShort).HasLiquidity() {
		return time.Time{}, false
	}
	return now.UTC().Truncate(time.Hour).Add(time.Hour), true
}

func (t *Terminal) onConnectionChanged(connected bool) {
	if connected {
		t.board.Close(notify.IDConnection)
		return
	}
	if t.board.IsActive(notify.IDConnection) {
		return
	}
	t.board.Show(notify.Notification{
		ID:          notify.IDConnection,
		Level:       notify.LevelError,
		Title:       "Connection error!",
		Description: "Please ensure your daemon is running.",
	})
}

func (t *Terminal) onMakerStatus(status model.ConnectionStatus) {
	if status.Online {
		t.board.Close(notify.IDMakerConnection)
		return
	}
	if t.board.IsActive(notify.IDMakerConnection) {
		return
	}
	t.board.Show(notify.Notification{
		ID:          notify.IDMakerConnection,
		Level:       notify.LevelWarning,
		Title:       "No maker!",
		Description: "You are not connected to any maker. Functionality may be limited",
	})
}

func describe(err error) string {
	var apiErr *exchange.APIError
	if errors.As(err, &apiErr) {
		desc := apiErr.Description
		if desc == "" {
			desc = http.StatusText(apiErr.Status)
		}
		return fmt.Sprintf("%d: %s", apiErr.Status, desc)
	}
	return err.Error()
}
