package terminal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taker-terminal/internal/config"
	"taker-terminal/internal/exchange"
	"taker-terminal/internal/feed"
	"taker-terminal/internal/logger"
	"taker-terminal/internal/model"
	"taker-terminal/internal/notify"
	"taker-terminal/internal/order"
	"taker-terminal/pkg/ws"
)

const offerID = "0b3e5d7a-93f4-4a1d-8a51-5e0d6c0f2b44"

const makerShortOffer = `{
	"id": "` + offerID + `",
	"price": 41000,
	"funding_rate_annualized_percent": 18.5,
	"funding_rate_hourly_percent": 0.002111111,
	"min_quantity": 100,
	"max_quantity": 1000,
	"lot_size": 100,
	"leverage_details": [
		{"leverage": 2, "margin_per_lot": 0.001, "initial_funding_fee_per_lot": 0.00001, "liquidation_price": 27333}
	]
}`

type fakeExchange struct {
	mu        sync.Mutex
	orders    []*exchange.OrderRequest
	margins   []*exchange.MarginRequest
	orderErr  error
	margin    decimal.Decimal
	txURL     string
	walletErr error
	syncs     int

	// set both to hold PlaceOrder until release is closed
	entered chan struct{}
	release chan struct{}
}

func (f *fakeExchange) PlaceOrder(_ context.Context, req *exchange.OrderRequest) error {
	f.mu.Lock()
	f.orders = append(f.orders, req)
	err := f.orderErr
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	return err
}

func (f *fakeExchange) marginCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.margins)
}

func (f *fakeExchange) CalculateMargin(_ context.Context, req *exchange.MarginRequest) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.margins = append(f.margins, req)
	return f.margin, nil
}

func (f *fakeExchange) Withdraw(context.Context, *exchange.WithdrawRequest) (string, error) {
	if f.walletErr != nil {
		return "", f.walletErr
	}
	return f.txURL, nil
}

func (f *fakeExchange) Sync(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs++
	return f.walletErr
}

type fixture struct {
	agg   *feed.Aggregator
	ex    *fakeExchange
	board *notify.Board
	term  *Terminal
}

func newFixture(t *testing.T, cfg config.TradeConfig) *fixture {
	t.Helper()
	if cfg.DefaultLeverage == 0 {
		cfg.DefaultLeverage = 2
	}
	agg := feed.NewAggregator("http://127.0.0.1:0/api/feed", feed.WithLogger(logger.Discard()))
	ex := &fakeExchange{}
	board := notify.NewBoard().WithLogger(logger.Discard())
	term := New(Components{Aggregator: agg, Exchange: ex, Board: board}, cfg)
	return &fixture{agg: agg, ex: ex, board: board, term: term}
}

func (f *fixture) apply(t *testing.T, topic, data string) {
	t.Helper()
	require.NoError(t, f.agg.Apply(topic, []byte(data)))
}

func findByTitle(b *notify.Board, title string) (notify.Notification, bool) {
	for _, n := range b.Active() {
		if n.Title == title {
			return n, true
		}
	}
	return notify.Notification{}, false
}

func TestConnectionNotification(t *testing.T) {
	f := newFixture(t, config.TradeConfig{})

	// not connected yet
	assert.True(t, f.board.IsActive(notify.IDConnection))

	f.agg.Connected().Set(true)
	assert.False(t, f.board.IsActive(notify.IDConnection))

	f.agg.Connected().Set(false)
	assert.True(t, f.board.IsActive(notify.IDConnection))
	assert.Len(t, f.board.Active(), 1)
}

func TestMakerStatusNotification(t *testing.T) {
	f := newFixture(t, config.TradeConfig{})
	assert.False(t, f.board.IsActive(notify.IDMakerConnection))
	assert.False(t, f.term.MakerOnline())

	f.apply(t, feed.TopicMakerStatus, `{"online": false}`)
	assert.True(t, f.board.IsActive(notify.IDMakerConnection))

	f.apply(t, feed.TopicMakerStatus, `{"online": true}`)
	assert.False(t, f.board.IsActive(notify.IDMakerConnection))
	assert.True(t, f.term.MakerOnline())
}

func TestQuantityFollowsOfferMinimum(t *testing.T) {
	f := newFixture(t, config.TradeConfig{})

	f.apply(t, feed.TopicShortOffer, makerShortOffer)
	assert.Equal(t, "100", f.term.TradeState(model.PositionLong).Quantity.String())
	assert.True(t, f.term.TradeState(model.PositionShort).Quantity.IsZero())

	f.term.SetQuantity(model.PositionLong, decimal.NewFromInt(300))
	f.apply(t, feed.TopicShortOffer, `{"id": "`+offerID+`", "min_quantity": 200, "max_quantity": 1000, "lot_size": 100, "leverage_details": []}`)

	st := f.term.TradeState(model.PositionLong)
	assert.Equal(t, "300", st.Quantity.String())
	assert.True(t, st.UserHasEdited)
}

func TestTradeQuote(t *testing.T) {
	f := newFixture(t, config.TradeConfig{})
	f.apply(t, feed.TopicShortOffer, makerShortOffer)
	f.apply(t, feed.TopicWallet, `{"balance": 0.01, "address": "bc1qtaker", "last_updated_at": 1650000000}`)
	f.term.SetQuantity(model.PositionLong, decimal.NewFromInt(300))

	view := f.term.Trade(model.PositionLong)
	assert.Equal(t, "0.003", view.Quote.Margin.String())
	assert.Equal(t, "0.00003", view.Quote.SettlementFee.String())
	assert.True(t, view.Quote.CanSubmit)
	assert.False(t, view.WarningVisible)
	require.NotNil(t, view.Offer.ID)
	assert.Equal(t, offerID, view.Offer.ID.String())
	assert.Equal(t, []model.Leverage{2}, view.Leverages)

	// the short side trades against the maker's long offer, which is absent
	short := f.term.Trade(model.PositionShort)
	assert.False(t, short.Quote.CanSubmit)
	assert.True(t, short.Quote.Flags.NoOffer)
}

func TestWarningOnlyWhileMakerOnline(t *testing.T) {
	f := newFixture(t, config.TradeConfig{})
	f.apply(t, feed.TopicShortOffer, makerShortOffer)
	f.apply(t, feed.TopicWallet, `{"balance": 1, "address": "bc1qtaker", "last_updated_at": 1650000000}`)
	f.term.SetQuantity(model.PositionLong, decimal.NewFromInt(350))

	view := f.term.Trade(model.PositionLong)
	assert.True(t, view.Quote.Flags.QuantityNotLotAligned)
	assert.False(t, view.WarningVisible)

	f.apply(t, feed.TopicMakerStatus, `{"online": true}`)
	view = f.term.Trade(model.PositionLong)
	assert.True(t, view.WarningVisible)
	assert.Equal(t, "Quantity is not in increments of 100!", view.WarningTitle)
	assert.Equal(t, "Increment is 100", view.WarningDescription)
}

func TestSubmit(t *testing.T) {
	f := newFixture(t, config.TradeConfig{})
	f.apply(t, feed.TopicShortOffer, makerShortOffer)
	f.apply(t, feed.TopicWallet, `{"balance": 0.01, "address": "bc1qtaker", "last_updated_at": 1650000000}`)
	f.term.SetQuantity(model.PositionLong, decimal.NewFromInt(300))

	require.NoError(t, f.term.Submit(context.Background(), model.PositionLong))
	require.Len(t, f.ex.orders, 1)
	assert.Equal(t, uuid.MustParse(offerID), f.ex.orders[0].OfferID)
	assert.Equal(t, "300", f.ex.orders[0].Quantity.String())
	assert.Equal(t, model.Leverage(2), f.ex.orders[0].Leverage)
	assert.Empty(t, f.ex.margins)
}

func TestSubmitRejectedShowsNotification(t *testing.T) {
	f := newFixture(t, config.TradeConfig{})
	f.apply(t, feed.TopicShortOffer, makerShortOffer)
	f.apply(t, feed.TopicWallet, `{"balance": 0.01, "address": "bc1qtaker", "last_updated_at": 1650000000}`)
	f.term.SetQuantity(model.PositionLong, decimal.NewFromInt(300))
	f.ex.orderErr = &exchange.APIError{Status: http.StatusConflict, Description: "Offer outdated"}

	err := f.term.Submit(context.Background(), model.PositionLong)
	var apiErr *exchange.APIError
	require.True(t, errors.As(err, &apiErr))

	n, ok := findByTitle(f.board, "Error: Submitting Order")
	require.True(t, ok)
	assert.Equal(t, "409: Offer outdated", n.Description)
	assert.Equal(t, notify.DefaultDuration, n.Duration)

	f.board.Close(n.ID)
	f.ex.orderErr = &exchange.APIError{Status: http.StatusInternalServerError}
	require.Error(t, f.term.Submit(context.Background(), model.PositionLong))
	n, ok = findByTitle(f.board, "Error: Submitting Order")
	require.True(t, ok)
	assert.Equal(t, "500: Internal Server Error", n.Description)
}

func TestSubmitBlockedStaysLocal(t *testing.T) {
	f := newFixture(t, config.TradeConfig{})
	f.apply(t, feed.TopicShortOffer, makerShortOffer)
	f.term.SetQuantity(model.PositionLong, decimal.NewFromInt(300))

	// no wallet yet, so the balance counts as zero
	err := f.term.Submit(context.Background(), model.PositionLong)
	require.ErrorIs(t, err, order.ErrNotSubmittable)
	assert.Empty(t, f.ex.orders)
	_, ok := findByTitle(f.board, "Error: Submitting Order")
	assert.False(t, ok)
}

func TestSubmitVerifiesMargin(t *testing.T) {
	f := newFixture(t, config.TradeConfig{VerifyMargin: true})
	f.ex.margin = decimal.RequireFromString("0.0031")
	f.apply(t, feed.TopicShortOffer, makerShortOffer)
	f.apply(t, feed.TopicWallet, `{"balance": 0.01, "address": "bc1qtaker", "last_updated_at": 1650000000}`)
	f.term.SetQuantity(model.PositionLong, decimal.NewFromInt(300))

	// a differing daemon figure is logged, the local one still decides
	require.NoError(t, f.term.Submit(context.Background(), model.PositionLong))
	require.Len(t, f.ex.margins, 1)
	assert.Equal(t, "41000", f.ex.margins[0].Price.String())
	assert.Len(t, f.ex.orders, 1)
}

func TestPendingSubmitSkipsMarginCheck(t *testing.T) {
	f := newFixture(t, config.TradeConfig{VerifyMargin: true})
	f.ex.margin = decimal.RequireFromString("0.003")
	f.ex.entered = make(chan struct{}, 1)
	f.ex.release = make(chan struct{})
	f.apply(t, feed.TopicShortOffer, makerShortOffer)
	f.apply(t, feed.TopicWallet, `{"balance": 0.01, "address": "bc1qtaker", "last_updated_at": 1650000000}`)
	f.term.SetQuantity(model.PositionLong, decimal.NewFromInt(300))

	first := make(chan error, 1)
	go func() { first <- f.term.Submit(context.Background(), model.PositionLong) }()

	select {
	case <-f.ex.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first order never reached the daemon")
	}
	assert.False(t, f.term.Trade(model.PositionLong).Quote.CanSubmit)

	err := f.term.Submit(context.Background(), model.PositionLong)
	require.ErrorIs(t, err, order.ErrSubmissionPending)
	assert.Equal(t, 1, f.ex.marginCalls())

	close(f.ex.release)
	require.NoError(t, <-first)
	assert.Equal(t, 1, f.ex.marginCalls())
	_, ok := findByTitle(f.board, "Error: Submitting Order")
	assert.False(t, ok)
}

func TestBlockedSubmitSkipsMarginCheck(t *testing.T) {
	f := newFixture(t, config.TradeConfig{VerifyMargin: true})
	f.apply(t, feed.TopicShortOffer, makerShortOffer)
	f.term.SetQuantity(model.PositionLong, decimal.NewFromInt(350))

	require.ErrorIs(t, f.term.Submit(context.Background(), model.PositionLong), order.ErrNotSubmittable)
	assert.Zero(t, f.ex.marginCalls())
}

func TestWithdraw(t *testing.T) {
	f := newFixture(t, config.TradeConfig{})
	f.ex.txURL = "https://mempool.space/tx/abc"

	url, err := f.term.Withdraw(context.Background(), &exchange.WithdrawRequest{
		Amount:  decimal.RequireFromString("0.01"),
		Fee:     decimal.NewFromInt(1),
		Address: "bc1qdest",
	})
	require.NoError(t, err)
	assert.Equal(t, f.ex.txURL, url)

	n, ok := findByTitle(f.board, "Withdraw successful")
	require.True(t, ok)
	assert.Equal(t, notify.LevelInfo, n.Level)
	assert.Equal(t, f.ex.txURL, n.Description)

	f.ex.walletErr = &exchange.APIError{Status: http.StatusBadRequest, Description: "Insufficient funds"}
	_, err = f.term.Withdraw(context.Background(), &exchange.WithdrawRequest{Address: "bc1qdest"})
	require.Error(t, err)
	n, ok = findByTitle(f.board, "Error: Withdrawing")
	require.True(t, ok)
	assert.Equal(t, "400: Insufficient funds", n.Description)
}

func TestSyncWallet(t *testing.T) {
	f := newFixture(t, config.TradeConfig{})
	require.NoError(t, f.term.SyncWallet(context.Background()))
	_, ok := findByTitle(f.board, "Error: Syncing Wallet")
	assert.False(t, ok)

	f.ex.walletErr = errors.New("connection refused")
	require.Error(t, f.term.SyncWallet(context.Background()))
	n, ok := findByTitle(f.board, "Error: Syncing Wallet")
	require.True(t, ok)
	assert.Equal(t, "connection refused", n.Description)
	assert.Equal(t, 2, f.ex.syncs)
}

func TestPositions(t *testing.T) {
	f := newFixture(t, config.TradeConfig{})
	f.apply(t, feed.TopicCfds, `[
		{"order_id": "7c1b2f5e-0a55-4b3a-9b8e-1c2d3e4f5a6b", "position": "Long", "quantity_usd": 100, "state": "Open", "state_transition_timestamp": 1650000000},
		{"order_id": "8d2c3a6f-1b66-4c4b-8c9f-2d3e4f5a6b7c", "position": "Short", "quantity_usd": 200, "state": "Closed", "state_transition_timestamp": 1650000100},
		{"order_id": "9e3d4b70-2c77-4d5c-9da0-3e4f5a6b7c8d", "position": "Long", "quantity_usd": 300, "state": "PendingSetup", "state_transition_timestamp": 1650000200}
	]`)

	open, closed := f.term.Positions()
	require.Len(t, open, 2)
	require.Len(t, closed, 1)
	assert.Equal(t, model.StateOpen, open[0].State)
	assert.Equal(t, model.StatePendingSetup, open[1].State)
	assert.Equal(t, model.StateClosed, closed[0].State)
}

func TestNextFundingEvent(t *testing.T) {
	f := newFixture(t, config.TradeConfig{})
	now := time.Date(2022, 4, 1, 13, 27, 5, 0, time.UTC)

	_, ok := f.term.NextFundingEvent(now)
	assert.False(t, ok)

	f.apply(t, feed.TopicShortOffer, makerShortOffer)
	next, ok := f.term.NextFundingEvent(now)
	require.True(t, ok)
	assert.Equal(t, time.Date(2022, 4, 1, 14, 0, 0, 0, time.UTC), next)

	f.apply(t, feed.TopicShortOffer, `null`)
	_, ok = f.term.NextFundingEvent(now)
	assert.False(t, ok)
}

func TestReferencePriceWithoutFeed(t *testing.T) {
	f := newFixture(t, config.TradeConfig{})
	_, ok := f.term.ReferencePrice()
	assert.False(t, ok)
	assert.False(t, f.term.PriceFeedConnected())
}

func TestReferencePriceFromFeed(t *testing.T) {
	agg := feed.NewAggregator("http://127.0.0.1:0/api/feed", feed.WithLogger(logger.Discard()))
	prices := ws.NewPriceFeed("", ws.WithLogger(logger.Discard()))
	term := New(Components{
		Aggregator: agg,
		PriceFeed:  prices,
		Exchange:   &fakeExchange{},
		Board:      notify.NewBoard().WithLogger(logger.Discard()),
	}, config.TradeConfig{DefaultLeverage: 2})

	assert.False(t, term.PriceFeedConnected())
	prices.HandleMessage([]byte(`{"data":[{"symbol":".BXBT","markPrice":40500.5}]}`))

	price, ok := term.ReferencePrice()
	require.True(t, ok)
	assert.Equal(t, "40500.5", price.String())

	prices.Connected().Set(true)
	assert.True(t, term.PriceFeedConnected())
}

func TestIdentityAndWallet(t *testing.T) {
	f := newFixture(t, config.TradeConfig{})

	_, ok := f.term.Identity()
	assert.False(t, ok)
	_, ok = f.term.Wallet()
	assert.False(t, ok)

	f.apply(t, feed.TopicIdentity, `{"taker_id":"c1d2e3f4"}`)
	f.apply(t, feed.TopicWallet, `{"balance": 0.5, "address": "bc1qtaker", "last_updated_at": 1650000000}`)

	identity, ok := f.term.Identity()
	require.True(t, ok)
	assert.JSONEq(t, `{"taker_id":"c1d2e3f4"}`, string(identity))

	wallet, ok := f.term.Wallet()
	require.True(t, ok)
	assert.Equal(t, time.Date(2022, 4, 15, 5, 20, 0, 0, time.UTC), wallet.LastUpdated())
}
