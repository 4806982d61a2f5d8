package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"taker-terminal/internal/feed"
	"taker-terminal/internal/logger"
)

// DefaultPriceFeedURL streams BitMEX's .BXBT index instrument.
const DefaultPriceFeedURL = "wss://www.bitmex.com/realtime?subscribe=instrument:.BXBT"

// PriceFeed follows an external instrument feed and keeps the latest mark
// price. It never expires a price; a quiet feed keeps its last value.
type PriceFeed struct {
	url          string
	retry        feed.RetryPolicy
	pingInterval time.Duration
	log          *logger.Entry
	onTick       func(decimal.Decimal)

	price     *feed.Cell[decimal.Decimal]
	connected *feed.Cell[bool]
}

type InstrumentMessage struct {
	Table  string           `json:"table,omitempty"`
	Action string           `json:"action,omitempty"`
	Data   []InstrumentTick `json:"data"`
}

type InstrumentTick struct {
	Symbol    string           `json:"symbol"`
	MarkPrice *decimal.Decimal `json:"markPrice,omitempty"`
	Timestamp string           `json:"timestamp,omitempty"`
}

type PriceFeedOption func(*PriceFeed)

func WithRetry(p feed.RetryPolicy) PriceFeedOption {
	return func(f *PriceFeed) { f.retry = p }
}

func WithPingInterval(d time.Duration) PriceFeedOption {
	return func(f *PriceFeed) { f.pingInterval = d }
}

func WithLogger(l *logger.Entry) PriceFeedOption {
	return func(f *PriceFeed) { f.log = l }
}

// WithTickHook is called with every new reference price.
func WithTickHook(fn func(decimal.Decimal)) PriceFeedOption {
	return func(f *PriceFeed) { f.onTick = fn }
}

func NewPriceFeed(url string, opts ...PriceFeedOption) *PriceFeed {
	if url == "" {
		url = DefaultPriceFeedURL
	}
	f := &PriceFeed{
		url:          url,
		retry:        feed.Forever{Delay: time.Second},
		pingInterval: 30 * time.Second,
		log:          logger.GetLogger().WithComponent("pricefeed"),
		price:        feed.NewCell[decimal.Decimal](),
		connected:    feed.NewCell[bool](),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.connected.Set(false)
	return f
}

// ReferencePrice is the cell holding the latest mark price.
func (f *PriceFeed) ReferencePrice() *feed.Cell[decimal.Decimal] {
	return f.price
}

func (f *PriceFeed) Connected() *feed.Cell[bool] {
	return f.connected
}

// HandleMessage takes the first tick's mark price, if there is one.
// Anything else leaves the current price untouched.
func (f *PriceFeed) HandleMessage(data []byte) bool {
	var msg InstrumentMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		f.log.WithError(err).Debug("ignoring undecodable price message")
		return false
	}
	if len(msg.Data) == 0 || msg.Data[0].MarkPrice == nil {
		return false
	}

	price := *msg.Data[0].MarkPrice
	f.price.Set(price)
	if f.onTick != nil {
		f.onTick(price)
	}
	return true
}

// Run connects and reconnects according to the retry policy until ctx is
// done or the policy gives up.
func (f *PriceFeed) Run(ctx context.Context) error {
	attempt := 0
	for {
		received, err := f.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if received {
			attempt = 0
		}
		attempt++

		f.log.WithError(err).WithField("attempt", attempt).Warn("price feed lost, reconnecting")
		if werr := f.retry.Wait(ctx, attempt); werr != nil {
			return werr
		}
	}
}

// session reports whether any message arrived before the connection ended.
func (f *PriceFeed) session(ctx context.Context) (bool, error) {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to connect to price feed: %w", err)
	}
	defer conn.Close()

	f.connected.Set(true)
	defer f.connected.Set(false)
	f.log.WithField("url", f.url).Info("price feed connected")

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-sessionCtx.Done()
		conn.Close()
	}()
	go f.handlePing(sessionCtx, conn)

	received := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return received, err
		}
		received = true
		f.HandleMessage(data)
	}
}

func (f *PriceFeed) handlePing(ctx context.Context, conn *websocket.Conn) {
	if f.pingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(f.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				f.log.WithError(err).Warn("price feed ping error")
				return
			}
		}
	}
}
