// Package feed keeps the latest decoded value of every topic pushed by the
// daemon over its server-sent event stream.
package feed

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"taker-terminal/internal/logger"
	"taker-terminal/internal/model"
)

var ErrUnknownTopic = errors.New("feed: unknown topic")

// Observer receives feed events, e.g. for metrics.
type Observer interface {
	EventApplied(topic string)
	EventRejected(topic string)
	ConnectionChanged(connected bool)
	Reconnecting()
}

type nopObserver struct{}

func (nopObserver) EventApplied(string)    {}
func (nopObserver) EventRejected(string)   {}
func (nopObserver) ConnectionChanged(bool) {}
func (nopObserver) Reconnecting()          {}

type topic struct {
	apply  func([]byte) error
	latest func() (any, bool)
}

// Aggregator subscribes to one multiplexed event stream and routes each
// event to the cell registered for its topic.
type Aggregator struct {
	url        string
	httpClient *http.Client
	username   string
	password   string
	retry      RetryPolicy
	log        *logger.Entry
	observer   Observer

	mu     sync.RWMutex
	topics map[string]topic

	connected *Cell[bool]
}

type Option func(*Aggregator)

func WithHTTPClient(c *http.Client) Option {
	return func(a *Aggregator) { a.httpClient = c }
}

func WithRetry(p RetryPolicy) Option {
	return func(a *Aggregator) { a.retry = p }
}

func WithBasicAuth(username, password string) Option {
	return func(a *Aggregator) {
		a.username = username
		a.password = password
	}
}

func WithLogger(l *logger.Entry) Option {
	return func(a *Aggregator) { a.log = l }
}

func WithObserver(o Observer) Option {
	return func(a *Aggregator) { a.observer = o }
}

func NewAggregator(url string, opts ...Option) *Aggregator {
	a := &Aggregator{
		url:        url,
		httpClient: &http.Client{}, // no timeout, the stream is long lived
		retry:      Forever{Delay: time.Second},
		log:        logger.GetLogger().WithComponent("feed"),
		observer:   nopObserver{},
		topics:     make(map[string]topic),
		connected:  NewCell[bool](),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.connected.Set(false)
	return a
}

// Register adds a topic decoded by decode, or by encoding/json when decode
// is nil, and returns the cell holding its latest value.
func Register[T any](a *Aggregator, name string, decode func([]byte) (T, error)) *Cell[T] {
	if decode == nil {
		decode = DecodeJSON[T]
	}
	cell := NewCell[T]()

	a.mu.Lock()
	defer a.mu.Unlock()
	a.topics[name] = topic{
		apply: func(data []byte) error {
			v, err := decode(data)
			if err != nil {
				return err
			}
			cell.Set(v)
			return nil
		},
		latest: func() (any, bool) {
			v, ok := cell.Latest()
			return v, ok
		},
	}
	return cell
}

func DecodeJSON[T any](data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}

// Latest returns the current value of a topic, or false if nothing has
// arrived for it yet.
func (a *Aggregator) Latest(name string) (any, bool) {
	a.mu.RLock()
	t, ok := a.topics[name]
	a.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return t.latest()
}

func (a *Aggregator) Topics() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.topics))
	for name := range a.topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Connected is the liveness cell: true while the stream is open.
func (a *Aggregator) Connected() *Cell[bool] {
	return a.connected
}

// Apply decodes data into the topic's cell. A decoding failure leaves the
// previous value in place.
func (a *Aggregator) Apply(name string, data []byte) error {
	a.mu.RLock()
	t, ok := a.topics[name]
	a.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, name)
	}

	if err := t.apply(data); err != nil {
		a.observer.EventRejected(name)
		return fmt.Errorf("decode %s: %w", name, err)
	}
	a.observer.EventApplied(name)
	return nil
}

// Run keeps the stream open until ctx is cancelled or the retry policy
// gives up.
func (a *Aggregator) Run(ctx context.Context) error {
	attempt := 0
	for {
		delivered, err := a.stream(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if delivered {
			attempt = 0
		}
		attempt++

		a.log.WithError(err).WithField("attempt", attempt).Warn("event stream lost, reconnecting")
		a.observer.Reconnecting()
		if werr := a.retry.Wait(ctx, attempt); werr != nil {
			return werr
		}
	}
}

// stream reports whether the session delivered at least one event. A
// connection that is accepted and dropped without data counts as a failure.
func (a *Aggregator) stream(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if a.username != "" {
		req.SetBasicAuth(a.username, a.password)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("connect %s: %w", a.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("connect %s: unexpected status %d", a.url, resp.StatusCode)
	}

	a.setConnected(true)
	defer a.setConnected(false)
	a.log.WithField("url", a.url).Info("event stream connected")

	return a.read(resp.Body)
}

func (a *Aggregator) setConnected(v bool) {
	if prev, _ := a.connected.Latest(); prev == v {
		return
	}
	a.connected.Set(v)
	a.observer.ConnectionChanged(v)
}

// read parses the text/event-stream framing and dispatches complete events.
func (a *Aggregator) read(r io.Reader) (bool, error) {
	br := bufio.NewReader(r)

	var (
		event     string
		data      bytes.Buffer
		hasData   bool
		delivered bool
	)

	for {
		line, err := br.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return delivered, io.ErrUnexpectedEOF
			}
			return delivered, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if hasData {
				a.dispatch(event, data.Bytes())
				delivered = true
			}
			event = ""
			data.Reset()
			hasData = false
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			event = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		}
	}
}

func (a *Aggregator) dispatch(event string, data []byte) {
	if event == "" {
		event = "message"
	}
	if err := a.Apply(event, data); err != nil {
		if errors.Is(err, ErrUnknownTopic) {
			a.log.WithField("topic", event).Debug("ignoring event for unregistered topic")
			return
		}
		entry := a.log.WithError(err).WithField("topic", event)
		var unknown *model.UnknownStateError
		if errors.As(err, &unknown) {
			entry = entry.WithField("state", unknown.State)
		}
		entry.Warn("discarding malformed event")
	}
}
