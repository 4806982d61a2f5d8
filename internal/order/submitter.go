// Package order submits position-opening orders to the daemon with at most
// one request in flight.
package order

import (
	"context"
	"errors"
	"sync"

	"taker-terminal/internal/calculator"
	"taker-terminal/internal/exchange"
	"taker-terminal/internal/logger"
	"taker-terminal/internal/model"
)

var (
	// ErrSubmissionPending is returned while an earlier order is in flight.
	ErrSubmissionPending = errors.New("order: previous submission still pending")
	// ErrNotSubmittable is returned when the quote's checks fail; nothing
	// is sent.
	ErrNotSubmittable = errors.New("order: order is not submittable")
)

// Observer is told the outcome of every submission attempt.
type Observer interface {
	SubmissionFinished(result string)
}

const (
	ResultAccepted = "accepted"
	ResultRejected = "rejected"
	ResultFailed   = "failed"
	ResultBlocked  = "blocked"
	ResultPending  = "pending"
)

// Submitter owns the single-flight guard. Nobody else tracks whether an
// order is in flight.
type Submitter struct {
	exchange exchange.Exchange
	log      *logger.Entry
	observer Observer

	mu       sync.Mutex
	inFlight bool
}

func NewSubmitter(ex exchange.Exchange, observer Observer) *Submitter {
	return &Submitter{
		exchange: ex,
		log:      logger.GetLogger().WithComponent("order"),
		observer: observer,
	}
}

// InFlight reports whether a submission is currently outstanding.
func (s *Submitter) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Submit sends intent if flags all pass and no other order is in flight.
// The gate is released on every outcome. Success changes no local state;
// the new position arrives on the cfds topic.
func (s *Submitter) Submit(ctx context.Context, intent model.TradeIntent, flags calculator.Flags) error {
	return s.SubmitWithCheck(ctx, intent, flags, nil)
}

// SubmitWithCheck is Submit with check run while holding the gate, after the
// flags pass and before the order is sent. A refused or blocked submission
// never reaches check.
func (s *Submitter) SubmitWithCheck(ctx context.Context, intent model.TradeIntent, flags calculator.Flags, check func(context.Context)) error {
	if !s.acquire() {
		s.record(ResultPending)
		return ErrSubmissionPending
	}
	defer s.release()

	if !flags.Valid() {
		s.record(ResultBlocked)
		return ErrNotSubmittable
	}

	if check != nil {
		check(ctx)
	}

	entry := s.log.WithFields(logger.Fields{
		"offer_id": intent.OfferID.String(),
		"quantity": intent.Quantity.String(),
		"leverage": intent.Leverage,
	})

	if err := s.exchange.PlaceOrder(ctx, exchange.NewOrderRequest(intent)); err != nil {
		var apiErr *exchange.APIError
		if errors.As(err, &apiErr) {
			s.record(ResultRejected)
		} else {
			s.record(ResultFailed)
		}
		entry.WithError(err).Warn("order submission failed")
		return err
	}

	s.record(ResultAccepted)
	entry.Info("order submitted")
	return nil
}

func (s *Submitter) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return false
	}
	s.inFlight = true
	return true
}

func (s *Submitter) release() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

func (s *Submitter) record(result string) {
	if s.observer != nil {
		s.observer.SubmissionFinished(result)
	}
}
