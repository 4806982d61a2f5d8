package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Position string

const (
	PositionLong  Position = "Long"
	PositionShort Position = "Short"
)

// Counter returns the position the other party holds.
func (p Position) Counter() Position {
	if p == PositionLong {
		return PositionShort
	}
	return PositionLong
}

// CfdState is the lifecycle phase the daemon reports for a position.
type CfdState string

const (
	StatePendingSetup               CfdState = "PendingSetup"
	StateContractSetup              CfdState = "ContractSetup"
	StateRejected                   CfdState = "Rejected"
	StatePendingOpen                CfdState = "PendingOpen"
	StateOpen                       CfdState = "Open"
	StatePendingCommit              CfdState = "PendingCommit"
	StateOpenCommitted              CfdState = "OpenCommitted"
	StatePendingCet                 CfdState = "PendingCet"
	StateIncomingSettlementProposal CfdState = "IncomingSettlementProposal"
	StateOutgoingSettlementProposal CfdState = "OutgoingSettlementProposal"
	StateIncomingRolloverProposal   CfdState = "IncomingRollOverProposal"
	StateOutgoingRolloverProposal   CfdState = "OutgoingRollOverProposal"
	StatePendingClose               CfdState = "PendingClose"
	StateClosed                     CfdState = "Closed"
	StatePendingRefund              CfdState = "PendingRefund"
	StateRefunded                   CfdState = "Refunded"
	StateSetupFailed                CfdState = "SetupFailed"
)

// AllStates lists every phase in rough lifecycle order.
var AllStates = []CfdState{
	StatePendingSetup,
	StateContractSetup,
	StateRejected,
	StatePendingOpen,
	StateOpen,
	StatePendingCommit,
	StateOpenCommitted,
	StatePendingCet,
	StateIncomingSettlementProposal,
	StateOutgoingSettlementProposal,
	StateIncomingRolloverProposal,
	StateOutgoingRolloverProposal,
	StatePendingClose,
	StateClosed,
	StatePendingRefund,
	StateRefunded,
	StateSetupFailed,
}

// Group is the coarse partition used to split open positions from history.
type Group int

const (
	GroupOpen Group = iota
	GroupClosed
)

func (g Group) String() string {
	if g == GroupClosed {
		return "Closed"
	}
	return "Open"
}

// Group maps the state onto Open or Closed. Only terminal phases are Closed.
func (s CfdState) Group() Group {
	switch s {
	case StateClosed, StateRejected, StateRefunded, StateSetupFailed:
		return GroupClosed
	case StatePendingSetup, StateContractSetup, StatePendingOpen, StateOpen,
		StatePendingCommit, StateOpenCommitted, StatePendingCet,
		StateIncomingSettlementProposal, StateOutgoingSettlementProposal,
		StateIncomingRolloverProposal, StateOutgoingRolloverProposal,
		StatePendingClose, StatePendingRefund:
		return GroupOpen
	}
	// unreachable for decoded states, see UnmarshalText
	return GroupOpen
}

func (s CfdState) Valid() bool {
	for _, known := range AllStates {
		if s == known {
			return true
		}
	}
	return false
}

// UnknownStateError is returned when the daemon reports a phase this
// terminal does not know.
type UnknownStateError struct {
	State string
}

func (e *UnknownStateError) Error() string {
	return fmt.Sprintf("unknown cfd state %q", e.State)
}

func (s *CfdState) UnmarshalText(text []byte) error {
	state := CfdState(text)
	if !state.Valid() {
		return &UnknownStateError{State: string(text)}
	}
	*s = state
	return nil
}

// Cfd is one position record from the cfds topic. The terminal never
// mutates it.
type Cfd struct {
	OrderID                  uuid.UUID        `json:"order_id"`
	Position                 Position         `json:"position"`
	InitialPrice             decimal.Decimal  `json:"initial_price"`
	Leverage                 Leverage         `json:"leverage"`
	LiquidationPrice         decimal.Decimal  `json:"liquidation_price"`
	Quantity                 decimal.Decimal  `json:"quantity_usd"`
	Margin                   decimal.Decimal  `json:"margin"`
	ProfitBTC                *decimal.Decimal `json:"profit_btc,omitempty"`
	ProfitPercent            *decimal.Decimal `json:"profit_percent,omitempty"`
	State                    CfdState         `json:"state"`
	Actions                  []string         `json:"actions,omitempty"`
	StateTransitionTimestamp int64            `json:"state_transition_timestamp"`
	ExpiryTimestamp          *int64           `json:"expiry_timestamp,omitempty"`
}

func (c Cfd) IsClosed() bool {
	return c.State.Group() == GroupClosed
}

func (c Cfd) StateTransitionedAt() time.Time {
	return time.Unix(c.StateTransitionTimestamp, 0).UTC()
}

// Partition splits cfds into open and closed lists, preserving order.
func Partition(cfds []Cfd) (open, closed []Cfd) {
	for _, c := range cfds {
		if c.IsClosed() {
			closed = append(closed, c)
		} else {
			open = append(open, c)
		}
	}
	return open, closed
}
