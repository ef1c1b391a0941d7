package ledger

import (
	"fmt"
	"maps"
	"time"

	"smallbiznis-loyalty/pkg/errutil"
	"smallbiznis-loyalty/pkg/es"
)

// Balances are the four point buckets of a loyalty bank.
type Balances struct {
	Pending    int64 `json:"pending"`
	Earned     int64 `json:"earned"`
	Authorized int64 `json:"authorized"`
	Captured   int64 `json:"captured"`
}

func (b Balances) add(d Balances) Balances {
	return Balances{
		Pending:    b.Pending + d.Pending,
		Earned:     b.Earned + d.Earned,
		Authorized: b.Authorized + d.Authorized,
		Captured:   b.Captured + d.Captured,
	}
}

// Delta is the change ev makes to the buckets. It depends on the event alone,
// so read models can apply it without replaying the stream.
func Delta(ev Event) Balances {
	switch e := ev.(type) {
	case PendingTransactionCreated:
		return Balances{Pending: e.Points}
	case EarnedTransactionCreated:
		return Balances{Pending: -e.Points, Earned: e.Points}
	case PointsAuthorized:
		return Balances{Earned: -e.Points, Authorized: e.Points}
	case PointsCaptured:
		return Balances{Authorized: -e.Points, Captured: e.Points}
	case PointsVoided:
		return Balances{Authorized: -e.Points, Earned: e.Points}
	case TransactionExpired:
		if e.Bucket == BucketPending {
			return Balances{Pending: -e.PointsExpired}
		}
		return Balances{Earned: -e.PointsExpired}
	default:
		return Balances{}
	}
}

// Transaction is a not yet expired contribution to the pending or earned bucket.
type Transaction struct {
	TransactionID string
	Points        int64
	Bucket        Bucket
	Timestamp     time.Time
}

// Payment is the redemption bookkeeping of one payment id.
type Payment struct {
	Authorized int64
	Captured   int64
	Voided     int64
}

// Remaining is what can still be captured or voided.
func (p Payment) Remaining() int64 {
	return p.Authorized - p.Captured - p.Voided
}

type State struct {
	Balances

	LoyaltyBankID string
	AccountID     string
	BusinessID    string
	Created       bool
	Deleted       bool
	// CreatedBy is the request id that created the bank.
	CreatedBy    string
	Transactions map[string]Transaction
	Payments     map[string]Payment
	// Seen holds every transaction id recorded on the bank, including
	// expired and fully earned ones that left Transactions.
	Seen map[string]struct{}
}

func newState(id string) State {
	return State{
		LoyaltyBankID: id,
		Transactions:  map[string]Transaction{},
		Payments:      map[string]Payment{},
		Seen:          map[string]struct{}{},
	}
}

func (s State) clone() State {
	cp := s
	cp.Transactions = maps.Clone(s.Transactions)
	cp.Payments = maps.Clone(s.Payments)
	cp.Seen = maps.Clone(s.Seen)
	if cp.Transactions == nil {
		cp.Transactions = map[string]Transaction{}
	}
	if cp.Payments == nil {
		cp.Payments = map[string]Payment{}
	}
	if cp.Seen == nil {
		cp.Seen = map[string]struct{}{}
	}
	return cp
}

func (s State) seen(transactionID string) bool {
	_, ok := s.Seen[transactionID]
	return ok
}

// Apply returns the state after ev. s is not modified.
func Apply(s State, ev Event) State {
	next := s.clone()
	next.apply(ev)
	return next
}

// apply mutates a state owned exclusively by the caller.
func (s *State) apply(ev Event) {
	s.Balances = s.Balances.add(Delta(ev))

	switch e := ev.(type) {
	case LoyaltyBankCreated:
		s.Created = true
		s.CreatedBy = e.RequestID
		s.AccountID = e.AccountID
		s.BusinessID = e.BusinessID
	case PendingTransactionCreated:
		s.Seen[e.TransactionID] = struct{}{}
		s.Transactions[e.TransactionID] = Transaction{TransactionID: e.TransactionID, Points: e.Points, Bucket: BucketPending, Timestamp: e.Timestamp}
	case EarnedTransactionCreated:
		s.Seen[e.TransactionID] = struct{}{}
		if pending, ok := s.Transactions[e.PendingTransactionID]; ok && e.PendingTransactionID != "" {
			pending.Points -= e.Points
			if pending.Points <= 0 {
				delete(s.Transactions, e.PendingTransactionID)
			} else {
				s.Transactions[e.PendingTransactionID] = pending
			}
		}
		s.Transactions[e.TransactionID] = Transaction{TransactionID: e.TransactionID, Points: e.Points, Bucket: BucketEarned, Timestamp: e.Timestamp}
	case PointsAuthorized:
		p := s.Payments[e.PaymentID]
		p.Authorized += e.Points
		s.Payments[e.PaymentID] = p
	case PointsCaptured:
		p := s.Payments[e.PaymentID]
		p.Captured += e.Points
		s.Payments[e.PaymentID] = p
	case PointsVoided:
		p := s.Payments[e.PaymentID]
		p.Voided += e.Points
		s.Payments[e.PaymentID] = p
	case TransactionExpired:
		delete(s.Transactions, e.TargetTransactionID)
	case LoyaltyBankDeleted:
		s.Deleted = true
	}
}

// Replay folds the stream of one loyalty bank into its state.
func Replay(loyaltyBankID string, records []es.Record) (State, error) {
	state := newState(loyaltyBankID)
	for _, rec := range records {
		ev, err := DecodeEvent(rec)
		if err != nil {
			return State{}, errutil.Internal(fmt.Sprintf("loyalty bank %s has an unreadable event at sequence %d", loyaltyBankID, rec.Sequence), err)
		}
		if c, ok := ev.(LoyaltyBankCreated); ok && c.RequestID == "" {
			c.RequestID = rec.RequestID
			ev = c
		}
		state.apply(ev)
	}
	return state, nil
}

var Aggregate = es.Aggregate[State, Event]{
	Type:   AggregateType,
	Replay: Replay,
}

// Decide validates cmd against s and returns the resulting events.
func Decide(s State, cmd Command, now time.Time) ([]Event, error) {
	id := cmd.envelope().LoyaltyBankID

	switch c := cmd.(type) {
	case CreateLoyaltyBank:
		if s.Deleted {
			return nil, loyaltyBankDeleted(id)
		}
		if s.Created {
			return nil, loyaltyBankExists(id)
		}
		return []Event{LoyaltyBankCreated{LoyaltyBankID: id, RequestID: c.RequestID, AccountID: c.AccountID, BusinessID: c.BusinessID, Timestamp: now}}, nil

	case RollbackLoyaltyBankCreation:
		if !s.Created || s.Deleted || s.CreatedBy != c.RequestID {
			return nil, nil
		}
		return []Event{LoyaltyBankDeleted{LoyaltyBankID: id, AccountID: s.AccountID, Reason: "rollback", Timestamp: now}}, nil
	}

	if !s.Created {
		return nil, loyaltyBankNotFound(id)
	}
	if s.Deleted {
		return nil, loyaltyBankDeleted(id)
	}

	switch c := cmd.(type) {
	case DeleteLoyaltyBank:
		return []Event{LoyaltyBankDeleted{LoyaltyBankID: id, AccountID: s.AccountID, Reason: "unenrolled", Timestamp: now}}, nil

	case AddPendingPoints:
		if s.seen(c.TransactionID) {
			return nil, transactionExists(c.TransactionID)
		}
		return []Event{PendingTransactionCreated{
			LoyaltyBankID: id,
			TransactionID: c.TransactionID,
			Points:        c.Points,
			Timestamp:     timestampOr(c.Timestamp, now),
		}}, nil

	case EarnPoints:
		if s.seen(c.TransactionID) {
			return nil, transactionExists(c.TransactionID)
		}
		if c.Points > s.Pending {
			return nil, illegalLedgerState(fmt.Sprintf("earning %d points would leave pending at %d", c.Points, s.Pending-c.Points))
		}
		if c.PendingTransactionID != "" {
			pending, ok := s.Transactions[c.PendingTransactionID]
			if !ok || pending.Bucket != BucketPending {
				return nil, transactionNotFound(c.PendingTransactionID)
			}
			if c.Points > pending.Points {
				return nil, illegalLedgerState(fmt.Sprintf("pending transaction %s holds %d points, cannot earn %d", c.PendingTransactionID, pending.Points, c.Points))
			}
		}
		return []Event{EarnedTransactionCreated{
			LoyaltyBankID:        id,
			TransactionID:        c.TransactionID,
			PendingTransactionID: c.PendingTransactionID,
			Points:               c.Points,
			Timestamp:            timestampOr(c.Timestamp, now),
		}}, nil

	case AuthorizePoints:
		if c.Points > s.Earned {
			return nil, insufficientPoints(c.Points, s.Earned)
		}
		return []Event{PointsAuthorized{LoyaltyBankID: id, TransactionID: c.TransactionID, PaymentID: c.PaymentID, Points: c.Points, Timestamp: now}}, nil

	case CapturePoints:
		p, ok := s.Payments[c.PaymentID]
		if !ok {
			return nil, paymentNotFound(c.PaymentID)
		}
		if c.Points > p.Remaining() {
			return nil, excessiveCapture(c.PaymentID, c.Points, p.Remaining())
		}
		if c.Points > s.Authorized {
			return nil, illegalLedgerState(fmt.Sprintf("capturing %d points would leave authorized at %d", c.Points, s.Authorized-c.Points))
		}
		return []Event{PointsCaptured{LoyaltyBankID: id, TransactionID: c.TransactionID, PaymentID: c.PaymentID, Points: c.Points, Timestamp: now}}, nil

	case VoidPoints:
		p, ok := s.Payments[c.PaymentID]
		if !ok {
			return nil, paymentNotFound(c.PaymentID)
		}
		if c.Points > p.Remaining() {
			return nil, excessiveVoid(c.PaymentID, c.Points, p.Remaining())
		}
		if c.Points > s.Authorized {
			return nil, illegalLedgerState(fmt.Sprintf("voiding %d points would leave authorized at %d", c.Points, s.Authorized-c.Points))
		}
		return []Event{PointsVoided{LoyaltyBankID: id, TransactionID: c.TransactionID, PaymentID: c.PaymentID, Points: c.Points, Timestamp: now}}, nil

	case ExpireTransaction:
		target, ok := s.Transactions[c.TargetTransactionID]
		if !ok {
			return nil, transactionNotFound(c.TargetTransactionID)
		}
		available := s.Earned
		if target.Bucket == BucketPending {
			available = s.Pending
		}
		return []Event{TransactionExpired{
			LoyaltyBankID:       id,
			TransactionID:       c.TransactionID,
			TargetTransactionID: c.TargetTransactionID,
			Bucket:              target.Bucket,
			PointsExpired:       min(target.Points, available),
			Timestamp:           now,
		}}, nil

	default:
		return nil, errutil.BadRequest(fmt.Sprintf("unsupported loyalty bank command %T", cmd), nil)
	}
}

func timestampOr(ts, now time.Time) time.Time {
	if ts.IsZero() {
		return now
	}
	return ts.UTC()
}
