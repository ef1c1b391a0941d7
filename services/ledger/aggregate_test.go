package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"smallbiznis-loyalty/pkg/errutil"
	"smallbiznis-loyalty/pkg/es"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func env(id string) Envelope {
	return Envelope{RequestID: "req-" + id, LoyaltyBankID: id}
}

func step(t *testing.T, s State, cmd Command) (State, []Event) {
	t.Helper()
	events, err := Decide(s, cmd, now)
	require.NoError(t, err)
	for _, ev := range events {
		s = Apply(s, ev)
	}
	return s, events
}

func created(t *testing.T) State {
	t.Helper()
	s, _ := step(t, newState("lb-1"), CreateLoyaltyBank{Envelope: env("lb-1"), AccountID: "acc-1", BusinessID: "biz-1"})
	return s
}

func withEarned(t *testing.T, points int64) State {
	t.Helper()
	s := created(t)
	s, _ = step(t, s, AddPendingPoints{Envelope: env("lb-1"), TransactionID: "tx-p", Points: points})
	s, _ = step(t, s, EarnPoints{Envelope: env("lb-1"), TransactionID: "tx-e", PendingTransactionID: "tx-p", Points: points})
	return s
}

func TestCreateStartsWithEmptyBuckets(t *testing.T) {
	s := created(t)
	require.True(t, s.Created)
	require.Equal(t, Balances{}, s.Balances)
	require.Equal(t, "acc-1", s.AccountID)

	_, err := Decide(s, CreateLoyaltyBank{Envelope: env("lb-1"), AccountID: "acc-1", BusinessID: "biz-1"}, now)
	require.ErrorIs(t, err, ErrLoyaltyBankExists)
}

func TestCommandsAgainstMissingBank(t *testing.T) {
	_, err := Decide(newState("lb-x"), AddPendingPoints{Envelope: env("lb-x"), TransactionID: "t", Points: 1}, now)
	require.ErrorIs(t, err, ErrLoyaltyBankNotFound)
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))
}

func TestDeletedBankRejectsCommands(t *testing.T) {
	s := created(t)
	s, _ = step(t, s, DeleteLoyaltyBank{Envelope: env("lb-1")})
	require.True(t, s.Deleted)

	_, err := Decide(s, AddPendingPoints{Envelope: env("lb-1"), TransactionID: "t", Points: 1}, now)
	require.ErrorIs(t, err, ErrLoyaltyBankDeleted)
	require.Equal(t, errutil.StatusGone, errutil.StatusOf(err))

	_, err = Decide(s, CreateLoyaltyBank{Envelope: env("lb-1"), AccountID: "acc-1", BusinessID: "biz-1"}, now)
	require.ErrorIs(t, err, ErrLoyaltyBankDeleted)
}

func TestEarnMovesPendingToEarned(t *testing.T) {
	s := created(t)
	s, _ = step(t, s, AddPendingPoints{Envelope: env("lb-1"), TransactionID: "tx-1", Points: 80})
	require.Equal(t, int64(80), s.Pending)

	s, _ = step(t, s, EarnPoints{Envelope: env("lb-1"), TransactionID: "tx-2", PendingTransactionID: "tx-1", Points: 30})
	require.Equal(t, Balances{Pending: 50, Earned: 30}, s.Balances)
	require.Equal(t, int64(50), s.Transactions["tx-1"].Points)

	_, err := Decide(s, EarnPoints{Envelope: env("lb-1"), TransactionID: "tx-3", Points: 51}, now)
	require.ErrorIs(t, err, ErrIllegalLedgerState)
	require.Equal(t, errutil.StatusUnprocessableEntity, errutil.StatusOf(err))

	s, _ = step(t, s, EarnPoints{Envelope: env("lb-1"), TransactionID: "tx-4", PendingTransactionID: "tx-1", Points: 50})
	_, stillPending := s.Transactions["tx-1"]
	require.False(t, stillPending)
}

func TestDuplicateTransactionIDIsRejected(t *testing.T) {
	s := created(t)
	s, _ = step(t, s, AddPendingPoints{Envelope: env("lb-1"), TransactionID: "tx-1", Points: 5})

	_, err := Decide(s, AddPendingPoints{Envelope: env("lb-1"), TransactionID: "tx-1", Points: 5}, now)
	require.ErrorIs(t, err, ErrTransactionExists)
}

func TestAuthorizeBoundary(t *testing.T) {
	s := withEarned(t, 100)

	_, err := Decide(s, AuthorizePoints{Envelope: env("lb-1"), TransactionID: "a1", PaymentID: "P", Points: 101}, now)
	require.ErrorIs(t, err, ErrInsufficientPoints)

	s, _ = step(t, s, AuthorizePoints{Envelope: env("lb-1"), TransactionID: "a2", PaymentID: "P", Points: 100})
	require.Zero(t, s.Earned)
	require.Equal(t, int64(100), s.Authorized)
}

func TestRedemptionCaptureAndVoid(t *testing.T) {
	s := withEarned(t, 100)
	s, _ = step(t, s, AuthorizePoints{Envelope: env("lb-1"), TransactionID: "a", PaymentID: "P", Points: 100})
	s, _ = step(t, s, CapturePoints{Envelope: env("lb-1"), TransactionID: "c1", PaymentID: "P", Points: 60})

	_, err := Decide(s, CapturePoints{Envelope: env("lb-1"), TransactionID: "c2", PaymentID: "P", Points: 50}, now)
	require.ErrorIs(t, err, ErrExcessiveCapturePoints)

	s, _ = step(t, s, VoidPoints{Envelope: env("lb-1"), TransactionID: "v1", PaymentID: "P", Points: 40})
	require.Equal(t, Balances{Earned: 40, Authorized: 0, Captured: 60}, s.Balances)
	require.Equal(t, Payment{Authorized: 100, Captured: 60, Voided: 40}, s.Payments["P"])
	require.Zero(t, s.Payments["P"].Remaining())

	_, err = Decide(s, VoidPoints{Envelope: env("lb-1"), TransactionID: "v2", PaymentID: "P", Points: 1}, now)
	require.ErrorIs(t, err, ErrExcessiveVoidPoints)

	_, err = Decide(s, CapturePoints{Envelope: env("lb-1"), TransactionID: "c3", PaymentID: "unknown", Points: 1}, now)
	require.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestExpireTransaction(t *testing.T) {
	s := created(t)
	s, _ = step(t, s, AddPendingPoints{Envelope: env("lb-1"), TransactionID: "tx-1", Points: 25})

	s, events := step(t, s, ExpireTransaction{Envelope: env("lb-1"), TransactionID: "x1", TargetTransactionID: "tx-1", Points: 25})
	require.Len(t, events, 1)
	require.Equal(t, int64(25), events[0].(TransactionExpired).PointsExpired)
	require.Equal(t, BucketPending, events[0].(TransactionExpired).Bucket)
	require.Zero(t, s.Pending)

	_, err := Decide(s, ExpireTransaction{Envelope: env("lb-1"), TransactionID: "x2", TargetTransactionID: "tx-1", Points: 25}, now)
	require.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestExpireIsClampedToBucket(t *testing.T) {
	s := withEarned(t, 100)
	s, _ = step(t, s, AuthorizePoints{Envelope: env("lb-1"), TransactionID: "a", PaymentID: "P", Points: 70})

	s, events := step(t, s, ExpireTransaction{Envelope: env("lb-1"), TransactionID: "x", TargetTransactionID: "tx-e", Points: 100})
	require.Equal(t, int64(30), events[0].(TransactionExpired).PointsExpired)
	require.Zero(t, s.Earned)
	require.Equal(t, int64(70), s.Authorized)
}

func TestRollbackIsIdempotent(t *testing.T) {
	events, err := Decide(newState("lb-1"), RollbackLoyaltyBankCreation{Envelope: env("lb-1")}, now)
	require.NoError(t, err)
	require.Empty(t, events)

	s := created(t)
	s, events = step(t, s, RollbackLoyaltyBankCreation{Envelope: env("lb-1")})
	require.Len(t, events, 1)
	require.Equal(t, "rollback", events[0].(LoyaltyBankDeleted).Reason)

	events, err = Decide(s, RollbackLoyaltyBankCreation{Envelope: env("lb-1")}, now)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestRollbackOnlyUndoesOwnCreation(t *testing.T) {
	s := created(t)
	require.Equal(t, "req-lb-1", s.CreatedBy)

	events, err := Decide(s, RollbackLoyaltyBankCreation{Envelope: Envelope{RequestID: "req-other", LoyaltyBankID: "lb-1"}}, now)
	require.NoError(t, err)
	require.Empty(t, events)

	// streams written before the creator was stored in the payload fall back to the record
	records := []es.Record{{
		AggregateType: AggregateType,
		AggregateID:   "lb-2",
		Sequence:      1,
		EventType:     EventLoyaltyBankCreated,
		RequestID:     "req-old",
		Payload:       []byte(`{"loyalty_bank_id":"lb-2","account_id":"acc-2","business_id":"biz-1"}`),
	}}
	s, err = Replay("lb-2", records)
	require.NoError(t, err)
	require.Equal(t, "req-old", s.CreatedBy)

	events, err = Decide(s, RollbackLoyaltyBankCreation{Envelope: Envelope{RequestID: "req-old", LoyaltyBankID: "lb-2"}}, now)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestTransactionIDsAreNeverReused(t *testing.T) {
	s := created(t)
	s, _ = step(t, s, AddPendingPoints{Envelope: env("lb-1"), TransactionID: "t1", Points: 10})
	s, _ = step(t, s, ExpireTransaction{Envelope: env("lb-1"), TransactionID: "x1", TargetTransactionID: "t1"})
	require.NotContains(t, s.Transactions, "t1")

	_, err := Decide(s, AddPendingPoints{Envelope: env("lb-1"), TransactionID: "t1", Points: 10}, now)
	require.ErrorIs(t, err, ErrTransactionExists)

	s, _ = step(t, s, AddPendingPoints{Envelope: env("lb-1"), TransactionID: "t2", Points: 5})
	s, _ = step(t, s, EarnPoints{Envelope: env("lb-1"), TransactionID: "e1", PendingTransactionID: "t2", Points: 5})
	require.NotContains(t, s.Transactions, "t2")

	_, err = Decide(s, EarnPoints{Envelope: env("lb-1"), TransactionID: "t2", Points: 1}, now)
	require.ErrorIs(t, err, ErrTransactionExists)
	_, err = Decide(s, AddPendingPoints{Envelope: env("lb-1"), TransactionID: "e1", Points: 1}, now)
	require.ErrorIs(t, err, ErrTransactionExists)
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	s := withEarned(t, 10)
	before := len(s.Transactions)

	next := Apply(s, PendingTransactionCreated{LoyaltyBankID: "lb-1", TransactionID: "new", Points: 3})
	require.Len(t, s.Transactions, before)
	require.Len(t, next.Transactions, before+1)
	require.Equal(t, int64(3), next.Pending-s.Pending)
}

func TestBucketsNeverGoNegative(t *testing.T) {
	s := withEarned(t, 50)
	cmds := []Command{
		AuthorizePoints{Envelope: env("lb-1"), TransactionID: "a1", PaymentID: "P1", Points: 20},
		AuthorizePoints{Envelope: env("lb-1"), TransactionID: "a2", PaymentID: "P2", Points: 40},
		CapturePoints{Envelope: env("lb-1"), TransactionID: "c1", PaymentID: "P1", Points: 25},
		VoidPoints{Envelope: env("lb-1"), TransactionID: "v1", PaymentID: "P1", Points: 20},
		ExpireTransaction{Envelope: env("lb-1"), TransactionID: "x1", TargetTransactionID: "tx-e", Points: 50},
		EarnPoints{Envelope: env("lb-1"), TransactionID: "e9", Points: 1},
	}

	for _, cmd := range cmds {
		events, err := Decide(s, cmd, now)
		if err != nil {
			continue
		}
		for _, ev := range events {
			s = Apply(s, ev)
		}
		require.GreaterOrEqual(t, s.Pending, int64(0))
		require.GreaterOrEqual(t, s.Earned, int64(0))
		require.GreaterOrEqual(t, s.Authorized, int64(0))
		require.GreaterOrEqual(t, s.Captured, int64(0))
	}
}
