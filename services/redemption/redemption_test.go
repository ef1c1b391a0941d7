package redemption

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"smallbiznis-loyalty/pkg/errutil"
	"smallbiznis-loyalty/pkg/es"
	"smallbiznis-loyalty/services/ledger"
	"smallbiznis-loyalty/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestRedemptionScenario(t *testing.T) {
	tracker := NewTracker("P", "lb-1")

	require.NoError(t, tracker.AddAuthorizedPoints(100))
	require.NoError(t, tracker.AddCapturedPoints(60))

	err := tracker.AddCapturedPoints(50)
	require.ErrorIs(t, err, ErrExcessiveCapturePoints)
	require.True(t, errutil.IsClientError(err))
	require.Equal(t, int64(60), tracker.CapturedPoints)

	require.NoError(t, tracker.VoidAuthorizedPoints(40))
	require.Equal(t, int64(100), tracker.AuthorizedPoints)
	require.Equal(t, int64(60), tracker.CapturedPoints)
	require.Zero(t, tracker.PointsAvailableForRedemption())

	require.ErrorIs(t, tracker.VoidAuthorizedPoints(1), ErrExcessiveVoidPoints)
	require.ErrorIs(t, tracker.AddAuthorizedPoints(0), ErrInvalidPoints)
}

func TestCapturedNeverExceedsAuthorized(t *testing.T) {
	tracker := NewTracker("P", "lb-1")
	ops := []struct {
		kind   string
		points int64
	}{
		{"auth", 10}, {"capture", 4}, {"capture", 7}, {"void", 6}, {"void", 1},
		{"auth", 5}, {"capture", 5}, {"capture", 1}, {"void", 1},
	}

	for _, op := range ops {
		switch op.kind {
		case "auth":
			_ = tracker.AddAuthorizedPoints(op.points)
		case "capture":
			_ = tracker.AddCapturedPoints(op.points)
		case "void":
			_ = tracker.VoidAuthorizedPoints(op.points)
		}
		require.GreaterOrEqual(t, tracker.CapturedPoints, int64(0))
		require.LessOrEqual(t, tracker.CapturedPoints, tracker.AuthorizedPoints)
		require.LessOrEqual(t, tracker.CapturedPoints+tracker.VoidedPoints, tracker.AuthorizedPoints)
	}
}

type eventLog struct {
	t     *testing.T
	store es.Store
	seq   int64
}

func (l *eventLog) append(bank string, ev ledger.Event) {
	l.t.Helper()
	payload, err := json.Marshal(ev)
	require.NoError(l.t, err)
	require.NoError(l.t, l.store.Append(context.Background(), ledger.AggregateType, bank, l.seq, []es.Record{{
		EventID:    fmt.Sprintf("%s-%d", bank, l.seq),
		EventType:  ev.EventName(),
		RequestID:  "req",
		Payload:    payload,
		OccurredAt: time.Now(),
	}}))
	l.seq++
}

func TestProjection(t *testing.T) {
	db := testutil.NewTestDB(t, &es.Record{}, &es.Token{}, &Tracker{})
	store := es.NewStore(db)
	log := &eventLog{t: t, store: store}
	ctx := context.Background()

	log.append("lb-1", ledger.PointsAuthorized{LoyaltyBankID: "lb-1", PaymentID: "P", Points: 100})
	log.append("lb-1", ledger.PointsCaptured{LoyaltyBankID: "lb-1", PaymentID: "P", Points: 60})
	log.append("lb-1", ledger.PointsCaptured{LoyaltyBankID: "lb-1", PaymentID: "P", Points: 50})
	log.append("lb-1", ledger.PointsVoided{LoyaltyBankID: "lb-1", PaymentID: "P", Points: 40})
	log.append("lb-1", ledger.PointsVoided{LoyaltyBankID: "lb-1", PaymentID: "unknown", Points: 1})

	processor := es.NewProcessor("redemption-test", db, store, []es.Handler{NewProjection(db)})
	n, err := processor.ProcessBatch(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	var tracker Tracker
	require.NoError(t, db.First(&tracker, "payment_id = ?", "P").Error)
	require.Equal(t, int64(100), tracker.AuthorizedPoints)
	require.Equal(t, int64(60), tracker.CapturedPoints)
	require.Equal(t, int64(40), tracker.VoidedPoints)
	require.Zero(t, tracker.PointsAvailableForRedemption())
	require.Equal(t, int64(4), tracker.LastSequence)

	// rejected events are skipped, the group keeps running
	token, err := processor.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, es.TokenRunning, token.Status)

	// re-delivering an applied event is a no-op
	records, err := store.Load(ctx, ledger.AggregateType, "lb-1")
	require.NoError(t, err)
	require.NoError(t, NewProjection(db).Handle(ctx, db, records[1]))
	require.NoError(t, db.First(&tracker, "payment_id = ?", "P").Error)
	require.Equal(t, int64(60), tracker.CapturedPoints)
}
