package expiration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"smallbiznis-loyalty/pkg/errutil"
	"smallbiznis-loyalty/pkg/es"
	"smallbiznis-loyalty/pkg/featureflags"
	"smallbiznis-loyalty/pkg/lock"
	"smallbiznis-loyalty/pkg/rediskey"
	"smallbiznis-loyalty/pkg/taskname"
	"smallbiznis-loyalty/services/ledger"
	"smallbiznis-loyalty/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var day1 = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func day(n int) time.Time {
	return day1.AddDate(0, 0, n-1)
}

type countingCodes struct {
	n atomic.Int64
}

func (c *countingCodes) NextExpirationRunCode(context.Context) (string, error) {
	return fmt.Sprintf("EXP-240201-%03d", c.n.Add(1)), nil
}

func (c *countingCodes) NextRequestCode(context.Context) (string, error) {
	return fmt.Sprintf("REQ-240201-%03d", c.n.Add(1)), nil
}

type recordingSender struct {
	mu   sync.Mutex
	sent []ledger.ExpireTransaction
	fail map[string]bool
}

func (s *recordingSender) Send(ctx context.Context, cmd ledger.ExpireTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[cmd.TargetTransactionID] {
		return errors.New("broker unavailable")
	}
	s.sent = append(s.sent, cmd)
	return nil
}

func (s *recordingSender) targets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sent))
	for _, cmd := range s.sent {
		out = append(out, cmd.TargetTransactionID)
	}
	sort.Strings(out)
	return out
}

func newNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

func seed(t *testing.T, db *gorm.DB, rows ...Transaction) {
	t.Helper()
	for _, row := range rows {
		require.NoError(t, db.Create(&row).Error)
	}
}

func TestJobSelectsOnlyTransactionsPastRetention(t *testing.T) {
	db := testutil.NewTestDB(t, &Transaction{}, &Run{})
	seed(t, db,
		Transaction{TransactionID: "T1", LoyaltyBankID: "lb-1", Points: 10, Bucket: ledger.BucketEarned, Timestamp: day(1)},
		Transaction{TransactionID: "T2", LoyaltyBankID: "lb-1", Points: 20, Bucket: ledger.BucketEarned, Timestamp: day(2)},
		Transaction{TransactionID: "T3", LoyaltyBankID: "lb-1", Points: 30, Bucket: ledger.BucketPending, Timestamp: day(32)},
	)

	sender := &recordingSender{}
	job := NewJob(db, sender, &countingCodes{}, newNode(t), WithRetentionWindow(30*24*time.Hour))

	run, err := job.Run(context.Background(), day(32))
	require.NoError(t, err)
	require.Equal(t, []string{"T1"}, sender.targets())
	require.Equal(t, 1, run.Found)
	require.Equal(t, 1, run.Dispatched)

	cmd := sender.sent[0]
	require.Equal(t, "EXP-240201-001", cmd.RequestID)
	require.Equal(t, "lb-1", cmd.LoyaltyBankID)
	require.Equal(t, int64(10), cmd.Points)
	require.NoError(t, es.Validate(cmd))

	var stored Run
	require.NoError(t, db.First(&stored, "request_id = ?", run.RequestID).Error)
	require.Equal(t, day(2), stored.Cutoff.UTC())
}

func TestJobCutoffIgnoresCallerZone(t *testing.T) {
	db := testutil.NewTestDB(t, &Transaction{}, &Run{})
	seed(t, db,
		Transaction{TransactionID: "T1", LoyaltyBankID: "lb-1", Points: 10, Bucket: ledger.BucketEarned, Timestamp: day(1)},
		Transaction{TransactionID: "T2", LoyaltyBankID: "lb-1", Points: 20, Bucket: ledger.BucketEarned, Timestamp: day(2)},
		Transaction{TransactionID: "T3", LoyaltyBankID: "lb-1", Points: 30, Bucket: ledger.BucketPending, Timestamp: day(32)},
	)

	sender := &recordingSender{}
	job := NewJob(db, sender, &countingCodes{}, newNode(t), WithRetentionWindow(30*24*time.Hour))

	jakarta := time.FixedZone("WIB", 7*60*60)
	tokyo := time.FixedZone("JST", 9*60*60)
	for _, zone := range []*time.Location{jakarta, tokyo} {
		sender.sent = nil
		run, err := job.Run(context.Background(), day(32).In(zone))
		require.NoError(t, err)
		require.Equal(t, []string{"T1"}, sender.targets(), zone.String())
		require.Equal(t, time.UTC, run.Cutoff.Location())
	}
}

func TestJobFailuresAreIndependent(t *testing.T) {
	db := testutil.NewTestDB(t, &Transaction{}, &Run{})
	for i := 1; i <= 5; i++ {
		seed(t, db, Transaction{TransactionID: fmt.Sprintf("T%d", i), LoyaltyBankID: fmt.Sprintf("lb-%d", i), Points: 5, Bucket: ledger.BucketEarned, Timestamp: day(1)})
	}

	sender := &recordingSender{fail: map[string]bool{"T2": true, "T4": true}}
	job := NewJob(db, sender, &countingCodes{}, newNode(t), WithConcurrency(2))

	run, err := job.Run(context.Background(), day(60))
	require.NoError(t, err)
	require.Equal(t, []string{"T1", "T3", "T5"}, sender.targets())
	require.Equal(t, 5, run.Found)
	require.Equal(t, 3, run.Dispatched)
	require.Equal(t, 2, run.Failed)

	var failures []failure
	require.NoError(t, json.Unmarshal(run.Failures, &failures))
	require.Len(t, failures, 2)
}

func TestJobWithNothingDueIsANoop(t *testing.T) {
	db := testutil.NewTestDB(t, &Transaction{}, &Run{})
	sender := &recordingSender{}
	job := NewJob(db, sender, &countingCodes{}, newNode(t))

	run, err := job.Run(context.Background(), day(1))
	require.NoError(t, err)
	require.Zero(t, run.Found)
	require.Empty(t, sender.targets())

	var count int64
	require.NoError(t, db.Model(&Run{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

type eventLog struct {
	t     *testing.T
	store es.Store
	seq   int64
}

func (l *eventLog) append(ev ledger.Event) {
	l.t.Helper()
	payload, err := json.Marshal(ev)
	require.NoError(l.t, err)
	require.NoError(l.t, l.store.Append(context.Background(), ledger.AggregateType, "lb-1", l.seq, []es.Record{{
		EventID:    fmt.Sprintf("ev-%d", l.seq),
		EventType:  ev.EventName(),
		RequestID:  "req",
		Payload:    payload,
		OccurredAt: time.Now(),
	}}))
	l.seq++
}

func TestTrackerFollowsTheLedger(t *testing.T) {
	db := testutil.NewTestDB(t, &es.Record{}, &es.Token{}, &Transaction{})
	store := es.NewStore(db)
	log := &eventLog{t: t, store: store}
	ctx := context.Background()

	log.append(ledger.PendingTransactionCreated{LoyaltyBankID: "lb-1", TransactionID: "p1", Points: 50, Timestamp: day(1)})
	log.append(ledger.EarnedTransactionCreated{LoyaltyBankID: "lb-1", TransactionID: "e1", PendingTransactionID: "p1", Points: 20, Timestamp: day(2)})
	log.append(ledger.PendingTransactionCreated{LoyaltyBankID: "lb-1", TransactionID: "p2", Points: 5, Timestamp: day(3)})
	log.append(ledger.TransactionExpired{LoyaltyBankID: "lb-1", TransactionID: "x1", TargetTransactionID: "p2", Bucket: ledger.BucketPending, PointsExpired: 5})

	processor := es.NewProcessor("expiration-test", db, store, []es.Handler{NewTracker(db)})
	_, err := processor.ProcessBatch(ctx)
	require.NoError(t, err)

	var rows []Transaction
	require.NoError(t, db.Order("transaction_id").Find(&rows).Error)
	require.Len(t, rows, 2)
	require.Equal(t, "e1", rows[0].TransactionID)
	require.Equal(t, ledger.BucketEarned, rows[0].Bucket)
	require.Equal(t, "p1", rows[1].TransactionID)
	require.Equal(t, int64(30), rows[1].Points)

	log.append(ledger.EarnedTransactionCreated{LoyaltyBankID: "lb-1", TransactionID: "e2", PendingTransactionID: "p1", Points: 30, Timestamp: day(4)})
	_, err = processor.ProcessBatch(ctx)
	require.NoError(t, err)

	var pending int64
	require.NoError(t, db.Model(&Transaction{}).Where("bucket = ?", ledger.BucketPending).Count(&pending).Error)
	require.Zero(t, pending)

	log.append(ledger.LoyaltyBankDeleted{LoyaltyBankID: "lb-1", Reason: "unenrolled"})
	_, err = processor.ProcessBatch(ctx)
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&Transaction{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestTrackerScopesTransactionsToTheirBank(t *testing.T) {
	db := testutil.NewTestDB(t, &es.Record{}, &es.Token{}, &Transaction{}, &Run{})
	store := es.NewStore(db)
	ctx := context.Background()

	versions := map[string]int64{}
	appendTo := func(bank string, ev ledger.Event) {
		payload, err := json.Marshal(ev)
		require.NoError(t, err)
		require.NoError(t, store.Append(ctx, ledger.AggregateType, bank, versions[bank], []es.Record{{
			EventID:    fmt.Sprintf("%s-%d", bank, versions[bank]),
			EventType:  ev.EventName(),
			RequestID:  "req",
			Payload:    payload,
			OccurredAt: time.Now(),
		}}))
		versions[bank]++
	}

	appendTo("lb-A", ledger.PendingTransactionCreated{LoyaltyBankID: "lb-A", TransactionID: "t1", Points: 10, Timestamp: day(1)})
	appendTo("lb-B", ledger.PendingTransactionCreated{LoyaltyBankID: "lb-B", TransactionID: "t1", Points: 10, Timestamp: day(1)})
	appendTo("lb-A", ledger.PendingTransactionCreated{LoyaltyBankID: "lb-A", TransactionID: "t2", Points: 4, Timestamp: day(1)})
	appendTo("lb-B", ledger.PendingTransactionCreated{LoyaltyBankID: "lb-B", TransactionID: "t2", Points: 4, Timestamp: day(1)})

	processor := es.NewProcessor("expiration-banks", db, store, []es.Handler{NewTracker(db)})
	_, err := processor.ProcessBatch(ctx)
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&Transaction{}).Count(&count).Error)
	require.Equal(t, int64(4), count)

	sender := &recordingSender{}
	job := NewJob(db, sender, &countingCodes{}, newNode(t))
	_, err = job.Run(ctx, day(60))
	require.NoError(t, err)

	banks := map[string]int{}
	for _, cmd := range sender.sent {
		banks[cmd.LoyaltyBankID]++
	}
	require.Equal(t, map[string]int{"lb-A": 2, "lb-B": 2}, banks)

	// expiring or earning on one bank leaves the other bank's rows alone
	appendTo("lb-A", ledger.TransactionExpired{LoyaltyBankID: "lb-A", TransactionID: "x1", TargetTransactionID: "t1", Bucket: ledger.BucketPending, PointsExpired: 10})
	appendTo("lb-A", ledger.EarnedTransactionCreated{LoyaltyBankID: "lb-A", TransactionID: "e1", PendingTransactionID: "t2", Points: 4, Timestamp: day(2)})
	_, err = processor.ProcessBatch(ctx)
	require.NoError(t, err)

	var rows []Transaction
	require.NoError(t, db.Order("loyalty_bank_id, transaction_id").Find(&rows).Error)
	require.Len(t, rows, 3)
	require.Equal(t, "lb-A", rows[0].LoyaltyBankID)
	require.Equal(t, "e1", rows[0].TransactionID)
	require.Equal(t, "lb-B", rows[1].LoyaltyBankID)
	require.Equal(t, "t1", rows[1].TransactionID)
	require.Equal(t, int64(10), rows[1].Points)
	require.Equal(t, "lb-B", rows[2].LoyaltyBankID)
	require.Equal(t, "t2", rows[2].TransactionID)
	require.Equal(t, int64(4), rows[2].Points)
}

type fakeEnqueuer struct {
	ids  map[string]bool
	opts [][]asynq.Option
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	for _, opt := range opts {
		if opt.Type() == asynq.TaskIDOpt {
			id := opt.Value().(string)
			if f.ids[id] {
				return nil, fmt.Errorf("failed to enqueue task %s: %w", task.Type(), asynq.ErrTaskIDConflict)
			}
			f.ids[id] = true
		}
	}
	f.opts = append(f.opts, opts)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func TestAsynqSenderDeduplicatesWithinARun(t *testing.T) {
	enq := &fakeEnqueuer{ids: map[string]bool{}}
	sender := NewAsynqSender(enq)
	cmd := ledger.ExpireTransaction{
		Envelope:            ledger.Envelope{RequestID: "EXP-1", LoyaltyBankID: "lb-1"},
		TransactionID:       "x1",
		TargetTransactionID: "T1",
	}

	require.NoError(t, sender.Send(context.Background(), cmd))
	require.NoError(t, sender.Send(context.Background(), cmd))
	require.Len(t, enq.opts, 1)

	// the same transaction id on another bank is a different task
	cmd.LoyaltyBankID = "lb-2"
	require.NoError(t, sender.Send(context.Background(), cmd))
	require.Len(t, enq.opts, 2)
}

type fakeLedger struct {
	err   error
	calls int
}

func (f *fakeLedger) ExpireTransaction(ctx context.Context, cmd ledger.ExpireTransaction) (int64, error) {
	f.calls++
	return cmd.Points, f.err
}

func TestTaskHandlerSkipsRetryOnRejection(t *testing.T) {
	payload, err := json.Marshal(ledger.ExpireTransaction{
		Envelope:            ledger.Envelope{RequestID: "EXP-1", LoyaltyBankID: "lb-1"},
		TransactionID:       "x1",
		TargetTransactionID: "T1",
		Points:              10,
	})
	require.NoError(t, err)
	task := asynq.NewTask(taskname.LoyaltyPointsExpire, payload)
	ctx := context.Background()

	ok := &fakeLedger{}
	require.NoError(t, NewTaskHandler(ok).HandleExpireTask(ctx, task))
	require.Equal(t, 1, ok.calls)

	rejected := &fakeLedger{err: errutil.NotFound("gone", ledger.ErrTransactionNotFound)}
	err = NewTaskHandler(rejected).HandleExpireTask(ctx, task)
	require.ErrorIs(t, err, asynq.SkipRetry)

	broken := &fakeLedger{err: errors.New("connection reset")}
	err = NewTaskHandler(broken).HandleExpireTask(ctx, task)
	require.Error(t, err)
	require.NotErrorIs(t, err, asynq.SkipRetry)

	err = NewTaskHandler(ok).HandleExpireTask(ctx, asynq.NewTask(taskname.LoyaltyPointsExpire, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestSchedulerRunsOncePerSlot(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	db := testutil.NewTestDB(t, &Transaction{}, &Run{})
	seed(t, db, Transaction{TransactionID: "T1", LoyaltyBankID: "lb-1", Points: 10, Bucket: ledger.BucketEarned, Timestamp: day(1)})
	sender := &recordingSender{}

	s := &Scheduler{
		job:      NewJob(db, sender, &countingCodes{}, newNode(t)),
		flags:    featureflags.Static{},
		locker:   lock.NewRedisLocker(rdb),
		interval: 24 * time.Hour,
		lockTTL:  time.Minute,
		now:      func() time.Time { return day(40) },
	}
	ctx := context.Background()

	require.True(t, s.RunOnce(ctx))
	require.True(t, mr.Exists(rediskey.ExpirationJobLock))

	// a second instance in the same slot skips
	require.False(t, s.RunOnce(ctx))
	require.Len(t, sender.targets(), 1)

	mr.FastForward(2 * time.Minute)
	require.True(t, s.RunOnce(ctx))

	s.flags = featureflags.Static{featureflags.PointsExpiration: false}
	mr.FastForward(2 * time.Minute)
	require.False(t, s.RunOnce(ctx))
}

func TestNextRunTime(t *testing.T) {
	at := func(h, m int) time.Time { return time.Date(2024, 3, 9, h, m, 0, 0, time.UTC) }

	require.Equal(t, at(1, 0), nextRunTime(at(0, 30), 1, 0, 24*time.Hour))
	require.Equal(t, at(1, 0).Add(24*time.Hour), nextRunTime(at(1, 0), 1, 0, 24*time.Hour))
	require.Equal(t, at(1, 0).Add(24*time.Hour), nextRunTime(at(13, 0), 1, 0, 24*time.Hour))
	require.Equal(t, at(3, 0), nextRunTime(at(2, 30), 1, 0, time.Hour))
	require.Equal(t, at(3, 0), nextRunTime(at(2, 30), 23, 0, time.Hour))
}
