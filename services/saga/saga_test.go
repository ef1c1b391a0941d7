package saga

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"smallbiznis-loyalty/pkg/config"
	"smallbiznis-loyalty/pkg/errutil"
	"smallbiznis-loyalty/pkg/es"
	"smallbiznis-loyalty/services/account"
	"smallbiznis-loyalty/services/business"
	"smallbiznis-loyalty/services/ledger"
	"smallbiznis-loyalty/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeDeadlines struct {
	mu          sync.Mutex
	scheduled   map[string]time.Duration
	cancelled   []string
	scheduleErr error
}

func newFakeDeadlines() *fakeDeadlines {
	return &fakeDeadlines{scheduled: map[string]time.Duration{}}
}

func (f *fakeDeadlines) Schedule(ctx context.Context, requestID string, after time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scheduleErr != nil {
		return "", f.scheduleErr
	}
	f.scheduled[requestID] = after
	return "deadline-" + requestID, nil
}

func (f *fakeDeadlines) Cancel(ctx context.Context, deadlineID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, deadlineID)
	return nil
}

// countingAccounts counts rollbacks on top of the real account service.
type countingAccounts struct {
	*account.Service
	rollbacks int
	failNext  bool
}

func (c *countingAccounts) RollbackAccountCreation(ctx context.Context, cmd account.RollbackAccountCreation) (bool, error) {
	c.rollbacks++
	if c.failNext {
		c.failNext = false
		return false, errors.New("event store unavailable")
	}
	return c.Service.RollbackAccountCreation(ctx, cmd)
}

type countingBanks struct {
	*ledger.Service
	rollbacks int
}

func (c *countingBanks) RollbackLoyaltyBankCreation(ctx context.Context, cmd ledger.RollbackLoyaltyBankCreation) (bool, error) {
	c.rollbacks++
	return c.Service.RollbackLoyaltyBankCreation(ctx, cmd)
}

type fixture struct {
	db          *gorm.DB
	store       es.Store
	accounts    *countingAccounts
	banks       *countingBanks
	deadlines   *fakeDeadlines
	coordinator *Coordinator
	processor   *es.Processor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t,
		&es.Record{}, &es.Token{}, &Saga{},
		&account.Lookup{}, &business.Lookup{}, &ledger.LoyaltyBank{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	require.NoError(t, db.Create(&business.Lookup{ID: "biz-1", Name: "Coffee"}).Error)

	store := es.NewStore(db)
	runner := es.NewRunner(es.RunnerParams{Store: store, Node: node})

	f := &fixture{
		db:        db,
		store:     store,
		accounts:  &countingAccounts{Service: account.NewService(account.ServiceParams{DB: db, Runner: runner})},
		banks:     &countingBanks{Service: ledger.NewService(ledger.ServiceParams{DB: db, Runner: runner})},
		deadlines: newFakeDeadlines(),
	}

	cfg := &config.Config{}
	cfg.Saga.Timeout = time.Minute
	f.coordinator = NewCoordinator(CoordinatorParams{
		DB:        db,
		Accounts:  f.accounts,
		Banks:     f.banks,
		Deadlines: f.deadlines,
		Config:    cfg,
	})
	f.processor = es.NewProcessor("saga-test", db, store, []es.Handler{
		account.NewLookupProjection(db),
		ledger.NewViewProjection(db),
		NewConfirmationHandler(f.coordinator),
	})
	return f
}

func (f *fixture) project(t *testing.T) {
	t.Helper()
	_, err := f.processor.ProcessBatch(context.Background())
	require.NoError(t, err)
}

func (f *fixture) saga(t *testing.T, requestID string) Saga {
	t.Helper()
	var s Saga
	require.NoError(t, f.db.First(&s, "request_id = ?", requestID).Error)
	return s
}

func start(requestID string) StartCreation {
	return StartCreation{
		RequestID:     requestID,
		AccountID:     "acc-" + requestID,
		LoyaltyBankID: "lb-" + requestID,
		BusinessID:    "biz-1",
		FirstName:     "Ana",
		Email:         requestID + "@example.com",
	}
}

func TestHappyPathEndsWithoutRollback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.coordinator.Start(ctx, start("r1")))
	require.Equal(t, time.Minute, f.deadlines.scheduled["r1"])

	s := f.saga(t, "r1")
	require.Equal(t, StatusStarted, s.Status)
	require.Equal(t, "deadline-r1", s.DeadlineID)

	f.project(t)

	s = f.saga(t, "r1")
	require.Equal(t, StatusEnded, s.Status)
	require.True(t, s.AccountConfirmed)
	require.True(t, s.LoyaltyBankConfirmed)
	require.Equal(t, []string{"deadline-r1"}, f.deadlines.cancelled)

	// the deadline firing anyway changes nothing
	require.NoError(t, f.coordinator.HandleDeadline(ctx, "r1"))
	require.Zero(t, f.accounts.rollbacks)
	require.Zero(t, f.banks.rollbacks)
	require.Equal(t, StatusEnded, f.saga(t, "r1").Status)

	ended, err := f.coordinator.End(ctx, "r1")
	require.NoError(t, err)
	require.False(t, ended)
	require.Len(t, f.deadlines.cancelled, 1)
}

func TestTimeoutRollsBackExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.coordinator.Start(ctx, start("r1")))

	require.NoError(t, f.coordinator.HandleDeadline(ctx, "r1"))
	require.NoError(t, f.coordinator.HandleDeadline(ctx, "r1"))
	require.Equal(t, 1, f.accounts.rollbacks)
	require.Equal(t, 1, f.banks.rollbacks)
	require.Equal(t, StatusRolledBack, f.saga(t, "r1").Status)

	ended, err := f.coordinator.End(ctx, "r1")
	require.NoError(t, err)
	require.False(t, ended)
	require.Empty(t, f.deadlines.cancelled)

	// confirmations arriving after the rollback leave the saga alone
	f.project(t)
	require.Equal(t, StatusRolledBack, f.saga(t, "r1").Status)

	accountState, err := f.accounts.Load(ctx, "acc-r1")
	require.NoError(t, err)
	require.True(t, accountState.Deleted)

	records, err := f.store.Load(ctx, ledger.AggregateType, "lb-r1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, ledger.EventLoyaltyBankDeleted, records[1].EventType)
}

func TestFailedRollbackIsRetried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.accounts.failNext = true

	require.NoError(t, f.coordinator.Start(ctx, start("r1")))

	err := f.coordinator.HandleDeadline(ctx, "r1")
	require.Equal(t, errutil.StatusInternal, errutil.StatusOf(err))
	require.NotEmpty(t, f.saga(t, "r1").CompensationError)

	require.NoError(t, f.coordinator.HandleDeadline(ctx, "r1"))
	s := f.saga(t, "r1")
	require.Equal(t, StatusRolledBack, s.Status)
	require.Empty(t, s.CompensationError)
	require.Equal(t, 2, f.accounts.rollbacks)

	require.NoError(t, f.coordinator.HandleDeadline(ctx, "r1"))
	require.Equal(t, 2, f.accounts.rollbacks)

	accountState, err := f.accounts.Load(ctx, "acc-r1")
	require.NoError(t, err)
	require.True(t, accountState.Deleted)
}

func TestDuplicateStartIsANoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.coordinator.Start(ctx, start("r1")))
	require.NoError(t, f.coordinator.Start(ctx, start("r1")))

	records, err := f.store.Load(ctx, account.AggregateType, "acc-r1")
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestRejectedCreationLeavesSagaArmed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cmd := start("r1")
	cmd.BusinessID = "missing"
	err := f.coordinator.Start(ctx, cmd)
	require.ErrorIs(t, err, business.ErrBusinessNotFound)
	require.Equal(t, StatusStarted, f.saga(t, "r1").Status)

	f.project(t)
	require.Equal(t, StatusStarted, f.saga(t, "r1").Status)

	require.NoError(t, f.coordinator.HandleDeadline(ctx, "r1"))
	require.Equal(t, 1, f.accounts.rollbacks)

	// the bank was never created, so its rollback emits nothing
	records, err := f.store.Load(ctx, ledger.AggregateType, "lb-r1")
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestScheduleFailureClosesTheSaga(t *testing.T) {
	f := newFixture(t)
	f.deadlines.scheduleErr = errors.New("redis down")

	err := f.coordinator.Start(context.Background(), start("r1"))
	require.Equal(t, errutil.StatusInternal, errutil.StatusOf(err))
	require.Equal(t, StatusRolledBack, f.saga(t, "r1").Status)

	records, err := f.store.Load(context.Background(), account.AggregateType, "acc-r1")
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestStartValidates(t *testing.T) {
	f := newFixture(t)
	cmd := start("r1")
	cmd.Email = "nope"

	err := f.coordinator.Start(context.Background(), cmd)
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))

	_, err = f.coordinator.Find(context.Background(), "r1")
	require.ErrorIs(t, err, ErrSagaNotFound)
}

func TestDeadlineLeavesAggregatesOfOtherSagas(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.coordinator.Start(ctx, start("r1")))
	f.project(t)
	require.Equal(t, StatusEnded, f.saga(t, "r1").Status)

	cmd := start("r2")
	cmd.AccountID, cmd.LoyaltyBankID = "acc-r1", "lb-r1"
	err := f.coordinator.Start(ctx, cmd)
	require.ErrorIs(t, err, account.ErrAccountExists)

	require.NoError(t, f.coordinator.HandleDeadline(ctx, "r2"))
	require.Equal(t, StatusRolledBack, f.saga(t, "r2").Status)

	accountState, err := f.accounts.Load(ctx, "acc-r1")
	require.NoError(t, err)
	require.False(t, accountState.Deleted)

	records, err := f.store.Load(ctx, ledger.AggregateType, "lb-r1")
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestDeadlineStaysArmedWhenConfirmationRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.coordinator.Start(ctx, start("r1")))

	failing := es.HandlerFunc(func(ctx context.Context, tx *gorm.DB, rec es.Record) error {
		if rec.EventType == ledger.EventLoyaltyBankCreated {
			return errors.New("read model unavailable")
		}
		return nil
	})
	p := es.NewProcessor("saga-failing", f.db, f.store, []es.Handler{NewConfirmationHandler(f.coordinator), failing})
	_, err := p.ProcessBatch(ctx)
	require.Error(t, err)

	require.Equal(t, StatusStarted, f.saga(t, "r1").Status)
	require.Empty(t, f.deadlines.cancelled)
}
