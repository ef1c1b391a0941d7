package expiration

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"smallbiznis-loyalty/pkg/errutil"
	"smallbiznis-loyalty/pkg/sequence"
	"smallbiznis-loyalty/services/ledger"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	DefaultRetentionWindow = 30 * 24 * time.Hour
	defaultConcurrency     = 8
)

// Job issues one expire command for every tracked transaction older than
// the retention window.
type Job struct {
	db          *gorm.DB
	sender      CommandSender
	codes       sequence.Generator
	node        *snowflake.Node
	retention   time.Duration
	concurrency int
}

type JobOption func(*Job)

func WithRetentionWindow(d time.Duration) JobOption {
	return func(j *Job) {
		if d > 0 {
			j.retention = d
		}
	}
}

func WithConcurrency(n int) JobOption {
	return func(j *Job) {
		if n > 0 {
			j.concurrency = n
		}
	}
}

func NewJob(db *gorm.DB, sender CommandSender, codes sequence.Generator, node *snowflake.Node, opts ...JobOption) *Job {
	j := &Job{
		db:          db,
		sender:      sender,
		codes:       codes,
		node:        node,
		retention:   DefaultRetentionWindow,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

type failure struct {
	TransactionID string `json:"transaction_id"`
	LoyaltyBankID string `json:"loyalty_bank_id"`
	Error         string `json:"error"`
}

// Run expires every transaction with a timestamp strictly before
// now minus the retention window. A failed dispatch does not affect the
// others and is not rolled back.
func (j *Job) Run(ctx context.Context, now time.Time) (*Run, error) {
	// stored timestamps are UTC and sqlite compares them as text
	cutoff := now.UTC().Add(-j.retention)

	requestID, err := j.codes.NextExpirationRunCode(ctx)
	if err != nil {
		return nil, errutil.Internal("failed to allocate expiration run id", err)
	}

	zapLog := zap.L().With(
		zap.String("request_id", requestID),
		zap.Time("cutoff", cutoff),
	)

	run := &Run{
		ID:        j.node.Generate().String(),
		RequestID: requestID,
		Cutoff:    cutoff,
		StartedAt: time.Now().UTC(),
	}

	var due []Transaction
	if err := j.db.WithContext(ctx).
		Where("timestamp < ?", cutoff).
		Order("loyalty_bank_id ASC, timestamp ASC").
		Find(&due).Error; err != nil {
		return nil, err
	}
	run.Found = len(due)

	if len(due) == 0 {
		zapLog.Info("[Expiration] nothing to expire")
		return run, j.record(ctx, run, nil)
	}

	var (
		mu       sync.Mutex
		failures []failure
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.concurrency)
	for _, t := range due {
		cmd := ledger.ExpireTransaction{
			Envelope:            ledger.Envelope{RequestID: requestID, LoyaltyBankID: t.LoyaltyBankID},
			TransactionID:       j.node.Generate().String(),
			TargetTransactionID: t.TransactionID,
			Points:              t.Points,
		}

		g.Go(func() error {
			if err := j.sender.Send(gctx, cmd); err != nil {
				zapLog.Warn("[Expiration] failed to dispatch expire command",
					zap.String("loyalty_bank_id", t.LoyaltyBankID),
					zap.String("target_transaction_id", t.TransactionID),
					zap.Error(err),
				)
				mu.Lock()
				failures = append(failures, failure{TransactionID: t.TransactionID, LoyaltyBankID: t.LoyaltyBankID, Error: err.Error()})
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	run.Failed = len(failures)
	run.Dispatched = run.Found - run.Failed

	zapLog.Info("[Expiration] run finished",
		zap.Int("found", run.Found),
		zap.Int("dispatched", run.Dispatched),
		zap.Int("failed", run.Failed),
	)
	return run, j.record(ctx, run, failures)
}

func (j *Job) record(ctx context.Context, run *Run, failures []failure) error {
	run.FinishedAt = time.Now().UTC()
	if len(failures) > 0 {
		raw, err := json.Marshal(failures)
		if err != nil {
			return err
		}
		run.Failures = raw
	}
	return j.db.WithContext(context.WithoutCancel(ctx)).Create(run).Error
}
