package es

import (
	"context"
	"errors"
	"fmt"
	"time"

	"smallbiznis-loyalty/pkg/errutil"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	TokenRunning = "RUNNING"
	TokenHalted  = "HALTED"

	defaultBatchSize    = 100
	defaultPollInterval = 500 * time.Millisecond
)

var ErrProcessorHalted = errors.New("processor is halted")

// Token stores how far a processing group has read the event stream.
type Token struct {
	Name      string    `gorm:"column:name;primaryKey;type:varchar(100)"`
	Position  int64     `gorm:"column:position;not null;default:0"`
	Status    string    `gorm:"column:status;type:varchar(20);not null;default:'RUNNING'"`
	LastError string    `gorm:"column:last_error;type:text"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Token) TableName() string {
	return "processor_tokens"
}

// Handler applies one event to a projection. All writes must go through tx,
// which commits together with the token advance.
type Handler interface {
	Handle(ctx context.Context, tx *gorm.DB, rec Record) error
}

type HandlerFunc func(ctx context.Context, tx *gorm.DB, rec Record) error

func (f HandlerFunc) Handle(ctx context.Context, tx *gorm.DB, rec Record) error {
	return f(ctx, tx, rec)
}

type afterCommitKey struct{}

type afterCommit struct {
	fns []func(context.Context)
}

// AfterCommit defers fn until the transaction handling the current event has
// committed. fn is dropped when that transaction rolls back. Outside a
// processor fn runs immediately.
func AfterCommit(ctx context.Context, fn func(context.Context)) {
	if ac, ok := ctx.Value(afterCommitKey{}).(*afterCommit); ok {
		ac.fns = append(ac.fns, fn)
		return
	}
	fn(ctx)
}

// IsPoison reports whether a handler error means the event itself is
// unusable. Poison events are skipped; anything else halts the group.
func IsPoison(err error) bool {
	return errutil.IsClientError(err)
}

type ProcessorOption func(*Processor)

func WithBatchSize(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

func WithPollInterval(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

func WithMeterProvider(mp metric.MeterProvider) ProcessorOption {
	return func(p *Processor) {
		if mp != nil {
			p.meter = mp
		}
	}
}

// Processor is a tracking event processor: it reads the store in position
// order and feeds every event to its handlers inside one transaction per event.
type Processor struct {
	name         string
	db           *gorm.DB
	store        Store
	handlers     []Handler
	batchSize    int
	pollInterval time.Duration
	meter        metric.MeterProvider
	events       metric.Int64Counter
}

func NewProcessor(name string, db *gorm.DB, store Store, handlers []Handler, opts ...ProcessorOption) *Processor {
	p := &Processor{
		name:         name,
		db:           db,
		store:        store,
		handlers:     handlers,
		batchSize:    defaultBatchSize,
		pollInterval: defaultPollInterval,
		meter:        otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(p)
	}

	counter, err := p.meter.Meter("smallbiznis-loyalty/es").Int64Counter(
		"es.processor.events",
		metric.WithDescription("Events seen by a tracking processor, by outcome."),
	)
	if err != nil {
		zap.L().Warn("failed to create processor counter", zap.String("processor", name), zap.Error(err))
	}
	p.events = counter

	return p
}

func (p *Processor) Name() string {
	return p.name
}

// Status returns the persisted token, creating it on first use.
func (p *Processor) Status(ctx context.Context) (*Token, error) {
	token := Token{Name: p.name, Status: TokenRunning}
	if err := p.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&token).Error; err != nil {
		return nil, err
	}

	var current Token
	if err := p.db.WithContext(ctx).Where("name = ?", p.name).First(&current).Error; err != nil {
		return nil, err
	}
	return &current, nil
}

// ProcessBatch handles up to one batch of events and returns how many were consumed.
func (p *Processor) ProcessBatch(ctx context.Context) (int, error) {
	token, err := p.Status(ctx)
	if err != nil {
		return 0, err
	}

	if token.Status == TokenHalted {
		return 0, ErrProcessorHalted
	}

	records, err := p.store.ReadFrom(ctx, token.Position, p.batchSize)
	if err != nil {
		return 0, err
	}

	for i, rec := range records {
		ac := &afterCommit{}
		hctx := context.WithValue(ctx, afterCommitKey{}, ac)
		if err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return p.handle(hctx, tx, rec)
		}); err != nil {
			p.halt(ctx, rec, err)
			return i, fmt.Errorf("processor %s halted at position %d: %w", p.name, rec.Position, err)
		}
		for _, fn := range ac.fns {
			fn(ctx)
		}
	}

	return len(records), nil
}

func (p *Processor) handle(ctx context.Context, tx *gorm.DB, rec Record) error {
	zapLog := zap.L().With(
		zap.String("processor", p.name),
		zap.Int64("position", rec.Position),
		zap.String("event_type", rec.EventType),
		zap.String("aggregate_id", rec.AggregateID),
		zap.String("request_id", rec.RequestID),
	)

	ac, _ := ctx.Value(afterCommitKey{}).(*afterCommit)
	for _, h := range p.handlers {
		var deferred int
		if ac != nil {
			deferred = len(ac.fns)
		}

		// each handler runs in a savepoint so a skipped event leaves no partial writes
		err := tx.Transaction(func(htx *gorm.DB) error {
			return h.Handle(ctx, htx, rec)
		})
		if err == nil {
			continue
		}

		if !IsPoison(err) {
			return err
		}
		if ac != nil {
			ac.fns = ac.fns[:deferred]
		}

		zapLog.Warn("skipping poison event", zap.Error(err))
		p.count(ctx, "skipped")
	}

	if err := tx.Model(&Token{}).
		Where("name = ?", p.name).
		Update("position", rec.Position).Error; err != nil {
		return err
	}

	p.count(ctx, "handled")
	return nil
}

func (p *Processor) halt(ctx context.Context, rec Record, cause error) {
	zap.L().Error("processing group halted, operator action required",
		zap.String("processor", p.name),
		zap.Int64("position", rec.Position),
		zap.String("event_type", rec.EventType),
		zap.String("event_id", rec.EventID),
		zap.Error(cause),
	)
	p.count(ctx, "halted")

	if err := p.db.WithContext(context.WithoutCancel(ctx)).
		Model(&Token{}).
		Where("name = ?", p.name).
		Updates(map[string]any{
			"status":     TokenHalted,
			"last_error": fmt.Sprintf("position %d (%s): %v", rec.Position, rec.EventType, cause),
		}).Error; err != nil {
		zap.L().Error("failed to persist halted status", zap.String("processor", p.name), zap.Error(err))
	}
}

// Resume clears a halt so the next batch retries the failed event.
func (p *Processor) Resume(ctx context.Context) error {
	if _, err := p.Status(ctx); err != nil {
		return err
	}

	return p.db.WithContext(ctx).
		Model(&Token{}).
		Where("name = ?", p.name).
		Updates(map[string]any{
			"status":     TokenRunning,
			"last_error": "",
		}).Error
}

// Run processes batches until ctx is done. A halted group keeps polling its
// token so a Resume issued elsewhere takes effect.
func (p *Processor) Run(ctx context.Context) {
	zap.L().Info("[Processor] started", zap.String("processor", p.name))

	for {
		n, err := p.ProcessBatch(ctx)
		switch {
		case errors.Is(err, ErrProcessorHalted):
		case err != nil && ctx.Err() == nil:
			zap.L().Error("[Processor] batch failed", zap.String("processor", p.name), zap.Error(err))
		case err == nil && n == p.batchSize:
			continue
		}

		select {
		case <-ctx.Done():
			zap.L().Info("[Processor] stopped", zap.String("processor", p.name))
			return
		case <-time.After(p.pollInterval):
		}
	}
}

func (p *Processor) count(ctx context.Context, outcome string) {
	if p.events == nil {
		return
	}
	p.events.Add(ctx, 1, metric.WithAttributes(
		attribute.String("processor", p.name),
		attribute.String("outcome", outcome),
	))
}
