package es

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const maxAppendAttempts = 3

// Aggregate describes how one aggregate type is rebuilt from its stream.
// Replay must be a pure fold over records.
type Aggregate[S any, E Event] struct {
	Type   string
	Replay func(aggregateID string, records []Record) (S, error)
}

// Runner executes commands against aggregates: it serialises commands per
// aggregate, rebuilds state, asks the decide func for events and appends them.
type Runner struct {
	store Store
	locks *KeyedMutex
	node  *snowflake.Node
	now   func() time.Time
}

type RunnerParams struct {
	fx.In

	Store Store
	Node  *snowflake.Node
}

func NewRunner(p RunnerParams) *Runner {
	return &Runner{
		store: p.Store,
		locks: NewKeyedMutex(),
		node:  p.Node,
		now:   time.Now,
	}
}

// WithClock returns a runner sharing store and locks that reads time from now.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	cp := *r
	cp.now = now
	return &cp
}

func (r *Runner) Now() time.Time {
	return r.now().UTC()
}

func (r *Runner) NewID() string {
	return r.node.Generate().String()
}

// Load rebuilds the current state of an aggregate and returns it with its version.
func Load[S any, E Event](ctx context.Context, r *Runner, agg Aggregate[S, E], aggregateID string) (S, int64, error) {
	var zero S

	records, err := r.store.Load(ctx, agg.Type, aggregateID)
	if err != nil {
		return zero, 0, err
	}

	state, err := agg.Replay(aggregateID, records)
	if err != nil {
		return zero, 0, err
	}

	var version int64
	if len(records) > 0 {
		version = records[len(records)-1].Sequence
	}

	return state, version, nil
}

// Execute runs decide against the latest state of aggregateID and appends the
// returned events. A decide func that returns no events leaves the stream
// untouched. Lost optimistic races are retried with freshly loaded state.
func Execute[S any, E Event](ctx context.Context, r *Runner, agg Aggregate[S, E], aggregateID, requestID string, decide func(S) ([]E, error)) ([]E, error) {
	unlock := r.locks.Lock(agg.Type + ":" + aggregateID)
	defer unlock()

	var lastErr error
	for attempt := 1; attempt <= maxAppendAttempts; attempt++ {
		state, version, err := Load(ctx, r, agg, aggregateID)
		if err != nil {
			return nil, err
		}

		events, err := decide(state)
		if err != nil {
			return nil, err
		}

		if len(events) == 0 {
			return nil, nil
		}

		records, err := encode(r, requestID, events)
		if err != nil {
			return nil, err
		}

		lastErr = r.store.Append(ctx, agg.Type, aggregateID, version, records)
		if lastErr == nil {
			return events, nil
		}

		if !errors.Is(lastErr, ErrConcurrencyConflict) {
			return nil, lastErr
		}

		zap.L().Warn("retrying command after concurrent append",
			zap.String("aggregate_type", agg.Type),
			zap.String("aggregate_id", aggregateID),
			zap.String("request_id", requestID),
			zap.Int("attempt", attempt),
		)
	}

	return nil, lastErr
}

func encode[E Event](r *Runner, requestID string, events []E) ([]Record, error) {
	now := r.Now()
	records := make([]Record, 0, len(events))
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return nil, err
		}

		records = append(records, Record{
			EventID:    r.NewID(),
			EventType:  ev.EventName(),
			RequestID:  requestID,
			Payload:    payload,
			OccurredAt: now,
		})
	}
	return records, nil
}
