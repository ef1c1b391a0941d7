package es

import (
	"context"
	"errors"
	"fmt"

	"smallbiznis-loyalty/pkg/errutil"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrConcurrencyConflict = errors.New("aggregate was modified concurrently")

// Store is the append-only event store.
type Store interface {
	// Load returns the events of one aggregate ordered by sequence.
	Load(ctx context.Context, aggregateType, aggregateID string) ([]Record, error)
	// Append writes records after expectedVersion. It fails with
	// ErrConcurrencyConflict when another writer appended first.
	Append(ctx context.Context, aggregateType, aggregateID string, expectedVersion int64, records []Record) error
	// ReadFrom returns up to limit events with a position greater than after.
	ReadFrom(ctx context.Context, after int64, limit int) ([]Record, error)
}

type gormStore struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Load(ctx context.Context, aggregateType, aggregateID string) ([]Record, error) {
	var records []Record
	if err := s.db.WithContext(ctx).
		Where("aggregate_type = ? AND aggregate_id = ?", aggregateType, aggregateID).
		Order("sequence ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (s *gormStore) Append(ctx context.Context, aggregateType, aggregateID string, expectedVersion int64, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current int64
		if err := tx.Model(&Record{}).
			Where("aggregate_type = ? AND aggregate_id = ?", aggregateType, aggregateID).
			Select("COALESCE(MAX(sequence), 0)").
			Scan(&current).Error; err != nil {
			return err
		}

		if current != expectedVersion {
			return ErrConcurrencyConflict
		}

		for i := range records {
			records[i].AggregateType = aggregateType
			records[i].AggregateID = aggregateID
			records[i].Sequence = expectedVersion + int64(i) + 1
		}

		return tx.Create(&records).Error
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrConcurrencyConflict), errors.Is(err, gorm.ErrDuplicatedKey):
		zap.L().Warn("concurrent append rejected",
			zap.String("aggregate_type", aggregateType),
			zap.String("aggregate_id", aggregateID),
			zap.Int64("expected_version", expectedVersion),
		)
		return errutil.Aborted(fmt.Sprintf("%s %s was modified concurrently", aggregateType, aggregateID), ErrConcurrencyConflict)
	default:
		return err
	}
}

func (s *gormStore) ReadFrom(ctx context.Context, after int64, limit int) ([]Record, error) {
	var records []Record
	if err := s.db.WithContext(ctx).
		Where("position > ?", after).
		Order("position ASC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
