package account

import (
	"context"
	"errors"
	"fmt"

	"smallbiznis-loyalty/pkg/errutil"
	"smallbiznis-loyalty/pkg/es"
	"smallbiznis-loyalty/pkg/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type LookupProjection struct {
	lookups repository.Repository[Lookup]
}

func NewLookupProjection(db *gorm.DB) *LookupProjection {
	return &LookupProjection{lookups: repository.ProvideStore[Lookup](db)}
}

func (p *LookupProjection) Handle(ctx context.Context, tx *gorm.DB, rec es.Record) error {
	if rec.AggregateType != AggregateType {
		return nil
	}

	ev, err := DecodeEvent(rec)
	if err != nil {
		return err
	}

	lookups := p.lookups.WithTrx(tx)

	switch e := ev.(type) {
	case AccountCreated:
		created, err := lookups.CreateIfAbsent(ctx, &Lookup{
			ID:           e.AccountID,
			Email:        e.Email,
			FirstName:    e.FirstName,
			LastName:     e.LastName,
			LastSequence: rec.Sequence,
			CreatedAt:    e.Timestamp,
			UpdatedAt:    e.Timestamp,
		})
		if err != nil || created {
			return err
		}

		existing, err := lookups.FindOne(ctx, &Lookup{ID: e.AccountID})
		if err != nil {
			return err
		}
		if existing == nil {
			zap.L().Warn("account email collided with another account, lookup not written",
				zap.String("account_id", e.AccountID),
				zap.String("request_id", rec.RequestID),
			)
		}
		return nil

	case AccountUpdated:
		err := lookups.Update(ctx, e.AccountID, map[string]any{
			"email":         e.Email,
			"first_name":    e.FirstName,
			"last_name":     e.LastName,
			"last_sequence": rec.Sequence,
			"updated_at":    e.Timestamp,
		})
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return errutil.Conflict(fmt.Sprintf("account %s: email %s already in lookup", e.AccountID, e.Email), err)
		}
		return err

	case AccountDeleted:
		return lookups.Delete(ctx, &Lookup{ID: e.AccountID})
	}

	return nil
}
