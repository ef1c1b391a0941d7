package business

import (
	"context"

	"smallbiznis-loyalty/pkg/es"
	"smallbiznis-loyalty/pkg/repository"

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
	case BusinessEnrolled:
		_, err := lookups.CreateIfAbsent(ctx, &Lookup{
			ID:           e.BusinessID,
			Name:         e.Name,
			LastSequence: rec.Sequence,
			CreatedAt:    e.Timestamp,
			UpdatedAt:    e.Timestamp,
		})
		return err

	case BusinessUpdated:
		return lookups.Update(ctx, e.BusinessID, map[string]any{
			"name":          e.Name,
			"last_sequence": rec.Sequence,
			"updated_at":    e.Timestamp,
		})

	case BusinessDeleted:
		return lookups.Delete(ctx, &Lookup{ID: e.BusinessID})
	}

	return nil
}
