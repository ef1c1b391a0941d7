package activity

import (
	"context"

	"smallbiznis-loyalty/pkg/db/option"
	"smallbiznis-loyalty/pkg/db/pagination"
	"smallbiznis-loyalty/pkg/errutil"
	"smallbiznis-loyalty/pkg/repository"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("activity.service",
	fx.Provide(NewService),
)

type Service struct {
	logs repository.Repository[ActivityLog]
}

func NewService(db *gorm.DB) *Service {
	return &Service{logs: repository.ProvideStore[ActivityLog](db)}
}

// List returns the activity of entityID in event order, one page at a time.
func (s *Service) List(ctx context.Context, entityID string, p pagination.Pagination) ([]*ActivityLog, *pagination.PageInfo, error) {
	if entityID == "" {
		return nil, nil, errutil.BadRequest("entity_id is required", nil)
	}

	limit := p.Size()
	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{SortBy: "position", OrderBy: "asc", Allow: map[string]bool{"position": true}}),
		option.WithLimit(limit + 1),
	}

	if p.Cursor != "" {
		cursor, err := pagination.DecodeCursor(p.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "position", Operator: option.GT, Value: cursor.Position}))
	}

	rows, err := s.logs.Find(ctx, &ActivityLog{EntityID: entityID}, opts...)
	if err != nil {
		return nil, nil, err
	}

	return pagination.BuildCursorPage(rows, limit, func(l *ActivityLog) pagination.Cursor {
		return pagination.Cursor{Position: l.Position, ID: l.ID}
	})
}
