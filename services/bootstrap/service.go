package bootstrap

import (
	"context"
	"time"

	"smallbiznis-loyalty/pkg/es"
	"smallbiznis-loyalty/services/account"
	"smallbiznis-loyalty/services/activity"
	"smallbiznis-loyalty/services/business"
	"smallbiznis-loyalty/services/expiration"
	"smallbiznis-loyalty/services/ledger"
	"smallbiznis-loyalty/services/redemption"
	"smallbiznis-loyalty/services/saga"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Models lists every table the service owns: the event store, processor
// tokens, and all read models.
func Models() []any {
	return []any{
		&es.Record{},
		&es.Token{},
		&account.Lookup{},
		&business.Lookup{},
		&ledger.LoyaltyBank{},
		&ledger.TransactionLog{},
		&redemption.Tracker{},
		&expiration.Transaction{},
		&expiration.Run{},
		&saga.Saga{},
		&activity.ActivityLog{},
	}
}

type Service struct {
	db *gorm.DB
}

type ServiceParams struct {
	fx.In
	DB *gorm.DB
}

func NewService(p ServiceParams) *Service {
	return &Service{db: p.DB}
}

func (s *Service) Migrate(ctx context.Context) error {
	start := time.Now()
	if err := s.db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		zap.L().Error("[bootstrap] schema migration failed", zap.Error(err))
		return err
	}
	zap.L().Info("[bootstrap] schema migrated", zap.Int("tables", len(Models())), zap.Duration("took", time.Since(start)))
	return nil
}
