package business

import (
	"context"

	"smallbiznis-loyalty/pkg/es"
	"smallbiznis-loyalty/pkg/logger"
	"smallbiznis-loyalty/pkg/repository"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	runner  *es.Runner
	lookups repository.Repository[Lookup]
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Runner *es.Runner
}

func NewService(p ServiceParams) *Service {
	return &Service{
		runner:  p.Runner,
		lookups: repository.ProvideStore[Lookup](p.DB),
	}
}

// MustExist rejects commands for businesses missing from the lookup.
func MustExist[C any](lookups repository.Repository[Lookup], businessID func(C) string) es.Interceptor[C] {
	return func(ctx context.Context, cmd C) error {
		id := businessID(cmd)
		n, err := lookups.Count(ctx, &Lookup{ID: id})
		if err != nil {
			return err
		}
		if n == 0 {
			return BusinessNotFound(id)
		}
		return nil
	}
}

// Lookups exposes the business lookup to interceptors of other aggregates.
func (s *Service) Lookups() repository.Repository[Lookup] {
	return s.lookups
}

func (s *Service) EnrollBusiness(ctx context.Context, cmd EnrollBusiness) error {
	if err := es.Intercept(ctx, cmd); err != nil {
		return err
	}
	return s.dispatch(ctx, cmd)
}

func (s *Service) UpdateBusiness(ctx context.Context, cmd UpdateBusiness) error {
	if err := es.Intercept(ctx, cmd, MustExist(s.lookups, func(c UpdateBusiness) string { return c.BusinessID })); err != nil {
		return err
	}
	return s.dispatch(ctx, cmd)
}

func (s *Service) DeleteBusiness(ctx context.Context, cmd DeleteBusiness) error {
	if err := es.Intercept(ctx, cmd, MustExist(s.lookups, func(c DeleteBusiness) string { return c.BusinessID })); err != nil {
		return err
	}
	return s.dispatch(ctx, cmd)
}

// Load returns the current state of a business from its event stream.
func (s *Service) Load(ctx context.Context, businessID string) (State, error) {
	state, _, err := es.Load(ctx, s.runner, Aggregate, businessID)
	return state, err
}

func (s *Service) dispatch(ctx context.Context, cmd Command) error {
	env := cmd.envelope()
	fields := append(logger.TraceFields(ctx),
		zap.String("request_id", env.RequestID),
		zap.String("business_id", env.BusinessID),
	)

	events, err := es.Execute(ctx, s.runner, Aggregate, env.BusinessID, env.RequestID, func(state State) ([]Event, error) {
		return Decide(state, cmd, s.runner.Now())
	})
	if err != nil {
		zap.L().With(fields...).Warn("business command rejected", zap.String("command", commandName(cmd)), zap.Error(err))
		return err
	}

	zap.L().With(fields...).Info("business command applied", zap.String("command", commandName(cmd)), zap.Int("events", len(events)))
	return nil
}

func commandName(cmd Command) string {
	switch cmd.(type) {
	case EnrollBusiness:
		return "EnrollBusiness"
	case UpdateBusiness:
		return "UpdateBusiness"
	case DeleteBusiness:
		return "DeleteBusiness"
	default:
		return "unknown"
	}
}
