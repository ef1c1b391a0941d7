package account

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

// UniqueEmail rejects an email already registered to another account.
func UniqueEmail(lookups repository.Repository[Lookup]) func(ctx context.Context, accountID, email string) error {
	return func(ctx context.Context, accountID, email string) error {
		if email == "" {
			return nil
		}
		owner, err := lookups.FindOne(ctx, &Lookup{Email: NormalizeEmail(email)})
		if err != nil {
			return err
		}
		if owner != nil && owner.ID != accountID {
			return emailTaken(NormalizeEmail(email))
		}
		return nil
	}
}

// MustExist rejects commands for accounts missing from the lookup.
func MustExist(lookups repository.Repository[Lookup]) func(ctx context.Context, accountID string) error {
	return func(ctx context.Context, accountID string) error {
		n, err := lookups.Count(ctx, &Lookup{ID: accountID})
		if err != nil {
			return err
		}
		if n == 0 {
			return AccountNotFound(accountID)
		}
		return nil
	}
}

func (s *Service) CreateAccount(ctx context.Context, cmd CreateAccount) error {
	unique := UniqueEmail(s.lookups)
	if err := es.Intercept(ctx, cmd, func(ctx context.Context, c CreateAccount) error {
		return unique(ctx, c.AccountID, c.Email)
	}); err != nil {
		return err
	}
	return s.dispatch(ctx, cmd)
}

func (s *Service) UpdateAccount(ctx context.Context, cmd UpdateAccount) error {
	exists, unique := MustExist(s.lookups), UniqueEmail(s.lookups)
	if err := es.Intercept(ctx, cmd,
		func(ctx context.Context, c UpdateAccount) error { return exists(ctx, c.AccountID) },
		func(ctx context.Context, c UpdateAccount) error { return unique(ctx, c.AccountID, c.Email) },
	); err != nil {
		return err
	}
	return s.dispatch(ctx, cmd)
}

func (s *Service) DeleteAccount(ctx context.Context, cmd DeleteAccount) error {
	exists := MustExist(s.lookups)
	if err := es.Intercept(ctx, cmd, func(ctx context.Context, c DeleteAccount) error {
		return exists(ctx, c.AccountID)
	}); err != nil {
		return err
	}
	return s.dispatch(ctx, cmd)
}

// RollbackAccountCreation reports whether the account was actually rolled back.
func (s *Service) RollbackAccountCreation(ctx context.Context, cmd RollbackAccountCreation) (bool, error) {
	if err := es.Validate(cmd); err != nil {
		return false, err
	}
	events, err := s.execute(ctx, cmd)
	if err != nil {
		return false, err
	}
	return len(events) > 0, nil
}

// Load returns the current state of an account from its event stream.
func (s *Service) Load(ctx context.Context, accountID string) (State, error) {
	state, _, err := es.Load(ctx, s.runner, Aggregate, accountID)
	return state, err
}

func (s *Service) dispatch(ctx context.Context, cmd Command) error {
	_, err := s.execute(ctx, cmd)
	return err
}

func (s *Service) execute(ctx context.Context, cmd Command) ([]Event, error) {
	env := cmd.envelope()
	fields := append(logger.TraceFields(ctx),
		zap.String("request_id", env.RequestID),
		zap.String("account_id", env.AccountID),
		zap.String("command", commandName(cmd)),
	)

	events, err := es.Execute(ctx, s.runner, Aggregate, env.AccountID, env.RequestID, func(state State) ([]Event, error) {
		return Decide(state, cmd, s.runner.Now())
	})
	if err != nil {
		zap.L().With(fields...).Warn("account command rejected", zap.Error(err))
		return nil, err
	}

	zap.L().With(fields...).Info("account command applied", zap.Int("events", len(events)))
	return events, nil
}

func commandName(cmd Command) string {
	switch cmd.(type) {
	case CreateAccount:
		return "CreateAccount"
	case UpdateAccount:
		return "UpdateAccount"
	case DeleteAccount:
		return "DeleteAccount"
	case RollbackAccountCreation:
		return "RollbackAccountCreation"
	default:
		return "unknown"
	}
}
