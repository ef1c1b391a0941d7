package ledger

import (
	"context"
	"time"

	"smallbiznis-loyalty/pkg/es"
	"smallbiznis-loyalty/pkg/logger"
	"smallbiznis-loyalty/pkg/repository"
	"smallbiznis-loyalty/services/business"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	runner *es.Runner

	banks        repository.Repository[LoyaltyBank]
	transactions repository.Repository[TransactionLog]
	businesses   repository.Repository[business.Lookup]
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Runner *es.Runner
}

func NewService(p ServiceParams) *Service {
	return &Service{
		runner: p.Runner,

		banks:        repository.ProvideStore[LoyaltyBank](p.DB),
		transactions: repository.ProvideStore[TransactionLog](p.DB),
		businesses:   repository.ProvideStore[business.Lookup](p.DB),
	}
}

func (s *Service) CreateLoyaltyBank(ctx context.Context, cmd CreateLoyaltyBank) error {
	if err := es.Intercept(ctx, cmd,
		OneLoyaltyBankPerAccount(s.banks),
		BusinessMustExist(s.businesses),
	); err != nil {
		zap.L().With(logger.TraceFields(ctx)...).Warn("create loyalty bank intercepted",
			zap.String("request_id", cmd.RequestID),
			zap.String("loyalty_bank_id", cmd.LoyaltyBankID),
			zap.Error(err),
		)
		return err
	}
	_, err := s.execute(ctx, cmd)
	return err
}

func (s *Service) DeleteLoyaltyBank(ctx context.Context, cmd DeleteLoyaltyBank) error {
	if err := es.Intercept(ctx, cmd); err != nil {
		return err
	}
	_, err := s.execute(ctx, cmd)
	return err
}

// RollbackLoyaltyBankCreation reports whether the bank was actually rolled back.
func (s *Service) RollbackLoyaltyBankCreation(ctx context.Context, cmd RollbackLoyaltyBankCreation) (bool, error) {
	if err := es.Validate(cmd); err != nil {
		return false, err
	}
	events, err := s.execute(ctx, cmd)
	if err != nil {
		return false, err
	}
	return len(events) > 0, nil
}

// AddPendingPoints returns the id of the recorded transaction.
func (s *Service) AddPendingPoints(ctx context.Context, cmd AddPendingPoints) (string, error) {
	cmd.TransactionID = s.transactionID(cmd.TransactionID)
	return cmd.TransactionID, s.run(ctx, cmd)
}

func (s *Service) EarnPoints(ctx context.Context, cmd EarnPoints) (string, error) {
	cmd.TransactionID = s.transactionID(cmd.TransactionID)
	return cmd.TransactionID, s.run(ctx, cmd)
}

func (s *Service) AuthorizePoints(ctx context.Context, cmd AuthorizePoints) (string, error) {
	cmd.TransactionID = s.transactionID(cmd.TransactionID)
	return cmd.TransactionID, s.run(ctx, cmd)
}

func (s *Service) CapturePoints(ctx context.Context, cmd CapturePoints) (string, error) {
	cmd.TransactionID = s.transactionID(cmd.TransactionID)
	return cmd.TransactionID, s.run(ctx, cmd)
}

func (s *Service) VoidPoints(ctx context.Context, cmd VoidPoints) (string, error) {
	cmd.TransactionID = s.transactionID(cmd.TransactionID)
	return cmd.TransactionID, s.run(ctx, cmd)
}

// ExpireTransaction returns the number of points actually expired.
func (s *Service) ExpireTransaction(ctx context.Context, cmd ExpireTransaction) (int64, error) {
	cmd.TransactionID = s.transactionID(cmd.TransactionID)
	if err := es.Intercept(ctx, cmd); err != nil {
		return 0, err
	}

	events, err := s.execute(ctx, cmd)
	if err != nil {
		return 0, err
	}

	var expired int64
	for _, ev := range events {
		if e, ok := ev.(TransactionExpired); ok {
			expired += e.PointsExpired
		}
	}
	return expired, nil
}

// Load returns the current state of a loyalty bank from its event stream.
func (s *Service) Load(ctx context.Context, loyaltyBankID string) (State, error) {
	state, _, err := es.Load(ctx, s.runner, Aggregate, loyaltyBankID)
	if err != nil {
		return State{}, err
	}
	if !state.Created {
		return State{}, loyaltyBankNotFound(loyaltyBankID)
	}
	return state, nil
}

func (s *Service) transactionID(id string) string {
	if id != "" {
		return id
	}
	return s.runner.NewID()
}

func (s *Service) run(ctx context.Context, cmd Command) error {
	if err := es.Validate(cmd); err != nil {
		return err
	}
	_, err := s.execute(ctx, cmd)
	return err
}

func (s *Service) execute(ctx context.Context, cmd Command) ([]Event, error) {
	env := cmd.envelope()
	fields := append(logger.TraceFields(ctx),
		zap.String("request_id", env.RequestID),
		zap.String("loyalty_bank_id", env.LoyaltyBankID),
		zap.String("command", commandName(cmd)),
	)

	start := time.Now()
	events, err := es.Execute(ctx, s.runner, Aggregate, env.LoyaltyBankID, env.RequestID, func(state State) ([]Event, error) {
		return Decide(state, cmd, s.runner.Now())
	})
	if err != nil {
		zap.L().With(fields...).Warn("loyalty bank command rejected", zap.Error(err))
		return nil, err
	}

	zap.L().With(fields...).Info("loyalty bank command applied",
		zap.Int("events", len(events)),
		zap.Duration("took", time.Since(start)),
	)
	return events, nil
}

func commandName(cmd Command) string {
	switch cmd.(type) {
	case CreateLoyaltyBank:
		return "CreateLoyaltyBank"
	case DeleteLoyaltyBank:
		return "DeleteLoyaltyBank"
	case RollbackLoyaltyBankCreation:
		return "RollbackLoyaltyBankCreation"
	case AddPendingPoints:
		return "AddPendingPoints"
	case EarnPoints:
		return "EarnPoints"
	case AuthorizePoints:
		return "AuthorizePoints"
	case CapturePoints:
		return "CapturePoints"
	case VoidPoints:
		return "VoidPoints"
	case ExpireTransaction:
		return "ExpireTransaction"
	default:
		return "unknown"
	}
}
