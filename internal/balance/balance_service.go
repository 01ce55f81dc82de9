package balance

import (
	"context"
	"database/sql"
	"errors"

	balanceerrors "leavedesk/internal/balance/errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// Service is the read/admin surface of the ledger. There is deliberately no
// Debit here: balances shrink only through the leave approval transaction,
// which reaches the ledger via Repository.DebitIfSufficient inside its own
// database transaction.
type Service interface {
	Open(ctx context.Context, req OpenBalanceRequest) (BalanceResponse, error)
	GetBalance(ctx context.Context, employeeID string) (BalanceResponse, error)
	Credit(ctx context.Context, employeeID string, req CreditBalanceRequest) (BalanceResponse, error)
}

type service struct {
	db     *sql.DB
	repo   Repository
	logger *zap.Logger
}

func NewService(db *sql.DB, repo Repository, logger ...*zap.Logger) Service {
	l := zap.L().Named("balance.service")
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0].Named("balance.service")
	}
	return &service{db: db, repo: repo, logger: l}
}

func (s *service) Open(ctx context.Context, req OpenBalanceRequest) (BalanceResponse, error) {
	s.logger.Debug("open balance requested", zap.String("employee_id", req.EmployeeID))

	employeeUUID, err := uuid.Parse(req.EmployeeID)
	if err != nil {
		return BalanceResponse{}, balanceerrors.ErrInvalidEmployeeID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.logger.Error("open balance begin tx failed", zap.Error(err))
		return BalanceResponse{}, err
	}
	defer tx.Rollback()

	qtx := s.repo.WithTx(tx)

	b := &EmployeeBalance{
		EmployeeID: employeeUUID,
		Balance:    DefaultOpeningBalance,
	}
	if err := qtx.Create(ctx, b); err != nil {
		if isDuplicateBalance(err) {
			s.logger.Warn("open balance already onboarded", zap.String("employee_id", req.EmployeeID))
			return BalanceResponse{}, balanceerrors.ErrAlreadyOnboarded
		}
		s.logger.Error("open balance persist failed", zap.Error(err))
		return BalanceResponse{}, err
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("open balance commit failed", zap.Error(err))
		return BalanceResponse{}, err
	}
	s.logger.Info("open balance success",
		zap.String("employee_id", req.EmployeeID),
		zap.Int("balance", b.Balance),
	)

	return mapToResponse(*b), nil
}

func (s *service) GetBalance(ctx context.Context, employeeID string) (BalanceResponse, error) {
	if _, err := uuid.Parse(employeeID); err != nil {
		return BalanceResponse{}, balanceerrors.ErrInvalidEmployeeID
	}

	b, err := s.repo.FindByEmployee(ctx, employeeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return BalanceResponse{}, balanceerrors.ErrBalanceNotFound
		}
		s.logger.Error("get balance failed", zap.String("employee_id", employeeID), zap.Error(err))
		return BalanceResponse{}, err
	}
	return mapToResponse(*b), nil
}

func (s *service) Credit(ctx context.Context, employeeID string, req CreditBalanceRequest) (BalanceResponse, error) {
	s.logger.Debug("credit balance requested",
		zap.String("employee_id", employeeID),
		zap.Int("amount", req.Amount),
	)

	if _, err := uuid.Parse(employeeID); err != nil {
		return BalanceResponse{}, balanceerrors.ErrInvalidEmployeeID
	}
	if req.Amount <= 0 {
		return BalanceResponse{}, balanceerrors.ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.logger.Error("credit balance begin tx failed", zap.Error(err))
		return BalanceResponse{}, err
	}
	defer tx.Rollback()

	qtx := s.repo.WithTx(tx)

	found, err := qtx.Credit(ctx, employeeID, req.Amount)
	if err != nil {
		s.logger.Error("credit balance persist failed", zap.Error(err))
		return BalanceResponse{}, err
	}
	if !found {
		return BalanceResponse{}, balanceerrors.ErrBalanceNotFound
	}

	b, err := qtx.FindByEmployee(ctx, employeeID)
	if err != nil {
		s.logger.Error("credit balance reread failed", zap.Error(err))
		return BalanceResponse{}, err
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("credit balance commit failed", zap.Error(err))
		return BalanceResponse{}, err
	}
	s.logger.Info("credit balance success",
		zap.String("employee_id", employeeID),
		zap.Int("amount", req.Amount),
		zap.Int("balance", b.Balance),
	)

	return mapToResponse(*b), nil
}

func isDuplicateBalance(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func mapToResponse(b EmployeeBalance) BalanceResponse {
	return BalanceResponse{
		EmployeeID: b.EmployeeID.String(),
		Balance:    b.Balance,
	}
}
