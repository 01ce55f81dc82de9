package leave

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"leavedesk/internal/balance"
	balanceerrors "leavedesk/internal/balance/errors"
	"leavedesk/internal/events"
	leaveerrors "leavedesk/internal/leave/errors"
	"leavedesk/internal/messaging/kafka"
	"leavedesk/internal/rbac"
	"leavedesk/internal/shared/contextutil"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	PendingCacheKey = "leaves:pending"
	pendingCacheTTL = time.Minute
)

type Service interface {
	Submit(ctx context.Context, employeeID string, req SubmitLeaveRequest) (LeaveResponse, error)
	Decide(ctx context.Context, id, managerID, managerRole string, req DecideLeaveRequest) (DecisionResponse, error)
	GetByID(ctx context.Context, id string) (LeaveResponse, error)
	ListPending(ctx context.Context) ([]LeaveResponse, error)
	ListByEmployee(ctx context.Context, employeeID, actorID, actorRole string) ([]LeaveResponse, error)
}

type service struct {
	db       *sql.DB
	repo     Repository
	balances balance.Repository
	outbox   kafka.OutboxRepository
	rdb      *redis.Client
	sf       *singleflight.Group
	logger   *zap.Logger
}

func NewService(db *sql.DB, repo Repository, balances balance.Repository, logger ...*zap.Logger) Service {
	return NewServiceWithOutbox(db, repo, balances, nil, nil, logger...)
}

func NewServiceWithOutbox(
	db *sql.DB,
	repo Repository,
	balances balance.Repository,
	outboxRepo kafka.OutboxRepository,
	rdb *redis.Client,
	logger ...*zap.Logger,
) Service {
	l := zap.L().Named("leave.service")
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0].Named("leave.service")
	}
	return &service{
		db:       db,
		repo:     repo,
		balances: balances,
		outbox:   outboxRepo,
		rdb:      rdb,
		sf:       &singleflight.Group{},
		logger:   l,
	}
}

// Submit validates a candidate request and admits it as pending. The balance
// check here is a soft pre-check only: nothing is reserved, and the
// authoritative check runs again inside the approval transaction. Several
// pending requests may together exceed the balance on purpose.
func (s *service) Submit(ctx context.Context, employeeID string, req SubmitLeaveRequest) (LeaveResponse, error) {
	rid := contextutil.GetRequestID(ctx)
	s.logger.Debug("submit leave requested",
		zap.String("request_id", rid),
		zap.String("employee_id", employeeID),
		zap.String("start_date", req.StartDate),
		zap.String("end_date", req.EndDate),
	)

	employeeUUID, err := uuid.Parse(employeeID)
	if err != nil {
		return LeaveResponse{}, leaveerrors.ErrInvalidEmployeeID
	}

	startDate, err := parseDate(req.StartDate)
	if err != nil {
		return LeaveResponse{}, err
	}
	endDate, err := parseDate(req.EndDate)
	if err != nil {
		return LeaveResponse{}, err
	}
	if endDate.Before(startDate) {
		return LeaveResponse{}, leaveerrors.ErrInvalidDateRange
	}
	if startDate.Before(todayUTC()) {
		return LeaveResponse{}, leaveerrors.ErrPastStartDate
	}
	if strings.TrimSpace(req.Reason) == "" {
		return LeaveResponse{}, leaveerrors.ErrReasonRequired
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.logger.Error("submit leave begin tx failed", zap.Error(err))
		return LeaveResponse{}, err
	}
	defer tx.Rollback()

	qtx := s.repo.WithTx(tx)
	bqtx := s.balances.WithTx(tx)

	l := &LeaveRequest{
		ID:         uuid.New(),
		EmployeeID: employeeUUID,
		StartDate:  startDate,
		EndDate:    endDate,
		Reason:     req.Reason,
		Status:     StatusPending,
	}
	days := l.DaysRequested()

	b, err := bqtx.FindByEmployee(ctx, employeeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LeaveResponse{}, balanceerrors.ErrBalanceNotFound
		}
		s.logger.Error("submit leave balance read failed", zap.Error(err))
		return LeaveResponse{}, err
	}
	if days > b.Balance {
		s.logger.Warn("submit leave insufficient balance",
			zap.String("employee_id", employeeID),
			zap.Int("days_requested", days),
			zap.Int("balance", b.Balance),
		)
		return LeaveResponse{}, balanceerrors.ErrInsufficientBalance
	}

	if err := qtx.Create(ctx, l); err != nil {
		s.logger.Error("submit leave persist failed", zap.Error(err))
		return LeaveResponse{}, err
	}

	if err := s.queueSubmittedEvent(ctx, tx, rid, l, days); err != nil {
		return LeaveResponse{}, err
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("submit leave commit failed", zap.Error(err))
		return LeaveResponse{}, err
	}

	s.invalidatePendingCache(ctx)
	s.logger.Info("submit leave success",
		zap.String("request_id", rid),
		zap.String("leave_id", l.ID.String()),
		zap.String("employee_id", employeeID),
		zap.Int("days_requested", days),
	)

	return mapToResponse(*l), nil
}

// Decide runs the approval transaction. Preconditions are checked in a fixed
// order: existence, manager capability, pending state, action. The pending
// claim and the guarded debit execute on one database transaction, so either
// both apply or neither does.
func (s *service) Decide(ctx context.Context, id, managerID, managerRole string, req DecideLeaveRequest) (DecisionResponse, error) {
	rid := contextutil.GetRequestID(ctx)
	s.logger.Debug("decide leave requested",
		zap.String("request_id", rid),
		zap.String("leave_id", id),
		zap.String("manager_id", managerID),
		zap.String("action", req.Action),
	)

	if _, err := uuid.Parse(id); err != nil {
		return DecisionResponse{}, leaveerrors.ErrInvalidLeaveID
	}
	managerUUID, err := uuid.Parse(managerID)
	if err != nil {
		return DecisionResponse{}, leaveerrors.ErrInvalidManagerID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.logger.Error("decide leave begin tx failed", zap.Error(err))
		return DecisionResponse{}, err
	}
	defer tx.Rollback()

	qtx := s.repo.WithTx(tx)
	bqtx := s.balances.WithTx(tx)

	l, err := qtx.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DecisionResponse{}, leaveerrors.ErrLeaveNotFound
		}
		s.logger.Error("decide leave fetch failed", zap.Error(err))
		return DecisionResponse{}, err
	}
	if managerRole != rbac.RoleManager {
		s.logger.Warn("decide leave by non-manager",
			zap.String("leave_id", id),
			zap.String("actor_id", managerID),
		)
		return DecisionResponse{}, leaveerrors.ErrManagerOnly
	}
	if l.Status != StatusPending {
		return DecisionResponse{}, leaveerrors.ErrAlreadyProcessed
	}

	var resp DecisionResponse
	now := time.Now().UTC()
	days := l.DaysRequested()

	switch req.Action {
	case ActionApprove:
		claimed, err := qtx.MarkDecided(ctx, id, StatusApproved, managerUUID, now)
		if err != nil {
			s.logger.Error("decide leave claim failed", zap.Error(err))
			return DecisionResponse{}, err
		}
		if !claimed {
			// A concurrent decision won the race between our read and the claim.
			return DecisionResponse{}, leaveerrors.ErrAlreadyProcessed
		}

		debited, err := bqtx.DebitIfSufficient(ctx, l.EmployeeID.String(), days)
		if err != nil {
			s.logger.Error("decide leave debit failed", zap.Error(err))
			return DecisionResponse{}, err
		}
		if !debited {
			// Rolling back undoes the claim: the request stays pending so the
			// manager can retry after a credit, or reject it instead.
			if _, ferr := bqtx.FindByEmployee(ctx, l.EmployeeID.String()); errors.Is(ferr, sql.ErrNoRows) {
				return DecisionResponse{}, balanceerrors.ErrBalanceNotFound
			}
			s.logger.Warn("decide leave insufficient balance",
				zap.String("leave_id", id),
				zap.String("employee_id", l.EmployeeID.String()),
				zap.Int("days_requested", days),
			)
			return DecisionResponse{}, balanceerrors.ErrInsufficientBalance
		}

		b, err := bqtx.FindByEmployee(ctx, l.EmployeeID.String())
		if err != nil {
			s.logger.Error("decide leave balance reread failed", zap.Error(err))
			return DecisionResponse{}, err
		}

		newBalance := b.Balance
		resp = DecisionResponse{ID: id, Status: StatusApproved, NewBalance: &newBalance}

	case ActionReject:
		claimed, err := qtx.MarkDecided(ctx, id, StatusRejected, managerUUID, now)
		if err != nil {
			s.logger.Error("decide leave claim failed", zap.Error(err))
			return DecisionResponse{}, err
		}
		if !claimed {
			return DecisionResponse{}, leaveerrors.ErrAlreadyProcessed
		}

		resp = DecisionResponse{ID: id, Status: StatusRejected}

	default:
		return DecisionResponse{}, leaveerrors.ErrInvalidAction
	}

	if err := s.queueDecidedEvent(ctx, tx, rid, l, resp, managerID, days, now); err != nil {
		return DecisionResponse{}, err
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("decide leave commit failed", zap.Error(err))
		return DecisionResponse{}, err
	}

	s.invalidatePendingCache(ctx)
	s.logger.Info("decide leave success",
		zap.String("request_id", rid),
		zap.String("leave_id", id),
		zap.String("status", resp.Status),
		zap.String("manager_id", managerID),
	)

	return resp, nil
}

func (s *service) GetByID(ctx context.Context, id string) (LeaveResponse, error) {
	l, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LeaveResponse{}, leaveerrors.ErrLeaveNotFound
		}
		return LeaveResponse{}, err
	}
	return mapToResponse(*l), nil
}

// ListPending is the manager review queue. Cached briefly in redis and
// collapsed with singleflight; submit and decide invalidate the key.
func (s *service) ListPending(ctx context.Context) ([]LeaveResponse, error) {
	if s.rdb != nil {
		if cached, err := s.rdb.Get(ctx, PendingCacheKey).Result(); err == nil {
			var resp []LeaveResponse
			if json.Unmarshal([]byte(cached), &resp) == nil {
				return resp, nil
			}
		}
	}

	v, err, _ := s.sf.Do(PendingCacheKey, func() (interface{}, error) {
		leaves, err := s.repo.FindAllPending(ctx)
		if err != nil {
			return nil, err
		}

		resp := mapToListResponse(leaves)

		if s.rdb != nil {
			if jsonData, err := json.Marshal(resp); err == nil {
				s.rdb.Set(ctx, PendingCacheKey, jsonData, pendingCacheTTL)
			}
		}

		return resp, nil
	})

	if err != nil {
		return nil, err
	}

	return v.([]LeaveResponse), nil
}

// ListByEmployee returns an employee's history. Employees may only read
// their own; managers may read anyone's.
func (s *service) ListByEmployee(ctx context.Context, employeeID, actorID, actorRole string) ([]LeaveResponse, error) {
	if _, err := uuid.Parse(employeeID); err != nil {
		return nil, leaveerrors.ErrInvalidEmployeeID
	}
	if actorRole != rbac.RoleManager && actorID != employeeID {
		return nil, leaveerrors.ErrNotRequestOwner
	}

	leaves, err := s.repo.FindAllByEmployee(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	return mapToListResponse(leaves), nil
}

func (s *service) queueSubmittedEvent(ctx context.Context, tx *sql.Tx, rid string, l *LeaveRequest, days int) error {
	if s.outbox == nil {
		return nil
	}

	event := events.LeaveSubmittedEvent{
		EventType:     "leave_submitted",
		RequestID:     rid,
		LeaveID:       l.ID.String(),
		EmployeeID:    l.EmployeeID.String(),
		DaysRequested: days,
		OccurredAt:    time.Now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("marshal leave_submitted event failed", zap.Error(err))
		return err
	}

	if err := s.outbox.WithTx(tx).Create(ctx, kafka.OutboxEvent{
		ID:            uuid.NewString(),
		RequestID:     rid,
		AggregateType: "leave_request",
		AggregateID:   l.ID.String(),
		EventType:     event.EventType,
		Topic:         events.LeaveSubmittedTopic,
		Payload:       payload,
		Status:        kafka.OutboxStatusPending,
	}); err != nil {
		s.logger.Error("submit leave outbox persist failed",
			zap.String("leave_id", l.ID.String()),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *service) queueDecidedEvent(
	ctx context.Context,
	tx *sql.Tx,
	rid string,
	l *LeaveRequest,
	resp DecisionResponse,
	managerID string,
	days int,
	now time.Time,
) error {
	if s.outbox == nil {
		return nil
	}

	event := events.LeaveDecidedEvent{
		EventType:     "leave_decided",
		RequestID:     rid,
		LeaveID:       l.ID.String(),
		EmployeeID:    l.EmployeeID.String(),
		Status:        resp.Status,
		ProcessedBy:   managerID,
		DaysRequested: days,
		NewBalance:    resp.NewBalance,
		OccurredAt:    now,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("marshal leave_decided event failed", zap.Error(err))
		return err
	}

	if err := s.outbox.WithTx(tx).Create(ctx, kafka.OutboxEvent{
		ID:            uuid.NewString(),
		RequestID:     rid,
		AggregateType: "leave_request",
		AggregateID:   l.ID.String(),
		EventType:     event.EventType,
		Topic:         events.LeaveDecidedTopic,
		Payload:       payload,
		Status:        kafka.OutboxStatusPending,
	}); err != nil {
		s.logger.Error("decide leave outbox persist failed",
			zap.String("leave_id", l.ID.String()),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *service) invalidatePendingCache(ctx context.Context) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Del(ctx, PendingCacheKey).Err(); err != nil {
		s.logger.Error("failed to invalidate pending leaves cache",
			zap.Error(err),
			zap.String("key", PendingCacheKey),
		)
	}
}

func parseDate(v string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, leaveerrors.ErrInvalidDateFormat
	}
	return t, nil
}

func todayUTC() time.Time {
	return time.Now().UTC().Truncate(24 * time.Hour)
}

func mapToResponse(l LeaveRequest) LeaveResponse {
	resp := LeaveResponse{
		ID:            l.ID.String(),
		EmployeeID:    l.EmployeeID.String(),
		StartDate:     l.StartDate.Format("2006-01-02"),
		EndDate:       l.EndDate.Format("2006-01-02"),
		DaysRequested: l.DaysRequested(),
		Reason:        l.Reason,
		Status:        l.Status,
		CreatedAt:     l.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     l.UpdatedAt.Format(time.RFC3339),
	}
	if l.ProcessedBy != nil {
		v := l.ProcessedBy.String()
		resp.ProcessedBy = &v
	}
	return resp
}

func mapToListResponse(leaves []LeaveRequest) []LeaveResponse {
	resp := make([]LeaveResponse, len(leaves))
	for i, l := range leaves {
		resp[i] = mapToResponse(l)
	}
	return resp
}
