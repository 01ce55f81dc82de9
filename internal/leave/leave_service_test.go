package leave_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"leavedesk/internal/balance"
	balanceerrors "leavedesk/internal/balance/errors"
	"leavedesk/internal/leave"
	leaveerrors "leavedesk/internal/leave/errors"
	"leavedesk/internal/rbac"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

type fakeLeaveRepository struct {
	mu sync.Mutex

	withTxFn            func(tx *sql.Tx) leave.Repository
	createFn            func(ctx context.Context, l *leave.LeaveRequest) error
	findByIDFn          func(ctx context.Context, id string) (*leave.LeaveRequest, error)
	findAllPendingFn    func(ctx context.Context) ([]leave.LeaveRequest, error)
	findAllByEmployeeFn func(ctx context.Context, employeeID string) ([]leave.LeaveRequest, error)
	markDecidedFn       func(ctx context.Context, id, status string, processedBy uuid.UUID, at time.Time) (bool, error)
}

func (f *fakeLeaveRepository) WithTx(tx *sql.Tx) leave.Repository {
	if f.withTxFn != nil {
		return f.withTxFn(tx)
	}
	return f
}

func (f *fakeLeaveRepository) Create(ctx context.Context, l *leave.LeaveRequest) error {
	if f.createFn != nil {
		return f.createFn(ctx, l)
	}
	return nil
}

func (f *fakeLeaveRepository) FindByID(ctx context.Context, id string) (*leave.LeaveRequest, error) {
	if f.findByIDFn != nil {
		return f.findByIDFn(ctx, id)
	}
	return nil, sql.ErrNoRows
}

func (f *fakeLeaveRepository) FindAllPending(ctx context.Context) ([]leave.LeaveRequest, error) {
	if f.findAllPendingFn != nil {
		return f.findAllPendingFn(ctx)
	}
	return nil, nil
}

func (f *fakeLeaveRepository) FindAllByEmployee(ctx context.Context, employeeID string) ([]leave.LeaveRequest, error) {
	if f.findAllByEmployeeFn != nil {
		return f.findAllByEmployeeFn(ctx, employeeID)
	}
	return nil, nil
}

func (f *fakeLeaveRepository) MarkDecided(ctx context.Context, id, status string, processedBy uuid.UUID, at time.Time) (bool, error) {
	if f.markDecidedFn != nil {
		return f.markDecidedFn(ctx, id, status, processedBy, at)
	}
	return true, nil
}

type fakeBalanceRepository struct {
	withTxFn            func(tx *sql.Tx) balance.Repository
	createFn            func(ctx context.Context, b *balance.EmployeeBalance) error
	findByEmployeeFn    func(ctx context.Context, employeeID string) (*balance.EmployeeBalance, error)
	debitIfSufficientFn func(ctx context.Context, employeeID string, amount int) (bool, error)
	creditFn            func(ctx context.Context, employeeID string, amount int) (bool, error)
}

func (f *fakeBalanceRepository) WithTx(tx *sql.Tx) balance.Repository {
	if f.withTxFn != nil {
		return f.withTxFn(tx)
	}
	return f
}

func (f *fakeBalanceRepository) Create(ctx context.Context, b *balance.EmployeeBalance) error {
	if f.createFn != nil {
		return f.createFn(ctx, b)
	}
	return nil
}

func (f *fakeBalanceRepository) FindByEmployee(ctx context.Context, employeeID string) (*balance.EmployeeBalance, error) {
	if f.findByEmployeeFn != nil {
		return f.findByEmployeeFn(ctx, employeeID)
	}
	return nil, sql.ErrNoRows
}

func (f *fakeBalanceRepository) DebitIfSufficient(ctx context.Context, employeeID string, amount int) (bool, error) {
	if f.debitIfSufficientFn != nil {
		return f.debitIfSufficientFn(ctx, employeeID, amount)
	}
	return true, nil
}

func (f *fakeBalanceRepository) Credit(ctx context.Context, employeeID string, amount int) (bool, error) {
	if f.creditFn != nil {
		return f.creditFn(ctx, employeeID, amount)
	}
	return true, nil
}

type leaveServiceDeps struct {
	db       *sql.DB
	sqlMock  sqlmock.Sqlmock
	service  leave.Service
	repo     *fakeLeaveRepository
	balances *fakeBalanceRepository
}

func setupLeaveServiceTest(t *testing.T) *leaveServiceDeps {
	t.Helper()

	db, sqlMock, err := sqlmock.New()
	assert.NoError(t, err)

	repo := &fakeLeaveRepository{}
	balances := &fakeBalanceRepository{}
	svc := leave.NewService(db, repo, balances)

	return &leaveServiceDeps{
		db:       db,
		sqlMock:  sqlMock,
		service:  svc,
		repo:     repo,
		balances: balances,
	}
}

func expectTx(t *testing.T, mock sqlmock.Sqlmock, commit bool) {
	t.Helper()
	mock.ExpectBegin()
	if commit {
		mock.ExpectCommit()
	} else {
		mock.ExpectRollback()
	}
}

func balanceOf(employeeID uuid.UUID, days int) *balance.EmployeeBalance {
	return &balance.EmployeeBalance{EmployeeID: employeeID, Balance: days}
}

func pendingLeave(id, employeeID uuid.UUID, start, end string) *leave.LeaveRequest {
	s, _ := time.Parse("2006-01-02", start)
	e, _ := time.Parse("2006-01-02", end)
	return &leave.LeaveRequest{
		ID:         id,
		EmployeeID: employeeID,
		StartDate:  s,
		EndDate:    e,
		Reason:     "family event",
		Status:     leave.StatusPending,
	}
}

func futureDate(t *testing.T, daysAhead int) string {
	t.Helper()
	return time.Now().UTC().AddDate(0, 0, daysAhead).Format("2006-01-02")
}

func TestLeaveService_Submit(t *testing.T) {
	ctx := context.Background()
	employeeID := uuid.New()

	t.Run("success", func(t *testing.T) {
		deps := setupLeaveServiceTest(t)
		defer deps.db.Close()

		expectTx(t, deps.sqlMock, true)
		start := futureDate(t, 10)
		end := futureDate(t, 14)

		deps.balances.findByEmployeeFn = func(ctx context.Context, eid string) (*balance.EmployeeBalance, error) {
			assert.Equal(t, employeeID.String(), eid)
			return balanceOf(employeeID, 20), nil
		}
		deps.repo.createFn = func(ctx context.Context, l *leave.LeaveRequest) error {
			assert.Equal(t, employeeID, l.EmployeeID)
			assert.Equal(t, leave.StatusPending, l.Status)
			assert.Equal(t, 5, l.DaysRequested())
			assert.Nil(t, l.ProcessedBy)
			return nil
		}

		resp, err := deps.service.Submit(ctx, employeeID.String(), leave.SubmitLeaveRequest{
			StartDate: start,
			EndDate:   end,
			Reason:    "family event",
		})

		assert.NoError(t, err)
		assert.Equal(t, employeeID.String(), resp.EmployeeID)
		assert.Equal(t, 5, resp.DaysRequested)
		assert.Equal(t, leave.StatusPending, resp.Status)
		assert.Nil(t, resp.ProcessedBy)
		assert.NoError(t, deps.sqlMock.ExpectationsWereMet())
	})

	t.Run("success single day counts as one", func(t *testing.T) {
		deps := setupLeaveServiceTest(t)
		defer deps.db.Close()

		expectTx(t, deps.sqlMock, true)
		day := futureDate(t, 7)

		deps.balances.findByEmployeeFn = func(ctx context.Context, eid string) (*balance.EmployeeBalance, error) {
			return balanceOf(employeeID, 1), nil
		}

		resp, err := deps.service.Submit(ctx, employeeID.String(), leave.SubmitLeaveRequest{
			StartDate: day,
			EndDate:   day,
			Reason:    "appointment",
		})

		assert.NoError(t, err)
		assert.Equal(t, 1, resp.DaysRequested)
		assert.NoError(t, deps.sqlMock.ExpectationsWereMet())
	})

	t.Run("negative invalid employee id", func(t *testing.T) {
		deps := setupLeaveServiceTest(t)
		defer deps.db.Close()

		_, err := deps.service.Submit(ctx, "not-a-uuid", leave.SubmitLeaveRequest{
			StartDate: futureDate(t, 1),
			EndDate:   futureDate(t, 2),
			Reason:    "x",
		})

		assert.ErrorIs(t, err, leaveerrors.ErrInvalidEmployeeID)
	})

	t.Run("negative malformed date", func(t *testing.T) {
		deps := setupLeaveServiceTest(t)
		defer deps.db.Close()

		_, err := deps.service.Submit(ctx, employeeID.String(), leave.SubmitLeaveRequest{
			StartDate: "03/15/2027",
			EndDate:   futureDate(t, 2),
			Reason:    "x",
		})

		assert.ErrorIs(t, err, leaveerrors.ErrInvalidDateFormat)
	})

	t.Run("negative end before start", func(t *testing.T) {
		deps := setupLeaveServiceTest(t)
		defer deps.db.Close()

		_, err := deps.service.Submit(ctx, employeeID.String(), leave.SubmitLeaveRequest{
			StartDate: futureDate(t, 5),
			EndDate:   futureDate(t, 3),
			Reason:    "x",
		})

		assert.ErrorIs(t, err, leaveerrors.ErrInvalidDateRange)
	})

	t.Run("negative range error wins over past date", func(t *testing.T) {
		deps := setupLeaveServiceTest(t)
		defer deps.db.Close()

		_, err := deps.service.Submit(ctx, employeeID.String(), leave.SubmitLeaveRequest{
			StartDate: "2020-01-05",
			EndDate:   "2020-01-01",
			Reason:    "x",
		})

		assert.ErrorIs(t, err, leaveerrors.ErrInvalidDateRange)
	})

	t.Run("negative start in the past", func(t *testing.T) {
		deps := setupLeaveServiceTest(t)
		defer deps.db.Close()

		_, err := deps.service.Submit(ctx, employeeID.String(), leave.SubmitLeaveRequest{
			StartDate: "2020-01-01",
			EndDate:   "2020-01-05",
			Reason:    "x",
		})

		assert.ErrorIs(t, err, leaveerrors.ErrPastStartDate)
	})

	t.Run("negative blank reason", func(t *testing.T) {
		deps := setupLeaveServiceTest(t)
		defer deps.db.Close()

		_, err := deps.service.Submit(ctx, employeeID.String(), leave.SubmitLeaveRequest{
			StartDate: futureDate(t, 1),
			EndDate:   futureDate(t, 2),
			Reason:    "   ",
		})

		assert.ErrorIs(t, err, leaveerrors.ErrReasonRequired)
	})

	t.Run("negative insufficient balance", func(t *testing.T) {
		deps := setupLeaveServiceTest(t)
		defer deps.db.Close()

		expectTx(t, deps.sqlMock, false)

		deps.balances.findByEmployeeFn = func(ctx context.Context, eid string) (*balance.EmployeeBalance, error) {
			return balanceOf(employeeID, 3), nil
		}
		deps.repo.createFn = func(ctx context.Context, l *leave.LeaveRequest) error {
			t.Fatal("create must not run when the balance is short")
			return nil
		}

		_, err := deps.service.Submit(ctx, employeeID.String(), leave.SubmitLeaveRequest{
			StartDate: futureDate(t, 10),
			EndDate:   futureDate(t, 17),
			Reason:    "long trip",
		})

		assert.ErrorIs(t, err, balanceerrors.ErrInsufficientBalance)
		assert.NoError(t, deps.sqlMock.ExpectationsWereMet())
	})

	t.Run("negative no ledger row", func(t *testing.T) {
		deps := setupLeaveServiceTest(t)
		defer deps.db.Close()

		expectTx(t, deps.sqlMock, false)

		deps.balances.findByEmployeeFn = func(ctx context.Context, eid string) (*balance.EmployeeBalance, error) {
			return nil, sql.ErrNoRows
		}

		_, err := deps.service.Submit(ctx, employeeID.String(), leave.SubmitLeaveRequest{
			StartDate: futureDate(t, 1),
			EndDate:   futureDate(t, 2),
			Reason:    "x",
		})

		assert.ErrorIs(t, err, balanceerrors.ErrBalanceNotFound)
		assert.NoError(t, deps.sqlMock.ExpectationsWereMet())
	})

	t.Run("pending requests may oversubscribe the balance", func(t *testing.T) {
		// Two 8-day requests against a balance of 10 both pass the soft
		// pre-check; only approval debits.
		deps := setupLeaveServiceTest(t)
		defer deps.db.Close()

		expectTx(t, deps.sqlMock, true)
		expectTx(t, deps.sqlMock, true)

		deps.balances.findByEmployeeFn = func(ctx context.Context, eid string) (*balance.EmployeeBalance, error) {
			return balanceOf(employeeID, 10), nil
		}

		req := leave.SubmitLeaveRequest{
			StartDate: futureDate(t, 10),
			EndDate:   futureDate(t, 17),
			Reason:    "trip",
		}
		_, err := deps.service.Submit(ctx, employeeID.String(), req)
		assert.NoError(t, err)
		_, err = deps.service.Submit(ctx, employeeID.String(), req)
		assert.NoError(t, err)
		assert.NoError(t, deps.sqlMock.ExpectationsWereMet())
	})
}

func TestLeaveService_Decide(t *testing.T) {
	ctx := context.Background()
	leaveID := uuid.New()
	employeeID := uuid.New()
	managerID := uuid.New()

	t.Run("success approve debits and returns new balance", func(t *testing.T) {
		deps := setupLeaveServiceTest(t)
		defer deps.db.Close()

		expectTx(t, deps.sqlMock, true)

		remaining := 20
		deps.repo.findByIDFn = func(ctx context.Context, id string) (*leave.LeaveRequest, error) {
			assert.Equal(t, leaveID.String(), id)
			return pendingLeave(leaveID, employeeID, "2027-03-02", "2027-03-06"), nil
		}
		deps.repo.markDecidedFn = func(ctx context.Context, id, status string, processedBy uuid.UUID, at time.Time) (bool, error) {
			assert.Equal(t, leave.StatusApproved, status)
			assert.Equal(t, managerID, processedBy)
			return true, nil
		}
		deps.balances.debitIfSufficientFn = func(ctx context.Context, eid string, amount int) (bool, error) {
			assert.Equal(t, employeeID.String(), eid)
			assert.Equal(t, 5, amount)
			remaining -= amount
			return true, nil
		}
		deps.balances.findByEmployeeFn = func(ctx context.Context, eid string) (*balance.EmployeeBalance, error) {
			return balanceOf(employeeID, remaining), nil
		}

		resp, err := deps.service.Decide(ctx, leaveID.String(), managerID.String(), rbac.RoleManager, leave.DecideLeaveRequest{Action: leave.ActionApprove})

		assert.NoError(t, err)
		assert.Equal(t, leave.StatusApproved, resp.Status)
		assert.NotNil(t, resp.NewBalance)
		assert.Equal(t, 15, *resp.NewBalance)
		assert.NoError(t, deps.sqlMock.ExpectationsWereMet())
	})

	t.Run("success reject leaves the balance alone", func(t *testing.T) {
		deps := setupLeaveServiceTest(t)
		defer deps.db.Close()

		expectTx(t, deps.sqlMock, true)

		deps.repo.findByIDFn = func(ctx context.Context, id string) (*leave.LeaveRequest, error) {
			return pendingLeave(leaveID, employeeID, "2027-03-02", "2027-03-06"), nil
		}
		deps.repo.markDecidedFn = func(ctx context.Context, id, status string, processedBy uuid.UUID, at time.Time) (bool, error) {
			assert.Equal(t, leave.StatusRejected, status)
			return true, nil
		}
		deps.balances.debitIfSufficientFn = func(ctx context.Context, eid string, amount int) (bool, error) {
			t.Fatal("reject must not touch the ledger")
			return false, nil
		}

		resp, err := deps.service.Decide(ctx, leaveID.String(), managerID.String(), rbac.RoleManager, leave.DecideLeaveRequest{Action: leave.ActionReject})

		assert.NoError(t, err)
		assert.Equal(t, leave.StatusRejected, resp.Status)
		assert.Nil(t, resp.NewBalance)
		assert.NoError(t, deps.sqlMock.ExpectationsWereMet())
	})

	t.Run("negative not found reported before capability", func(t *testing.T) {
		deps := setupLeaveServiceTest(t)
		defer deps.db.Close()

		expectTx(t, deps.sqlMock, false)

		deps.repo.findByIDFn = func(ctx context.Context, id string) (*leave.LeaveRequest, error) {
			return nil, sql.ErrNoRows
		}

		// A non-manager probing an unknown id learns it does not exist,
		// not that they lack the capability.
		_, err := deps.service.Decide(ctx, leaveID.String(), managerID.String(), rbac.RoleEmployee, leave.DecideLeaveRequest{Action: leave.ActionApprove})

		assert.ErrorIs(t, err, leaveerrors.ErrLeaveNotFound)
		assert.NoError(t, deps.sqlMock.ExpectationsWereMet())
	})

	t.Run("negative non-manager", func(t *testing.T) {
		deps := setupLeaveServiceTest(t)
		defer deps.db.Close()

		expectTx(t, deps.sqlMock, false)

		deps.repo.findByIDFn = func(ctx context.Context, id string) (*leave.LeaveRequest, error) {
			return pendingLeave(leaveID, employeeID, "2027-03-02", "2027-03-06"), nil
		}

		_, err := deps.service.Decide(ctx, leaveID.String(), employeeID.String(), rbac.RoleEmployee, leave.DecideLeaveRequest{Action: leave.ActionApprove})

		assert.ErrorIs(t, err, leaveerrors.ErrManagerOnly)
		assert.NoError(t, deps.sqlMock.ExpectationsWereMet())
	})

	t.Run("negative already processed", func(t *testing.T) {
		deps := setupLeaveServiceTest(t)
		defer deps.db.Close()

		expectTx(t, deps.sqlMock, false)

		decided := pendingLeave(leaveID, employeeID, "2027-03-02", "2027-03-06")
		decided.Status = leave.StatusApproved
		deps.repo.findByIDFn = func(ctx context.Context, id string) (*leave.LeaveRequest, error) {
			return decided, nil
		}

		_, err := deps.service.Decide(ctx, leaveID.String(), managerID.String(), rbac.RoleManager, leave.DecideLeaveRequest{Action: leave.ActionReject})

		assert.ErrorIs(t, err, leaveerrors.ErrAlreadyProcessed)
		assert.NoError(t, deps.sqlMock.ExpectationsWereMet())
	})

	t.Run("negative invalid action checked after state", func(t *testing.T) {
		deps := setupLeaveServiceTest(t)
		defer deps.db.Close()

		expectTx(t, deps.sqlMock, false)

		deps.repo.findByIDFn = func(ctx context.Context, id string) (*leave.LeaveRequest, error) {
			return pendingLeave(leaveID, employeeID, "2027-03-02", "2027-03-06"), nil
		}
		deps.repo.markDecidedFn = func(ctx context.Context, id, status string, processedBy uuid.UUID, at time.Time) (bool, error) {
			t.Fatal("no claim for an unknown action")
			return false, nil
		}

		_, err := deps.service.Decide(ctx, leaveID.String(), managerID.String(), rbac.RoleManager, leave.DecideLeaveRequest{Action: "cancel"})

		assert.ErrorIs(t, err, leaveerrors.ErrInvalidAction)
		assert.NoError(t, deps.sqlMock.ExpectationsWereMet())
	})

	t.Run("negative lost claim race", func(t *testing.T) {
		deps := setupLeaveServiceTest(t)
		defer deps.db.Close()

		expectTx(t, deps.sqlMock, false)

		deps.repo.findByIDFn = func(ctx context.Context, id string) (*leave.LeaveRequest, error) {
			return pendingLeave(leaveID, employeeID, "2027-03-02", "2027-03-06"), nil
		}
		deps.repo.markDecidedFn = func(ctx context.Context, id, status string, processedBy uuid.UUID, at time.Time) (bool, error) {
			return false, nil
		}

		_, err := deps.service.Decide(ctx, leaveID.String(), managerID.String(), rbac.RoleManager, leave.DecideLeaveRequest{Action: leave.ActionApprove})

		assert.ErrorIs(t, err, leaveerrors.ErrAlreadyProcessed)
		assert.NoError(t, deps.sqlMock.ExpectationsWereMet())
	})

	t.Run("negative approval on short balance keeps request pending", func(t *testing.T) {
		deps := setupLeaveServiceTest(t)
		defer deps.db.Close()

		expectTx(t, deps.sqlMock, false)

		deps.repo.findByIDFn = func(ctx context.Context, id string) (*leave.LeaveRequest, error) {
			return pendingLeave(leaveID, employeeID, "2027-03-02", "2027-03-09"), nil
		}
		deps.repo.markDecidedFn = func(ctx context.Context, id, status string, processedBy uuid.UUID, at time.Time) (bool, error) {
			return true, nil
		}
		deps.balances.debitIfSufficientFn = func(ctx context.Context, eid string, amount int) (bool, error) {
			assert.Equal(t, 8, amount)
			return false, nil
		}
		deps.balances.findByEmployeeFn = func(ctx context.Context, eid string) (*balance.EmployeeBalance, error) {
			return balanceOf(employeeID, 3), nil
		}

		_, err := deps.service.Decide(ctx, leaveID.String(), managerID.String(), rbac.RoleManager, leave.DecideLeaveRequest{Action: leave.ActionApprove})

		assert.ErrorIs(t, err, balanceerrors.ErrInsufficientBalance)
		assert.NoError(t, deps.sqlMock.ExpectationsWereMet())
	})

	t.Run("negative invalid ids", func(t *testing.T) {
		deps := setupLeaveServiceTest(t)
		defer deps.db.Close()

		_, err := deps.service.Decide(ctx, "nope", managerID.String(), rbac.RoleManager, leave.DecideLeaveRequest{Action: leave.ActionApprove})
		assert.ErrorIs(t, err, leaveerrors.ErrInvalidLeaveID)

		_, err = deps.service.Decide(ctx, leaveID.String(), "nope", rbac.RoleManager, leave.DecideLeaveRequest{Action: leave.ActionApprove})
		assert.ErrorIs(t, err, leaveerrors.ErrInvalidManagerID)
	})
}

func TestLeaveService_SequentialApprovals(t *testing.T) {
	ctx := context.Background()
	employeeID := uuid.New()
	managerID := uuid.New()

	deps := setupLeaveServiceTest(t)
	defer deps.db.Close()

	// Balance 20: a 10-day approval leaves 10, a second leaves 0, a 5-day
	// approval then fails without touching the ledger.
	remaining := 20

	var mu sync.Mutex
	requests := map[string]*leave.LeaveRequest{}
	for _, span := range []struct {
		id    uuid.UUID
		start string
		end   string
	}{
		{uuid.New(), "2027-06-01", "2027-06-10"},
		{uuid.New(), "2027-07-01", "2027-07-10"},
		{uuid.New(), "2027-08-01", "2027-08-05"},
	} {
		requests[span.id.String()] = pendingLeave(span.id, employeeID, span.start, span.end)
	}

	deps.repo.findByIDFn = func(ctx context.Context, id string) (*leave.LeaveRequest, error) {
		mu.Lock()
		defer mu.Unlock()
		l, ok := requests[id]
		if !ok {
			return nil, sql.ErrNoRows
		}
		cp := *l
		return &cp, nil
	}
	deps.repo.markDecidedFn = func(ctx context.Context, id, status string, processedBy uuid.UUID, at time.Time) (bool, error) {
		mu.Lock()
		defer mu.Unlock()
		l := requests[id]
		if l.Status != leave.StatusPending {
			return false, nil
		}
		l.Status = status
		return true, nil
	}
	deps.balances.debitIfSufficientFn = func(ctx context.Context, eid string, amount int) (bool, error) {
		mu.Lock()
		defer mu.Unlock()
		if remaining < amount {
			return false, nil
		}
		remaining -= amount
		return true, nil
	}
	deps.balances.findByEmployeeFn = func(ctx context.Context, eid string) (*balance.EmployeeBalance, error) {
		mu.Lock()
		defer mu.Unlock()
		return balanceOf(employeeID, remaining), nil
	}

	expectTx(t, deps.sqlMock, true)
	expectTx(t, deps.sqlMock, true)
	expectTx(t, deps.sqlMock, false)

	// Approve the two 10-day requests first.
	var tenDay, fiveDay []string
	for id, l := range requests {
		if l.DaysRequested() == 10 {
			tenDay = append(tenDay, id)
		} else {
			fiveDay = append(fiveDay, id)
		}
	}

	resp, err := deps.service.Decide(ctx, tenDay[0], managerID.String(), rbac.RoleManager, leave.DecideLeaveRequest{Action: leave.ActionApprove})
	assert.NoError(t, err)
	assert.Equal(t, 10, *resp.NewBalance)

	resp, err = deps.service.Decide(ctx, tenDay[1], managerID.String(), rbac.RoleManager, leave.DecideLeaveRequest{Action: leave.ActionApprove})
	assert.NoError(t, err)
	assert.Equal(t, 0, *resp.NewBalance)

	_, err = deps.service.Decide(ctx, fiveDay[0], managerID.String(), rbac.RoleManager, leave.DecideLeaveRequest{Action: leave.ActionApprove})
	assert.ErrorIs(t, err, balanceerrors.ErrInsufficientBalance)

	assert.Equal(t, 0, remaining)
	assert.Equal(t, leave.StatusPending, requests[fiveDay[0]].Status)
}

func TestLeaveService_ConcurrentDecisionsSingleWinner(t *testing.T) {
	ctx := context.Background()
	leaveID := uuid.New()
	employeeID := uuid.New()
	managerID := uuid.New()

	deps := setupLeaveServiceTest(t)
	defer deps.db.Close()
	deps.sqlMock.MatchExpectationsInOrder(false)

	const racers = 10
	for i := 0; i < racers; i++ {
		deps.sqlMock.ExpectBegin()
	}
	deps.sqlMock.ExpectCommit()
	for i := 0; i < racers-1; i++ {
		deps.sqlMock.ExpectRollback()
	}

	var mu sync.Mutex
	record := pendingLeave(leaveID, employeeID, "2027-03-02", "2027-03-06")
	remaining := 20

	deps.repo.findByIDFn = func(ctx context.Context, id string) (*leave.LeaveRequest, error) {
		mu.Lock()
		defer mu.Unlock()
		cp := *record
		return &cp, nil
	}
	deps.repo.markDecidedFn = func(ctx context.Context, id, status string, processedBy uuid.UUID, at time.Time) (bool, error) {
		mu.Lock()
		defer mu.Unlock()
		if record.Status != leave.StatusPending {
			return false, nil
		}
		record.Status = status
		return true, nil
	}
	deps.balances.debitIfSufficientFn = func(ctx context.Context, eid string, amount int) (bool, error) {
		mu.Lock()
		defer mu.Unlock()
		if remaining < amount {
			return false, nil
		}
		remaining -= amount
		return true, nil
	}
	deps.balances.findByEmployeeFn = func(ctx context.Context, eid string) (*balance.EmployeeBalance, error) {
		mu.Lock()
		defer mu.Unlock()
		return balanceOf(employeeID, remaining), nil
	}

	var wg sync.WaitGroup
	results := make([]error, racers)
	for i := 0; i < racers; i++ {
		action := leave.ActionApprove
		if i%2 == 1 {
			action = leave.ActionReject
		}
		wg.Add(1)
		go func(i int, action string) {
			defer wg.Done()
			_, err := deps.service.Decide(ctx, leaveID.String(), managerID.String(), rbac.RoleManager, leave.DecideLeaveRequest{Action: action})
			results[i] = err
		}(i, action)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
			continue
		}
		assert.ErrorIs(t, err, leaveerrors.ErrAlreadyProcessed)
	}
	assert.Equal(t, 1, winners)
	assert.NotEqual(t, leave.StatusPending, record.Status)
	assert.GreaterOrEqual(t, remaining, 0)
}

func TestLeaveService_ConcurrentApprovalsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	employeeID := uuid.New()
	managerID := uuid.New()

	deps := setupLeaveServiceTest(t)
	defer deps.db.Close()
	deps.sqlMock.MatchExpectationsInOrder(false)

	// Ten 5-day requests against a balance of 20: exactly four approvals
	// can land, the rest must fail without the balance ever dipping below
	// zero.
	const racers = 10
	for i := 0; i < racers; i++ {
		deps.sqlMock.ExpectBegin()
	}
	for i := 0; i < 4; i++ {
		deps.sqlMock.ExpectCommit()
	}
	for i := 0; i < racers-4; i++ {
		deps.sqlMock.ExpectRollback()
	}

	var mu sync.Mutex
	remaining := 20
	requests := map[string]*leave.LeaveRequest{}
	ids := make([]string, 0, racers)
	for i := 0; i < racers; i++ {
		id := uuid.New()
		start := fmt.Sprintf("2027-%02d-01", i+1)
		end := fmt.Sprintf("2027-%02d-05", i+1)
		requests[id.String()] = pendingLeave(id, employeeID, start, end)
		ids = append(ids, id.String())
	}

	deps.repo.findByIDFn = func(ctx context.Context, id string) (*leave.LeaveRequest, error) {
		mu.Lock()
		defer mu.Unlock()
		cp := *requests[id]
		return &cp, nil
	}
	deps.repo.markDecidedFn = func(ctx context.Context, id, status string, processedBy uuid.UUID, at time.Time) (bool, error) {
		mu.Lock()
		defer mu.Unlock()
		l := requests[id]
		if l.Status != leave.StatusPending {
			return false, nil
		}
		l.Status = status
		return true, nil
	}
	deps.balances.debitIfSufficientFn = func(ctx context.Context, eid string, amount int) (bool, error) {
		mu.Lock()
		defer mu.Unlock()
		if remaining < amount {
			return false, nil
		}
		remaining -= amount
		return true, nil
	}
	deps.balances.findByEmployeeFn = func(ctx context.Context, eid string) (*balance.EmployeeBalance, error) {
		mu.Lock()
		defer mu.Unlock()
		return balanceOf(employeeID, remaining), nil
	}

	var wg sync.WaitGroup
	results := make([]error, racers)
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, err := deps.service.Decide(ctx, id, managerID.String(), rbac.RoleManager, leave.DecideLeaveRequest{Action: leave.ActionApprove})
			results[i] = err
		}(i, id)
	}
	wg.Wait()

	approved := 0
	for _, err := range results {
		if err == nil {
			approved++
			continue
		}
		assert.ErrorIs(t, err, balanceerrors.ErrInsufficientBalance)
	}
	assert.Equal(t, 4, approved)
	assert.Equal(t, 0, remaining)
}

func TestLeaveService_GetByID(t *testing.T) {
	ctx := context.Background()
	leaveID := uuid.New()
	employeeID := uuid.New()

	t.Run("success", func(t *testing.T) {
		deps := setupLeaveServiceTest(t)
		defer deps.db.Close()

		deps.repo.findByIDFn = func(ctx context.Context, id string) (*leave.LeaveRequest, error) {
			return pendingLeave(leaveID, employeeID, "2027-03-02", "2027-03-06"), nil
		}

		resp, err := deps.service.GetByID(ctx, leaveID.String())

		assert.NoError(t, err)
		assert.Equal(t, leaveID.String(), resp.ID)
		assert.Equal(t, 5, resp.DaysRequested)
	})

	t.Run("negative not found", func(t *testing.T) {
		deps := setupLeaveServiceTest(t)
		defer deps.db.Close()

		_, err := deps.service.GetByID(ctx, leaveID.String())

		assert.ErrorIs(t, err, leaveerrors.ErrLeaveNotFound)
	})
}

func TestLeaveService_ListByEmployee(t *testing.T) {
	ctx := context.Background()
	employeeID := uuid.New()

	t.Run("success reading own history", func(t *testing.T) {
		deps := setupLeaveServiceTest(t)
		defer deps.db.Close()

		deps.repo.findAllByEmployeeFn = func(ctx context.Context, eid string) ([]leave.LeaveRequest, error) {
			assert.Equal(t, employeeID.String(), eid)
			return []leave.LeaveRequest{
				*pendingLeave(uuid.New(), employeeID, "2027-03-02", "2027-03-06"),
				*pendingLeave(uuid.New(), employeeID, "2027-04-01", "2027-04-01"),
			}, nil
		}

		resp, err := deps.service.ListByEmployee(ctx, employeeID.String(), employeeID.String(), rbac.RoleEmployee)

		assert.NoError(t, err)
		assert.Len(t, resp, 2)
		assert.Equal(t, 5, resp[0].DaysRequested)
		assert.Equal(t, 1, resp[1].DaysRequested)
	})

	t.Run("success manager reading another employee", func(t *testing.T) {
		deps := setupLeaveServiceTest(t)
		defer deps.db.Close()

		deps.repo.findAllByEmployeeFn = func(ctx context.Context, eid string) ([]leave.LeaveRequest, error) {
			return []leave.LeaveRequest{
				*pendingLeave(uuid.New(), employeeID, "2027-03-02", "2027-03-06"),
			}, nil
		}

		resp, err := deps.service.ListByEmployee(ctx, employeeID.String(), uuid.NewString(), rbac.RoleManager)

		assert.NoError(t, err)
		assert.Len(t, resp, 1)
	})

	t.Run("negative employee reading someone else", func(t *testing.T) {
		deps := setupLeaveServiceTest(t)
		defer deps.db.Close()

		deps.repo.findAllByEmployeeFn = func(ctx context.Context, eid string) ([]leave.LeaveRequest, error) {
			t.Fatal("a forbidden read must not reach the repository")
			return nil, nil
		}

		_, err := deps.service.ListByEmployee(ctx, employeeID.String(), uuid.NewString(), rbac.RoleEmployee)

		assert.ErrorIs(t, err, leaveerrors.ErrNotRequestOwner)
	})

	t.Run("negative invalid id", func(t *testing.T) {
		deps := setupLeaveServiceTest(t)
		defer deps.db.Close()

		_, err := deps.service.ListByEmployee(ctx, "nope", "nope", rbac.RoleEmployee)

		assert.ErrorIs(t, err, leaveerrors.ErrInvalidEmployeeID)
	})

	t.Run("negative repo error", func(t *testing.T) {
		deps := setupLeaveServiceTest(t)
		defer deps.db.Close()

		deps.repo.findAllByEmployeeFn = func(ctx context.Context, eid string) ([]leave.LeaveRequest, error) {
			return nil, errors.New("db error")
		}

		_, err := deps.service.ListByEmployee(ctx, employeeID.String(), employeeID.String(), rbac.RoleEmployee)

		assert.Error(t, err)
	})
}

func TestLeaveService_ListPendingCache(t *testing.T) {
	ctx := context.Background()
	employeeID := uuid.New()

	t.Run("cache miss fills redis", func(t *testing.T) {
		db, sqlMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		rdb, redisMock := redismock.NewClientMock()
		repo := &fakeLeaveRepository{}
		balances := &fakeBalanceRepository{}
		svc := leave.NewServiceWithOutbox(db, repo, balances, nil, rdb)

		record := pendingLeave(uuid.New(), employeeID, "2027-03-02", "2027-03-06")
		repo.findAllPendingFn = func(ctx context.Context) ([]leave.LeaveRequest, error) {
			return []leave.LeaveRequest{*record}, nil
		}

		expected, err := json.Marshal([]leave.LeaveResponse{
			{
				ID:            record.ID.String(),
				EmployeeID:    employeeID.String(),
				StartDate:     "2027-03-02",
				EndDate:       "2027-03-06",
				DaysRequested: 5,
				Reason:        "family event",
				Status:        leave.StatusPending,
				CreatedAt:     record.CreatedAt.Format(time.RFC3339),
				UpdatedAt:     record.UpdatedAt.Format(time.RFC3339),
			},
		})
		assert.NoError(t, err)

		redisMock.ExpectGet(leave.PendingCacheKey).RedisNil()
		redisMock.ExpectSet(leave.PendingCacheKey, expected, time.Minute).SetVal("OK")

		resp, err := svc.ListPending(ctx)

		assert.NoError(t, err)
		assert.Len(t, resp, 1)
		assert.NoError(t, redisMock.ExpectationsWereMet())
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})

	t.Run("cache hit skips the database", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		rdb, redisMock := redismock.NewClientMock()
		repo := &fakeLeaveRepository{}
		balances := &fakeBalanceRepository{}
		svc := leave.NewServiceWithOutbox(db, repo, balances, nil, rdb)

		repo.findAllPendingFn = func(ctx context.Context) ([]leave.LeaveRequest, error) {
			t.Fatal("a cache hit must not reach the repository")
			return nil, nil
		}

		cached, _ := json.Marshal([]leave.LeaveResponse{{ID: uuid.NewString(), Status: leave.StatusPending}})
		redisMock.ExpectGet(leave.PendingCacheKey).SetVal(string(cached))

		resp, err := svc.ListPending(ctx)

		assert.NoError(t, err)
		assert.Len(t, resp, 1)
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("submit invalidates the pending cache", func(t *testing.T) {
		db, sqlMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		rdb, redisMock := redismock.NewClientMock()
		repo := &fakeLeaveRepository{}
		balances := &fakeBalanceRepository{
			findByEmployeeFn: func(ctx context.Context, eid string) (*balance.EmployeeBalance, error) {
				return balanceOf(employeeID, 20), nil
			},
		}
		svc := leave.NewServiceWithOutbox(db, repo, balances, nil, rdb)

		sqlMock.ExpectBegin()
		sqlMock.ExpectCommit()
		redisMock.ExpectDel(leave.PendingCacheKey).SetVal(1)

		_, err = svc.Submit(ctx, employeeID.String(), leave.SubmitLeaveRequest{
			StartDate: futureDate(t, 10),
			EndDate:   futureDate(t, 12),
			Reason:    "trip",
		})

		assert.NoError(t, err)
		assert.NoError(t, redisMock.ExpectationsWereMet())
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})
}
