package leave

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository runs writes and the decision-path read through the db-or-tx
// helpers so a caller's transaction covers them together with the ledger;
// list reads go through gorm. FindByID reports a missing row as sql.ErrNoRows.
type Repository interface {
	WithTx(tx *sql.Tx) Repository
	Create(ctx context.Context, l *LeaveRequest) error
	FindByID(ctx context.Context, id string) (*LeaveRequest, error)
	FindAllPending(ctx context.Context) ([]LeaveRequest, error)
	FindAllByEmployee(ctx context.Context, employeeID string) ([]LeaveRequest, error)
	MarkDecided(ctx context.Context, id, status string, processedBy uuid.UUID, at time.Time) (bool, error)
}

type repository struct {
	db    *gorm.DB
	sqlDB *sql.DB
	tx    *sql.Tx
}

func NewRepository(db *gorm.DB) (Repository, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	return &repository{db: db, sqlDB: sqlDB}, nil
}

func (r *repository) WithTx(tx *sql.Tx) Repository {
	return &repository{db: r.db, sqlDB: r.sqlDB, tx: tx}
}

func (r *repository) Create(ctx context.Context, l *LeaveRequest) error {
	query := `
        INSERT INTO leave_requests (id, employee_id, start_date, end_date, reason, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
        RETURNING created_at, updated_at
    `

	return r.queryer().QueryRowContext(
		ctx, query,
		l.ID, l.EmployeeID, l.StartDate, l.EndDate, l.Reason, l.Status,
	).Scan(&l.CreatedAt, &l.UpdatedAt)
}

func (r *repository) FindByID(ctx context.Context, id string) (*LeaveRequest, error) {
	query := `
        SELECT id, employee_id, start_date, end_date, reason, status, processed_by, created_at, updated_at
        FROM leave_requests
        WHERE id = $1
    `

	var l LeaveRequest
	var processedBy uuid.NullUUID
	err := r.queryer().QueryRowContext(ctx, query, id).Scan(
		&l.ID,
		&l.EmployeeID,
		&l.StartDate,
		&l.EndDate,
		&l.Reason,
		&l.Status,
		&processedBy,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if processedBy.Valid {
		l.ProcessedBy = &processedBy.UUID
	}
	return &l, nil
}

func (r *repository) FindAllPending(ctx context.Context) ([]LeaveRequest, error) {
	var leaves []LeaveRequest
	err := r.db.WithContext(ctx).
		Where("status = ?", StatusPending).
		Order("created_at DESC").
		Find(&leaves).Error
	return leaves, err
}

func (r *repository) FindAllByEmployee(ctx context.Context, employeeID string) ([]LeaveRequest, error) {
	var leaves []LeaveRequest
	err := r.db.WithContext(ctx).
		Where("employee_id = ?", employeeID).
		Order("created_at DESC").
		Find(&leaves).Error
	return leaves, err
}

// MarkDecided claims the pending row. The status predicate makes the claim a
// compare-and-swap: of any number of concurrent decisions on one request,
// exactly one update affects a row. Runs on the caller's transaction so an
// aborted debit rolls the claim back too.
func (r *repository) MarkDecided(ctx context.Context, id, status string, processedBy uuid.UUID, at time.Time) (bool, error) {
	query := `
        UPDATE leave_requests
        SET status = $2, processed_by = $3, updated_at = $4
        WHERE id = $1 AND status = $5
    `

	res, err := r.execer().ExecContext(ctx, query, id, status, processedBy, at, StatusPending)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *repository) execer() interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
} {
	if r.tx != nil {
		return r.tx
	}
	return r.sqlDB
}

func (r *repository) queryer() interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
} {
	if r.tx != nil {
		return r.tx
	}
	return r.sqlDB
}
