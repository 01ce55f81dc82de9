package balance

import (
	"context"
	"database/sql"
)

// Repository owns the employee_balances table. All statements run through the
// db-or-tx execer so a caller's transaction covers both the workflow tables
// and the ledger. The balance >= amount predicate on the debit statement is
// the non-negativity gate: the database evaluates check and mutation as one
// atomic row update, so no interleaving can observe a negative balance.
type Repository interface {
	WithTx(tx *sql.Tx) Repository
	Create(ctx context.Context, b *EmployeeBalance) error
	FindByEmployee(ctx context.Context, employeeID string) (*EmployeeBalance, error)
	DebitIfSufficient(ctx context.Context, employeeID string, amount int) (bool, error)
	Credit(ctx context.Context, employeeID string, amount int) (bool, error)
}

type repository struct {
	db *sql.DB
	tx *sql.Tx
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *sql.Tx) Repository {
	return &repository{db: r.db, tx: tx}
}

func (r *repository) Create(ctx context.Context, b *EmployeeBalance) error {
	query := `
        INSERT INTO employee_balances (employee_id, balance, created_at, updated_at)
        VALUES ($1, $2, NOW(), NOW())
    `

	_, err := r.execer().ExecContext(ctx, query, b.EmployeeID, b.Balance)
	return err
}

func (r *repository) FindByEmployee(ctx context.Context, employeeID string) (*EmployeeBalance, error) {
	query := `
        SELECT employee_id, balance, created_at, updated_at
        FROM employee_balances
        WHERE employee_id = $1
    `

	var b EmployeeBalance
	err := r.queryer().QueryRowContext(ctx, query, employeeID).Scan(
		&b.EmployeeID,
		&b.Balance,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// DebitIfSufficient subtracts amount only when the remaining balance stays
// non-negative. Returns false when the row exists but the balance is short,
// or when the employee is unknown; callers distinguish the two with a read.
func (r *repository) DebitIfSufficient(ctx context.Context, employeeID string, amount int) (bool, error) {
	query := `
        UPDATE employee_balances
        SET balance = balance - $2, updated_at = NOW()
        WHERE employee_id = $1 AND balance >= $2
    `

	res, err := r.execer().ExecContext(ctx, query, employeeID, amount)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *repository) Credit(ctx context.Context, employeeID string, amount int) (bool, error) {
	query := `
        UPDATE employee_balances
        SET balance = balance + $2, updated_at = NOW()
        WHERE employee_id = $1
    `

	res, err := r.execer().ExecContext(ctx, query, employeeID, amount)
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
	return r.db
}

func (r *repository) queryer() interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
} {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}
