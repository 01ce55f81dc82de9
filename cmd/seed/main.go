package main

import (
	"os"

	"leavedesk/internal/balance"
	"leavedesk/internal/leave"
	"leavedesk/internal/shared/connection"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const outboxTable = `
CREATE TABLE IF NOT EXISTS outbox_events (
    id UUID PRIMARY KEY,
    request_id TEXT,
    aggregate_type TEXT NOT NULL,
    aggregate_id UUID NOT NULL,
    event_type TEXT NOT NULL,
    topic TEXT NOT NULL,
    payload JSONB NOT NULL,
    status VARCHAR(10) NOT NULL DEFAULT 'pending',
    retry_count INT NOT NULL DEFAULT 0,
    error_message TEXT,
    next_retry_at TIMESTAMPTZ,
    processed_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_outbox_events_status ON outbox_events (status, created_at);
`

// Seeds the schema and a handful of demo employees so the API is usable
// immediately after docker compose up.
func main() {
	_ = godotenv.Load()
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	gormDB, err := connection.ConnectGORMWithRetry(
		os.Getenv("DB_HOST"),
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_NAME"),
		os.Getenv("DB_PORT"),
		os.Getenv("DB_SSLMODE"),
		5,
	)
	if err != nil {
		logger.Fatal("connect database failed", zap.Error(err))
	}

	if err := gormDB.AutoMigrate(&leave.LeaveRequest{}, &balance.EmployeeBalance{}); err != nil {
		logger.Fatal("migrate failed", zap.Error(err))
	}
	if err := gormDB.Exec(outboxTable).Error; err != nil {
		logger.Fatal("create outbox table failed", zap.Error(err))
	}
	logger.Info("schema migrated")

	demo := []struct {
		name string
		id   string
	}{
		{"employee1", "6f1a1f2e-9a3c-4f50-8d6e-0a1b2c3d4e01"},
		{"employee2", "6f1a1f2e-9a3c-4f50-8d6e-0a1b2c3d4e02"},
		{"manager1", "6f1a1f2e-9a3c-4f50-8d6e-0a1b2c3d4e03"},
	}

	for _, d := range demo {
		b := balance.EmployeeBalance{
			EmployeeID: uuid.MustParse(d.id),
			Balance:    balance.DefaultOpeningBalance,
		}
		res := gormDB.Where("employee_id = ?", d.id).FirstOrCreate(&b)
		if res.Error != nil {
			logger.Fatal("seed balance failed", zap.String("employee", d.name), zap.Error(res.Error))
		}
		logger.Info("demo balance ready",
			zap.String("employee", d.name),
			zap.String("employee_id", d.id),
			zap.Int("balance", b.Balance),
		)
	}
}
