package balance

import (
	"time"

	"github.com/google/uuid"
)

// DefaultOpeningBalance is the number of leave days granted when an employee
// is onboarded.
const DefaultOpeningBalance = 20

type EmployeeBalance struct {
	EmployeeID uuid.UUID `gorm:"type:uuid;primaryKey"`
	Balance    int       `gorm:"type:int;not null;default:20;check:balance >= 0"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
