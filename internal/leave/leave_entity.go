package leave

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

const (
	ActionApprove = "approve"
	ActionReject  = "reject"
)

type LeaveRequest struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	EmployeeID uuid.UUID `gorm:"type:uuid;not null;index:idx_leave_requests_employee"`

	StartDate time.Time `gorm:"type:date;not null"`
	EndDate   time.Time `gorm:"type:date;not null"`
	Reason    string    `gorm:"type:text;not null"`

	Status      string     `gorm:"type:varchar(10);not null;default:'pending';index:idx_leave_requests_status"`
	ProcessedBy *uuid.UUID `gorm:"type:uuid"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DaysRequested is always derived from the dates, never stored, so the two
// can never drift apart. Both endpoints are inclusive.
func (l *LeaveRequest) DaysRequested() int {
	return int(l.EndDate.Sub(l.StartDate).Hours()/24) + 1
}
