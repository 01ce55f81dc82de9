package events

import "time"

const LeaveDecidedTopic = "hr.leave.decision.v1"

// LeaveDecidedEvent is emitted after a decision commits. NewBalance is set
// only for approvals.
type LeaveDecidedEvent struct {
	EventType     string    `json:"event_type"`
	RequestID     string    `json:"request_id,omitempty"`
	LeaveID       string    `json:"leave_id"`
	EmployeeID    string    `json:"employee_id"`
	Status        string    `json:"status"`
	ProcessedBy   string    `json:"processed_by"`
	DaysRequested int       `json:"days_requested"`
	NewBalance    *int      `json:"new_balance,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}
