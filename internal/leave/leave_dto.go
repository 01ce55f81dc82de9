package leave

type SubmitLeaveRequest struct {
	StartDate string `json:"start_date" binding:"required"`
	EndDate   string `json:"end_date" binding:"required"`
	Reason    string `json:"reason" binding:"required"`
}

// DecideLeaveRequest deliberately has no oneof binding on Action: the service
// owns the invalid-action error so the precondition order (existence,
// capability, state, action) stays in one place.
type DecideLeaveRequest struct {
	Action string `json:"action" binding:"required"`
}

type LeaveResponse struct {
	ID            string  `json:"id"`
	EmployeeID    string  `json:"employee_id"`
	StartDate     string  `json:"start_date"`
	EndDate       string  `json:"end_date"`
	DaysRequested int     `json:"days_requested"`
	Reason        string  `json:"reason"`
	Status        string  `json:"status"`
	ProcessedBy   *string `json:"processed_by,omitempty"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

type DecisionResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	NewBalance *int   `json:"new_balance,omitempty"`
}
