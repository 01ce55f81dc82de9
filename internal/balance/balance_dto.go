package balance

type OpenBalanceRequest struct {
	EmployeeID string `json:"employee_id" binding:"required,uuid"`
}

type CreditBalanceRequest struct {
	Amount int `json:"amount" binding:"required,gt=0"`
}

type BalanceResponse struct {
	EmployeeID string `json:"employee_id"`
	Balance    int    `json:"balance"`
}
