package taskname

const (
	// Withdrawal tasks
	WithdrawalDistribute = "withdrawal:distribute"

	// Notification tasks
	NotifyWithdrawalSettled = "notify:withdrawal:settled"
)
