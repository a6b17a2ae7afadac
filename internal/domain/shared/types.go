package shared

// TaskName identifies an ingestion task. Each task owns exactly one cursor row
// and is driven by a single worker at a time.
type TaskName string

const (
	TaskPayments     TaskName = "payments"
	TaskTrustlines   TaskName = "trustlines"
	TaskAccountMerges TaskName = "account_merges"
	TaskFeeBumps     TaskName = "fee_bumps"
)

// AllTasks lists every ingestion task in a stable order.
func AllTasks() []TaskName {
	return []TaskName{TaskPayments, TaskTrustlines, TaskAccountMerges, TaskFeeBumps}
}

// OutboxStatus defines batch-event publishing states
type OutboxStatus string

const (
	OutboxStatusPending         OutboxStatus = "PENDING"
	OutboxStatusProcessed       OutboxStatus = "PROCESSED"
	OutboxStatusFailedToPublish OutboxStatus = "FAILED_TO_PUBLISH"
)
