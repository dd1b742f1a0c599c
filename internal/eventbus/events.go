package eventbus

// Event types published by the outreach engine.
const (
	CycleStarted  = "cycle.started"
	CycleFinished = "cycle.finished"
	CycleFailed   = "cycle.failed"

	DeliverySent      = "delivery.sent"
	DeliveryFailed    = "delivery.failed"
	DeliverySkipped   = "delivery.skipped"
	DeliveryRetry     = "delivery.retry"
	DeliveryDenied    = "delivery.denied"
	DeliverySuspended = "delivery.suspended"

	TaskStarted  = "task.started"
	TaskFinished = "task.finished"
	TaskFailed   = "task.failed"
	TaskSkipped  = "task.skipped"
	TaskDropped  = "task.dropped"

	NotifierQueued  = "notifier.queued"
	NotifierSent    = "notifier.sent"
	NotifierFailed  = "notifier.failed"
	NotifierDeduped = "notifier.deduped"
	NotifierDropped = "notifier.dropped"
)

// DeliveryData is the payload of delivery.* events.
type DeliveryData struct {
	TaskID    string `json:"task_id"`
	Recipient string `json:"recipient"`
	Attempt   int    `json:"attempt"`
	Decision  string `json:"decision,omitempty"`
	Error     string `json:"error,omitempty"`
}
