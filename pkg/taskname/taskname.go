package taskname

const (
	// Ledger tasks
	LoyaltyPointsExpire = "loyalty:points:expire"

	// Saga tasks
	SagaCreationDeadline = "saga:creation:deadline"
)

// Queues
const (
	QueueCritical   = "critical"
	QueueExpiration = "expiration"
	QueueDefault    = "default"
)
