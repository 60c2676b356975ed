package enums

import "slices"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregatePet OutboxAggregateType = "pet"
)

var validAggregateTypes = []OutboxAggregateType{AggregatePet}

func (a OutboxAggregateType) IsValid() bool { return slices.Contains(validAggregateTypes, a) }

func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return parse("aggregate type", value, validAggregateTypes)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventPetCreated OutboxEventType = "pet_created"
)

var validOutboxEventTypes = []OutboxEventType{EventPetCreated}

func (e OutboxEventType) IsValid() bool { return slices.Contains(validOutboxEventTypes, e) }

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return parse("event type", value, validOutboxEventTypes)
}

// OutboxDLQErrorReason maps to the outbox_dlq_error_reason_enum in Postgres.
type OutboxDLQErrorReason string

const (
	// OutboxDLQReasonMaxAttempts marks confirmations that kept failing to publish.
	OutboxDLQReasonMaxAttempts OutboxDLQErrorReason = "max_attempts"
	// OutboxDLQReasonNonRetryable marks confirmations that can never be resolved or delivered.
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

var validOutboxDLQErrorReasons = []OutboxDLQErrorReason{
	OutboxDLQReasonMaxAttempts,
	OutboxDLQReasonNonRetryable,
}

func (r OutboxDLQErrorReason) IsValid() bool {
	return slices.Contains(validOutboxDLQErrorReasons, r)
}

func ParseOutboxDLQErrorReason(value string) (OutboxDLQErrorReason, error) {
	return parse("outbox dlq reason", value, validOutboxDLQErrorReasons)
}
