package enums

import "slices"

// CommandDLQReason maps to the command_dlq_reason_enum in Postgres.
type CommandDLQReason string

const (
	CommandDLQReasonDecode           CommandDLQReason = "decode_error"
	CommandDLQReasonAttributeMissing CommandDLQReason = "attribute_missing"
	CommandDLQReasonTypeMismatch     CommandDLQReason = "type_mismatch"
	CommandDLQReasonUnknownCommand   CommandDLQReason = "unknown_command"
	CommandDLQReasonInvalidPayload   CommandDLQReason = "invalid_payload"
)

var validCommandDLQReasons = []CommandDLQReason{
	CommandDLQReasonDecode,
	CommandDLQReasonAttributeMissing,
	CommandDLQReasonTypeMismatch,
	CommandDLQReasonUnknownCommand,
	CommandDLQReasonInvalidPayload,
}

func (r CommandDLQReason) IsValid() bool { return slices.Contains(validCommandDLQReasons, r) }

func ParseCommandDLQReason(value string) (CommandDLQReason, error) {
	return parse("command dlq reason", value, validCommandDLQReasons)
}
