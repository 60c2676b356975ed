package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/petstore-backend/pkg/enums"
)

// CommandDLQ keeps stream records that can never be applied.
type CommandDLQ struct {
	ID           uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	Topic        string                 `gorm:"column:topic;not null;uniqueIndex:ux_command_dlq_coordinates"`
	Partition    int32                  `gorm:"column:partition;not null;uniqueIndex:ux_command_dlq_coordinates"`
	Offset       int64                  `gorm:"column:record_offset;not null;uniqueIndex:ux_command_dlq_coordinates"`
	RecordKey    []byte                 `gorm:"column:record_key"`
	RawValue     []byte                 `gorm:"column:raw_value"`
	CommandName  *string                `gorm:"column:command_name"`
	CommandID    *uuid.UUID             `gorm:"column:command_id;type:uuid"`
	ErrorReason  enums.CommandDLQReason `gorm:"column:error_reason;type:command_dlq_reason_enum;not null"`
	ErrorMessage *string                `gorm:"column:error_message"`
	FailedAt     time.Time              `gorm:"column:failed_at;autoCreateTime"`
}

func (CommandDLQ) TableName() string { return "command_dlq" }
