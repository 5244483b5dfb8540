package model

import (
	"time"

	"gorm.io/datatypes"
)

// OutboxEvent is a completion event written in the same database
// transaction as the mutation it describes and relayed after commit.
type OutboxEvent struct {
	ID          uint64            `gorm:"primaryKey"`
	EventID     string            `gorm:"size:64;not null;uniqueIndex"`
	Topic       string            `gorm:"size:128;not null"`
	AggregateID string            `gorm:"size:64;not null;index"`
	EventType   string            `gorm:"size:64;not null"`
	Payload     string            `gorm:"type:text;not null"`
	Headers     datatypes.JSONMap
	Attempts    int               `gorm:"not null;default:0"`
	LastError   string            `gorm:"size:512"`
	CreatedAt   time.Time         `gorm:"autoCreateTime"`
	Processed   bool              `gorm:"not null;default:false;index"`
	ProcessedAt *time.Time
}

func (OutboxEvent) TableName() string { return "event_outbox" }
