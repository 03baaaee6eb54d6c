package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mmdatafocus/macantine_backend/config"
	"github.com/mmdatafocus/macantine_backend/utils"
	"gorm.io/gorm"
)

// Outbox publish statuses for OutboxMessage.PublishStatus.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// OutboxMessage is written in the same transaction as the change it announces
// and published to Pub/Sub after commit by the dispatcher.
type OutboxMessage struct {
	ID               int        `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	EventType        string     `gorm:"size:50;not null;index" json:"event_type"`
	ReferenceId      int        `gorm:"index:idx_outbox_reference,priority:2" json:"reference_id"`
	ReferenceType    string     `gorm:"size:50;index:idx_outbox_reference,priority:1" json:"reference_type"`
	Payload          []byte     `gorm:"type:blob" json:"payload"`
	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	CorrelationId    string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func enqueueOutbox(tx *gorm.DB, eventType string, subject Auditable, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	referenceType, referenceId := subject.HistoryReference()
	correlationId, _ := utils.GetCorrelationIdFromContext(tx.Statement.Context)

	record := OutboxMessage{
		EventType:     eventType,
		ReferenceId:   referenceId,
		ReferenceType: referenceType,
		Payload:       data,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationId,
	}
	return tx.Create(&record).Error
}

func (record OutboxMessage) DomainEvent() config.DomainEvent {
	return config.DomainEvent{
		ID:            record.ID,
		EventType:     record.EventType,
		ReferenceId:   record.ReferenceId,
		ReferenceType: record.ReferenceType,
		OccurredAt:    record.CreatedAt,
		Payload:       json.RawMessage(record.Payload),
		CorrelationId: record.CorrelationId,
	}
}

// ReplayDeadOutbox puts DEAD messages back in the queue. An empty event type
// replays every dead message.
func ReplayDeadOutbox(ctx context.Context, eventType string) (int64, error) {
	dbCtx := config.GetDB().WithContext(ctx).
		Model(&OutboxMessage{}).
		Where("publish_status = ?", OutboxPublishStatusDead)
	if eventType != "" {
		dbCtx = dbCtx.Where("event_type = ?", eventType)
	}
	res := dbCtx.Updates(map[string]interface{}{
		"publish_status":   OutboxPublishStatusPending,
		"publish_attempts": 0,
		"next_attempt_at":  nil,
		"locked_at":        nil,
		"locked_by":        nil,
	})
	return res.RowsAffected, res.Error
}
