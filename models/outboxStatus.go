package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/macantine_backend/config"
	"github.com/mmdatafocus/macantine_backend/utils"
	"gorm.io/gorm"
)

// OutboxStatus is the latest outbox row announcing a change of a record.
type OutboxStatus struct {
	RecordId         int        `json:"recordId"`
	EventType        string     `json:"eventType"`
	ReferenceType    string     `json:"referenceType"`
	ReferenceId      int        `json:"referenceId"`
	PublishStatus    string     `json:"publishStatus"`
	PublishAttempts  int        `json:"publishAttempts"`
	NextAttemptAt    *time.Time `json:"nextAttemptAt"`
	LastPublishError *string    `json:"lastPublishError"`
	PubSubMessageId  *string    `json:"pubsubMessageId"`
	CreatedAt        time.Time  `json:"createdAt"`
	PublishedAt      *time.Time `json:"publishedAt"`
}

func GetOutboxStatus(ctx context.Context, referenceType string, referenceId int) (*OutboxStatus, error) {
	var rec OutboxMessage
	err := config.GetDB().WithContext(ctx).
		Where("reference_type = ? AND reference_id = ?", referenceType, referenceId).
		Order("id DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &OutboxStatus{
		RecordId:         rec.ID,
		EventType:        rec.EventType,
		ReferenceType:    rec.ReferenceType,
		ReferenceId:      rec.ReferenceId,
		PublishStatus:    rec.PublishStatus,
		PublishAttempts:  rec.PublishAttempts,
		NextAttemptAt:    rec.NextAttemptAt,
		LastPublishError: rec.LastPublishError,
		PubSubMessageId:  rec.PubSubMessageId,
		CreatedAt:        rec.CreatedAt,
		PublishedAt:      rec.PublishedAt,
	}, nil
}

// RequeueOutbox makes the unsent messages of a record eligible for the next dispatch.
func RequeueOutbox(ctx context.Context, referenceType string, referenceId int) (*OutboxStatus, error) {
	res := config.GetDB().WithContext(ctx).
		Model(&OutboxMessage{}).
		Where("reference_type = ? AND reference_id = ? AND publish_status <> ?", referenceType, referenceId, OutboxPublishStatusSent).
		Updates(map[string]interface{}{
			"locked_at":       nil,
			"locked_by":       nil,
			"publish_status":  OutboxPublishStatusPending,
			"next_attempt_at": nil,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, utils.ErrorRecordNotFound
	}
	return GetOutboxStatus(ctx, referenceType, referenceId)
}
