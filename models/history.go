package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/mmdatafocus/macantine_backend/config"
	"github.com/mmdatafocus/macantine_backend/utils"
	"gorm.io/gorm"
)

type History struct {
	ID            int       `gorm:"primary_key" json:"id"`
	ActionType    string    `gorm:"size:10;not null" json:"action_type"`
	Before        string    `gorm:"type:text" json:"before"`
	After         string    `gorm:"type:text" json:"after"`
	Description   string    `gorm:"type:text;not null" json:"description"`
	ReferenceID   int       `gorm:"index:idx_history_reference,priority:2" json:"reference_id"`
	ReferenceType string    `gorm:"size:255;index:idx_history_reference,priority:1" json:"reference_type"`
	UserId        int       `gorm:"index;not null" json:"user_id"`
	UserName      string    `gorm:"size:150" json:"user_name"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func createHistory(tx *gorm.DB,
	actionType string,
	subject Auditable,
	before interface{},
	after interface{},
	description string) (err error) {

	var history History

	b, _ := json.Marshal(before)
	a, _ := json.Marshal(after)

	ctx := tx.Statement.Context
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return errors.New("user id is required")
	}
	userName, _ := utils.GetUserNameFromContext(ctx)

	referenceType, referenceId := subject.HistoryReference()

	history.ActionType = actionType
	if before != nil {
		history.Before = string(b)
	}
	if after != nil {
		history.After = string(a)
	}
	history.Description = description
	history.ReferenceID = referenceId
	history.ReferenceType = referenceType
	history.UserId = userId
	history.UserName = userName

	return tx.Create(&history).Error
}

func SaveHistoryCreate(tx *gorm.DB, subject Auditable, description string) error {
	return createHistory(tx, HistoryActionCreate, subject, nil, subject, description)
}

func SaveHistoryUpdate(tx *gorm.DB, subject Auditable, before interface{}, description string) error {
	return createHistory(tx, HistoryActionUpdate, subject, before, subject, description)
}

func GetHistories(ctx context.Context, referenceType string, referenceId int) ([]*History, error) {
	var results []*History
	err := config.GetDB().WithContext(ctx).
		Where("reference_type = ? AND reference_id = ?", referenceType, referenceId).
		Order("id DESC").
		Find(&results).Error
	return results, err
}
