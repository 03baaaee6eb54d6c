package models

import (
	"context"

	"github.com/mmdatafocus/macantine_backend/utils"
	"gorm.io/gorm"
)

// Authorizable resources belong to a canteen whose managers may act on them.
type Authorizable interface {
	AuthorizationCanteenId() int
}

// Auditable resources are referenced by history records.
type Auditable interface {
	HistoryReference() (referenceType string, referenceId int)
}

func authorizeManager(ctx context.Context, tx *gorm.DB, subject Authorizable, user *User) error {
	if user == nil {
		return &utils.AuthorizationError{}
	}
	ok, err := IsCanteenManager(ctx, tx, subject.AuthorizationCanteenId(), user.ID)
	if err != nil {
		return err
	}
	if !ok {
		return &utils.AuthorizationError{}
	}
	return nil
}
