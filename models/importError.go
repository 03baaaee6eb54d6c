package models

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/mmdatafocus/macantine_backend/config"
	"github.com/mmdatafocus/macantine_backend/utils"
)

// ImportError keeps what went wrong with a rejected import for support.
type ImportError struct {
	ID            int        `gorm:"primary_key" json:"id"`
	UserId        int        `gorm:"index;not null" json:"user_id"`
	ImportType    ImportType `gorm:"size:30;not null" json:"import_type"`
	Details       string     `gorm:"type:text" json:"details"`
	FileObjectKey string     `gorm:"size:255" json:"file_object_key"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// saveImportError is best-effort: failures are logged, the import response is unchanged.
func saveImportError(ctx context.Context, user *User, importType ImportType, filename string, data []byte, rowErrors []ImportRowError) {
	logger := config.GetLogger()

	details, _ := json.Marshal(rowErrors)
	record := ImportError{
		UserId:     user.ID,
		ImportType: importType,
		Details:    string(details),
	}

	if utils.StorageEnabled() && len(data) > 0 {
		key := fmt.Sprintf("imports/%d/%s-%s", user.ID, utils.GenerateUniqueFilename(), filepath.Base(filename))
		if err := utils.UploadBytesToGCS(ctx, key, data, "text/csv"); err != nil {
			config.LogError(logger, "Import", "saveImportError", "upload", key, err)
		} else {
			record.FileObjectKey = key
		}
	}

	if err := config.GetDB().WithContext(ctx).Create(&record).Error; err != nil {
		config.LogError(logger, "Import", "saveImportError", "create", user.ID, err)
	}
}
