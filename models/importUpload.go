package models

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/macantine_backend/config"
)

const importLockTTL = 5 * time.Minute

const (
	msgImportInProgress    = "Un import est déjà en cours, merci de patienter."
	msgImportDuplicateFile = "Ce fichier a déjà été utilisé pour un import"
)

var errImportRejected = errors.New("import rejected")

// importUpload is an uploaded file read into memory, hashed, and locked for its user.
type importUpload struct {
	Filename string
	Data     []byte
	Hash     string
	lock     *redislock.Lock
}

func tooLargeMessage(maxSize int64) string {
	return fmt.Sprintf("Ce fichier est trop grand, merci d'utiliser un fichier de moins de %dMo", maxSize/(1<<20))
}

// readImportUpload runs the checks every import shares. A non-empty message
// rejects the whole file; the caller must release the upload otherwise.
func readImportUpload(ctx context.Context, user *User, maxSize int64, filename string, size int64, file io.Reader) (*importUpload, string) {
	if size > maxSize {
		return nil, tooLargeMessage(maxSize)
	}
	data, err := io.ReadAll(io.LimitReader(file, maxSize+1))
	if err != nil {
		config.LogError(config.GetLogger(), "Import", "readImportUpload", "read", filename, err)
		return nil, msgImportUnreadable
	}
	if int64(len(data)) > maxSize {
		return nil, tooLargeMessage(maxSize)
	}

	lock, err := config.ObtainLock(ctx, fmt.Sprintf("import:%d", user.ID), importLockTTL)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, msgImportInProgress
	}

	sum := md5.Sum(data)
	return &importUpload{
		Filename: filename,
		Data:     data,
		Hash:     hex.EncodeToString(sum[:]),
		lock:     lock,
	}, ""
}

func (u *importUpload) release(ctx context.Context) {
	config.ReleaseLock(ctx, u.lock)
}

func fileRowError(message string) []ImportRowError {
	return []ImportRowError{{Row: 0, Status: 400, Message: message}}
}
