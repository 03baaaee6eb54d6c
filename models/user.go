package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/macantine_backend/config"
	"github.com/mmdatafocus/macantine_backend/utils"
	"gorm.io/gorm"
)

// User is issued by the identity service; this service only reads it.
type User struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Username  string    `gorm:"size:150;not null;unique" json:"username"`
	Name      string    `gorm:"size:150" json:"name"`
	Email     *string   `gorm:"size:254;unique" json:"email"`
	IsStaff   bool      `gorm:"not null;default:false" json:"isStaff"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

/*
caches:
	User:$username
*/

const userCacheLifespan = time.Hour

func (user User) RemoveInstanceRedis() error {
	return config.RemoveRedisKey("User:" + user.Username)
}

// GetUserByUsername reads the cached user first, then the database.
func GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	exists, err := config.GetRedisObject("User:"+username, &user)
	if err != nil {
		// cache is best-effort
		exists = false
	}
	if exists && user.ID > 0 {
		return &user, nil
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Where("username = ?", username).Take(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	_ = config.SetRedisObject("User:"+username, &user, userCacheLifespan)
	return &user, nil
}

func GetUser(ctx context.Context, id int) (*User, error) {
	return utils.FetchSingleModel[User](ctx, id)
}

// GetSessionUser resolves the authenticated user stored in ctx by the auth middlewares.
func GetSessionUser(ctx context.Context) (*User, error) {
	if userId, ok := utils.GetUserIdFromContext(ctx); ok && userId > 0 {
		user, err := GetUser(ctx, userId)
		if err != nil {
			return nil, &utils.AuthorizationError{}
		}
		return user, nil
	}
	username, ok := utils.GetUsernameFromContext(ctx)
	if !ok || username == "" {
		return nil, &utils.AuthorizationError{}
	}
	user, err := GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, &utils.AuthorizationError{}
		}
		return nil, err
	}
	return user, nil
}

// WithUser stores the user on ctx the way history records expect it.
func WithUser(ctx context.Context, user *User) context.Context {
	ctx = utils.SetUserIdInContext(ctx, user.ID)
	ctx = utils.SetUserNameInContext(ctx, user.Name)
	return utils.SetUsernameInContext(ctx, user.Username)
}
