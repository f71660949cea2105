package model

import (
	"time"

	"github.com/google/uuid"
)

type UserStatus string

const (
	StatusOnline  UserStatus = "online"
	StatusOffline UserStatus = "offline"
)

// User is the platform-side record backing presence lookups and REST
// authentication. The relay itself never reads this table; it mirrors
// status transitions into it through the presence store.
type User struct {
	ID          uuid.UUID  `json:"id" gorm:"type:uuid;primary_key;"`
	UserID      string     `json:"user_id" gorm:"uniqueIndex"`
	DisplayName string     `json:"display_name"`
	APIKey      string     `json:"-"`
	Status      UserStatus `json:"status"`
	LastSeen    *time.Time `json:"last_seen"`
	CreatedAt   time.Time  `json:"created_at"`
}

func CreateUser(userID, displayName, hashedAPIKey string) *User {
	return &User{
		ID:          uuid.New(),
		UserID:      userID,
		DisplayName: displayName,
		APIKey:      hashedAPIKey,
		Status:      StatusOffline,
		CreatedAt:   time.Now().UTC(),
	}
}
