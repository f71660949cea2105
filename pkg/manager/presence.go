package manager

// database mirror of relay presence; the relay stays authoritative

import (
	"log/slog"
	"time"

	"gorm.io/gorm"

	"eventlink/pkg/model"
)

type PresenceStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

func CreatePresenceStore(db *gorm.DB, logger *slog.Logger) *PresenceStore {
	return &PresenceStore{
		db:     db,
		logger: logger.With("component", "presence_store"),
	}
}

func (s *PresenceStore) SetOnline(userID string) error {
	return s.setStatus(userID, model.StatusOnline)
}

func (s *PresenceStore) SetOffline(userID string) error {
	return s.setStatus(userID, model.StatusOffline)
}

func (s *PresenceStore) setStatus(userID string, status model.UserStatus) error {
	now := time.Now().UTC()
	result := s.db.Model(&model.User{}).Where("user_id = ?", userID).Updates(map[string]interface{}{
		"status":    status,
		"last_seen": &now,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// connections are not required to have a user row; nothing to mirror
		s.logger.Debug("no user row for presence update", "userID", userID)
	}
	return nil
}
