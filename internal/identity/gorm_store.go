package identity

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// GormUserStore implements UserStore using GORM.
type GormUserStore struct {
	db *gorm.DB
}

// NewGormUserStore creates a new GORM-based user store.
func NewGormUserStore(db *gorm.DB) *GormUserStore {
	return &GormUserStore{db: db}
}

// GetUser retrieves a user by ID.
func (s *GormUserStore) GetUser(ctx context.Context, id int64) (*User, error) {
	var user User
	result := s.db.WithContext(ctx).First(&user, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, result.Error
	}
	return &user, nil
}
