package store

import (
	"context"
	"strconv"

	"questlog/model"
	"questlog/ownership"

	"gorm.io/gorm"
)

// GormDirectory lists accounts as ownership users.
type GormDirectory struct {
	db *gorm.DB
}

// NewGormDirectory creates a user directory over the accounts table.
func NewGormDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

func (d *GormDirectory) Users(ctx context.Context) ([]ownership.User, error) {
	var accounts []model.Account
	if err := d.db.WithContext(ctx).Where("status = 1").Find(&accounts).Error; err != nil {
		return nil, err
	}
	users := make([]ownership.User, len(accounts))
	for i, a := range accounts {
		users[i] = ownership.User{ID: strconv.FormatInt(a.ID, 10), GM: a.GM}
	}
	return users, nil
}
