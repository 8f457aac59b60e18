package user

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"gameconnect/infrastructure"
	"gameconnect/internal/database"
)

// Directory resolves user identities. It fronts the external user service's
// table; the messaging core never mutates it.
type Directory interface {
	// Resolve returns the user for id, or a NotFound error.
	Resolve(ctx context.Context, id string) (*User, error)
}

type GormDirectory struct {
	db *database.Database
}

func NewGormDirectory(db *database.Database) *GormDirectory {
	return &GormDirectory{db: db}
}

func (d *GormDirectory) Resolve(ctx context.Context, id string) (*User, error) {
	var u User
	err := d.db.WithContext(ctx).First(&u, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, infrastructure.NotFound("user %s not found", id)
	}
	if err != nil {
		return nil, infrastructure.Internal(err, "failed to resolve user %s", id)
	}
	return &u, nil
}
