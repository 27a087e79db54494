package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LoginChallenge is an ephemeral out-of-band confirmation request issued when
// a login hits the device limit. It is consumed exactly once: confirmation
// deletes the row, so a replayed link fails even within the TTL window.
type LoginChallenge struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID string `gorm:"type:uuid;not null;index" json:"user_id"`
	User   *User  `gorm:"foreignKey:UserID" json:"user,omitempty"`

	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
}

func (c *LoginChallenge) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
