package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Session is the authoritative persisted record of a logged-in principal.
// Token is the opaque reference presented by the client; Snapshot is the
// materialized {identity, role, locations, permissions} blob computed at
// login or refresh time, never per request. A session is live while the row
// exists and ExpiresAt is in the future; destruction is a hard delete.
type Session struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	Token  string `gorm:"uniqueIndex;not null" json:"-"`
	UserID string `gorm:"type:uuid;not null;index" json:"user_id"`
	User   *User  `gorm:"foreignKey:UserID" json:"user,omitempty"`

	Snapshot datatypes.JSON `json:"snapshot"`

	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`

	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	ExpiresAt  time.Time `gorm:"index" json:"expires_at"`
}

func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}
