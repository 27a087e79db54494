package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserStatus enumerates the lifecycle states of an account. Accounts are
// never hard-deleted; archival is a status transition.
type UserStatus string

const (
	StatusActive          UserStatus = "active"
	StatusBlocked         UserStatus = "blocked"
	StatusPendingApproval UserStatus = "pending_approval"
	StatusPendingTelegram UserStatus = "pending_telegram"
	StatusArchived        UserStatus = "archived"
)

// User describes an operator or admin account. Effective permissions derive
// from the assigned role plus per-user overrides (see UserPermission).
type User struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	Username string `gorm:"uniqueIndex;not null" json:"username"`
	Password string `gorm:"not null" json:"-"`

	// SecretWord holds the hashed step-up secret, empty when unset.
	SecretWord string `json:"-"`

	RoleID string `gorm:"type:uuid;not null;index" json:"role_id"`
	Role   *Role  `gorm:"foreignKey:RoleID" json:"role,omitempty"`

	Status UserStatus `gorm:"not null;default:pending_approval;index" json:"status"`
	IsRoot bool       `gorm:"default:false" json:"is_root"`

	DeviceLimit   int     `gorm:"default:1" json:"device_limit"`
	LoginAttempts int     `gorm:"default:0" json:"-"`
	LockReason    *string `json:"-"`

	TelegramChatID   *int64 `gorm:"index" json:"telegram_chat_id"`
	TelegramUsername string `json:"telegram_username"`

	PreferredCurrency string `json:"preferred_currency"`

	Locations []Location `gorm:"many2many:user_locations;" json:"locations,omitempty"`
	Overrides []UserPermission `gorm:"foreignKey:UserID" json:"overrides,omitempty"`
	Sessions  []Session        `gorm:"foreignKey:UserID" json:"-"`

	LastLoginAt *time.Time `json:"last_login_at"`
	LastLoginIP string     `json:"last_login_ip"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// HasTelegramBinding reports whether an out-of-band channel is bound.
func (u *User) HasTelegramBinding() bool {
	return u.TelegramChatID != nil && *u.TelegramChatID != 0
}
