package models

// OverrideType distinguishes per-user permission overrides.
type OverrideType string

const (
	// OverrideAdditional grants a permission beyond the user's role.
	OverrideAdditional OverrideType = "additional"
	// OverrideRestricted revokes a permission the role would otherwise grant.
	// Restriction always wins when both rows exist for the same permission.
	OverrideRestricted OverrideType = "restricted"
)

// UserPermission is a per-user override edge against the permission catalog.
type UserPermission struct {
	BaseModel

	UserID       string       `gorm:"type:uuid;not null;uniqueIndex:idx_user_perm_type" json:"user_id"`
	PermissionID string       `gorm:"not null;uniqueIndex:idx_user_perm_type" json:"permission_id"`
	Type         OverrideType `gorm:"not null;uniqueIndex:idx_user_perm_type" json:"type"`
}
