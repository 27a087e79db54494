package models

// Permission is a catalog entry keyed by its string id (e.g. "reports.view_all").
// Permissions are seeded from the code registry and never deleted.
type Permission struct {
	BaseModel

	Module      string `gorm:"not null;index" json:"module"`
	Description string `json:"description"`

	Roles []Role `gorm:"many2many:role_permissions;" json:"roles,omitempty"`
}
