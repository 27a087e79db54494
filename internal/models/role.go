package models

type Role struct {
	BaseModel

	Name        string `gorm:"uniqueIndex;not null" json:"name"`
	Description string `json:"description"`
	IsSystem    bool   `gorm:"default:false" json:"is_system"`

	// Assignment requirements consumed by the reporting collaborators.
	RequiresLocation bool `gorm:"default:false" json:"requires_location"`
	RequiresBrand    bool `gorm:"default:false" json:"requires_brand"`

	Permissions []Permission `gorm:"many2many:role_permissions;" json:"permissions,omitempty"`
	Users       []User       `gorm:"foreignKey:RoleID" json:"users,omitempty"`
}
