package models

// Location is a branch/location users can be assigned to. Assignments are
// part of the session snapshot consumed by the reporting collaborators.
type Location struct {
	BaseModel

	Name  string `gorm:"uniqueIndex;not null" json:"name"`
	Brand string `gorm:"index" json:"brand"`

	Users []User `gorm:"many2many:user_locations;" json:"users,omitempty"`
}
