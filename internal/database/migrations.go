package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/branchdesk/branchdesk/internal/models"
	"github.com/branchdesk/branchdesk/internal/permissions"
	"github.com/branchdesk/branchdesk/pkg/crypto"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Role{},
		&models.Permission{},
		&models.User{},
		&models.UserPermission{},
		&models.Location{},
		&models.Session{},
		&models.LoginChallenge{},
		&models.AuditLog{},
	)
}

// SeedData populates the permission catalog and default roles.
func SeedData(db *gorm.DB) error {
	if err := permissions.Sync(context.Background(), db); err != nil {
		return err
	}

	roles := []models.Role{
		{
			BaseModel:   models.BaseModel{ID: "admin"},
			Name:        "Administrator",
			Description: "Full system access",
			IsSystem:    true,
		},
		{
			BaseModel:        models.BaseModel{ID: "manager"},
			Name:             "Manager",
			Description:      "Dashboard and report review access",
			IsSystem:         true,
			RequiresBrand:    true,
			RequiresLocation: false,
		},
		{
			BaseModel:        models.BaseModel{ID: "operator"},
			Name:             "Operator",
			Description:      "Daily report submission for assigned locations",
			IsSystem:         true,
			RequiresLocation: true,
		},
	}

	for _, role := range roles {
		if err := db.Where(models.Role{BaseModel: models.BaseModel{ID: role.ID}}).
			Attrs(role).
			FirstOrCreate(&models.Role{}).Error; err != nil {
			return err
		}
	}

	return seedRolePermissions(db)
}

// seedRolePermissions attaches the default grant sets to freshly created
// system roles. Roles that already have grants are left untouched so admin
// edits survive restarts.
func seedRolePermissions(db *gorm.DB) error {
	defaults := map[string][]string{
		"admin": allPermissionIDs(),
		"manager": {
			"reports.view_all", "reports.export",
			"dashboard.view", "kpi.view", "audit.view",
		},
		"operator": {
			"reports.view_own", "reports.create", "reports.edit",
		},
	}

	for roleID, permIDs := range defaults {
		var role models.Role
		if err := db.Preload("Permissions").First(&role, "id = ?", roleID).Error; err != nil {
			return fmt.Errorf("seed role permissions: load %s: %w", roleID, err)
		}
		if len(role.Permissions) > 0 {
			continue
		}

		var perms []models.Permission
		if err := db.Where("id IN ?", permIDs).Find(&perms).Error; err != nil {
			return fmt.Errorf("seed role permissions: load permissions: %w", err)
		}

		if err := db.Model(&role).Association("Permissions").Replace(&perms); err != nil {
			return fmt.Errorf("seed role permissions: assign %s: %w", roleID, err)
		}
	}

	return nil
}

func allPermissionIDs() []string {
	defs := permissions.All()
	ids := make([]string, 0, len(defs))
	for _, def := range defs {
		ids = append(ids, def.ID)
	}
	return ids
}

// EnsureRootUser creates the bootstrap admin account when it does not exist.
// The root user is exempt from the mandatory Telegram-enrollment gate.
func EnsureRootUser(db *gorm.DB, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || strings.TrimSpace(password) == "" {
		return nil
	}

	var existing models.User
	err := db.Where("is_root = ?", true).Take(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("ensure root user: %w", err)
	}

	hashed, err := crypto.HashPassword(password)
	if err != nil {
		return fmt.Errorf("ensure root user: hash password: %w", err)
	}

	root := models.User{
		Username:    username,
		Password:    hashed,
		RoleID:      "admin",
		Status:      models.StatusActive,
		IsRoot:      true,
		DeviceLimit: 5,
	}

	if err := db.Create(&root).Error; err != nil {
		return fmt.Errorf("ensure root user: create: %w", err)
	}

	return nil
}
