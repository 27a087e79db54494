package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/branchdesk/branchdesk/internal/audit"
	iauth "github.com/branchdesk/branchdesk/internal/auth"
	"github.com/branchdesk/branchdesk/internal/handlers"
	"github.com/branchdesk/branchdesk/internal/middleware"
	"github.com/branchdesk/branchdesk/internal/services"
)

// Dependencies carries the wired services the router mounts handlers on.
type Dependencies struct {
	DB        *gorm.DB
	Login     *iauth.LoginService
	Sessions  *iauth.SessionService
	Users     *services.UserService
	Roles     *services.RoleService
	Locations *services.LocationService
	Audit     *audit.Service
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if deps.DB == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if deps.Login == nil || deps.Sessions == nil {
		return nil, fmt.Errorf("auth services must be provided")
	}
	if deps.Users == nil || deps.Roles == nil || deps.Locations == nil {
		return nil, fmt.Errorf("admin services must be provided")
	}
	if deps.Audit == nil {
		return nil, fmt.Errorf("audit service must be provided")
	}

	r := gin.New()

	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	r.GET("/health", handlers.Health())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authHandler := handlers.NewAuthHandler(deps.DB, deps.Login, deps.Sessions, deps.Users, deps.Audit)

	// Public auth routes
	auth := r.Group("/api/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.GET("/confirm/:token", authHandler.Confirm)
		auth.POST("/register", authHandler.Register)
	}

	requireAuth := middleware.SessionAuth(deps.Sessions, deps.DB)

	api := r.Group("/api")
	api.Use(requireAuth)

	api.GET("/auth/me", authHandler.Me)
	api.POST("/auth/logout", authHandler.Logout)

	userHandler := handlers.NewUserHandler(deps.Users)
	sessionHandler := handlers.NewSessionHandler(deps.Sessions, deps.Users)

	users := api.Group("/users")
	{
		users.GET("", middleware.RequireAnyPermission("users.view", "users.manage"), userHandler.List)
		users.GET("/:id", middleware.RequireAnyPermission("users.view", "users.manage"), userHandler.Get)
		users.POST("", middleware.RequireAnyPermission("users.manage"), userHandler.Create)
		users.PATCH("/:id", middleware.RequireAnyPermission("users.manage"), userHandler.Update)
		users.PUT("/:id/role", middleware.RequireAnyPermission("users.manage"), userHandler.SetRole)
		users.PUT("/:id/status", middleware.RequireAnyPermission("users.manage"), userHandler.SetStatus)
		users.POST("/:id/unlock", middleware.RequireAnyPermission("users.manage"), userHandler.Unlock)
		users.PUT("/:id/device-limit", middleware.RequireAnyPermission("users.manage"), userHandler.SetDeviceLimit)
		users.PUT("/:id/telegram", middleware.RequireAnyPermission("users.manage"), userHandler.BindTelegram)
		users.PUT("/:id/locations", middleware.RequireAnyPermission("users.manage"), userHandler.SetLocations)
		users.PUT("/:id/permissions", middleware.RequireAnyPermission("users.manage"), userHandler.SetPermissionOverrides)
		users.GET("/:id/sessions", middleware.RequireAnyPermission("sessions.manage"), sessionHandler.ListForUser)
		users.DELETE("/:id/sessions", middleware.RequireAnyPermission("sessions.manage"), userHandler.TerminateSessions)
	}

	api.DELETE("/sessions/:id", middleware.RequireAnyPermission("sessions.manage"), sessionHandler.Revoke)

	roleHandler := handlers.NewRoleHandler(deps.Roles)
	roles := api.Group("/roles")
	{
		roles.GET("", middleware.RequireAnyPermission("users.view", "roles.manage"), roleHandler.List)
		roles.GET("/:id", middleware.RequireAnyPermission("users.view", "roles.manage"), roleHandler.Get)
		roles.POST("", middleware.RequireAnyPermission("roles.manage"), roleHandler.Create)
		roles.PATCH("/:id", middleware.RequireAnyPermission("roles.manage"), roleHandler.Update)
		roles.PUT("/:id/permissions", middleware.RequireAnyPermission("roles.manage"), roleHandler.SetPermissions)
		roles.DELETE("/:id", middleware.RequireAnyPermission("roles.manage"), roleHandler.Delete)
	}

	locationHandler := handlers.NewLocationHandler(deps.Locations)
	locations := api.Group("/locations")
	{
		locations.GET("", locationHandler.List)
		locations.POST("", middleware.RequireAnyPermission("locations.manage"), locationHandler.Create)
		locations.PATCH("/:id", middleware.RequireAnyPermission("locations.manage"), locationHandler.Update)
		locations.DELETE("/:id", middleware.RequireAnyPermission("locations.manage"), locationHandler.Delete)
	}

	permissionHandler := handlers.NewPermissionHandler()
	api.GET("/permissions", middleware.RequireAnyPermission("roles.manage", "users.manage"), permissionHandler.List)

	auditHandler := handlers.NewAuditHandler(deps.Audit)
	api.GET("/audit", middleware.RequireAnyPermission("audit.view"), auditHandler.List)

	return r, nil
}
