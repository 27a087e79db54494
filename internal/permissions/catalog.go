package permissions

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Definition describes a permission known to the platform. The catalog is the
// universe admins draw from when editing roles; the resolver itself treats
// override keys as opaque strings and does not validate against it.
type Definition struct {
	ID          string
	Module      string
	Description string
}

type catalog struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

var globalCatalog = &catalog{defs: make(map[string]Definition)}

var (
	errEmptyID     = errors.New("permission: id is required")
	errDuplicateID = errors.New("permission: already registered")
)

// Register adds a permission definition to the global catalog.
func Register(def Definition) error {
	id := strings.TrimSpace(def.ID)
	if id == "" {
		return errEmptyID
	}
	def.ID = id
	def.Module = strings.TrimSpace(def.Module)

	globalCatalog.mu.Lock()
	defer globalCatalog.mu.Unlock()

	if _, exists := globalCatalog.defs[id]; exists {
		return fmt.Errorf("%w: %s", errDuplicateID, id)
	}

	globalCatalog.defs[id] = def
	return nil
}

// MustRegister registers a definition and panics on conflict. Used for the
// built-in catalog below, where a duplicate is a programming error.
func MustRegister(def Definition) {
	if err := Register(def); err != nil {
		panic(err)
	}
}

// Get returns the definition for the given id when registered.
func Get(id string) (Definition, bool) {
	globalCatalog.mu.RLock()
	defer globalCatalog.mu.RUnlock()

	def, ok := globalCatalog.defs[id]
	return def, ok
}

// All returns every registered definition sorted by id.
func All() []Definition {
	globalCatalog.mu.RLock()
	defer globalCatalog.mu.RUnlock()

	out := make([]Definition, 0, len(globalCatalog.defs))
	for _, def := range globalCatalog.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func init() {
	for _, def := range []Definition{
		{ID: "reports.view_own", Module: "reports", Description: "View reports for assigned locations"},
		{ID: "reports.view_all", Module: "reports", Description: "View reports for every location"},
		{ID: "reports.create", Module: "reports", Description: "Submit daily reports"},
		{ID: "reports.edit", Module: "reports", Description: "Edit submitted reports"},
		{ID: "reports.export", Module: "reports", Description: "Export reports"},
		{ID: "dashboard.view", Module: "dashboard", Description: "View dashboards"},
		{ID: "kpi.view", Module: "dashboard", Description: "View KPI summaries"},
		{ID: "users.view", Module: "admin", Description: "View user accounts"},
		{ID: "users.manage", Module: "admin", Description: "Create and modify user accounts"},
		{ID: "roles.manage", Module: "admin", Description: "Manage roles and role permissions"},
		{ID: "locations.manage", Module: "admin", Description: "Manage locations and assignments"},
		{ID: "sessions.manage", Module: "admin", Description: "Inspect and terminate live sessions"},
		{ID: "audit.view", Module: "admin", Description: "View the audit log"},
	} {
		MustRegister(def)
	}
}
