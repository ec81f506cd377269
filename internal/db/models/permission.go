// Package models - permission.go defines the closed module/action enumeration and the
// PermissionMatrix value type attached to every role. Unknown modules or actions are a
// construction-time error, never a silent deny.
package models

// ModuleName identifies a feature area subject to permission gating.
type ModuleName string

// The fixed set of gated feature areas. Adding a module here requires a
// corresponding migration of stored matrices (missing entries read as false).
const (
	ModuleDashboard          ModuleName = "dashboard"
	ModuleProjects           ModuleName = "projects"
	ModuleClients            ModuleName = "clients"
	ModuleSalesAllocation    ModuleName = "salesAllocation"
	ModuleFeesCollection     ModuleName = "feesCollection"
	ModuleAccounting         ModuleName = "accounting"
	ModuleReports            ModuleName = "reports"
	ModuleMarketers          ModuleName = "marketers"
	ModuleCRMPipelines       ModuleName = "crmPipelines"
	ModuleDocumentManager    ModuleName = "documentManager"
	ModuleCalendarScheduling ModuleName = "calendarScheduling"
	ModuleSettings           ModuleName = "settings"
	ModuleReferralProgram    ModuleName = "referralProgram"
	ModuleSendNotice         ModuleName = "sendNotice"
)

// AllModules lists every gated module in stable order. Handlers and the
// validation engine iterate this slice rather than ranging over a map so JSON
// output and matrix expansion are deterministic.
var AllModules = []ModuleName{
	ModuleDashboard,
	ModuleProjects,
	ModuleClients,
	ModuleSalesAllocation,
	ModuleFeesCollection,
	ModuleAccounting,
	ModuleReports,
	ModuleMarketers,
	ModuleCRMPipelines,
	ModuleDocumentManager,
	ModuleCalendarScheduling,
	ModuleSettings,
	ModuleReferralProgram,
	ModuleSendNotice,
}

// ValidModule reports whether m names a known module.
func ValidModule(m ModuleName) bool {
	for _, known := range AllModules {
		if m == known {
			return true
		}
	}
	return false
}

// Action is one of the four capabilities a role can hold on a module.
type Action string

const (
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// AllActions lists the four actions in stable order.
var AllActions = []Action{ActionView, ActionCreate, ActionEdit, ActionDelete}

// ValidAction reports whether a names a known action.
func ValidAction(a Action) bool {
	switch a {
	case ActionView, ActionCreate, ActionEdit, ActionDelete:
		return true
	}
	return false
}

// ModulePermissions holds the four capability bits for a single module.
type ModulePermissions struct {
	View   bool `json:"view"`
	Create bool `json:"create"`
	Edit   bool `json:"edit"`
	Delete bool `json:"delete"`
}

// Allows returns the bit for the given action.
func (p ModulePermissions) Allows(a Action) bool {
	switch a {
	case ActionView:
		return p.View
	case ActionCreate:
		return p.Create
	case ActionEdit:
		return p.Edit
	case ActionDelete:
		return p.Delete
	}
	return false
}

// HasWrite reports whether any of create/edit/delete is granted.
func (p ModulePermissions) HasWrite() bool {
	return p.Create || p.Edit || p.Delete
}

// PermissionMatrix is the full module×action capability table attached to a
// Role. It is a value type: copied freely, never referenced by identity.
// Modules absent from the map read as all-false.
type PermissionMatrix map[ModuleName]ModulePermissions

// Allows returns the capability bit for (module, action). Unknown modules read
// as false; callers are expected to validate module/action names first so a
// false here always means "not granted", not "malformed request".
func (m PermissionMatrix) Allows(module ModuleName, action Action) bool {
	return m[module].Allows(action)
}

// Normalize returns a copy of the matrix with every known module present, so
// serialized matrices always carry all 56 bits explicitly.
func (m PermissionMatrix) Normalize() PermissionMatrix {
	out := make(PermissionMatrix, len(AllModules))
	for _, mod := range AllModules {
		out[mod] = m[mod]
	}
	return out
}

// Merge overlays the bits in patch onto a copy of m, at module granularity.
// It is the in-memory analogue of the field-level SQL merge the role
// repository performs; the two must agree.
func (m PermissionMatrix) Merge(patch PermissionMatrix) PermissionMatrix {
	out := make(PermissionMatrix, len(m)+len(patch))
	for mod, perms := range m {
		out[mod] = perms
	}
	for mod, perms := range patch {
		out[mod] = perms
	}
	return out
}

// Coverage returns how many of the 56 capability bits are set.
func (m PermissionMatrix) Coverage() int {
	n := 0
	for _, mod := range AllModules {
		perms := m[mod]
		for _, a := range AllActions {
			if perms.Allows(a) {
				n++
			}
		}
	}
	return n
}

// FullAccessMatrix returns a matrix with every bit granted.
func FullAccessMatrix() PermissionMatrix {
	all := ModulePermissions{View: true, Create: true, Edit: true, Delete: true}
	out := make(PermissionMatrix, len(AllModules))
	for _, mod := range AllModules {
		out[mod] = all
	}
	return out
}

// ViewOnlyMatrix returns a matrix granting only the view bit on every module.
func ViewOnlyMatrix() PermissionMatrix {
	out := make(PermissionMatrix, len(AllModules))
	for _, mod := range AllModules {
		out[mod] = ModulePermissions{View: true}
	}
	return out
}
