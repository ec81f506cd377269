// Package access implements the permission-validation decision procedure.
//
// Elevation is evaluated at request time against the actor's stored role, not
// embedded in tokens: editing a role takes effect on the next check without
// reissuing credentials. All failure paths deny, with one exception: a broken
// rate limiter lets checks through, since blocking every business operation on
// a limiter bug is worse than briefly losing the budget.
package access

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/propty-os/access-engine/internal/apperr"
	"github.com/propty-os/access-engine/internal/db/models"
	"github.com/propty-os/access-engine/internal/telemetry"
)

// RoleSource is the slice of the role store the engine reads.
type RoleSource interface {
	GetByID(ctx context.Context, companyID, id string) (*models.Role, error)
}

// Recorder accepts fire-and-forget activity events. LogActivity must never
// block or fail the caller.
type Recorder interface {
	LogActivity(ev *models.ActivityLog)
}

// CheckRequest identifies one permission check.
type CheckRequest struct {
	CompanyID string
	ActorID   string
	RoleID    string
	Module    models.ModuleName
	Action    models.Action
	IPAddress *string
	SessionID *string
}

// Decision is the outcome of one check. Elevated is reported even on denials
// so callers can apply alert-suppression rules consistently.
type Decision struct {
	Allowed  bool   `json:"allowed"`
	Elevated bool   `json:"elevated"`
	Reason   string `json:"reason,omitempty"`
}

// Engine evaluates permission checks against stored roles.
type Engine struct {
	roles         RoleSource
	recorder      Recorder
	limiter       CheckLimiter
	sensitive     map[models.ModuleName]bool
	traceSeverity map[models.Severity]bool
	logger        *slog.Logger
}

// NewEngine builds the engine. recorder and limiter may be nil; a nil limiter
// disables the check budget and a nil recorder disables deny traces. A nil
// traceSeverity set traces denials of every severity.
func NewEngine(roles RoleSource, recorder Recorder, limiter CheckLimiter, sensitive map[models.ModuleName]bool, traceSeverity map[models.Severity]bool, logger *slog.Logger) *Engine {
	return &Engine{
		roles:         roles,
		recorder:      recorder,
		limiter:       limiter,
		sensitive:     sensitive,
		traceSeverity: traceSeverity,
		logger:        logger,
	}
}

// IsElevated reports whether a role holds the elevated tier: an admin or
// manager level, or any write capability on a sensitive module. The second
// trigger does not widen access by itself; it only exempts the actor from
// rate and alert rules the same way an elevated level does.
func (e *Engine) IsElevated(role *models.Role) bool {
	if role.Level.Elevated() {
		return true
	}
	for module, perms := range role.Permissions {
		if e.sensitive[module] && perms.HasWrite() {
			return true
		}
	}
	return false
}

// Validate runs the decision procedure for one check.
//
// Returns an error only for malformed or over-budget requests
// (ErrUnauthenticated, ValidationError, RateLimitedError); an intact request
// whose answer is "no" comes back as a Decision with Allowed=false.
func (e *Engine) Validate(ctx context.Context, req CheckRequest) (Decision, error) {
	if req.CompanyID == "" || req.ActorID == "" {
		return Decision{}, apperr.ErrUnauthenticated
	}
	if !models.ValidModule(req.Module) {
		return Decision{}, apperr.Validation("module", fmt.Sprintf("unknown module %q", req.Module))
	}
	if !models.ValidAction(req.Action) {
		return Decision{}, apperr.Validation("action", fmt.Sprintf("unknown action %q", req.Action))
	}

	role, err := e.roles.GetByID(ctx, req.CompanyID, req.RoleID)
	if err != nil {
		// store trouble denies; authorization never fails open
		e.logger.Error("role lookup failed, denying", "error", err, "role_id", req.RoleID)
		return e.deny(req, false, "role lookup failed"), nil
	}
	if role == nil {
		return e.deny(req, false, "role not found"), nil
	}
	if !role.IsActive {
		return e.deny(req, false, "role is inactive"), nil
	}

	elevated := e.IsElevated(role)

	if e.limiter != nil && !elevated {
		allowed, retryAfter, lerr := e.limiter.Allow(ctx, req.ActorID)
		if lerr != nil {
			// limiter trouble fails open for the check itself
			e.logger.Warn("rate limiter unavailable, allowing check", "error", lerr)
		} else if !allowed {
			telemetry.PermissionChecksRateLimited.Inc()
			return Decision{}, apperr.RateLimited(retryAfter)
		}
	}

	if role.Level.Elevated() {
		telemetry.PermissionDecisionsTotal.WithLabelValues("granted", "true").Inc()
		return Decision{Allowed: true, Elevated: true}, nil
	}

	if role.Permissions.Allows(req.Module, req.Action) {
		telemetry.PermissionDecisionsTotal.WithLabelValues("granted", strconv.FormatBool(elevated)).Inc()
		return Decision{Allowed: true, Elevated: elevated}, nil
	}

	return e.deny(req, elevated, fmt.Sprintf("%s access to %s is not granted", req.Action, req.Module)), nil
}

// Can is the boolean shortcut used by internal callers that only need the
// verdict. Rate-limit and validation errors both read as denial here.
func (e *Engine) Can(ctx context.Context, req CheckRequest) bool {
	decision, err := e.Validate(ctx, req)
	if err != nil {
		return false
	}
	return decision.Allowed
}

// GetRolePermissions returns the actor's role together with its effective
// matrix. Elevated levels see full access regardless of the stored bits,
// matching what Validate grants.
func (e *Engine) GetRolePermissions(ctx context.Context, companyID, roleID string) (*models.Role, models.PermissionMatrix, error) {
	role, err := e.roles.GetByID(ctx, companyID, roleID)
	if err != nil {
		return nil, nil, err
	}
	if role == nil {
		return nil, nil, apperr.ErrNotFound
	}
	if role.Level.Elevated() {
		return role, models.FullAccessMatrix(), nil
	}
	return role, role.Permissions.Normalize(), nil
}

// GetUserPermissions returns just the effective matrix.
func (e *Engine) GetUserPermissions(ctx context.Context, companyID, roleID string) (models.PermissionMatrix, error) {
	_, matrix, err := e.GetRolePermissions(ctx, companyID, roleID)
	return matrix, err
}

// GetAccessibleModules lists the modules the actor can at least view.
func (e *Engine) GetAccessibleModules(ctx context.Context, companyID, roleID string) ([]models.ModuleName, error) {
	matrix, err := e.GetUserPermissions(ctx, companyID, roleID)
	if err != nil {
		return nil, err
	}

	modules := make([]models.ModuleName, 0, len(models.AllModules))
	for _, module := range models.AllModules {
		if matrix.Allows(module, models.ActionView) {
			modules = append(modules, module)
		}
	}
	return modules, nil
}

// deny records the refusal and, when the severity is in the configured trace
// set, emits a permission_denied trace to the activity stream. The trace
// carries the elevated flag so alert evaluation can honor the exemption. It
// is fire and forget; a full pipeline never turns a denial into an error.
func (e *Engine) deny(req CheckRequest, elevated bool, reason string) Decision {
	telemetry.PermissionDecisionsTotal.WithLabelValues("denied", strconv.FormatBool(elevated)).Inc()

	severity := models.SeverityMedium
	if e.sensitive[req.Module] {
		severity = models.SeverityHigh
	}

	if e.recorder != nil && (e.traceSeverity == nil || e.traceSeverity[severity]) {
		e.recorder.LogActivity(&models.ActivityLog{
			CompanyID:  req.CompanyID,
			UserID:     req.ActorID,
			Action:     models.ActionPermissionDenied,
			EntityType: string(req.Module),
			Severity:   severity,
			IPAddress:  req.IPAddress,
			SessionID:  req.SessionID,
			Details: map[string]interface{}{
				"module":   string(req.Module),
				"action":   string(req.Action),
				"reason":   reason,
				"elevated": elevated,
			},
		})
	}

	return Decision{Allowed: false, Elevated: elevated, Reason: reason}
}
