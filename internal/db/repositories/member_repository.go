// member_repository.go implements MemberRepository, providing tenant-scoped database
// queries for the team-member lifecycle: invitation, acceptance, status transitions,
// atomic role changes with history, and role-change history retrieval.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/propty-os/access-engine/internal/apperr"
	"github.com/propty-os/access-engine/internal/db/models"
)

// MemberRepository handles database operations for team members.
type MemberRepository struct {
	db *sqlx.DB
}

// NewMemberRepository creates a new member repository.
func NewMemberRepository(db *sqlx.DB) *MemberRepository {
	return &MemberRepository{db: db}
}

const memberColumns = `id, company_id, first_name, last_name, email, phone, role_id, status,
	invite_token_hash, invited_at, invite_expires_at, accepted_at, last_login, created_at, updated_at`

func scanMember(row interface{ Scan(...interface{}) error }) (*models.TeamMember, error) {
	var m models.TeamMember
	err := row.Scan(&m.ID, &m.CompanyID, &m.FirstName, &m.LastName, &m.Email, &m.Phone,
		&m.RoleID, &m.Status, &m.InviteTokenHash, &m.InvitedAt, &m.InviteExpiresAt,
		&m.AcceptedAt, &m.LastLogin, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// validateEmail applies the minimal shape check used before persist; full
// address verification happens when the invitation is delivered.
func validateEmail(email string) error {
	email = strings.TrimSpace(email)
	at := strings.Index(email, "@")
	if at < 1 || at == len(email)-1 || !strings.Contains(email[at:], ".") {
		return apperr.Validation("email", "must be a valid email address")
	}
	return nil
}

// Invite creates a member in the invited state. The invitation token hash and
// expiry come from the caller (the handler generates the raw token and mails
// it). The per-company email uniqueness index backs idempotency: re-inviting
// an existing address surfaces ErrConflict.
func (r *MemberRepository) Invite(ctx context.Context, m *models.TeamMember) error {
	if strings.TrimSpace(m.FirstName) == "" {
		return apperr.Validation("firstName", "must not be empty")
	}
	if strings.TrimSpace(m.LastName) == "" {
		return apperr.Validation("lastName", "must not be empty")
	}
	if err := validateEmail(m.Email); err != nil {
		return err
	}

	// The role must exist in the same company. Tenant isolation is absolute:
	// a role ID from another company is treated as a mismatch, not a miss.
	var roleCompany string
	err := r.db.QueryRowxContext(ctx, `SELECT company_id FROM roles WHERE id = $1`, m.RoleID).Scan(&roleCompany)
	if err == sql.ErrNoRows {
		return fmt.Errorf("role %s: %w", m.RoleID, apperr.ErrNotFound)
	}
	if err != nil {
		return err
	}
	if roleCompany != m.CompanyID {
		return apperr.ErrTenantMismatch
	}

	m.ID = uuid.New().String()
	m.Status = models.MemberStatusInvited
	now := time.Now()
	m.InvitedAt = now
	m.CreatedAt = now
	m.UpdatedAt = now

	query := `INSERT INTO team_members (` + memberColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err = r.db.ExecContext(ctx, query,
		m.ID, m.CompanyID, strings.TrimSpace(m.FirstName), strings.TrimSpace(m.LastName),
		strings.ToLower(strings.TrimSpace(m.Email)), m.Phone, m.RoleID, m.Status,
		m.InviteTokenHash, m.InvitedAt, m.InviteExpiresAt, m.AcceptedAt, m.LastLogin,
		m.CreatedAt, m.UpdatedAt)
	if err != nil && strings.Contains(err.Error(), "idx_team_members_company_email") {
		return fmt.Errorf("email already invited: %w", apperr.ErrConflict)
	}
	return err
}

// GetByID retrieves a member by ID within a company; (nil, nil) when missing.
func (r *MemberRepository) GetByID(ctx context.Context, companyID, id string) (*models.TeamMember, error) {
	query := `SELECT ` + memberColumns + ` FROM team_members WHERE id = $1 AND company_id = $2`

	m, err := scanMember(r.db.QueryRowxContext(ctx, query, id, companyID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// GetByEmail retrieves a member by email within a company; (nil, nil) when missing.
func (r *MemberRepository) GetByEmail(ctx context.Context, companyID, email string) (*models.TeamMember, error) {
	query := `SELECT ` + memberColumns + ` FROM team_members
			  WHERE company_id = $1 AND LOWER(email) = LOWER($2)`

	m, err := scanMember(r.db.QueryRowxContext(ctx, query, companyID, email))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// MemberFilters narrow and page List results.
type MemberFilters struct {
	Status *models.MemberStatus
	RoleID *string
	Search string // matches name/email, case-insensitive
}

// List returns members of a company joined with role name/level.
func (r *MemberRepository) List(ctx context.Context, companyID string, filters MemberFilters, limit, offset int) ([]*models.MemberWithRole, int, error) {
	where := ` WHERE tm.company_id = $1`
	args := []interface{}{companyID}
	paramIndex := 2

	if filters.Status != nil {
		where += fmt.Sprintf(` AND tm.status = $%d`, paramIndex)
		args = append(args, *filters.Status)
		paramIndex++
	}
	if filters.RoleID != nil {
		where += fmt.Sprintf(` AND tm.role_id = $%d`, paramIndex)
		args = append(args, *filters.RoleID)
		paramIndex++
	}
	if filters.Search != "" {
		where += fmt.Sprintf(
			` AND (tm.first_name ILIKE $%d OR tm.last_name ILIKE $%d OR tm.email ILIKE $%d)`,
			paramIndex, paramIndex, paramIndex)
		args = append(args, "%"+filters.Search+"%")
		paramIndex++
	}

	var total int
	if err := r.db.QueryRowxContext(ctx,
		`SELECT COUNT(*) FROM team_members tm`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT tm.id, tm.company_id, tm.first_name, tm.last_name, tm.email, tm.phone,
			  tm.role_id, tm.status, tm.invite_token_hash, tm.invited_at, tm.invite_expires_at,
			  tm.accepted_at, tm.last_login, tm.created_at, tm.updated_at,
			  r.name AS role_name, r.level AS role_level
			  FROM team_members tm
			  JOIN roles r ON tm.role_id = r.id` + where +
		fmt.Sprintf(` ORDER BY tm.last_name, tm.first_name LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	members := make([]*models.MemberWithRole, 0)
	for rows.Next() {
		var m models.MemberWithRole
		err := rows.Scan(&m.ID, &m.CompanyID, &m.FirstName, &m.LastName, &m.Email, &m.Phone,
			&m.RoleID, &m.Status, &m.InviteTokenHash, &m.InvitedAt, &m.InviteExpiresAt,
			&m.AcceptedAt, &m.LastLogin, &m.CreatedAt, &m.UpdatedAt, &m.RoleName, &m.RoleLevel)
		if err != nil {
			return nil, 0, err
		}
		members = append(members, &m)
	}

	return members, total, rows.Err()
}

// UpdateStatus moves a member through the lifecycle state machine. Illegal
// transitions return ErrConflict with both states named.
func (r *MemberRepository) UpdateStatus(ctx context.Context, companyID, id string, next models.MemberStatus) (*models.TeamMember, error) {
	if !models.ValidMemberStatus(next) {
		return nil, apperr.Validation("status", fmt.Sprintf("unknown status %q", next))
	}

	m, err := r.GetByID(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, apperr.ErrNotFound
	}
	if !m.Status.CanTransition(next) {
		return nil, fmt.Errorf("cannot transition member from %s to %s: %w", m.Status, next, apperr.ErrConflict)
	}

	query := `UPDATE team_members SET status = $3, updated_at = $4 WHERE id = $1 AND company_id = $2
			  RETURNING ` + memberColumns

	updated, err := scanMember(r.db.QueryRowxContext(ctx, query, id, companyID, next, time.Now()))
	if err == sql.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	return updated, err
}

// AcceptInvitation flips an invited member to active, recording acceptance
// time and clearing the invitation token. Expired invitations are rejected.
func (r *MemberRepository) AcceptInvitation(ctx context.Context, companyID, id string) (*models.TeamMember, error) {
	m, err := r.GetByID(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, apperr.ErrNotFound
	}
	if m.Status != models.MemberStatusInvited && m.Status != models.MemberStatusPending {
		return nil, fmt.Errorf("member is %s, not invited: %w", m.Status, apperr.ErrConflict)
	}
	if m.InviteExpiresAt != nil && time.Now().After(*m.InviteExpiresAt) {
		return nil, fmt.Errorf("invitation expired: %w", apperr.ErrConflict)
	}

	now := time.Now()
	query := `UPDATE team_members
			  SET status = $3, accepted_at = $4, invite_token_hash = NULL, updated_at = $4
			  WHERE id = $1 AND company_id = $2
			  RETURNING ` + memberColumns

	updated, err := scanMember(r.db.QueryRowxContext(ctx, query, id, companyID, models.MemberStatusActive, now))
	if err == sql.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	return updated, err
}

// ResendInvitation resets the expiry and token hash on the existing invited
// row. Keyed on the member row itself, so no duplicate member is ever created.
func (r *MemberRepository) ResendInvitation(ctx context.Context, companyID, id, tokenHash string, expiresAt time.Time) (*models.TeamMember, error) {
	m, err := r.GetByID(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, apperr.ErrNotFound
	}
	if m.Status != models.MemberStatusInvited && m.Status != models.MemberStatusPending {
		return nil, fmt.Errorf("member is %s, not invited: %w", m.Status, apperr.ErrConflict)
	}

	query := `UPDATE team_members
			  SET invite_token_hash = $3, invite_expires_at = $4, invited_at = $5, updated_at = $5
			  WHERE id = $1 AND company_id = $2
			  RETURNING ` + memberColumns

	updated, err := scanMember(r.db.QueryRowxContext(ctx, query, id, companyID, tokenHash, expiresAt, time.Now()))
	if err == sql.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	return updated, err
}

// ChangeRole atomically reassigns a member's role and appends exactly one
// RoleChangeHistory row. Both writes happen in one transaction: an orphaned
// history row or an unrecorded role change is never observable.
func (r *MemberRepository) ChangeRole(ctx context.Context, companyID, memberID, newRoleID, changedBy string, reason *string) (*models.RoleChangeHistory, error) {
	// Validate the target role's tenancy before opening the transaction.
	var roleCompany string
	err := r.db.QueryRowxContext(ctx, `SELECT company_id FROM roles WHERE id = $1 AND is_active = TRUE`, newRoleID).Scan(&roleCompany)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("role %s: %w", newRoleID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if roleCompany != companyID {
		return nil, apperr.ErrTenantMismatch
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var oldRoleID string
	err = tx.QueryRowxContext(ctx,
		`SELECT role_id FROM team_members WHERE id = $1 AND company_id = $2 FOR UPDATE`,
		memberID, companyID).Scan(&oldRoleID)
	if err == sql.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx,
		`UPDATE team_members SET role_id = $3, updated_at = $4 WHERE id = $1 AND company_id = $2`,
		memberID, companyID, newRoleID, now); err != nil {
		return nil, err
	}

	history := &models.RoleChangeHistory{
		ID:        uuid.New().String(),
		CompanyID: companyID,
		MemberID:  memberID,
		OldRoleID: oldRoleID,
		NewRoleID: newRoleID,
		ChangedBy: changedBy,
		ChangedAt: now,
		Reason:    reason,
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO role_change_history (id, company_id, member_id, old_role_id, new_role_id, changed_by, changed_at, reason)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		history.ID, history.CompanyID, history.MemberID, history.OldRoleID,
		history.NewRoleID, history.ChangedBy, history.ChangedAt, history.Reason); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return history, nil
}

// ListRoleChanges returns the role-change history for one member, newest first.
func (r *MemberRepository) ListRoleChanges(ctx context.Context, companyID, memberID string, limit, offset int) ([]*models.RoleChangeHistory, int, error) {
	var total int
	if err := r.db.QueryRowxContext(ctx,
		`SELECT COUNT(*) FROM role_change_history WHERE company_id = $1 AND member_id = $2`,
		companyID, memberID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryxContext(ctx,
		`SELECT id, company_id, member_id, old_role_id, new_role_id, changed_by, changed_at, reason
		 FROM role_change_history WHERE company_id = $1 AND member_id = $2
		 ORDER BY changed_at DESC LIMIT $3 OFFSET $4`,
		companyID, memberID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	changes := make([]*models.RoleChangeHistory, 0)
	for rows.Next() {
		var h models.RoleChangeHistory
		if err := rows.Scan(&h.ID, &h.CompanyID, &h.MemberID, &h.OldRoleID, &h.NewRoleID,
			&h.ChangedBy, &h.ChangedAt, &h.Reason); err != nil {
			return nil, 0, err
		}
		changes = append(changes, &h)
	}

	return changes, total, rows.Err()
}

// UpdateLastLogin stamps the member's last login time.
func (r *MemberRepository) UpdateLastLogin(ctx context.Context, companyID, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE team_members SET last_login = $3, updated_at = $3 WHERE id = $1 AND company_id = $2`,
		id, companyID, at)
	return err
}

// Delete removes a member row. Only invited/inactive members can be removed;
// the role-change history remains for audit.
func (r *MemberRepository) Delete(ctx context.Context, companyID, id string) error {
	m, err := r.GetByID(ctx, companyID, id)
	if err != nil {
		return err
	}
	if m == nil {
		return apperr.ErrNotFound
	}
	if m.Status == models.MemberStatusActive {
		return fmt.Errorf("active members must be deactivated before deletion: %w", apperr.ErrConflict)
	}

	_, err = r.db.ExecContext(ctx,
		`DELETE FROM team_members WHERE id = $1 AND company_id = $2`, id, companyID)
	return err
}
