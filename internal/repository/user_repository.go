package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/pkg/database"
)

const userColumns = `id, email, password_hash, name, role, email_verified, is_approved, verification_token, verification_expires, reset_token, reset_expires, class_year, class_code, google_refresh_token, last_login_at, created_at, updated_at`

// UserRepository provides database access for user management.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByEmail returns a user by email address, ignoring case.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1) LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, strings.TrimSpace(email)); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return &user, nil
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// FindByIDs returns the users matching the identifiers. Unknown ids are
// silently absent from the result.
func (r *UserRepository) FindByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return []models.User{}, nil
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ANY($1)`
	var users []models.User
	if err := r.db.SelectContext(ctx, &users, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("find users by ids: %w", err)
	}
	return users, nil
}

// UpdateLastLogin updates the last_login_at timestamp for a user.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	const query = `UPDATE users SET last_login_at = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, ts, ts); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// List returns users based on filters with total count.
func (r *UserRepository) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	baseQuery := `FROM users WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Role != nil {
		conditions = append(conditions, fmt.Sprintf("role = $%d", len(args)+1))
		args = append(args, *filter.Role)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(email) LIKE $%d OR LOWER(name) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	allowedSorts := map[string]bool{
		"email":      true,
		"name":       true,
		"role":       true,
		"created_at": true,
		"updated_at": true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "created_at"
	}

	sortOrder := strings.ToUpper(filter.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", userColumns, baseQuery, sortBy, sortOrder, pageSize, offset)

	var users []models.User
	if err := r.db.SelectContext(ctx, &users, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	return users, total, nil
}

// ListPendingTeachers returns verified teachers awaiting approval.
func (r *UserRepository) ListPendingTeachers(ctx context.Context) ([]models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE role = 'teacher' AND email_verified = TRUE AND is_approved = FALSE ORDER BY created_at ASC`
	var users []models.User
	if err := r.db.SelectContext(ctx, &users, query); err != nil {
		return nil, fmt.Errorf("list pending teachers: %w", err)
	}
	return users, nil
}

// ListApprovedTeachers returns teachers that can be assigned to courses.
func (r *UserRepository) ListApprovedTeachers(ctx context.Context) ([]models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE role = 'teacher' AND is_approved = TRUE ORDER BY name ASC`
	var users []models.User
	if err := r.db.SelectContext(ctx, &users, query); err != nil {
		return nil, fmt.Errorf("list approved teachers: %w", err)
	}
	return users, nil
}

// ListStudentsByClassPrefix returns students whose class code starts with the
// prefix, ignoring case. An empty prefix returns every student.
func (r *UserRepository) ListStudentsByClassPrefix(ctx context.Context, prefix string) ([]models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE role = 'student' AND ($1 = '' OR UPPER(class_code) LIKE $2) ORDER BY class_code ASC NULLS LAST, name ASC`
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	var users []models.User
	if err := r.db.SelectContext(ctx, &users, query, prefix, escapeLike(prefix)+"%"); err != nil {
		return nil, fmt.Errorf("list students by class prefix: %w", err)
	}
	return users, nil
}

// Create inserts a new user.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	const query = `INSERT INTO users (id, email, password_hash, name, role, email_verified, is_approved, verification_token, verification_expires, class_year, class_code, created_at, updated_at) VALUES (:id, :email, :password_hash, :name, :role, :email_verified, :is_approved, :verification_token, :verification_expires, :class_year, :class_code, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// Update persists profile and status fields of a user.
func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now().UTC()
	const query = `UPDATE users SET name = :name, role = :role, email_verified = :email_verified, is_approved = :is_approved, class_year = :class_year, class_code = :class_code, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

// SetVerificationToken stores a new email verification token.
func (r *UserRepository) SetVerificationToken(ctx context.Context, id, token string, expiresAt time.Time) error {
	const query = `UPDATE users SET verification_token = $2, verification_expires = $3, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, token, expiresAt); err != nil {
		return fmt.Errorf("set verification token: %w", err)
	}
	return nil
}

// MarkEmailVerified flags the email as verified and clears the token.
func (r *UserRepository) MarkEmailVerified(ctx context.Context, id string) error {
	const query = `UPDATE users SET email_verified = TRUE, verification_token = NULL, verification_expires = NULL, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("mark email verified: %w", err)
	}
	return nil
}

// SetResetToken stores a password reset token.
func (r *UserRepository) SetResetToken(ctx context.Context, id, token string, expiresAt time.Time) error {
	const query = `UPDATE users SET reset_token = $2, reset_expires = $3, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, token, expiresAt); err != nil {
		return fmt.Errorf("set reset token: %w", err)
	}
	return nil
}

// ResetPassword stores the new hash, clears the reset token and drops every
// refresh token of the user in one transaction.
func (r *UserRepository) ResetPassword(ctx context.Context, id, passwordHash string) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		const update = `UPDATE users SET password_hash = $2, reset_token = NULL, reset_expires = NULL, updated_at = NOW() WHERE id = $1`
		if _, err := tx.ExecContext(ctx, update, id, passwordHash); err != nil {
			return fmt.Errorf("reset password: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, id); err != nil {
			return fmt.Errorf("revoke refresh tokens: %w", err)
		}
		return nil
	})
}

// UpsertAdmin creates an admin or promotes an existing account with the same
// email, returning the stored record.
func (r *UserRepository) UpsertAdmin(ctx context.Context, email, name, passwordHash string) (*models.User, error) {
	query := `INSERT INTO users (id, email, password_hash, name, role, email_verified, is_approved, created_at, updated_at)
VALUES ($1, $2, $3, $4, 'admin', TRUE, TRUE, NOW(), NOW())
ON CONFLICT ((LOWER(email))) DO UPDATE SET password_hash = EXCLUDED.password_hash, name = EXCLUDED.name, role = 'admin', email_verified = TRUE, is_approved = TRUE, updated_at = NOW()
RETURNING ` + userColumns
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, uuid.NewString(), strings.ToLower(strings.TrimSpace(email)), passwordHash, name); err != nil {
		return nil, fmt.Errorf("upsert admin: %w", err)
	}
	return &user, nil
}

// Approve marks an unapproved teacher as approved. It returns sql.ErrNoRows
// when no such teacher exists.
func (r *UserRepository) Approve(ctx context.Context, id string) error {
	const query = `UPDATE users SET is_approved = TRUE, updated_at = NOW() WHERE id = $1 AND role = 'teacher' AND is_approved = FALSE`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("approve teacher: %w", err)
	}
	return requireAffected(res)
}

// DeletePendingTeacher hard-deletes a teacher account still awaiting approval.
// It returns sql.ErrNoRows when the id is not an unapproved teacher. Approved
// teachers own courses and content and are never removed here.
func (r *UserRepository) DeletePendingTeacher(ctx context.Context, id string) error {
	const query = `DELETE FROM users WHERE id = $1 AND role = 'teacher' AND is_approved = FALSE`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete teacher: %w", err)
	}
	return requireAffected(res)
}

// SetGoogleRefreshToken stores the teacher's calendar credential.
func (r *UserRepository) SetGoogleRefreshToken(ctx context.Context, id, token string) error {
	const query = `UPDATE users SET google_refresh_token = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, token); err != nil {
		return fmt.Errorf("set google refresh token: %w", err)
	}
	return nil
}

// CreateRefreshToken persists a refresh token entry.
func (r *UserRepository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO refresh_tokens (id, user_id, expires_at, created_at, ip_address, user_agent) VALUES (:id, :user_id, :expires_at, :created_at, :ip_address, :user_agent)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// RotateRefreshToken consumes the token identified by oldID and stores next in
// the same transaction. It returns sql.ErrNoRows when the old token is not in
// the user's active list, so a consumed token can never be rotated twice.
func (r *UserRepository) RotateRefreshToken(ctx context.Context, oldID, userID string, next *models.RefreshToken) error {
	if next.CreatedAt.IsZero() {
		next.CreatedAt = time.Now().UTC()
	}
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE id = $1 AND user_id = $2 AND expires_at > NOW()`, oldID, userID)
		if err != nil {
			return fmt.Errorf("consume refresh token: %w", err)
		}
		if err := requireAffected(res); err != nil {
			return err
		}
		const insert = `INSERT INTO refresh_tokens (id, user_id, expires_at, created_at, ip_address, user_agent) VALUES (:id, :user_id, :expires_at, :created_at, :ip_address, :user_agent)`
		if _, err := tx.NamedExecContext(ctx, insert, next); err != nil {
			return fmt.Errorf("store rotated refresh token: %w", err)
		}
		return nil
	})
}

// DeleteRefreshToken removes a single refresh token if present.
func (r *UserRepository) DeleteRefreshToken(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

// CreateAuditLog stores an audit log entry.
func (r *UserRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, user_id, action, resource, resource_id, old_values, new_values, ip_address, user_agent, created_at) VALUES (:id, :user_id, :action, :resource, :resource_id, :old_values, :new_values, :ip_address, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
