package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-api/internal/models"
)

const resourceColumns = `id, name, type, url, file_size, mime_type, storage_key, storage_provider, uploaded_by, class_code, description, is_active, created_at, updated_at`

// ResourceRepository persists resource metadata.
type ResourceRepository struct {
	db *sqlx.DB
}

// NewResourceRepository constructs the repository.
func NewResourceRepository(db *sqlx.DB) *ResourceRepository {
	return &ResourceRepository{db: db}
}

// FindByID returns an active resource.
func (r *ResourceRepository) FindByID(ctx context.Context, id string) (*models.Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources WHERE id = $1 AND is_active = TRUE LIMIT 1`
	var resource models.Resource
	if err := r.db.GetContext(ctx, &resource, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find resource: %w", err)
	}
	return &resource, nil
}

// List returns active resources, newest first.
func (r *ResourceRepository) List(ctx context.Context, filter models.ResourceFilter) ([]models.Resource, error) {
	var builder strings.Builder
	builder.WriteString(`SELECT ` + resourceColumns + ` FROM resources WHERE is_active = TRUE`)
	var args []interface{}
	if filter.Type != nil {
		args = append(args, *filter.Type)
		builder.WriteString(fmt.Sprintf(" AND type = $%d", len(args)))
	}
	if filter.ClassCode != nil {
		args = append(args, *filter.ClassCode)
		builder.WriteString(fmt.Sprintf(" AND UPPER(class_code) = UPPER($%d)", len(args)))
	}
	if filter.StudentClassCode != nil {
		args = append(args, *filter.StudentClassCode)
		builder.WriteString(fmt.Sprintf(" AND (class_code IS NULL OR class_code = '' OR UPPER(class_code) = UPPER($%d))", len(args)))
	}
	builder.WriteString(" ORDER BY created_at DESC")

	var resources []models.Resource
	if err := r.db.SelectContext(ctx, &resources, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	return resources, nil
}

// Create inserts resource metadata.
func (r *ResourceRepository) Create(ctx context.Context, resource *models.Resource) error {
	if resource.ID == "" {
		resource.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	resource.CreatedAt = now
	resource.UpdatedAt = now
	const query = `INSERT INTO resources (id, name, type, url, file_size, mime_type, storage_key, storage_provider, uploaded_by, class_code, description, is_active, created_at, updated_at)
VALUES (:id, :name, :type, :url, :file_size, :mime_type, :storage_key, :storage_provider, :uploaded_by, :class_code, :description, :is_active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, resource); err != nil {
		return fmt.Errorf("create resource: %w", err)
	}
	return nil
}

// Update persists editable metadata.
func (r *ResourceRepository) Update(ctx context.Context, resource *models.Resource) error {
	resource.UpdatedAt = time.Now().UTC()
	const query = `UPDATE resources SET name = :name, description = :description, class_code = :class_code, url = :url, updated_at = :updated_at WHERE id = :id AND is_active = TRUE`
	if _, err := r.db.NamedExecContext(ctx, query, resource); err != nil {
		return fmt.Errorf("update resource: %w", err)
	}
	return nil
}

// SoftDelete marks the resource inactive.
func (r *ResourceRepository) SoftDelete(ctx context.Context, id string) error {
	const query = `UPDATE resources SET is_active = FALSE, updated_at = NOW() WHERE id = $1 AND is_active = TRUE`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete resource: %w", err)
	}
	return requireAffected(res)
}
