package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/models"
)

func TestResourceListForStudentIncludesUnscoped(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewResourceRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE is_active = TRUE AND type = $1 AND (class_code IS NULL OR class_code = '' OR UPPER(class_code) = UPPER($2)) ORDER BY created_at DESC")).
		WithArgs(models.ResourceTypeDocument, "mat").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	kind := models.ResourceTypeDocument
	classCode := "mat"
	resources, err := repo.List(context.Background(), models.ResourceFilter{Type: &kind, StudentClassCode: &classCode})
	require.NoError(t, err)
	assert.Empty(t, resources)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResourceSoftDelete(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewResourceRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE resources SET is_active = FALSE, updated_at = NOW() WHERE id = $1 AND is_active = TRUE")).
		WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SoftDelete(context.Background(), "r1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
