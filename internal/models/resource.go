package models

import (
	"strings"
	"time"
)

// ResourceType classifies learning resources.
type ResourceType string

const (
	ResourceTypeDocument ResourceType = "document"
	ResourceTypeVideo    ResourceType = "video"
	ResourceTypeLink     ResourceType = "link"
	ResourceTypeImage    ResourceType = "image"
)

// Resource is metadata for an uploaded or linked file.
type Resource struct {
	ID              string       `db:"id" json:"id"`
	Name            string       `db:"name" json:"name"`
	Type            ResourceType `db:"type" json:"type"`
	URL             string       `db:"url" json:"url"`
	FileSize        int64        `db:"file_size" json:"file_size"`
	MimeType        string       `db:"mime_type" json:"mime_type"`
	StorageKey      *string      `db:"storage_key" json:"storage_key,omitempty"`
	StorageProvider string       `db:"storage_provider" json:"-"`
	UploadedBy      string       `db:"uploaded_by" json:"uploaded_by"`
	ClassCode       *string      `db:"class_code" json:"class_code,omitempty"`
	Description     string       `db:"description" json:"description"`
	IsActive        bool         `db:"is_active" json:"is_active"`
	CreatedAt       time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at" json:"updated_at"`
}

// VisibleToClass reports whether a student with the given class code may see
// the resource. Unscoped resources are visible to everyone.
func (r *Resource) VisibleToClass(classCode string) bool {
	if r.ClassCode == nil || *r.ClassCode == "" {
		return true
	}
	return strings.EqualFold(*r.ClassCode, strings.TrimSpace(classCode))
}

// ResourceFilter narrows resource listings. StudentClassCode restricts the
// result to resources visible to that class.
type ResourceFilter struct {
	Type             *ResourceType
	ClassCode        *string
	StudentClassCode *string
}
