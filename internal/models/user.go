package models

import (
	"strings"
	"time"
)

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin   UserRole = "admin"
	RoleTeacher UserRole = "teacher"
	RoleStudent UserRole = "student"
)

// Valid reports whether the role is one of the known roles.
func (r UserRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleStudent:
		return true
	}
	return false
}

// User represents an application user stored in the users table.
type User struct {
	ID                  string     `db:"id" json:"id"`
	Email               string     `db:"email" json:"email"`
	PasswordHash        string     `db:"password_hash" json:"-"`
	Name                string     `db:"name" json:"name"`
	Role                UserRole   `db:"role" json:"role"`
	EmailVerified       bool       `db:"email_verified" json:"email_verified"`
	IsApproved          bool       `db:"is_approved" json:"is_approved"`
	VerificationToken   *string    `db:"verification_token" json:"-"`
	VerificationExpires *time.Time `db:"verification_expires" json:"-"`
	ResetToken          *string    `db:"reset_token" json:"-"`
	ResetExpires        *time.Time `db:"reset_expires" json:"-"`
	ClassYear           *int       `db:"class_year" json:"class_year,omitempty"`
	ClassCode           *string    `db:"class_code" json:"class_code,omitempty"`
	GoogleRefreshToken  *string    `db:"google_refresh_token" json:"-"`
	LastLoginAt         *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

// CalendarConnected reports whether the user holds a stored calendar credential.
func (u *User) CalendarConnected() bool {
	return u.GoogleRefreshToken != nil && *u.GoogleRefreshToken != ""
}

// ClassCodeValue returns the class code or an empty string.
func (u *User) ClassCodeValue() string {
	if u.ClassCode == nil {
		return ""
	}
	return strings.TrimSpace(*u.ClassCode)
}

// Info projects the user into the public profile shape.
func (u *User) Info() UserInfo {
	return UserInfo{
		ID:              u.ID,
		Email:           u.Email,
		Name:            u.Name,
		Role:            u.Role,
		EmailVerified:   u.EmailVerified,
		IsApproved:      u.IsApproved,
		ClassYear:       u.ClassYear,
		ClassCode:       u.ClassCode,
		GoogleConnected: u.CalendarConnected(),
	}
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role      *UserRole
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
