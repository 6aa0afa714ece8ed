package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	RoleSuperAdmin   = "super_admin"
	RoleClientAdmin  = "client_admin"
	RoleClientViewer = "client_viewer"
)

const minPasswordLen = 8

var (
	usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
	emailRe    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// Permissions are stored per user. Defaults depend on role at creation time
// but can be changed independently afterwards.
type Permissions struct {
	CanCreateAPIKeys bool `bson:"canCreateApiKeys" json:"can_create_api_keys"`
	CanManageUsers   bool `bson:"canManageUsers"   json:"can_manage_users"`
	CanViewAnalytics bool `bson:"canViewAnalytics" json:"can_view_analytics"`
	CanExportData    bool `bson:"canExportData"    json:"can_export_data"`
}

// User is an authentication principal. PasswordHash only ever holds a bcrypt
// hash: hashing happens in NewUser and SetPassword, never as a side effect of
// persistence, so re-saving a loaded user cannot double-hash the credential.
type User struct {
	ID           string      `bson:"_id"                json:"id"`
	Username     string      `bson:"username"           json:"username"`
	Email        string      `bson:"email"              json:"email"`
	PasswordHash string      `bson:"password"           json:"-"`
	Role         string      `bson:"role"               json:"role"`
	ClientID     string      `bson:"clientId,omitempty" json:"client_id,omitempty"`
	IsActive     bool        `bson:"isActive"           json:"is_active"`
	Permissions  Permissions `bson:"permissions"        json:"permissions"`
	CreatedAt    time.Time   `bson:"createdAt"          json:"created_at"`
	UpdatedAt    time.Time   `bson:"updatedAt"          json:"updated_at"`
}

// DefaultPermissions returns the permission set granted to a role at creation.
func DefaultPermissions(role string) Permissions {
	switch role {
	case RoleSuperAdmin:
		return Permissions{CanCreateAPIKeys: true, CanManageUsers: true, CanViewAnalytics: true, CanExportData: true}
	case RoleClientAdmin:
		return Permissions{CanCreateAPIKeys: true, CanManageUsers: true, CanViewAnalytics: true, CanExportData: true}
	default:
		return Permissions{CanViewAnalytics: true}
	}
}

// NewUser validates all fields, hashes the password, and returns a User ready
// to persist. Non-super-admin roles must belong to a client.
func NewUser(username, email, password, role, clientID string) (*User, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}
	switch role {
	case RoleSuperAdmin, RoleClientAdmin, RoleClientViewer:
	default:
		return nil, fmt.Errorf("role: %q is not a valid role", role)
	}
	if role != RoleSuperAdmin && clientID == "" {
		return nil, fmt.Errorf("client_id: is required for role %s", role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	return &User{
		ID:           uuid.NewString(),
		Username:     strings.TrimSpace(username),
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		ClientID:     clientID,
		IsActive:     true,
		Permissions:  DefaultPermissions(role),
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// SetPassword validates and re-hashes the credential. This is the only way to
// change a stored password.
func (u *User) SetPassword(password string) error {
	if err := ValidatePassword(password); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u.PasswordHash = string(hash)
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// CheckPassword reports whether the plaintext matches the stored hash.
func (u *User) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// ValidateUsername enforces the username format: at least 3 characters,
// alphanumeric plus underscore, dot, and hyphen.
func ValidateUsername(username string) error {
	username = strings.TrimSpace(username)
	if len(username) < 3 {
		return fmt.Errorf("username: must be at least 3 characters")
	}
	if !usernameRe.MatchString(username) {
		return fmt.Errorf("username: may only contain letters, digits, '_', '.', and '-'")
	}
	return nil
}

// ValidateEmail enforces a single '@' with a non-empty domain.
func ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email: is required")
	}
	if !emailRe.MatchString(email) {
		return fmt.Errorf("email: %q is not a valid address", email)
	}
	return nil
}

// ValidatePassword collects every failed password rule into one
// human-readable, field-scoped error.
func ValidatePassword(password string) error {
	var problems []string
	if len(password) < minPasswordLen {
		problems = append(problems, fmt.Sprintf("must be at least %d characters", minPasswordLen))
	}
	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasUpper {
		problems = append(problems, "must contain an uppercase letter")
	}
	if !hasLower {
		problems = append(problems, "must contain a lowercase letter")
	}
	if !hasDigit {
		problems = append(problems, "must contain a digit")
	}
	if len(problems) > 0 {
		return fmt.Errorf("password: %s", strings.Join(problems, "; "))
	}
	return nil
}
